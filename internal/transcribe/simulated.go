package transcribe

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// DefaultSimulateInterval is the emission cadence used when none is given.
const DefaultSimulateInterval = 2 * time.Second

const (
	minChunkWords = 3
	maxChunkWords = 5
)

// Simulated is a [Source] that replays text as final segments of three to
// five words, one chunk per interval. Stopping pauses the replay and a later
// Start resumes it; once the text is used up the source stays silent.
type Simulated struct {
	words    []string
	interval time.Duration
	disp     dispatcher

	mu      sync.Mutex
	rng     *rand.Rand
	pos     int
	gen     uint64
	running bool
	cancel  context.CancelFunc
}

// NewSimulated prepares a replay of text. A non-positive interval means
// DefaultSimulateInterval; a nil r uses the global random source.
func NewSimulated(text string, interval time.Duration, r *rand.Rand) *Simulated {
	if interval <= 0 {
		interval = DefaultSimulateInterval
	}
	return &Simulated{
		words:    strings.Fields(text),
		interval: interval,
		rng:      r,
	}
}

func (s *Simulated) OnSegment(fn func(Segment)) { s.disp.setSegment(fn) }
func (s *Simulated) OnError(fn func(error))     { s.disp.setError(fn) }

// WordCount returns the number of words in the replayed text.
func (s *Simulated) WordCount() int {
	return len(s.words)
}

// Exhausted reports whether every word has been emitted.
func (s *Simulated) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos >= len(s.words)
}

// Running reports whether a replay is in progress.
func (s *Simulated) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins or resumes the replay.
func (s *Simulated) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.words) == 0 {
		return ErrNoText
	}
	if s.running || s.pos >= len(s.words) {
		return nil
	}

	s.gen++
	s.disp.openGen(s.gen)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	go s.run(runCtx, s.gen)
	return nil
}

// Stop pauses the replay.
func (s *Simulated) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.disp.close()
}

func (s *Simulated) run(ctx context.Context, gen uint64) {
	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.running = false
		}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		done := true
		s.disp.do(gen, func() {
			var chunk string
			chunk, done = s.advance(gen)
			if chunk != "" {
				s.disp.segment(Segment{Text: chunk, Final: true, EmittedAt: time.Now()})
			}
		})
		if done {
			return
		}
	}
}

// advance takes the next chunk and reports whether the text is used up.
func (s *Simulated) advance(gen uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.pos >= len(s.words) {
		return "", true
	}
	n := minChunkWords + s.intN(maxChunkWords-minChunkWords+1)
	end := min(s.pos+n, len(s.words))
	chunk := strings.Join(s.words[s.pos:end], " ")
	s.pos = end
	return chunk, s.pos >= len(s.words)
}

func (s *Simulated) intN(n int) int {
	if s.rng != nil {
		return s.rng.IntN(n)
	}
	return rand.IntN(n)
}
