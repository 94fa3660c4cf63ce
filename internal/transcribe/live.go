package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultRestartDelay is how long [Live] waits before restarting a
// recognizer that ended on its own.
const DefaultRestartDelay = time.Second

// Result is one recognition hypothesis in a [ResultBatch].
type Result struct {
	Transcript string
	Final      bool
}

// ResultBatch is a set of results delivered together. Results before Index
// were already reported in an earlier batch.
type ResultBatch struct {
	Index   int
	Results []Result
}

// RecognizerEvents receives the events of one recognizer session.
type RecognizerEvents interface {
	Result(b ResultBatch)
	Error(code string)
	Ended()
}

// Recognizer is a host speech-recognition capability.
//
// Start must not deliver events synchronously before it returns; events are
// expected from the recognizer's own goroutine.
type Recognizer interface {
	Start(ctx context.Context, events RecognizerEvents) error
	Stop() error
}

// State is the listening state of a [Live] source.
type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

// LiveConfig tunes a [Live] source. Zero fields take defaults.
type LiveConfig struct {
	// RestartDelay defaults to DefaultRestartDelay.
	RestartDelay time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnRestart, if set, is called each time the restart loop starts the
	// recognizer again. It runs with the source locked and must not call
	// back into it.
	OnRestart func()
}

// Live is a [Source] backed by a [Recognizer]. When the recognizer ends while
// the source has not been stopped, it is started again after RestartDelay,
// without limit. A permission error ends that loop.
type Live struct {
	rec       Recognizer
	delay     time.Duration
	log       *slog.Logger
	onRestart func()
	disp      dispatcher

	mu            sync.Mutex
	state         State
	shouldRestart bool
	timer         *time.Timer
	ctx           context.Context
	gen           uint64
}

// NewLive wraps rec. A nil rec yields a source whose Start always fails with
// ErrUnavailable.
func NewLive(rec Recognizer, cfg LiveConfig) *Live {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Live{
		rec:       rec,
		delay:     cfg.RestartDelay,
		log:       cfg.Logger,
		onRestart: cfg.OnRestart,
	}
}

func (l *Live) OnSegment(fn func(Segment)) { l.disp.setSegment(fn) }
func (l *Live) OnError(fn func(error))     { l.disp.setError(fn) }

// State returns the current listening state.
func (l *Live) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start moves the source from Idle to Listening.
func (l *Live) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Listening {
		return nil
	}
	if l.rec == nil {
		return ErrUnavailable
	}
	l.ctx = ctx
	l.shouldRestart = true
	if err := l.startLocked(); err != nil {
		l.shouldRestart = false
		l.disp.openGen(0)
		return err
	}
	return nil
}

func (l *Live) startLocked() error {
	l.gen++
	l.disp.openGen(l.gen)
	if err := l.rec.Start(l.ctx, &liveEvents{l: l, gen: l.gen}); err != nil {
		l.state = Idle
		return err
	}
	l.state = Listening
	return nil
}

// Stop clears the restart intent, then stops the recognizer.
func (l *Live) Stop() {
	l.mu.Lock()
	l.shouldRestart = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	wasListening := l.state == Listening
	l.state = Idle
	l.gen++
	l.mu.Unlock()

	l.disp.close()

	if wasListening {
		if err := l.rec.Stop(); err != nil {
			l.log.Warn("stop recognizer", "err", err)
		}
	}
}

func (l *Live) scheduleLocked(gen uint64) {
	l.timer = time.AfterFunc(l.delay, func() { l.restart(gen) })
}

func (l *Live) restart(prev uint64) {
	l.mu.Lock()
	if !l.shouldRestart || l.gen != prev || l.state == Listening {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	err := l.startLocked()
	gen := l.gen
	if l.onRestart != nil {
		l.onRestart()
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			l.shouldRestart = false
		} else {
			l.scheduleLocked(gen)
		}
	}
	l.mu.Unlock()

	if err != nil {
		l.log.Warn("restart recognizer", "err", err)
		l.disp.do(gen, func() { l.disp.fail(err) })
	}
}

// liveEvents binds recognizer events to the session generation that
// started them, so events from an older session are dropped.
type liveEvents struct {
	l   *Live
	gen uint64
}

func (e *liveEvents) Result(b ResultBatch) {
	var final, interim strings.Builder
	for i := max(b.Index, 0); i < len(b.Results); i++ {
		r := b.Results[i]
		if r.Final {
			final.WriteString(r.Transcript)
			final.WriteByte(' ')
		} else {
			interim.WriteString(r.Transcript)
		}
	}

	now := time.Now()
	e.l.disp.do(e.gen, func() {
		if text := strings.TrimSpace(final.String()); text != "" {
			e.l.disp.segment(Segment{Text: text, Final: true, EmittedAt: now})
		}
		if text := strings.TrimSpace(interim.String()); text != "" {
			e.l.disp.segment(Segment{Text: text, Final: false, EmittedAt: now})
		}
	})
}

func (e *liveEvents) Error(code string) {
	rerr := Classify(code)
	switch rerr.Kind {
	case KindNoSpeech, KindAborted:
		e.l.log.Debug("recognizer idle", "code", code)
		return
	case KindPermission:
		e.l.mu.Lock()
		if e.l.gen == e.gen {
			e.l.shouldRestart = false
		}
		e.l.mu.Unlock()
		e.l.log.Error("microphone permission denied", "code", code)
	case KindNetwork:
		e.l.log.Warn("recognizer network error", "code", code)
	default:
		e.l.log.Warn("unhandled recognizer error", "code", code)
	}
	e.l.disp.do(e.gen, func() { e.l.disp.fail(rerr) })
}

func (e *liveEvents) Ended() {
	l := e.l
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gen != e.gen || l.state != Listening {
		return
	}
	l.state = Idle
	if l.shouldRestart {
		l.scheduleLocked(e.gen)
	}
}
