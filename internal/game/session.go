// Package game is the orchestrator: one Session per player ties a buzzword
// dictionary, a bingo card and the transcription sources together and
// publishes every change to a Notifier.
//
// Every segment is matched for highlighting, but only final segments are
// counted. A recognizer revises its interim text until it settles on a final
// one, so counting interim segments would count the same words again.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bodul/buzzbingo/internal/bingo"
	"github.com/bodul/buzzbingo/internal/buzzword"
	"github.com/bodul/buzzbingo/internal/observe"
	"github.com/bodul/buzzbingo/internal/transcribe"
	"github.com/bodul/buzzbingo/internal/youtube"
)

// TranscriptLimit is the number of final lines a session keeps.
const TranscriptLimit = 200

// Segment sources, used in transcript lines and metrics.
const (
	SourceLive      = "live"
	SourceSimulated = "simulated"
	SourceManual    = "manual"
)

// Mode is the kind of transcription currently driving a session.
type Mode string

const (
	ModeIdle Mode = "idle"
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
)

// Config tunes a Session. Zero fields take defaults.
type Config struct {
	// Words are the built-in buzzwords. Defaults to buzzword.DefaultWords.
	Words []string

	// DemoText is replayed when no live recognizer is attached. Defaults to
	// DemoText.
	DemoText string

	SimulateInterval time.Duration
	RestartDelay     time.Duration

	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *observe.Metrics

	// Rand drives card generation. Nil uses the global source.
	Rand *rand.Rand

	Now func() time.Time
}

// Video is the video being tracked.
type Video struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	EmbedURL string `json:"embedUrl"`
	Live     bool   `json:"isLive"`
}

// AddResult is returned by AddWord.
type AddResult struct {
	Entry buzzword.Entry `json:"entry"`

	// Similar lists existing words that look or sound like the new one.
	Similar []string `json:"similar"`
}

// Session is the state of one game.
type Session struct {
	id       string
	created  time.Time
	cfg      Config
	log      *slog.Logger
	notifier Notifier
	met      *observe.Metrics
	now      func() time.Time
	dict     *buzzword.Dictionary
	demo     *transcribe.Simulated
	ctx      context.Context
	cancel   context.CancelFunc

	// mu guards the fields below. Source callbacks never take it, so sources
	// may be stopped while it is held.
	mu       sync.Mutex
	rng      *rand.Rand
	card     *bingo.Card
	lastWin  *bingo.WinResult
	video    *Video
	tracking bool
	playback youtube.PlaybackState
	rec      transcribe.Recognizer
	live     *transcribe.Live
	active   transcribe.Source
	mode     Mode
	closed   bool

	tmu        sync.Mutex
	transcript []Line
}

// New creates a session with a fresh dictionary and card.
func New(id string, cfg Config) *Session {
	if cfg.Words == nil {
		cfg.Words = buzzword.DefaultWords
	}
	if strings.TrimSpace(cfg.DemoText) == "" {
		cfg.DemoText = DemoText
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		created:  cfg.Now(),
		cfg:      cfg,
		log:      cfg.Logger.With("session", id),
		notifier: cfg.Notifier,
		met:      cfg.Metrics,
		now:      cfg.Now,
		dict:     buzzword.New(cfg.Words, buzzword.WithClock(cfg.Now)),
		demo:     transcribe.NewSimulated(cfg.DemoText, cfg.SimulateInterval, nil),
		ctx:      ctx,
		cancel:   cancel,
		rng:      cfg.Rand,
		playback: youtube.Unstarted,
		mode:     ModeIdle,
	}
	s.card = bingo.Generate(s.dict, s.rng)
	s.demo.OnSegment(func(seg transcribe.Segment) { s.HandleSegment(SourceSimulated, seg) })
	s.demo.OnError(s.handleSourceError)
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.created }

// StartTracking selects the video to follow. Any running transcription is
// stopped until playback starts.
func (s *Session) StartTracking(rawURL, origin string) (Video, error) {
	id, err := youtube.ExtractVideoID(rawURL)
	if err != nil {
		return Video{}, invalid("url", err)
	}
	v := Video{
		ID:       id,
		URL:      strings.TrimSpace(rawURL),
		EmbedURL: youtube.EmbedURL(id, origin, false),
		Live:     youtube.IsLiveStream(rawURL),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Video{}, ErrClosed
	}
	s.stopTranscriptionLocked()
	s.video = &v
	s.tracking = true
	s.playback = youtube.Unstarted
	s.mu.Unlock()

	s.log.Info("tracking video", "video", id, "live", v.Live)
	s.status(LevelSuccess, "Video loaded! Click play to start transcription.")
	s.publishState()
	return v, nil
}

// SetPlayback feeds the player's state. Playing starts transcription while a
// video is tracked; paused and ended stop it.
func (s *Session) SetPlayback(state youtube.PlaybackState) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.playback = state
	var st *Status
	switch state {
	case youtube.Playing:
		if s.tracking {
			st = s.startTranscriptionLocked()
		}
	case youtube.Paused, youtube.Ended:
		s.stopTranscriptionLocked()
	}
	s.mu.Unlock()

	s.log.Debug("playback changed", "state", state)
	if st != nil {
		s.status(st.Level, st.Message)
	}
	s.publishState()
	return nil
}

func (s *Session) startTranscriptionLocked() *Status {
	if s.active != nil {
		return nil
	}
	if s.live != nil {
		err := s.live.Start(s.ctx)
		if err == nil {
			s.active = s.live
			s.mode = ModeLive
			return &Status{LevelSuccess, "Transcription active - listening for buzzwords..."}
		}
		if !errors.Is(err, transcribe.ErrUnavailable) {
			s.log.Warn("start transcription", "err", err)
		}
	}
	return s.startDemoLocked()
}

func (s *Session) startDemoLocked() *Status {
	if err := s.demo.Start(s.ctx); err != nil {
		s.log.Error("start demo transcription", "err", err)
		return &Status{LevelError, "Demo transcription unavailable."}
	}
	if s.demo.Exhausted() {
		return &Status{LevelInfo, "Demo transcription finished."}
	}
	s.active = s.demo
	s.mode = ModeDemo
	s.log.Info("speech recognition unavailable, starting demo mode")
	return &Status{LevelInfo, "Demo mode: Simulating AI launch transcription..."}
}

func (s *Session) stopTranscriptionLocked() {
	if s.active != nil {
		s.active.Stop()
		s.active = nil
	}
	s.mode = ModeIdle
}

// AttachRecognizer makes rec the session's live speech capability,
// replacing any previous one. If the video is playing, transcription
// switches to it.
func (s *Session) AttachRecognizer(rec transcribe.Recognizer) error {
	live := transcribe.NewLive(rec, transcribe.LiveConfig{
		RestartDelay: s.cfg.RestartDelay,
		Logger:       s.log,
		OnRestart:    func() { s.met.RecognizerRestarts.Add(s.ctx, 1) },
	})
	live.OnSegment(func(seg transcribe.Segment) { s.HandleSegment(SourceLive, seg) })
	live.OnError(func(err error) {
		s.handleSourceError(err)
		if errors.Is(err, transcribe.ErrUnavailable) {
			// Stopping live waits for this callback, so switch elsewhere.
			go s.fallBackToDemo(live)
		}
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopTranscriptionLocked()
	if s.live != nil {
		s.live.Stop()
	}
	s.rec, s.live = rec, live
	var st *Status
	if s.tracking && s.playback == youtube.Playing {
		st = s.startTranscriptionLocked()
	}
	s.mu.Unlock()

	s.log.Info("speech recognizer attached")
	if st != nil {
		s.status(st.Level, st.Message)
	}
	s.publishState()
	return nil
}

// DetachRecognizer drops rec if it is the attached recognizer. A playing
// session falls back to the demo transcription.
func (s *Session) DetachRecognizer(rec transcribe.Recognizer) {
	s.mu.Lock()
	if s.live == nil || s.rec != rec {
		s.mu.Unlock()
		return
	}
	wasActive := s.mode == ModeLive
	s.live.Stop()
	s.rec, s.live = nil, nil
	var st *Status
	if wasActive {
		s.active = nil
		s.mode = ModeIdle
		if !s.closed && s.tracking && s.playback == youtube.Playing {
			st = s.startDemoLocked()
		}
	}
	s.mu.Unlock()

	s.log.Info("speech recognizer detached")
	if st != nil {
		s.status(st.Level, st.Message)
	}
	s.publishState()
}

// fallBackToDemo replaces a live transcription whose recognizer went away
// with the demo, if the video is still playing.
func (s *Session) fallBackToDemo(live *transcribe.Live) {
	s.mu.Lock()
	if s.closed || s.live != live || s.mode != ModeLive {
		s.mu.Unlock()
		return
	}
	s.stopTranscriptionLocked()
	var st *Status
	if s.tracking && s.playback == youtube.Playing {
		st = s.startDemoLocked()
	}
	s.mu.Unlock()

	if st != nil {
		s.status(st.Level, st.Message)
	}
	s.publishState()
}

// HandleSegment runs a segment through the detector. Final segments are
// counted and kept in the transcript; interim ones are only matched for
// highlighting.
func (s *Session) HandleSegment(source string, seg transcribe.Segment) []buzzword.Match {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return nil
	}
	if seg.EmittedAt.IsZero() {
		seg.EmittedAt = s.now()
	}

	var matches []buzzword.Match
	if seg.Final {
		matches = s.dict.Detect(text)
	} else {
		matches = s.dict.Find(text)
	}

	s.met.RecordSegment(s.ctx, source, seg.Final)
	line := Line{
		Text:       text,
		Final:      seg.Final,
		Source:     source,
		EmittedAt:  seg.EmittedAt,
		Highlights: highlights(matches),
	}
	if seg.Final {
		for _, m := range matches {
			s.met.RecordDetection(s.ctx, 1, m.Entry.Custom)
		}
		s.tmu.Lock()
		s.transcript = append(s.transcript, line)
		if n := len(s.transcript) - TranscriptLimit; n > 0 {
			s.transcript = slices.Delete(s.transcript, 0, n)
		}
		s.tmu.Unlock()
	}

	s.notify(EventTranscript, line)
	if seg.Final && len(matches) > 0 {
		s.log.Debug("buzzwords detected", "count", len(matches), "source", source)
		s.notify(EventWords, s.Words())
	}
	return matches
}

// Detect feeds text typed or pasted by the user as a final segment.
func (s *Session) Detect(text string) []buzzword.Match {
	return s.HandleSegment(SourceManual, transcribe.Segment{Text: text, Final: true, EmittedAt: s.now()})
}

func (s *Session) handleSourceError(err error) {
	kind := "unknown"
	msg := "Transcription error: " + err.Error()
	var rerr *transcribe.RecognitionError
	switch {
	case errors.As(err, &rerr):
		kind = rerr.Kind.String()
		msg = "Transcription error: " + rerr.Code
		if rerr.Kind == transcribe.KindPermission {
			msg = "Microphone permission denied. Allow microphone access to use transcription."
		}
	case errors.Is(err, transcribe.ErrUnavailable):
		kind = "unavailable"
		msg = "Speech recognition is no longer available."
	}
	s.met.RecordTranscriptionError(s.ctx, kind)
	s.status(LevelError, msg)
}

// ToggleMark flips a card cell.
func (s *Session) ToggleMark(index int) (bingo.WinResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return bingo.WinResult{}, ErrClosed
	}
	res, err := s.card.Toggle(index)
	if err != nil {
		s.mu.Unlock()
		return res, invalid("cell index", err)
	}
	marked := slices.Contains(s.card.Marked(), index)
	newWin := res.Win && s.lastWin == nil
	s.lastWin = nil
	if res.Win {
		s.lastWin = &res
	}
	view := s.cardViewLocked()
	s.mu.Unlock()

	s.met.RecordMark(s.ctx, marked, newWin)
	s.notify(EventCard, view)
	if newWin {
		s.log.Info("bingo", "line", res.Line)
		s.status(LevelSuccess, "BINGO! Congratulations! You got 5 in a row!")
	}
	return res, nil
}

// NewCard replaces the card with a freshly generated one.
func (s *Session) NewCard() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.card = bingo.Generate(s.dict, s.rng)
	s.lastWin = nil
	view := s.cardViewLocked()
	s.mu.Unlock()

	s.notify(EventCard, view)
	return nil
}

// ResetCard clears every mark except the free cell and empties the
// transcript.
func (s *Session) ResetCard() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.card.Reset()
	s.lastWin = nil
	s.mu.Unlock()

	s.tmu.Lock()
	s.transcript = nil
	s.tmu.Unlock()

	s.status(LevelSuccess, "Bingo card reset")
	s.publishState()
	return nil
}

// AddWord adds a custom buzzword.
func (s *Session) AddWord(word string) (AddResult, error) {
	if s.isClosed() {
		return AddResult{}, ErrClosed
	}
	similar := s.dict.Similar(word)
	if err := s.dict.Add(word); err != nil {
		return AddResult{}, invalid("word", err)
	}
	e, _ := s.dict.Get(word)

	s.notify(EventWords, s.Words())
	s.status(LevelSuccess, fmt.Sprintf("Added custom buzzword: %q", e.Text))
	return AddResult{Entry: e, Similar: similar}, nil
}

// RemoveWord removes a custom buzzword.
func (s *Session) RemoveWord(word string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.dict.Delete(word); err != nil {
		return invalid("word", err)
	}
	s.notify(EventWords, s.Words())
	s.status(LevelSuccess, fmt.Sprintf("Removed buzzword: %q", strings.TrimSpace(word)))
	return nil
}

// ResetCounts zeroes every occurrence count.
func (s *Session) ResetCounts() error {
	if s.isClosed() {
		return ErrClosed
	}
	s.dict.ResetCounts()
	s.notify(EventWords, s.Words())
	s.status(LevelSuccess, "Buzzword counts reset")
	return nil
}

// Export returns the results document and its download file name.
func (s *Session) Export() ([]byte, string, error) {
	data, err := s.dict.Export()
	if err != nil {
		return nil, "", err
	}
	return data, ExportFilename(s.now()), nil
}

// ExportFilename names an export made at t.
func ExportFilename(t time.Time) string {
	return "buzzword-bingo-results-" + t.UTC().Format(time.DateOnly) + ".json"
}

// Import restores counts and custom words from an export. A malformed
// document changes nothing.
func (s *Session) Import(data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.dict.Import(data); err != nil {
		return invalid("snapshot", err)
	}
	s.notify(EventWords, s.Words())
	s.status(LevelSuccess, "Results imported")
	return nil
}

// Transcript returns the kept final lines, oldest first.
func (s *Session) Transcript() []Line {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return slices.Clone(s.transcript)
}

// Close stops every source. The session rejects commands afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTranscriptionLocked()
	if s.live != nil {
		s.live.Stop()
	}
	s.demo.Stop()
	s.mu.Unlock()

	s.cancel()
	s.log.Info("session closed")
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) notify(typ string, data any) {
	s.notifier.Notify(s.id, Event{Type: typ, Data: data})
}

func (s *Session) status(level, msg string) {
	s.notify(EventStatus, Status{Level: level, Message: msg})
}

func (s *Session) publishState() {
	s.notify(EventState, s.State())
}
