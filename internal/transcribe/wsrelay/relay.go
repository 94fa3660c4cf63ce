// Package wsrelay exposes a browser's speech recognizer to the server as a
// [transcribe.Recognizer].
//
// The browser page opens a websocket, runs recognition locally and forwards
// each recognizer event as a JSON message. The server drives it with "start"
// and "stop" commands.
package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bodul/buzzbingo/internal/transcribe"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Message types on the wire.
const (
	TypeStart       = "start"       // server -> browser
	TypeStop        = "stop"        // server -> browser
	TypeResult      = "result"      // browser -> server
	TypeError       = "error"       // browser -> server
	TypeEnd         = "end"         // browser -> server
	TypeUnsupported = "unsupported" // browser -> server
)

const defaultWriteTimeout = 5 * time.Second

// ResultMessage is one recognition hypothesis.
type ResultMessage struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"isFinal"`
}

// Message is a single websocket frame in either direction.
type Message struct {
	Type        string          `json:"type"`
	Lang        string          `json:"lang,omitempty"`
	ResultIndex int             `json:"resultIndex,omitempty"`
	Results     []ResultMessage `json:"results,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Option configures a Relay.
type Option func(*Relay)

// WithLanguage sets the BCP-47 language sent with each start command.
func WithLanguage(lang string) Option {
	return func(r *Relay) {
		r.lang = lang
	}
}

// WithLogger sets the relay logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		r.log = l
	}
}

// WithWriteTimeout bounds every command write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.writeTimeout = d
	}
}

// Relay implements transcribe.Recognizer over an accepted websocket.
type Relay struct {
	conn         *websocket.Conn
	lang         string
	log          *slog.Logger
	writeTimeout time.Duration
	done         chan struct{}

	mu          sync.Mutex
	events      transcribe.RecognizerEvents
	closed      bool
	unsupported bool
}

var _ transcribe.Recognizer = (*Relay)(nil)

// New wraps conn. Serve must be running for events to flow.
func New(conn *websocket.Conn, opts ...Option) *Relay {
	r := &Relay{
		conn:         conn,
		lang:         "en-US",
		log:          slog.Default(),
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Done is closed when Serve returns.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Start asks the browser to begin recognizing and routes its events to
// events until the session ends or Stop is called.
func (r *Relay) Start(ctx context.Context, events transcribe.RecognizerEvents) error {
	r.mu.Lock()
	if r.closed || r.unsupported {
		r.mu.Unlock()
		return transcribe.ErrUnavailable
	}
	r.events = events
	r.mu.Unlock()

	if err := r.send(ctx, Message{Type: TypeStart, Lang: r.lang}); err != nil {
		r.mu.Lock()
		r.events = nil
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return transcribe.ErrUnavailable
		}
		return fmt.Errorf("wsrelay: start: %w", err)
	}
	return nil
}

// Stop asks the browser to stop recognizing. Events that arrive afterwards
// are dropped.
func (r *Relay) Stop() error {
	r.mu.Lock()
	r.events = nil
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil
	}
	if err := r.send(context.Background(), Message{Type: TypeStop}); err != nil {
		return fmt.Errorf("wsrelay: stop: %w", err)
	}
	return nil
}

// Close closes the websocket. Serve returns shortly after.
func (r *Relay) Close() error {
	return r.conn.Close(websocket.StatusNormalClosure, "relay closed")
}

func (r *Relay) send(ctx context.Context, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, r.conn, m)
}

// Serve reads browser messages until the connection closes or ctx is done.
// A session still open at that point is reported as ended, and the relay
// becomes unavailable.
func (r *Relay) Serve(ctx context.Context) error {
	defer close(r.done)

	for {
		var m Message
		if err := wsjson.Read(ctx, r.conn, &m); err != nil {
			r.mu.Lock()
			r.closed = true
			ev := r.events
			r.events = nil
			r.mu.Unlock()

			if ev != nil {
				ev.Ended()
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wsrelay: read: %w", err)
		}
		r.dispatch(m)
	}
}

func (r *Relay) dispatch(m Message) {
	r.mu.Lock()
	ev := r.events
	switch m.Type {
	case TypeEnd:
		r.events = nil
	case TypeUnsupported:
		r.unsupported = true
		r.events = nil
	}
	r.mu.Unlock()

	if m.Type == TypeUnsupported {
		r.log.Info("browser has no speech recognition")
	}
	if ev == nil {
		r.log.Debug("relay message outside a session", "type", m.Type)
		return
	}

	switch m.Type {
	case TypeResult:
		b := transcribe.ResultBatch{Index: m.ResultIndex, Results: make([]transcribe.Result, len(m.Results))}
		for i, res := range m.Results {
			b.Results[i] = transcribe.Result{Transcript: res.Transcript, Final: res.Final}
		}
		ev.Result(b)
	case TypeError:
		ev.Error(m.Error)
	case TypeEnd, TypeUnsupported:
		ev.Ended()
	default:
		r.log.Warn("unknown relay message", "type", m.Type)
	}
}
