package wsrelay_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bodul/buzzbingo/internal/transcribe"
	"github.com/bodul/buzzbingo/internal/transcribe/wsrelay"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type recorder struct {
	mu      sync.Mutex
	batches []transcribe.ResultBatch
	errs    []string
	ended   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ended: make(chan struct{}, 8)}
}

func (r *recorder) Result(b transcribe.ResultBatch) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
}

func (r *recorder) Error(code string) {
	r.mu.Lock()
	r.errs = append(r.errs, code)
	r.mu.Unlock()
}

func (r *recorder) Ended() { r.ended <- struct{}{} }

func (r *recorder) waitEnded(t *testing.T) {
	t.Helper()
	select {
	case <-r.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

// startRelay serves one relay per connection and returns the relay together
// with the browser side of the socket.
func startRelay(t *testing.T) (*wsrelay.Relay, *websocket.Conn) {
	t.Helper()
	relays := make(chan *wsrelay.Relay, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		relay := wsrelay.New(conn,
			wsrelay.WithLanguage("de-DE"),
			wsrelay.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
		relays <- relay
		relay.Serve(context.Background())
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	browser, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { browser.CloseNow() })

	select {
	case relay := <-relays:
		return relay, browser
	case <-time.After(3 * time.Second):
		t.Fatal("relay not created")
		return nil, nil
	}
}

func readCommand(t *testing.T, conn *websocket.Conn) wsrelay.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var m wsrelay.Message
	if err := wsjson.Read(ctx, conn, &m); err != nil {
		t.Fatalf("read command: %v", err)
	}
	return m
}

func send(t *testing.T, conn *websocket.Conn, m wsrelay.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, m); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRelayStartStopCommands(t *testing.T) {
	relay, browser := startRelay(t)
	rec := newRecorder()

	if err := relay.Start(context.Background(), rec); err != nil {
		t.Fatalf("start: %v", err)
	}
	if m := readCommand(t, browser); m.Type != wsrelay.TypeStart || m.Lang != "de-DE" {
		t.Fatalf("unexpected start command %+v", m)
	}
	if err := relay.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if m := readCommand(t, browser); m.Type != wsrelay.TypeStop {
		t.Fatalf("unexpected stop command %+v", m)
	}
}

func TestRelayForwardsEvents(t *testing.T) {
	relay, browser := startRelay(t)
	rec := newRecorder()

	relay.Start(context.Background(), rec)
	readCommand(t, browser)

	send(t, browser, wsrelay.Message{
		Type:        wsrelay.TypeResult,
		ResultIndex: 1,
		Results: []wsrelay.ResultMessage{
			{Transcript: "old", Final: true},
			{Transcript: "synergy", Final: true},
		},
	})
	send(t, browser, wsrelay.Message{Type: wsrelay.TypeError, Error: "network"})
	send(t, browser, wsrelay.Message{Type: wsrelay.TypeEnd})
	rec.waitEnded(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(rec.batches))
	}
	b := rec.batches[0]
	if b.Index != 1 || len(b.Results) != 2 || b.Results[1].Transcript != "synergy" || !b.Results[1].Final {
		t.Fatalf("unexpected batch %+v", b)
	}
	if len(rec.errs) != 1 || rec.errs[0] != "network" {
		t.Fatalf("unexpected errors %v", rec.errs)
	}
}

func TestRelayDropsEventsAfterStop(t *testing.T) {
	relay, browser := startRelay(t)
	rec := newRecorder()

	relay.Start(context.Background(), rec)
	readCommand(t, browser)
	relay.Stop()
	readCommand(t, browser)

	send(t, browser, wsrelay.Message{Type: wsrelay.TypeResult, Results: []wsrelay.ResultMessage{{Transcript: "late"}}})
	send(t, browser, wsrelay.Message{Type: wsrelay.TypeEnd})

	select {
	case <-rec.ended:
		t.Fatal("events after Stop must be dropped")
	case <-time.After(50 * time.Millisecond):
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batches) != 0 {
		t.Fatal("result after Stop must be dropped")
	}
}

func TestRelayDisconnectEndsSession(t *testing.T) {
	relay, browser := startRelay(t)
	rec := newRecorder()

	relay.Start(context.Background(), rec)
	readCommand(t, browser)
	browser.Close(websocket.StatusNormalClosure, "tab closed")

	rec.waitEnded(t)
	select {
	case <-relay.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if err := relay.Start(context.Background(), rec); !errors.Is(err, transcribe.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after disconnect, got %v", err)
	}
}

func TestRelayUnsupportedBrowser(t *testing.T) {
	relay, browser := startRelay(t)
	rec := newRecorder()

	relay.Start(context.Background(), rec)
	readCommand(t, browser)
	send(t, browser, wsrelay.Message{Type: wsrelay.TypeUnsupported})
	rec.waitEnded(t)

	if err := relay.Start(context.Background(), rec); !errors.Is(err, transcribe.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRelayDrivesLiveSource(t *testing.T) {
	relay, browser := startRelay(t)
	live := transcribe.NewLive(relay, transcribe.LiveConfig{
		RestartDelay: 10 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	segs := make(chan transcribe.Segment, 4)
	live.OnSegment(func(s transcribe.Segment) { segs <- s })

	if err := live.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	readCommand(t, browser)

	send(t, browser, wsrelay.Message{
		Type:    wsrelay.TypeResult,
		Results: []wsrelay.ResultMessage{{Transcript: "let's circle back", Final: true}},
	})
	select {
	case s := <-segs:
		if s.Text != "let's circle back" || !s.Final {
			t.Fatalf("unexpected segment %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("segment not delivered")
	}

	// The browser ends on its own; the source asks it to start again.
	send(t, browser, wsrelay.Message{Type: wsrelay.TypeEnd})
	if m := readCommand(t, browser); m.Type != wsrelay.TypeStart {
		t.Fatalf("expected a restart command, got %+v", m)
	}

	live.Stop()
	if m := readCommand(t, browser); m.Type != wsrelay.TypeStop {
		t.Fatalf("expected stop command, got %+v", m)
	}
}
