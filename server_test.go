package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bodul/buzzbingo/internal/bingo"
	"github.com/bodul/buzzbingo/internal/buzzword"
	"github.com/bodul/buzzbingo/internal/config"
	"github.com/bodul/buzzbingo/internal/game"
	"github.com/bodul/buzzbingo/internal/transcribe/wsrelay"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const testVideoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServerWith(t *testing.T, suggester game.Suggester, tune func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Game.SimulateInterval = time.Hour
	cfg.Game.RestartDelay = 10 * time.Millisecond
	if tune != nil {
		tune(cfg)
	}
	log := discardLogger()
	sse := NewBroadcaster(nil, log)
	store := NewStore(cfg.Game, sse, nil, log)
	t.Cleanup(store.CloseAll)
	srv := NewServer(store, sse, suggester, cfg, nil, log)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	return newTestServerWith(t, nil, nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, h http.Handler) game.View {
	t.Helper()
	w := do(t, h, "POST", "/api/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var v game.View
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if v.ID == "" {
		t.Fatal("session ID is empty")
	}
	return v
}

func TestSessionPageRoute(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, "GET", "/session/abc123", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected text/html, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "Buzzword Bingo") {
		t.Fatal("session page does not contain expected title")
	}
}

func TestFullSessionFlow(t *testing.T) {
	srv := newTestServer(t)
	sess := createSession(t, srv)
	base := "/api/sessions/" + sess.ID

	if len(sess.Card.Cells) != bingo.CellCount || !sess.Card.Cells[bingo.FreeIndex].Free {
		t.Fatalf("unexpected card %+v", sess.Card)
	}

	// Track a video.
	w := do(t, srv, "POST", base+"/track", `{"url":"`+testVideoURL+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("track: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var video game.Video
	json.NewDecoder(w.Body).Decode(&video)
	if video.ID != "dQw4w9WgXcQ" || !strings.Contains(video.EmbedURL, "enablejsapi=1") {
		t.Fatalf("unexpected video %+v", video)
	}

	// Mark the first row.
	var res bingo.WinResult
	for i := range bingo.Size {
		w = do(t, srv, "POST", base+"/card/"+strconv.Itoa(i), "")
		if w.Code != http.StatusOK {
			t.Fatalf("mark %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		res = bingo.WinResult{}
		json.NewDecoder(w.Body).Decode(&res)
		if i < bingo.Size-1 && res.Win {
			t.Fatalf("no win expected after %d marks", i+1)
		}
	}
	if !res.Win || len(res.Line) != bingo.Size {
		t.Fatalf("expected a win on the first row, got %+v", res)
	}

	// Custom words.
	w = do(t, srv, "POST", base+"/words", `{"word":"synergy"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add word: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, srv, "POST", base+"/words", `{"word":"  Synergy "}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate word: expected 409, got %d", w.Code)
	}

	// Detection.
	w = do(t, srv, "POST", base+"/detect", `{"text":"our synergy agent is revolutionary"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("detect: expected 200, got %d", w.Code)
	}
	var detect struct {
		Matches []buzzword.Match `json:"matches"`
	}
	json.NewDecoder(w.Body).Decode(&detect)
	if len(detect.Matches) != 3 {
		t.Fatalf("expected 3 matches, got %+v", detect.Matches)
	}

	// Transcript keeps the typed text.
	w = do(t, srv, "GET", base+"/transcript", "")
	var lines []game.Line
	json.NewDecoder(w.Body).Decode(&lines)
	if len(lines) != 1 || lines[0].Source != game.SourceManual || len(lines[0].Highlights) != 3 {
		t.Fatalf("unexpected transcript %+v", lines)
	}

	// Export, then reset and import back.
	w = do(t, srv, "GET", base+"/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "buzzword-bingo-results-") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	export := w.Body.String()

	w = do(t, srv, "POST", base+"/counts/reset", "")
	var words game.WordsView
	json.NewDecoder(w.Body).Decode(&words)
	if w.Code != http.StatusOK || words.TotalOccurrences != 0 {
		t.Fatalf("reset counts: got %d, total %d", w.Code, words.TotalOccurrences)
	}

	w = do(t, srv, "POST", base+"/import", export)
	if w.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	json.NewDecoder(w.Body).Decode(&words)
	if words.TotalOccurrences != 3 {
		t.Fatalf("expected 3 occurrences after import, got %d", words.TotalOccurrences)
	}

	// Remove the custom word, built-ins are protected.
	if w = do(t, srv, "DELETE", base+"/words/agent", ""); w.Code != http.StatusForbidden {
		t.Fatalf("remove built-in: expected 403, got %d", w.Code)
	}
	if w = do(t, srv, "DELETE", base+"/words/synergy", ""); w.Code != http.StatusNoContent {
		t.Fatalf("remove custom: expected 204, got %d", w.Code)
	}
	if w = do(t, srv, "DELETE", base+"/words/synergy", ""); w.Code != http.StatusNotFound {
		t.Fatalf("remove unknown: expected 404, got %d", w.Code)
	}

	// Reset the card.
	w = do(t, srv, "POST", base+"/card/reset", "")
	var card game.CardView
	json.NewDecoder(w.Body).Decode(&card)
	if w.Code != http.StatusOK || card.MarkedCount != 1 || card.Win != nil {
		t.Fatalf("reset card: got %d, %+v", w.Code, card)
	}

	// Delete the session.
	if w = do(t, srv, "DELETE", base, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if w = do(t, srv, "GET", base, ""); w.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t)
	createSession(t, srv)
	createSession(t, srv)

	w := do(t, srv, "GET", "/api/sessions", "")
	var list []game.Summary
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
}

func TestUnknownSession(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/sessions/nope", "/api/sessions/nope/transcript", "/api/sessions/nope/export"} {
		if w := do(t, srv, "GET", path, ""); w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
	}
	if w := do(t, srv, "DELETE", "/api/sessions/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("delete: expected 404, got %d", w.Code)
	}
}

func TestRequestValidation(t *testing.T) {
	srv := newTestServer(t)
	base := "/api/sessions/" + createSession(t, srv).ID

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid url", "POST", "/track", `{"url":"https://vimeo.com/42"}`, http.StatusBadRequest},
		{"bad json", "POST", "/track", `{`, http.StatusBadRequest},
		{"unknown playback", "POST", "/playback", `{"state":"rewinding"}`, http.StatusBadRequest},
		{"index not a number", "POST", "/card/abc", "", http.StatusBadRequest},
		{"index out of range", "POST", "/card/25", "", http.StatusBadRequest},
		{"empty word", "POST", "/words", `{"word":"   "}`, http.StatusBadRequest},
		{"malformed import", "POST", "/import", `{"entries":"nope"}`, http.StatusBadRequest},
		{"no suggester", "POST", "/suggest", "", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, base+tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var body map[string]string
			json.NewDecoder(w.Body).Decode(&body)
			if body["error"] == "" {
				t.Fatal("error body missing")
			}
		})
	}
}

func TestPlaybackStartsDemo(t *testing.T) {
	srv := newTestServer(t)
	base := "/api/sessions/" + createSession(t, srv).ID

	do(t, srv, "POST", base+"/track", `{"url":"`+testVideoURL+`"}`)
	w := do(t, srv, "POST", base+"/playback", `{"state":"playing"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("playback: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var tv game.TranscriptionView
	json.NewDecoder(w.Body).Decode(&tv)
	if tv.Mode != game.ModeDemo || tv.HasRecognizer {
		t.Fatalf("expected demo mode, got %+v", tv)
	}

	w = do(t, srv, "POST", base+"/playback", `{"state":"paused"}`)
	json.NewDecoder(w.Body).Decode(&tv)
	if tv.Mode != game.ModeIdle {
		t.Fatalf("expected idle after pause, got %+v", tv)
	}
}

type fakeSuggester struct {
	words []string
	err   error
}

func (f fakeSuggester) Suggest(context.Context, string, []string) ([]string, error) {
	return f.words, f.err
}

func TestSuggest(t *testing.T) {
	srv := newTestServerWith(t, fakeSuggester{words: []string{"synergy", "agent", "Synergy", "paradigm shift"}}, nil)
	base := "/api/sessions/" + createSession(t, srv).ID

	w := do(t, srv, "POST", base+"/suggest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("suggest: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Suggestions []string `json:"suggestions"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if strings.Join(resp.Suggestions, ",") != "synergy,paradigm shift" {
		t.Fatalf("unexpected suggestions %v", resp.Suggestions)
	}
}

func TestSuggestBreakerOpen(t *testing.T) {
	srv := newTestServerWith(t, fakeSuggester{err: ErrSuggestUnavailable}, nil)
	base := "/api/sessions/" + createSession(t, srv).ID

	if w := do(t, srv, "POST", base+"/suggest", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestSuggestFailure(t *testing.T) {
	srv := newTestServerWith(t, fakeSuggester{err: errors.New("boom")}, nil)
	base := "/api/sessions/" + createSession(t, srv).ID

	if w := do(t, srv, "POST", base+"/suggest", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestMarkRateLimit(t *testing.T) {
	srv := newTestServerWith(t, nil, func(c *config.Config) { c.Server.MarkRatePerSecond = 2 })
	base := "/api/sessions/" + createSession(t, srv).ID

	do(t, srv, "POST", base+"/card/0", "")
	do(t, srv, "POST", base+"/card/0", "")
	if w := do(t, srv, "POST", base+"/card/0", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, "GET", "/", "")

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for key, expected := range headers {
		if got := w.Header().Get(key); got != expected {
			t.Errorf("header %s: expected %q, got %q", key, expected, got)
		}
	}

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-src https://www.youtube.com") {
		t.Errorf("Content-Security-Policy must allow the YouTube player, got %q", csp)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	createSession(t, srv)

	w := do(t, srv, "GET", "/healthz", "")
	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	json.NewDecoder(w.Body).Decode(&health)
	if w.Code != http.StatusOK || health.Status != "ok" || health.Sessions != 1 {
		t.Fatalf("unexpected health %d %+v", w.Code, health)
	}

	if w := do(t, srv, "GET", "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
}

func TestMetricsDisabled(t *testing.T) {
	srv := newTestServerWith(t, nil, func(c *config.Config) { c.Metrics.Enabled = false })

	w := do(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics, got %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(t.Context(), 3, time.Second)

	// First 3 should pass.
	for i := range 3 {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// 4th should be blocked.
	if rl.allow("1.2.3.4") {
		t.Fatal("4th request should be rate limited")
	}

	// Different IP should still be allowed.
	if !rl.allow("5.6.7.8") {
		t.Fatal("different IP should be allowed")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := newRateLimiter(t.Context(), 3, time.Second)
	rl.close()
	rl.allow("1.2.3.4")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.cleanup(ctx, time.Millisecond, 0)
		close(done)
	}()

	waitUntil(t, "idle visitors to be dropped", func() bool {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		return len(rl.visitors) == 0
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup should return once its context is done")
	}
}

// readEvent reads the next SSE data line.
func readEvent(t *testing.T, r *bufio.Reader) game.Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var ev game.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	}
}

func TestEventStream(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	id := createSession(t, srv).ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/sessions/"+id+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %s", ct)
	}
	r := bufio.NewReader(resp.Body)

	if ev := readEvent(t, r); ev.Type != game.EventState {
		t.Fatalf("first event should be the state, got %s", ev.Type)
	}

	do(t, srv, "POST", "/api/sessions/"+id+"/card", "")
	if ev := readEvent(t, r); ev.Type != game.EventCard {
		t.Fatalf("expected a card event, got %s", ev.Type)
	}

	// Deleting the session ends the stream.
	do(t, srv, "DELETE", "/api/sessions/"+id, "")
	for {
		if _, err := r.ReadString('\n'); err != nil {
			break
		}
	}
}

func TestSpeechRelay(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	id := createSession(t, srv).ID
	base := "/api/sessions/" + id
	do(t, srv, "POST", base+"/track", `{"url":"`+testVideoURL+`"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	browser, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+base+"/speech", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer browser.CloseNow()

	waitUntil(t, "recognizer attached", func() bool {
		var v game.View
		json.NewDecoder(do(t, srv, "GET", base, "").Body).Decode(&v)
		return v.Transcription.HasRecognizer
	})
	do(t, srv, "POST", base+"/playback", `{"state":"playing"}`)

	var cmd wsrelay.Message
	if err := wsjson.Read(ctx, browser, &cmd); err != nil {
		t.Fatalf("read command: %v", err)
	}
	if cmd.Type != wsrelay.TypeStart || cmd.Lang != "en-US" {
		t.Fatalf("unexpected command %+v", cmd)
	}

	err = wsjson.Write(ctx, browser, wsrelay.Message{
		Type:    wsrelay.TypeResult,
		Results: []wsrelay.ResultMessage{{Transcript: "this agent is revolutionary", Final: true}},
	})
	if err != nil {
		t.Fatalf("write result: %v", err)
	}

	waitUntil(t, "live transcript line", func() bool {
		var lines []game.Line
		json.NewDecoder(do(t, srv, "GET", base+"/transcript", "").Body).Decode(&lines)
		return len(lines) == 1 && lines[0].Source == game.SourceLive && len(lines[0].Highlights) == 2
	})

	// Closing the tab falls back to the demo transcription.
	browser.Close(websocket.StatusNormalClosure, "bye")
	waitUntil(t, "demo fallback", func() bool {
		var v game.View
		json.NewDecoder(do(t, srv, "GET", base, "").Body).Decode(&v)
		return !v.Transcription.HasRecognizer && v.Transcription.Mode == game.ModeDemo
	})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
