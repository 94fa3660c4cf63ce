package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bodul/buzzbingo/internal/bingo"
	"github.com/bodul/buzzbingo/internal/buzzword"
	"github.com/bodul/buzzbingo/internal/config"
	"github.com/bodul/buzzbingo/internal/game"
	"github.com/bodul/buzzbingo/internal/observe"
	"github.com/bodul/buzzbingo/internal/transcribe/wsrelay"
	"github.com/bodul/buzzbingo/internal/youtube"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed frontend
var frontendFS embed.FS

const (
	maxBodySize    = 1 << 20 // 1 MB, enough for any results export
	suggestTimeout = 30 * time.Second
)

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' https://www.youtube.com https://s.ytimg.com; " +
	"frame-src https://www.youtube.com https://www.youtube-nocookie.com; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https://i.ytimg.com; " +
	"connect-src 'self'"

// rateLimiter is a simple per-IP token bucket rate limiter.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*bucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval
	stop     context.CancelFunc
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

// newRateLimiter starts a janitor that runs until ctx is done or close is
// called.
func newRateLimiter(ctx context.Context, rate int, interval time.Duration) *rateLimiter {
	ctx, cancel := context.WithCancel(ctx)
	rl := &rateLimiter{
		visitors: make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		stop:     cancel,
	}
	go rl.cleanup(ctx, time.Minute, 5*time.Minute)
	return rl
}

// cleanup drops visitors idle for longer than maxIdle, every period.
func (rl *rateLimiter) cleanup(ctx context.Context, period, maxIdle time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, b := range rl.visitors {
				if time.Since(b.lastSeen) > maxIdle {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) close() {
	rl.stop()
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &bucket{tokens: rl.rate - 1, lastSeen: time.Now()}
		return true
	}

	// Refill tokens based on elapsed time.
	elapsed := time.Since(b.lastSeen)
	refill := int(elapsed / rl.interval)
	if refill > 0 {
		b.tokens += refill * rl.rate
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.lastSeen = time.Now()
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Server is the main HTTP server.
type Server struct {
	mux       *http.ServeMux
	handler   http.Handler
	store     *Store
	sse       *Broadcaster
	suggester game.Suggester
	cfg       *config.Config
	met       *observe.Metrics
	log       *slog.Logger
	markRL    *rateLimiter
	suggestRL *rateLimiter
}

// NewServer creates a configured HTTP server. suggester may be nil, which
// disables AI suggestions.
func NewServer(store *Store, sse *Broadcaster, suggester game.Suggester, cfg *config.Config, met *observe.Metrics, log *slog.Logger) *Server {
	if met == nil {
		met = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		mux:       http.NewServeMux(),
		store:     store,
		sse:       sse,
		suggester: suggester,
		cfg:       cfg,
		met:       met,
		log:       log,
		markRL:    newRateLimiter(context.Background(), cfg.Server.MarkRatePerSecond, time.Second),
		suggestRL: newRateLimiter(context.Background(), cfg.Server.SuggestRatePerMinute, time.Minute),
	}
	s.routes()
	s.handler = observe.Middleware(met, log)(s.mux)
	return s
}

// Close stops the server's background work. It does not close sessions.
func (s *Server) Close() {
	s.markRL.close()
	s.suggestRL.close()
}

func (s *Server) routes() {
	// Session API
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	// Video
	s.mux.HandleFunc("POST /api/sessions/{id}/track", s.handleTrack)
	s.mux.HandleFunc("POST /api/sessions/{id}/playback", s.handlePlayback)

	// Card
	s.mux.HandleFunc("POST /api/sessions/{id}/card", s.handleNewCard)
	s.mux.HandleFunc("POST /api/sessions/{id}/card/reset", s.handleResetCard)
	s.mux.HandleFunc("POST /api/sessions/{id}/card/{index}", s.handleToggleMark)

	// Buzzwords
	s.mux.HandleFunc("POST /api/sessions/{id}/words", s.handleAddWord)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/words/{word}", s.handleRemoveWord)
	s.mux.HandleFunc("POST /api/sessions/{id}/counts/reset", s.handleResetCounts)
	s.mux.HandleFunc("POST /api/sessions/{id}/detect", s.handleDetect)
	s.mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)
	s.mux.HandleFunc("GET /api/sessions/{id}/export", s.handleExport)
	s.mux.HandleFunc("POST /api/sessions/{id}/import", s.handleImport)
	s.mux.HandleFunc("POST /api/sessions/{id}/suggest", s.handleSuggest)

	// Streams
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/sessions/{id}/speech", s.handleSpeech)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled {
		s.mux.Handle("GET "+s.cfg.Metrics.Path, promhttp.Handler())
	}

	// Frontend static files
	frontendDir, _ := fs.Sub(frontendFS, "frontend")
	fileServer := http.FileServer(http.FS(frontendDir))
	s.mux.HandleFunc("GET /session/{id}", s.handleSessionPage)
	s.mux.Handle("GET /", fileServer)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", contentSecurityPolicy)
	s.handler.ServeHTTP(w, r)
}

// --- Session handlers ---

// POST /api/sessions: create a session with a fresh card.
func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.store.Create()
	writeJSON(w, http.StatusCreated, sess.State())
}

// GET /api/sessions: list all sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

// GET /api/sessions/{id}: full session state.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

// DELETE /api/sessions/{id}: stop and forget a session.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.store.Delete(id) {
		jsonError(w, "Session not found", http.StatusNotFound)
		return
	}
	s.sse.CloseSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Video handlers ---

// POST /api/sessions/{id}/track: follow a YouTube video.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := sess.StartTracking(req.URL, requestOrigin(r))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/sessions/{id}/playback: player state changed.
func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		State string `json:"state"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := youtube.ParsePlaybackState(req.State)
	if err != nil {
		jsonError(w, "Unknown playback state", http.StatusBadRequest)
		return
	}
	if err := sess.SetPlayback(state); err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State().Transcription)
}

// --- Card handlers ---

// POST /api/sessions/{id}/card: generate a new card.
func (s *Server) handleNewCard(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if err := sess.NewCard(); err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Card())
}

// POST /api/sessions/{id}/card/reset: clear every mark.
func (s *Server) handleResetCard(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if err := sess.ResetCard(); err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Card())
}

// POST /api/sessions/{id}/card/{index}: toggle a cell.
func (s *Server) handleToggleMark(w http.ResponseWriter, r *http.Request) {
	if !s.markRL.allow(clientIP(r)) {
		jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
		return
	}
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		jsonError(w, "Cell index must be a number", http.StatusBadRequest)
		return
	}
	res, err := sess.ToggleMark(index)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Buzzword handlers ---

// POST /api/sessions/{id}/words: add a custom buzzword.
func (s *Server) handleAddWord(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		Word string `json:"word"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := sess.AddWord(req.Word)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	if res.Similar == nil {
		res.Similar = []string{}
	}
	writeJSON(w, http.StatusCreated, res)
}

// DELETE /api/sessions/{id}/words/{word}: remove a custom buzzword.
func (s *Server) handleRemoveWord(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if err := sess.RemoveWord(r.PathValue("word")); err != nil {
		s.sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/sessions/{id}/counts/reset: zero every count.
func (s *Server) handleResetCounts(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if err := sess.ResetCounts(); err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Words())
}

// POST /api/sessions/{id}/detect: run typed text through the detector.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if !s.markRL.allow(clientIP(r)) {
		jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
		return
	}
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	matches := sess.Detect(req.Text)
	if matches == nil {
		matches = []buzzword.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// GET /api/sessions/{id}/transcript: recent final lines.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	lines := sess.Transcript()
	if lines == nil {
		lines = []game.Line{}
	}
	writeJSON(w, http.StatusOK, lines)
}

// GET /api/sessions/{id}/export: download the results.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	data, name, err := sess.Export()
	if err != nil {
		s.sessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Write(data)
}

// POST /api/sessions/{id}/import: restore exported results.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, "Results file too large (max 1 MB)", http.StatusRequestEntityTooLarge)
		return
	}
	if err := sess.Import(data); err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Words())
}

// POST /api/sessions/{id}/suggest: ask Gemini for new buzzwords.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if !s.suggestRL.allow(clientIP(r)) {
		jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
		return
	}
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), suggestTimeout)
	defer cancel()

	words, err := sess.Suggest(ctx, s.suggester)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": words})
}

// --- Streams ---

// GET /api/sessions/{id}/events: SSE stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	s.sse.ServeSSE(w, r, sess.ID(), func(c *client) {
		// Send the full state on connect.
		evt, err := json.Marshal(game.Event{Type: game.EventState, Data: sess.State()})
		if err != nil {
			s.log.Error("encode state", "session", sess.ID(), "err", err)
			return
		}
		select {
		case c.ch <- string(evt):
		default:
		}
	})
}

// GET /api/sessions/{id}/speech: websocket relay to the browser's speech
// recognizer.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("speech relay accept", "session", sess.ID(), "err", err)
		return
	}
	defer conn.CloseNow()

	relay := wsrelay.New(conn,
		wsrelay.WithLanguage(s.cfg.Game.Language),
		wsrelay.WithLogger(s.log.With("session", sess.ID())),
	)
	if err := sess.AttachRecognizer(relay); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "session closed")
		return
	}
	s.met.ActiveRelays.Add(r.Context(), 1)
	defer s.met.ActiveRelays.Add(context.Background(), -1)

	// The request context is derived from the server's base context, so the
	// relay also ends on shutdown.
	if err := relay.Serve(r.Context()); err != nil {
		s.log.Debug("speech relay ended", "session", sess.ID(), "err", err)
	}
	sess.DetachRecognizer(relay)
}

// GET /healthz: liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.store.Len(),
	})
}

// --- Frontend page handlers ---

// GET /session/{id}: serve the game page.
func (s *Server) handleSessionPage(w http.ResponseWriter, _ *http.Request) {
	data, _ := frontendFS.ReadFile("frontend/index.html")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// --- Helpers ---

// session looks up the {id} session, answering 404 when it is missing.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *game.Session {
	sess := s.store.Get(r.PathValue("id"))
	if sess == nil {
		jsonError(w, "Session not found", http.StatusNotFound)
	}
	return sess
}

// sessionError maps a session command error to a status code and message.
func (s *Server) sessionError(w http.ResponseWriter, err error) {
	var verr *game.ValidationError
	switch {
	case errors.Is(err, game.ErrClosed):
		jsonError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, buzzword.ErrDuplicateWord):
		jsonError(w, "This buzzword is already in the list", http.StatusConflict)
	case errors.Is(err, buzzword.ErrBuiltinWord):
		jsonError(w, "Built-in buzzwords cannot be removed", http.StatusForbidden)
	case errors.Is(err, buzzword.ErrUnknownWord):
		jsonError(w, "Unknown buzzword", http.StatusNotFound)
	case errors.Is(err, game.ErrNoSuggester):
		jsonError(w, "AI suggestions are not configured", http.StatusServiceUnavailable)
	case errors.Is(err, ErrSuggestUnavailable):
		jsonError(w, "AI suggestions are temporarily unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &verr):
		jsonError(w, validationMessage(verr), http.StatusBadRequest)
	default:
		s.log.Error("session command", "err", err)
		jsonError(w, "Internal error", http.StatusInternalServerError)
	}
}

func validationMessage(err *game.ValidationError) string {
	switch {
	case errors.Is(err, youtube.ErrInvalidURL):
		return "Please enter a valid YouTube URL"
	case errors.Is(err, buzzword.ErrEmptyWord):
		return "Please enter a buzzword"
	case errors.Is(err, bingo.ErrIndexOutOfRange):
		return "Cell index out of range"
	case errors.Is(err, buzzword.ErrMalformedSnapshot):
		return "Invalid results file"
	}
	return "Invalid " + err.Field
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestOrigin is the page origin handed to the YouTube player.
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
