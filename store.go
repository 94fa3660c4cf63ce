package main

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/bodul/buzzbingo/internal/buzzword"
	"github.com/bodul/buzzbingo/internal/config"
	"github.com/bodul/buzzbingo/internal/game"
	"github.com/bodul/buzzbingo/internal/observe"
	"github.com/google/uuid"
)

// Store holds all game sessions in memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*game.Session

	cfg      config.GameConfig
	notifier game.Notifier
	met      *observe.Metrics
	log      *slog.Logger
}

// NewStore creates an empty store. Every session it creates publishes its
// events to notifier.
func NewStore(cfg config.GameConfig, notifier game.Notifier, met *observe.Metrics, log *slog.Logger) *Store {
	if met == nil {
		met = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*game.Session),
		cfg:      cfg,
		notifier: notifier,
		met:      met,
		log:      log,
	}
}

// Create starts a new session with a fresh dictionary and card.
func (s *Store) Create() *game.Session {
	words := slices.Concat(buzzword.DefaultWords, s.cfg.ExtraWords)
	sess := game.New(uuid.NewString(), game.Config{
		Words:            words,
		DemoText:         s.cfg.DemoText,
		SimulateInterval: s.cfg.SimulateInterval,
		RestartDelay:     s.cfg.RestartDelay,
		Notifier:         s.notifier,
		Logger:           s.log,
		Metrics:          s.met,
	})

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	s.met.ActiveSessions.Add(context.Background(), 1)
	s.log.Info("session created", "session", sess.ID())
	return sess
}

// Get returns a session by ID, or nil if not found.
func (s *Store) Get(id string) *game.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// List returns a summary of every session, most recent first.
func (s *Store) List() []game.Summary {
	s.mu.RLock()
	list := make([]*game.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.RUnlock()

	slices.SortFunc(list, func(a, b *game.Session) int {
		return cmp.Or(
			b.CreatedAt().Compare(a.CreatedAt()),
			cmp.Compare(a.ID(), b.ID()),
		)
	})
	out := make([]game.Summary, len(list))
	for i, sess := range list {
		out[i] = sess.Summary()
	}
	return out
}

// Delete closes and removes a session. It reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.Close()
	s.met.ActiveSessions.Add(context.Background(), -1)
	return true
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CloseAll closes every session, on shutdown.
func (s *Store) CloseAll() {
	s.mu.Lock()
	list := make([]*game.Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		list = append(list, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range list {
		sess.Close()
	}
	if len(list) > 0 {
		s.met.ActiveSessions.Add(context.Background(), int64(-len(list)))
	}
}
