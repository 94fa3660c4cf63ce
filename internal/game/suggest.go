package game

import (
	"context"
	"strings"
	"time"

	"github.com/bodul/buzzbingo/internal/buzzword"
)

// MaxSuggestions caps the words returned by Suggest.
const MaxSuggestions = 10

// suggestContextLines is how many recent transcript lines are sent along.
const suggestContextLines = 50

// Suggester proposes new buzzwords from a transcript excerpt.
type Suggester interface {
	Suggest(ctx context.Context, transcript string, known []string) ([]string, error)
}

// Suggest asks sg for new buzzwords based on the recent transcript. Words
// already tracked are filtered out; nothing is added to the dictionary.
func (s *Session) Suggest(ctx context.Context, sg Suggester) ([]string, error) {
	if sg == nil {
		return nil, ErrNoSuggester
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	lines := s.Transcript()
	if len(lines) > suggestContextLines {
		lines = lines[len(lines)-suggestContextLines:]
	}
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}

	start := time.Now()
	words, err := sg.Suggest(ctx, strings.Join(texts, " "), s.dict.Words())
	if err != nil {
		s.met.RecordSuggestion(ctx, "error", time.Since(start).Seconds())
		s.log.Warn("suggest buzzwords", "err", err)
		return nil, err
	}
	s.met.RecordSuggestion(ctx, "ok", time.Since(start).Seconds())

	seen := make(map[string]bool)
	out := []string{}
	for _, w := range words {
		key := buzzword.Normalize(w)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := s.dict.Get(key); ok {
			continue
		}
		out = append(out, strings.TrimSpace(w))
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out, nil
}
