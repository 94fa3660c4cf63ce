package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bodul/buzzbingo/internal/config"
	"github.com/bodul/buzzbingo/internal/game"
	"github.com/sony/gobreaker"
	"google.golang.org/genai"
)

const suggestPrompt = `You are watching a live tech presentation for a game of buzzword bingo.

Here is the most recent part of the transcript:
"""
%s
"""

These buzzwords are already tracked: %s.

Propose up to %d NEW buzzwords or short buzz phrases (1 to 3 words) that the speakers use
or are very likely to use, the kind of corporate or tech jargon people roll their eyes at.
Do not repeat tracked buzzwords. Answer ONLY with a JSON array of strings, no comment or markdown.`

// ErrSuggestUnavailable is returned while the breaker is open.
var ErrSuggestUnavailable = errors.New("suggestions temporarily unavailable")

// generateFunc sends a prompt to the model and returns its text answer.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// GeminiSuggester proposes buzzwords with Gemini on Vertex AI. Calls go
// through a circuit breaker so a failing backend is not hammered by every
// player.
type GeminiSuggester struct {
	generate generateFunc
	cb       *gobreaker.CircuitBreaker
	log      *slog.Logger
}

var _ game.Suggester = (*GeminiSuggester)(nil)

// NewGeminiSuggester creates a client using Application Default Credentials.
// Set GOOGLE_APPLICATION_CREDENTIALS to the service account key file path.
func NewGeminiSuggester(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (*GeminiSuggester, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.ProjectID,
		Location: cfg.Region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.Model
	generate := func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model,
			[]*genai.Content{{
				Role:  "user",
				Parts: []*genai.Part{{Text: prompt}},
			}},
			&genai.GenerateContentConfig{
				Temperature:      genai.Ptr(float32(0.4)),
				ResponseMIMEType: "application/json",
				ResponseSchema: &genai.Schema{
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeString},
				},
			},
		)
		if err != nil {
			return "", fmt.Errorf("gemini generate: %w", err)
		}
		return resp.Text(), nil
	}
	return newSuggester(generate, log), nil
}

func newSuggester(generate generateFunc, log *slog.Logger) *GeminiSuggester {
	if log == nil {
		log = slog.Default()
	}
	g := &GeminiSuggester{generate: generate, log: log}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// Suggest asks Gemini for new buzzwords found in transcript.
func (g *GeminiSuggester) Suggest(ctx context.Context, transcript string, known []string) ([]string, error) {
	if strings.TrimSpace(transcript) == "" {
		transcript = "(nothing transcribed yet)"
	}
	prompt := fmt.Sprintf(suggestPrompt, transcript, strings.Join(known, ", "), game.MaxSuggestions)

	out, err := g.cb.Execute(func() (interface{}, error) {
		text, err := g.generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return parseSuggestions(text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrSuggestUnavailable
	}
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// parseSuggestions reads the JSON array answered by the model, tolerating a
// markdown code fence around it.
func parseSuggestions(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty gemini response")
	}

	var words []string
	if err := json.Unmarshal([]byte(text), &words); err != nil {
		return nil, fmt.Errorf("parse suggestions JSON: %w\nraw response: %s", err, text)
	}
	return words, nil
}
