package game

import (
	"time"

	"github.com/bodul/buzzbingo/internal/bingo"
	"github.com/bodul/buzzbingo/internal/buzzword"
)

// Event types published to a Notifier.
const (
	EventState      = "state"
	EventTranscript = "transcript"
	EventCard       = "card"
	EventWords      = "words"
	EventStatus     = "status"
)

// Status levels, matching the page's status classes.
const (
	LevelInfo    = "processing"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Event is one change pushed to the presentation layer.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Notifier receives session events. Notify must not block and must not call
// back into the session.
type Notifier interface {
	Notify(sessionID string, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(sessionID string, ev Event)

func (f NotifierFunc) Notify(sessionID string, ev Event) { f(sessionID, ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(string, Event) {}

// Status is a short user-facing message.
type Status struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Highlight locates a buzzword inside a transcript line.
type Highlight struct {
	Word     string `json:"word"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
}

// Line is one transcript segment as shown to the user.
type Line struct {
	Text       string      `json:"text"`
	Final      bool        `json:"isFinal"`
	Source     string      `json:"source"`
	EmittedAt  time.Time   `json:"emittedAt"`
	Highlights []Highlight `json:"highlights"`
}

// CardView is the card as rendered.
type CardView struct {
	Cells       []bingo.Cell     `json:"cells"`
	MarkedCount int              `json:"markedCount"`
	Win         *bingo.WinResult `json:"win,omitempty"`
}

// WordsView is the dictionary as rendered.
type WordsView struct {
	Entries          []buzzword.Entry `json:"entries"`
	TotalOccurrences int              `json:"totalOccurrences"`
	CustomWords      []string         `json:"customWords"`
}

func highlights(matches []buzzword.Match) []Highlight {
	out := make([]Highlight, len(matches))
	for i, m := range matches {
		out[i] = Highlight{Word: m.Entry.Text, Position: m.Position, Length: m.Length}
	}
	return out
}
