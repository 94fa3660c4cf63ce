package game

import (
	"time"

	"github.com/bodul/buzzbingo/internal/transcribe"
)

// TranscriptionView describes the transcription side of a session.
type TranscriptionView struct {
	Mode          Mode `json:"mode"`
	Running       bool `json:"running"`
	HasRecognizer bool `json:"hasRecognizer"`
}

// View is the full state of a session as rendered.
type View struct {
	ID            string            `json:"id"`
	CreatedAt     time.Time         `json:"createdAt"`
	Video         *Video            `json:"video,omitempty"`
	Tracking      bool              `json:"tracking"`
	Playback      string            `json:"playback"`
	Transcription TranscriptionView `json:"transcription"`
	Card          CardView          `json:"card"`
	Words         WordsView         `json:"words"`
	Transcript    []Line            `json:"transcript"`
}

// Summary is the short form used when listing sessions.
type Summary struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	VideoID          string    `json:"videoId,omitempty"`
	Tracking         bool      `json:"tracking"`
	MarkedCount      int       `json:"markedCount"`
	TotalOccurrences int       `json:"totalOccurrences"`
}

// State returns a consistent snapshot of the session.
func (s *Session) State() View {
	s.mu.Lock()
	v := View{
		ID:        s.id,
		CreatedAt: s.created,
		Tracking:  s.tracking,
		Playback:  s.playback.String(),
		Card:      s.cardViewLocked(),
		Transcription: TranscriptionView{
			Mode:          s.mode,
			HasRecognizer: s.live != nil,
		},
	}
	if s.video != nil {
		video := *s.video
		v.Video = &video
	}
	switch s.mode {
	case ModeLive:
		v.Transcription.Running = s.live.State() == transcribe.Listening
	case ModeDemo:
		v.Transcription.Running = s.demo.Running()
	}
	s.mu.Unlock()

	v.Words = s.Words()
	v.Transcript = s.Transcript()
	if v.Transcript == nil {
		v.Transcript = []Line{}
	}
	return v
}

// Summary returns the listing form of the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	sum := Summary{
		ID:          s.id,
		CreatedAt:   s.created,
		Tracking:    s.tracking,
		MarkedCount: s.card.MarkedCount(),
	}
	if s.video != nil {
		sum.VideoID = s.video.ID
	}
	s.mu.Unlock()

	sum.TotalOccurrences = s.dict.Total()
	return sum
}

// Card returns the rendered card.
func (s *Session) Card() CardView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cardViewLocked()
}

func (s *Session) cardViewLocked() CardView {
	v := CardView{
		Cells:       s.card.Cells(),
		MarkedCount: s.card.MarkedCount(),
	}
	if s.lastWin != nil {
		win := *s.lastWin
		v.Win = &win
	}
	return v
}

// Words returns the rendered dictionary.
func (s *Session) Words() WordsView {
	v := WordsView{
		Entries:          s.dict.Entries(),
		TotalOccurrences: s.dict.Total(),
		CustomWords:      s.dict.CustomWords(),
	}
	if v.CustomWords == nil {
		v.CustomWords = []string{}
	}
	return v
}
