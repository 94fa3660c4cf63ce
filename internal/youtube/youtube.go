// Package youtube parses YouTube URLs and models the embedded player's
// playback state.
package youtube

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned when no video identifier can be found in a URL.
var ErrInvalidURL = errors.New("youtube: not a recognised YouTube URL")

var videoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`),
	regexp.MustCompile(`youtube\.com/live/([^&\n?#]+)`),
}

// ExtractVideoID returns the video identifier of a watch, short, embed or
// live URL.
func ExtractVideoID(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	for _, p := range videoPatterns {
		if m := p.FindStringSubmatch(rawURL); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
}

// IsValidURL reports whether ExtractVideoID succeeds for rawURL.
func IsValidURL(rawURL string) bool {
	_, err := ExtractVideoID(rawURL)
	return err == nil
}

// IsLiveStream reports whether rawURL points at a live broadcast.
func IsLiveStream(rawURL string) bool {
	return strings.Contains(rawURL, "/live/") || strings.Contains(rawURL, "live=1")
}

// EmbedURL returns the iframe URL for videoID with the JS API enabled.
func EmbedURL(videoID, origin string, autoplay bool) string {
	q := url.Values{}
	q.Set("enablejsapi", "1")
	if origin != "" {
		q.Set("origin", origin)
	}
	if autoplay {
		q.Set("autoplay", "1")
	}
	return "https://www.youtube.com/embed/" + url.PathEscape(videoID) + "?" + q.Encode()
}

// PlaybackState mirrors the embedded player's state codes.
type PlaybackState int

const (
	Unstarted PlaybackState = -1
	Ended     PlaybackState = 0
	Playing   PlaybackState = 1
	Paused    PlaybackState = 2
	Buffering PlaybackState = 3
	Cued      PlaybackState = 5
)

var stateNames = map[PlaybackState]string{
	Unstarted: "unstarted",
	Ended:     "ended",
	Playing:   "playing",
	Paused:    "paused",
	Buffering: "buffering",
	Cued:      "cued",
}

func (s PlaybackState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("PlaybackState(%d)", int(s))
}

// ParsePlaybackState accepts a state name such as "playing".
func ParsePlaybackState(name string) (PlaybackState, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("youtube: unknown playback state %q", name)
}
