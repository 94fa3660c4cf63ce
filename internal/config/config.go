// Package config provides the configuration schema and loader for the
// buzzword bingo server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is loaded from YAML with
// [Load] or [LoadFromReader]; [Default] is used when no file is given.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Game    GameConfig    `yaml:"game"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds network, logging and abuse-protection settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// MarkRatePerSecond limits card toggles and detect calls per client IP.
	MarkRatePerSecond int `yaml:"mark_rate_per_second"`

	// SuggestRatePerMinute limits Gemini suggestion requests per client IP.
	SuggestRatePerMinute int `yaml:"suggest_rate_per_minute"`
}

// GameConfig tunes every new session.
type GameConfig struct {
	// SimulateInterval is the cadence of the demo transcription.
	SimulateInterval time.Duration `yaml:"simulate_interval"`

	// RestartDelay is how long a live source waits before restarting a
	// recognizer that ended on its own.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// Language is the BCP-47 tag sent to the browser recognizer.
	Language string `yaml:"language"`

	// ExtraWords are appended to the built-in buzzwords of every session.
	ExtraWords []string `yaml:"extra_words"`

	// DemoText replaces the built-in demo transcript when non-empty.
	DemoText string `yaml:"demo_text"`
}

// GeminiConfig enables AI buzzword suggestions. An empty ProjectID disables
// them.
type GeminiConfig struct {
	ProjectID string `yaml:"project_id"`
	Region    string `yaml:"region"`
	Model     string `yaml:"model"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:           ":8080",
			LogLevel:             LogInfo,
			MarkRatePerSecond:    60,
			SuggestRatePerMinute: 5,
		},
		Game: GameConfig{
			SimulateInterval: 3 * time.Second,
			RestartDelay:     time.Second,
			Language:         "en-US",
		},
		Gemini: GeminiConfig{
			Region: "europe-west1",
			Model:  "gemini-2.5-flash",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
