package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config]. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg, os.Getenv)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// the result. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with PORT, GCP_PROJECT_ID and GCP_REGION when they
// are set.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if port := getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + strings.TrimPrefix(port, ":")
	}
	if id := getenv("GCP_PROJECT_ID"); id != "" {
		cfg.Gemini.ProjectID = id
	}
	if region := getenv("GCP_REGION"); region != "" {
		cfg.Gemini.Region = region
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MarkRatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("server.mark_rate_per_second must be positive, got %d", cfg.Server.MarkRatePerSecond))
	}
	if cfg.Server.SuggestRatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("server.suggest_rate_per_minute must be positive, got %d", cfg.Server.SuggestRatePerMinute))
	}

	if cfg.Game.SimulateInterval <= 0 {
		errs = append(errs, fmt.Errorf("game.simulate_interval must be positive, got %s", cfg.Game.SimulateInterval))
	}
	if cfg.Game.RestartDelay <= 0 {
		errs = append(errs, fmt.Errorf("game.restart_delay must be positive, got %s", cfg.Game.RestartDelay))
	}
	for i, w := range cfg.Game.ExtraWords {
		if strings.TrimSpace(w) == "" {
			errs = append(errs, fmt.Errorf("game.extra_words[%d] is empty", i))
		}
	}

	if cfg.Gemini.ProjectID != "" && cfg.Gemini.Model == "" {
		errs = append(errs, errors.New("gemini.model is required when gemini.project_id is set"))
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", cfg.Metrics.Path))
	}

	return errors.Join(errs...)
}
