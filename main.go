// Command buzzbingo serves a buzzword bingo game played along a YouTube
// video: spoken buzzwords are counted live and players mark them on a
// 5x5 card.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bodul/buzzbingo/internal/buzzword"
	"github.com/bodul/buzzbingo/internal/config"
	"github.com/bodul/buzzbingo/internal/game"
	"github.com/bodul/buzzbingo/internal/observe"
	"github.com/bodul/buzzbingo/internal/transcribe"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configPath, logLevel)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	}

	root := &cobra.Command{
		Use:   "buzzbingo",
		Short: "Buzzword bingo for YouTube tech talks",
		Long: `buzzbingo serves a buzzword bingo game played along a YouTube video.

The browser plays the video and, when it can, relays speech recognition
results to the server, which counts every buzzword it hears. Without speech
recognition a demo transcript is replayed instead.

Examples:
  buzzbingo                          # serve on :8080 with defaults
  buzzbingo --config buzzbingo.yaml  # serve with a config file
  buzzbingo simulate talk.txt        # count buzzwords in a transcript file`,
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults and environment when empty)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides the config file)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default command)",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	root.AddCommand(newSimulateCommand(&configPath, &logLevel))
	return root
}

func loadConfig(path, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	return cfg, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.Default()
	log.Info("buzzbingo starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    "buzzbingo",
			ServiceVersion: version,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("telemetry shutdown", "err", err)
			}
		}()
	}
	met := observe.DefaultMetrics()

	// A nil *GeminiSuggester must not end up in the interface.
	var suggester game.Suggester
	if cfg.Gemini.ProjectID != "" {
		g, err := NewGeminiSuggester(ctx, cfg.Gemini, log)
		if err != nil {
			return fmt.Errorf("init gemini: %w", err)
		}
		suggester = g
		log.Info("gemini client ready", "project", cfg.Gemini.ProjectID, "model", cfg.Gemini.Model)
	} else {
		log.Info("GCP_PROJECT_ID not set, AI suggestions disabled")
	}

	sse := NewBroadcaster(met, log)
	store := NewStore(cfg.Game, sse, met, log)
	defer store.CloseAll()

	srv := NewServer(store, sse, suggester, cfg, met, log)
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams and speech relays end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "url", "http://localhost"+cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newSimulateCommand(configPath, logLevel *string) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "simulate [file]",
		Short: "Replay a transcript offline and print the buzzword counts",
		Long: `simulate replays a text file (or the built-in demo transcript) through the
simulated transcription source, counts the buzzwords it contains and prints
the results as the JSON export document.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *logLevel)
			if err != nil {
				return err
			}
			text := game.DemoText
			if strings.TrimSpace(cfg.Game.DemoText) != "" {
				text = cfg.Game.DemoText
			}
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				text = string(data)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			words := slices.Concat(buzzword.DefaultWords, cfg.Game.ExtraWords)
			data, err := simulate(ctx, text, words, interval, slog.Default())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Millisecond, "delay between transcript chunks")
	return cmd
}

// simulate replays text through a Simulated source and a fresh dictionary
// and returns the export document once every word was emitted.
func simulate(ctx context.Context, text string, words []string, interval time.Duration, log *slog.Logger) ([]byte, error) {
	dict := buzzword.New(words)
	src := transcribe.NewSimulated(text, interval, nil)
	if src.WordCount() == 0 {
		return nil, transcribe.ErrNoText
	}

	done := make(chan struct{})
	var emitted atomic.Int64
	src.OnSegment(func(seg transcribe.Segment) {
		matches := dict.Detect(seg.Text)
		for _, m := range matches {
			log.Info("buzzword", "word", m.Entry.Text, "count", m.Entry.Count)
		}
		if emitted.Add(int64(len(strings.Fields(seg.Text)))) == int64(src.WordCount()) {
			close(done)
		}
	})
	src.OnError(func(err error) { log.Warn("simulated transcription", "err", err) })

	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	defer src.Stop()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return dict.Export()
}
