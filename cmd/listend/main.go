// Command listend is the main entry point for the listend speech-capture
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/app"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/config"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt/deepgram"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	reload := flag.Duration("reload-interval", 5*time.Second, "config file poll interval; 0 disables hot reload")
	flag.Parse()

	// Missing .env is fine; the environment may already be set.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "listend: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	var watcher *config.Watcher
	var cfg *config.Config
	var err error
	if *reload > 0 {
		watcher, err = config.NewWatcher(*configPath,
			func(old, new *config.Config) { application.Reload(old, new) },
			config.WithInterval(*reload),
			config.WithWatcherLogger(logger),
		)
		if watcher != nil {
			cfg = watcher.Current()
		}
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "listend: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "listend: %v\n", err)
		}
		return 1
	}
	level.Set(app.SlogLevel(cfg.Server.LogLevel))

	slog.Info("listend starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "listend",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	opts := []app.Option{
		app.WithRegistry(reg),
		app.WithLogger(logger),
		app.WithLevel(level),
	}
	if watcher != nil {
		opts = append(opts, app.WithWatcher(watcher))
	}
	application, err = app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the recognizer factories that ship with
// listend into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if d := optString(entry.Options, "no_speech_timeout"); d != "" {
			timeout, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("deepgram: options.no_speech_timeout: %w", err)
			}
			opts = append(opts, deepgram.WithNoSpeechTimeout(timeout))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		for key, apply := range map[string]func(time.Duration) whisper.Option{
			"silence_threshold": whisper.WithSilenceThreshold,
			"max_utterance":     whisper.WithMaxUtterance,
			"no_speech_timeout": whisper.WithNoSpeechTimeout,
		} {
			d := optString(entry.Options, key)
			if d == "" {
				continue
			}
			v, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("whisper: options.%s: %w", key, err)
			}
			opts = append(opts, apply(v))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
