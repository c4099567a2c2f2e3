// Package app wires all listend subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the recognizer chain,
// the session manager, the optional event bus, and the HTTP surface; Run
// serves until the context ends; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRegistry,
// WithMetrics, etc.). When an option is not provided, New uses the
// process-wide defaults.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/bus"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/capture"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/config"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/health"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/listen"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/resilience"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/session"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

// ErrNoRecognizer is returned by the readiness check when no recognizer is
// configured or every configured one has its circuit open.
var ErrNoRecognizer = errors.New("app: no recognizer available")

const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	log      *slog.Logger
	level    *slog.LevelVar
	metrics  *observe.Metrics
	watcher  *config.Watcher

	// captureCfg is read by the session manager for every new session and
	// replaced on hot reload.
	captureCfg atomic.Pointer[capture.Config]

	recognizer *resilience.STTFallback
	bus        *bus.Publisher
	sessions   *session.Manager
	handler    http.Handler
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry sets the provider registry used to build the recognizer
// chain. The default registry is empty, which leaves the service without a
// recognizer.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel gives the app the level variable behind its logger so log level
// changes can be applied on hot reload.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithWatcher makes Run poll w for config changes. w must have been created
// with [App.Reload] (or a function calling it) as its change callback.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// New creates an App from cfg. It dials the event bus when one is
// configured, so a bad bus URL fails startup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	cc := CaptureConfig(cfg)
	a.captureCfg.Store(&cc)

	if err := a.initRecognizer(); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}
	if err := a.initBus(ctx); err != nil {
		return nil, fmt.Errorf("app: init bus: %w", err)
	}
	a.initSessions()
	a.initHTTP()
	return a, nil
}

// initRecognizer builds the failover chain from providers.stt and
// providers.stt_fallbacks. Unregistered names are skipped with a warning.
func (a *App) initRecognizer() error {
	entries := append([]config.ProviderEntry{a.cfg.Providers.STT}, a.cfg.Providers.STTFallbacks...)
	for _, entry := range entries {
		if entry.Name == "" {
			continue
		}
		p, err := a.registry.CreateSTT(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			a.log.Warn("stt provider not registered, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		if a.recognizer == nil {
			a.recognizer = resilience.NewSTTFallback(p, entry.Name, resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{
					OnStateChange: func(name string, from, to resilience.State) {
						a.log.Warn("stt circuit breaker", "provider", name, "from", from, "to", to)
					},
				},
				Logger: a.log,
			}, a.metrics)
		} else {
			a.recognizer.AddFallback(entry.Name, p)
		}
		a.log.Info("provider created", "kind", "stt", "name", entry.Name)
	}
	if a.recognizer == nil {
		a.log.Warn("no stt provider configured; capture sessions cannot be opened")
	}
	return nil
}

func (a *App) initBus(ctx context.Context) error {
	if a.cfg.Bus.URL == "" {
		return nil
	}
	p, err := bus.Connect(ctx, a.cfg.Bus, a.log, a.metrics)
	if err != nil {
		return err
	}
	a.bus = p
	a.closers = append(a.closers, func(context.Context) error {
		p.Close()
		return nil
	})
	return nil
}

func (a *App) initSessions() {
	opts := []session.Option{
		session.WithConfigSource(func() capture.Config { return *a.captureCfg.Load() }),
		session.WithMetrics(a.metrics),
		session.WithLogger(a.log),
	}
	if a.bus != nil {
		opts = append(opts, session.WithPublisher(a.bus))
	}
	var provider stt.Provider
	if a.recognizer != nil {
		provider = a.recognizer
	}
	a.sessions = session.NewManager(provider, opts...)
	// Sessions close before the bus so their final stops are published.
	a.closers = append([]func(context.Context) error{a.sessions.Shutdown}, a.closers...)
}

func (a *App) initHTTP() {
	checks := []health.Checker{{Name: "stt", Check: a.checkRecognizer}}
	if a.bus != nil {
		checks = append(checks, health.Checker{Name: "bus", Check: a.bus.Check})
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	listen.New(a.sessions,
		listen.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
		listen.WithSampleRate(sampleRate(a.cfg.Audio)),
		listen.WithClientChannels(max(a.cfg.Audio.Channels, 1)),
		listen.WithLogger(a.log),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics, a.log)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func (a *App) checkRecognizer(context.Context) error {
	if a.recognizer == nil {
		return ErrNoRecognizer
	}
	for _, s := range a.recognizer.Status() {
		if s.State != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: all circuits open", ErrNoRecognizer)
}

// Handler returns the HTTP surface: /healthz, /readyz, /metrics and
// /v1/listen.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Serve serves HTTP on l and, when a watcher was given, polls the config
// file. It returns when ctx is cancelled or the server fails.
func (a *App) Serve(ctx context.Context, l net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(l, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(l)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		if a.watcher != nil {
			a.watcher.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	a.log.Info("listening", "addr", l.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// Run listens on server.listen_addr and calls [App.Serve].
func (a *App) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, l)
}

// Reload applies a changed config. Log level and capture settings take
// effect immediately for new sessions; everything else is logged as
// needing a restart. It is the change callback for [config.NewWatcher].
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CaptureChanged || d.AudioChanged {
		cc := CaptureConfig(new)
		a.captureCfg.Store(&cc)
		a.log.Info("capture config reloaded", "capture", d.CaptureChanged, "audio", d.AudioChanged)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers), "sessions", a.sessions.Len())
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, err)
				return
			}
			if err := closer(ctx); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// CaptureConfig converts the capture and audio sections of cfg into the
// engine configuration. Zero values keep the engine defaults.
func CaptureConfig(cfg *config.Config) capture.Config {
	c := cfg.Capture
	r := c.Restart
	cc := capture.Config{
		SilenceTimeout:   c.SilenceTimeout,
		SampleInterval:   c.SampleInterval,
		StopDrainTimeout: c.StopDrainTimeout,
		Restart: capture.RestartPolicy{
			BaseDelay:           r.BaseDelay,
			MaxDelay:            r.MaxDelay,
			NoSpeechMaxAttempts: r.NoSpeechMaxAttempts,
			ErrorMaxAttempts:    r.ErrorMaxAttempts,
			ErrorMinInterval:    r.ErrorMinInterval,
			EndedMinInterval:    r.EndedMinInterval,
		},
		Stream: stt.StreamConfig{Language: cfg.Audio.Language},
	}
	if c.ConfidenceThreshold != nil {
		cc.ConfidenceThreshold = *c.ConfidenceThreshold
	}
	if c.SpeechThreshold != nil {
		cc.SpeechThreshold = *c.SpeechThreshold
	}
	for _, kw := range cfg.Audio.Keywords {
		cc.Stream.Keywords = append(cc.Stream.Keywords, stt.KeywordBoost{Keyword: kw.Keyword, Boost: kw.Boost})
	}
	return cc
}

// SlogLevel maps a config log level to its slog level. Unknown values map
// to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func sampleRate(c config.AudioConfig) int {
	if c.SampleRate == 0 {
		return 16000
	}
	return c.SampleRate
}
