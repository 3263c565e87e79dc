// Package app wires the rtsp-to-wyoming subsystems into a running application.
//
// The App struct owns the full lifecycle: New validates the providers and
// builds the pipeline driver and HTTP surface, Run executes the capture loop
// alongside the HTTP server and the options-file watcher, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations through [Providers] and the
// functional options (WithMetrics, WithFS, etc.).
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

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/command"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/config"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/health"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/observe"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/pipeline"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/recorder"
)

// shutdownTimeout bounds the graceful HTTP server shutdown in Run.
const shutdownTimeout = 5 * time.Second

// HTTP routes served when http_addr is set.
const (
	routeHealthz = "/healthz"
	routeReadyz  = "/readyz"
	routeMetrics = "/metrics"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	fs             afero.Fs
	watchPath      string
	watchInterval  time.Duration

	driver *pipeline.Driver
	server *http.Server
	addr   atomic.Pointer[string]

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records metrics into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level through lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithFS sets the filesystem used for debug recordings. Default: the OS
// filesystem.
func WithFS(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithConfigWatch makes Run poll path every interval and apply hot-reloadable
// changes.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the given providers.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if providers == nil {
		return nil, errors.New("app: providers are nil")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}

	if err := a.initDriver(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initHTTP()

	if providers.STT != nil {
		a.closers = append(a.closers, providers.STT.Close)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDriver builds the pipeline driver and, when debug_dir is set, the WAV
// recorder.
func (a *App) initDriver() error {
	cfg := a.cfg
	pcfg := pipeline.Config{
		SampleRate:         cfg.SampleRate,
		FrameDuration:      cfg.FrameDuration(),
		MinEnergy:          cfg.MinEnergy,
		MaxSilenceFrames:   cfg.MaxSilenceFrames,
		MaxRecordingFrames: cfg.MaxRecordingFrames,
		ChunkWindow:        cfg.ChunkWindow(),
	}
	if cfg.VADEnabled {
		if a.providers.VAD == nil {
			return errors.New("vad is enabled but no engine is configured")
		}
		pcfg.VAD = a.providers.VAD
		pcfg.VADConfig = cfg.VADConfig()
	}

	opts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithReconnectDelay(cfg.ReconnectDelay),
	}
	if cfg.DebugDir != "" {
		rec, err := recorder.New(a.fs, cfg.DebugDir)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithRecorder(rec))
		slog.Info("recording utterances", "dir", cfg.DebugDir)
	}

	d, err := pipeline.New(
		a.providers.Source,
		a.providers.STT,
		a.providers.Dispatcher,
		command.NewMatcher(cfg.Rules()),
		pcfg,
		opts...,
	)
	if err != nil {
		return err
	}
	a.driver = d
	return nil
}

// initHTTP builds the health and metrics server when http_addr is set.
func (a *App) initHTTP() {
	if a.cfg.HTTPAddr == "" {
		return
	}
	mux := http.NewServeMux()
	health.New(
		health.StateCheck("pipeline", a.driver.State, pipeline.StateStreaming),
		health.TCPCheck("wyoming", a.cfg.WyomingAddr()),
	).Register(mux)

	routes := []string{routeHealthz, routeReadyz}
	if a.metricsHandler != nil {
		mux.Handle("GET "+routeMetrics, a.metricsHandler)
		routes = append(routes, routeMetrics)
	}

	a.server = &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           observe.Middleware(a.metrics, routes...)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Driver returns the pipeline driver.
func (a *App) Driver() *pipeline.Driver { return a.driver }

// HTTPAddr returns the address the HTTP server listens on, or "" when it is
// disabled or not yet listening.
func (a *App) HTTPAddr() string {
	if p := a.addr.Load(); p != nil {
		return *p
	}
	return ""
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the pipeline, the HTTP server and the options watcher and blocks
// until ctx is cancelled or one of them fails. It returns nil after a
// cancellation.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		addr := ln.Addr().String()
		a.addr.Store(&addr)
		slog.Info("http server listening", "addr", addr)

		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.applyConfig, config.WithInterval(a.watchInterval))
		if err != nil {
			slog.Warn("config watcher disabled", "path", a.watchPath, "err", err)
		} else {
			g.Go(func() error {
				<-ctx.Done()
				w.Stop()
				return nil
			})
		}
	}

	g.Go(func() error {
		err := a.driver.Run(ctx)
		if err != nil {
			return fmt.Errorf("app: pipeline: %w", err)
		}
		return nil
	})

	slog.Info("app running",
		"commands", a.driver.Matcher().Len(),
		"vad_enabled", a.cfg.VADEnabled,
	)
	return g.Wait()
}

// applyConfig is the watcher callback. The watcher only reports log_level and
// commands changes; restart-only fields are handled there.
func (a *App) applyConfig(cfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CommandsChanged {
		m := command.NewMatcher(cfg.Rules())
		a.driver.SetMatcher(m)
		slog.Info("voice commands reloaded", "commands", m.Len())
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the closers in order. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config.LogLevel to the matching slog level.
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
