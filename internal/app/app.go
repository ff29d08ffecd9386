// Package app wires all voxfix subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the rule store,
// corrector, rule file manager and HTTP routes and performs the first rule
// load; Run serves HTTP and watches the rule file until the context is
// cancelled; Shutdown releases telemetry providers.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithTokenizerFactory, WithListener). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/health"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/server"
	"github.com/MrWong99/voxfix/internal/transcript"
	"github.com/MrWong99/voxfix/internal/transcript/dictionary"
	"github.com/MrWong99/voxfix/internal/transcript/phonetic"
	"github.com/MrWong99/voxfix/internal/transcript/rulefile"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
	"github.com/MrWong99/voxfix/internal/transcript/segment"
)

// App owns all subsystem lifetimes of the correction service.
type App struct {
	cfg        *config.Config
	configPath string

	// Subsystems, initialised in New.
	provider  *observe.Provider
	metrics   *observe.Metrics
	corrector *transcript.Corrector
	files     *rulefile.Manager
	handler   http.Handler

	newTokenizer transcript.TokenizerFactory
	listener     net.Listener
	logLevel     *slog.LevelVar

	mu  sync.Mutex
	cur *config.Config

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects metric instruments. No telemetry provider is created
// and /metrics is not served.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTokenizerFactory replaces the dictionary segmenter.
func WithTokenizerFactory(f transcript.TokenizerFactory) Option {
	return func(a *App) { a.newTokenizer = f }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLogLevel lets the app adjust the process log level when the config
// file changes.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithConfigPath enables watching the config file the app was loaded from.
// Log level changes apply live; other changes are logged as requiring a
// restart.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together and loads the rules
// once. A rule file that cannot be read is not an error: the corrector falls
// back to its cache or an empty rule set and reports so through /readyz.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, cur: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	hw := cfg.Hotwords
	idx := phonetic.NewIndex()
	store := rules.NewStore(hw.RuleFile, hw.CachePath(),
		rules.WithDefaultThreshold(hw.DefaultThreshold),
		rules.WithIndex(idx),
	)

	copts := []transcript.Option{
		transcript.WithMetrics(a.metrics),
		transcript.WithDictionary(dictionary.NewBuilder(hw.DictionaryPath())),
		transcript.WithSeparator(hw.SegmentSeparator),
	}
	if hw.BaseDictionary != "" {
		copts = append(copts, transcript.WithSegmentOptions(segment.WithBaseDictionary(hw.BaseDictionary)))
	}
	if a.newTokenizer != nil {
		copts = append(copts, transcript.WithTokenizerFactory(a.newTokenizer))
	}
	a.corrector = transcript.New(store, copts...)

	st, err := a.corrector.Reload(ctx)
	if err != nil {
		slog.Warn("app: initial rule load degraded", "err", err)
	}
	for _, d := range st.Diagnostics {
		slog.Warn("app: rule file diagnostic", "line", d.Line, "severity", d.Severity, "message", d.Message)
	}

	a.files = rulefile.NewManager(hw.RuleFile, hw.BackupDir,
		rulefile.WithBackupKeep(hw.BackupKeep),
		rulefile.WithIndex(idx),
		rulefile.WithDefaultThreshold(hw.DefaultThreshold),
	)

	a.handler = a.routes()
	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	p, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: a.cfg.Telemetry.ServiceName})
	if err != nil {
		return err
	}
	m, err := p.Metrics()
	if err != nil {
		_ = p.Shutdown(ctx)
		return err
	}
	a.provider = p
	a.metrics = m
	a.closers = append(a.closers, p.Shutdown)
	return nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	server.New(a.corrector, a.files, server.WithReload(a.corrector.Reload)).Register(mux)

	health.New(
		health.Checker{Name: "rules", Check: a.checkRules},
		health.Checker{Name: "rule_file", Check: health.FileReadable(a.cfg.Hotwords.RuleFile), Optional: true},
		health.Checker{Name: "segmenter", Check: a.checkSegmenter, Optional: true},
	).Register(mux)

	if a.provider != nil {
		mux.Handle("GET /metrics", a.provider.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) checkRules(context.Context) error {
	st := a.corrector.Status()
	if !st.Loaded {
		return errors.New("rules not loaded")
	}
	if st.Source == rules.SourceEmpty {
		return errors.New("no rules available")
	}
	return nil
}

func (a *App) checkSegmenter(context.Context) error {
	if a.corrector.Status().Degraded {
		return errors.New("segmenter unavailable, only aliases are corrected")
	}
	return nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Corrector returns the hotword corrector.
func (a *App) Corrector() *transcript.Corrector { return a.corrector }

// RuleFiles returns the rule file manager.
func (a *App) RuleFiles() *rulefile.Manager { return a.files }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and watches the rule file (and the config file, when set
// via [WithConfigPath]) until ctx is cancelled or the server fails. It
// returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: a.handler,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	stopWatchers, err := a.startWatchers(ctx)
	if err != nil {
		return err
	}
	defer stopWatchers()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: http server listening", "addr", a.addr(), "tls", a.cfg.Server.TLS != nil)
		if err := a.serve(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (a *App) serve(srv *http.Server) error {
	tls := a.cfg.Server.TLS
	if a.listener != nil {
		if tls != nil {
			return srv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		}
		return srv.Serve(a.listener)
	}
	if tls != nil {
		return srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return srv.ListenAndServe()
}

func (a *App) addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.cfg.Server.ListenAddr
}

func (a *App) startWatchers(ctx context.Context) (stop func(), err error) {
	var watchers []*transcript.Watcher
	stop = func() {
		for _, w := range watchers {
			w.Stop()
		}
	}

	if iv := a.cfg.Hotwords.WatchInterval; iv > 0 {
		w, err := transcript.NewWatcher(a.cfg.Hotwords.RuleFile, func() {
			if _, err := a.corrector.Reload(ctx); err != nil {
				slog.Warn("app: rule reload failed", "err", err)
			}
		}, transcript.WithInterval(iv))
		if err != nil {
			return stop, fmt.Errorf("app: watch rule file: %w", err)
		}
		watchers = append(watchers, w)
	}

	if a.configPath != "" {
		iv := a.cfg.Hotwords.WatchInterval
		if iv <= 0 {
			iv = config.DefaultWatchInterval
		}
		w, err := transcript.NewWatcher(a.configPath, a.reloadConfig, transcript.WithInterval(iv))
		if err != nil {
			stop()
			return func() {}, fmt.Errorf("app: watch config file: %w", err)
		}
		watchers = append(watchers, w)
	}
	return stop, nil
}

// reloadConfig applies the live-reloadable parts of a changed config file.
func (a *App) reloadConfig() {
	next, err := config.Load(a.configPath)
	if err != nil {
		slog.Warn("app: config reload rejected", "path", a.configPath, "err", err)
		return
	}

	a.mu.Lock()
	d := config.Diff(a.cur, next)
	a.cur = next
	a.mu.Unlock()

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart to apply", "keys", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
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

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
