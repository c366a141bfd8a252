package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/remotebox/internal/config"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/localexecutor"
	"github.com/specialistvlad/remotebox/internal/metrics"
	"github.com/specialistvlad/remotebox/internal/registry"
	"github.com/specialistvlad/remotebox/internal/sshconn"
	"github.com/specialistvlad/remotebox/internal/statestore"
)

// ConfigError marks a failure caused by the pipeline definition or the
// invocation rather than by running it.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	logger  *slog.Logger
	config  *Config
	loader  config.Loader
	modules []registry.Module

	runner localexecutor.Runner
	dialer *sshconn.Dialer

	metricsRegistry *prometheus.Registry
	metrics         *metrics.Metrics
	httpServer      *http.Server
}

// Option customises an App.
type Option func(*App)

// WithModules replaces the compiled-in provider modules.
func WithModules(modules ...registry.Module) Option {
	return func(a *App) { a.modules = modules }
}

// WithRunner replaces the local process runner used for docker and the
// container launcher.
func WithRunner(r localexecutor.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithDialer replaces the SSH dialer. Its trust store is used as is.
func WithDialer(d *sshconn.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// NewApp is the constructor for the main application. It returns an App
// with its own isolated logger and metrics registry.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader, opts ...Option) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg, m := metrics.NewRegistry()
	a := &App{
		logger:          logger,
		config:          appConfig,
		loader:          loader,
		modules:         coreModules(),
		runner:          localexecutor.OSRunner{},
		metricsRegistry: reg,
		metrics:         m,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// context attaches the app logger to ctx.
func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// load reads the pipeline definition.
func (a *App) load(ctx context.Context) (*config.Model, error) {
	a.logger.Debug("Loading pipeline...", "path", a.config.PipelinePath)
	model, err := a.loader.Load(ctx, a.config.PipelinePath)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to load pipeline: %w", err)}
	}
	a.logger.Debug("Pipeline loaded.", "name", model.Settings.Name, "nodes", len(model.Nodes))
	return model, nil
}

// newRegistry creates a registry populated with the app's modules.
func (a *App) newRegistry() *registry.Registry {
	reg := registry.New()
	for _, mod := range a.modules {
		mod.Register(reg)
	}
	a.logger.Debug("All provider modules registered.", "count", len(a.modules), "kinds", reg.Kinds())
	return reg
}

// openState opens the state file.
func (a *App) openState() (*statestore.Store, error) {
	store, err := statestore.Open(a.config.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening state %s: %w", a.config.StatePath, err)
	}
	return store, nil
}

// sshDialer returns the configured dialer or one trusting hosts through the
// pipeline's known_hosts file.
func (a *App) sshDialer(model *config.Model) (*sshconn.Dialer, error) {
	if a.dialer != nil {
		return a.dialer, nil
	}
	path := model.Settings.KnownHosts
	if path == "" {
		var err error
		if path, err = sshconn.DefaultKnownHostsPath(); err != nil {
			return nil, fmt.Errorf("locating known_hosts: %w", err)
		}
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(model.BaseDir, path)
	}
	return &sshconn.Dialer{Trust: sshconn.NewTrustStore(path)}, nil
}
