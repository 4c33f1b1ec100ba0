// Package app wires the pool service together from configuration.
// It allows dependency injection for testing.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/firefly-engineering/browserpool/internal/audit"
	"github.com/firefly-engineering/browserpool/internal/config"
	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/health"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/launcher"
	"github.com/firefly-engineering/browserpool/internal/logging"
	"github.com/firefly-engineering/browserpool/internal/metrics"
	"github.com/firefly-engineering/browserpool/internal/pool"
	"github.com/firefly-engineering/browserpool/internal/reaper"
	"github.com/firefly-engineering/browserpool/internal/server"
	"github.com/firefly-engineering/browserpool/internal/ssh"
	"github.com/firefly-engineering/browserpool/internal/store"
	"github.com/firefly-engineering/browserpool/internal/system"
)

// shutdownBudget bounds stopping every browser on the way out.
const shutdownBudget = 2 * time.Minute

// App holds the application dependencies
type App struct {
	// Config is the validated configuration
	Config *config.Config

	// Paths is the data directory layout
	Paths *config.Paths

	Store     *store.Store
	Launchers launcher.Set
	Metrics   *metrics.Prometheus
	Audit     *audit.Logger
	Pool      *pool.Pool
	Reaper    *reaper.Reaper
	Server    *server.Server

	executor system.CommandExecutor
	spawner  system.Spawner
	procs    system.ProcessTable
	now      func() time.Time
}

// Option is a function that configures the App
type Option func(*App)

// WithLaunchers replaces the launchers built from configuration.
func WithLaunchers(s launcher.Set) Option {
	return func(a *App) {
		a.Launchers = s
	}
}

// WithSystem sets the process layer the real launchers use.
func WithSystem(exec system.CommandExecutor, spawner system.Spawner, procs system.ProcessTable) Option {
	return func(a *App) {
		a.executor = exec
		a.spawner = spawner
		a.procs = procs
	}
}

// WithClock replaces time.Now for the pool and reaper.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// New builds every component from cfg and opens the store. Nothing is
// started; call Run for the service or Pool.Initialize for offline use.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		Config:   cfg,
		Paths:    cfg.Paths(),
		executor: system.DefaultExecutor(),
		spawner:  system.DefaultSpawner(),
		procs:    system.DefaultProcessTable(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.Paths.Ensure(); err != nil {
		return nil, poolerrors.ConfigError("failed to prepare data directory", err)
	}

	if a.Launchers == nil {
		set, err := buildLaunchers(cfg, a.Paths, a.executor, a.spawner, a.procs)
		if err != nil {
			return nil, err
		}
		a.Launchers = set
	}
	if !a.Launchers.Supports(cfg.DefaultMode()) {
		return nil, poolerrors.ConfigError(fmt.Sprintf("default mode %q has no launcher (is remote.host set?)", cfg.DefaultMode()), nil)
	}

	st, err := store.Open(ctx, a.Paths.DBPath)
	if err != nil {
		return nil, poolerrors.StoreError("open", err)
	}
	a.Store = st

	a.Metrics = metrics.NewPrometheus("")
	a.Audit = audit.NewLogger(a.Paths.AuditDir)
	a.Pool = pool.New(st, a.Launchers, cfg.PortRange(),
		pool.WithClock(a.now),
		pool.WithMetrics(a.Metrics),
		pool.WithAuditLogger(a.Audit),
		pool.WithDefaults(pool.Defaults{
			Mode:    cfg.DefaultMode(),
			Timeout: cfg.Pool.DefaultTimeout.Duration,
			URL:     cfg.Pool.DefaultURL,
		}),
	)
	a.Reaper = reaper.New(cfg.Reaper.Interval.Duration, a.Pool,
		reaper.WithClock(a.now),
		reaper.WithMetrics(a.Metrics),
	)
	a.Server = server.New(cfg.Server.Listen, a.Pool,
		server.WithMetricsHandler(a.Metrics.Handler()),
		server.WithStreamInterval(cfg.Server.StreamInterval.Duration),
		server.WithClock(a.now),
	)
	return a, nil
}

func buildLaunchers(cfg *config.Config, paths *config.Paths, exec system.CommandExecutor, spawner system.Spawner, procs system.ProcessTable) (launcher.Set, error) {
	extra, err := cfg.LocalExtraArgs()
	if err != nil {
		return nil, poolerrors.ConfigError("invalid local configuration", err)
	}

	set := launcher.Set{
		instance.ModeHeadless: launcher.NewLocal(launcher.LocalConfig{
			ChromePath:   cfg.Local.ChromePath,
			ExtraArgs:    extra,
			ReadyTimeout: cfg.Local.ReadyTimeout.Duration,
		}, paths.ProfileDir, spawner, procs, launcher.WithProber(health.NewProber())),
	}

	if cfg.Remote.Host == "" {
		logging.Debug("remote.host not set, gui mode disabled")
		return set, nil
	}

	set[instance.ModeGUI] = launcher.NewRemote(launcher.RemoteConfig{
		ChromePath:      cfg.Remote.ChromePath,
		ProfileRoot:     cfg.Remote.ProfileRoot,
		ScriptRoot:      cfg.Remote.ScriptRoot,
		TaskPrefix:      cfg.Remote.TaskPrefix,
		LocalScriptDir:  paths.ScriptsDir,
		CommandTimeout:  cfg.Remote.CommandTimeout.Duration,
		LaunchDelay:     cfg.Remote.LaunchDelay.Duration,
		VerifyAttempts:  cfg.Remote.VerifyAttempts,
		VerifyInterval:  cfg.Remote.VerifyInterval.Duration,
		ReleaseAttempts: cfg.Remote.ReleaseAttempts,
		ReleaseInterval: cfg.Remote.ReleaseInterval.Duration,
	}, sshOptions(cfg.Remote), exec, spawner, procs)
	return set, nil
}

// sshOptions builds the connection options for the remote host.
func sshOptions(rc config.RemoteConfig) ssh.Options {
	opts := ssh.DefaultOptions(rc.Host).
		WithUser(rc.User).
		WithPort(rc.SSHPort).
		WithIdentity(rc.IdentityFile)
	if rc.ConnectTimeout > 0 {
		opts = opts.WithTimeout(rc.ConnectTimeout)
	}
	opts.DisableHostKeyCheck = rc.DisableHostKeyCheck
	return opts
}

// Run initializes the pool, starts the reaper and serves until ctx is
// cancelled. On the way out the server stops first, then the reaper, and
// finally every running browser is stopped.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.Listen, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.Pool.Initialize(ctx); err != nil {
		ln.Close()
		return err
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Reaper.Run(reaperCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn("reaper stopped", "error", err)
		}
	}()

	serveErr := a.Server.Serve(ctx, ln)

	stopReaper()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownBudget)
	defer cancel()
	if _, err := a.Pool.Shutdown(shutdownCtx); err != nil {
		logging.Error("failed to stop instances", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
