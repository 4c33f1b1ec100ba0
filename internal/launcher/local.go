package launcher

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/logging"
	"github.com/firefly-engineering/browserpool/internal/system"
)

// LocalConfig configures headless browsers on this host.
type LocalConfig struct {
	ChromePath string
	ExtraArgs  []string

	// ReadyTimeout bounds the wait for DevTools to answer. Zero skips
	// the wait.
	ReadyTimeout time.Duration
}

// ProfileDirFunc returns the isolated profile directory for an instance.
type ProfileDirFunc func(instanceID string) (string, error)

// ReadyProber waits for DevTools on port to answer.
type ReadyProber interface {
	WaitReady(ctx context.Context, port int, timeout time.Duration, exited <-chan struct{}) error
}

// Local runs headless browsers as child processes, one profile
// directory per port.
type Local struct {
	cfg        LocalConfig
	profileDir ProfileDirFunc
	fs         system.FileSystem
	spawner    system.Spawner
	procs      system.ProcessTable
	prober     ReadyProber
}

// LocalOption configures a Local launcher.
type LocalOption func(*Local)

// WithFileSystem sets the filesystem used to create profile directories.
func WithFileSystem(fs system.FileSystem) LocalOption {
	return func(l *Local) {
		l.fs = fs
	}
}

// WithProber sets the DevTools readiness prober.
func WithProber(p ReadyProber) LocalOption {
	return func(l *Local) {
		l.prober = p
	}
}

// NewLocal creates a Local launcher.
func NewLocal(cfg LocalConfig, profileDir ProfileDirFunc, spawner system.Spawner, procs system.ProcessTable, opts ...LocalOption) *Local {
	l := &Local{
		cfg:        cfg,
		profileDir: profileDir,
		fs:         system.DefaultFS(),
		spawner:    spawner,
		procs:      procs,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func debugPortFlag(port int) string {
	return fmt.Sprintf("--remote-debugging-port=%d", port)
}

// Args returns the browser command line for port.
func (l *Local) Args(port int, profileDir, url string) []string {
	args := []string{
		debugPortFlag(port),
		"--user-data-dir=" + profileDir,
		"--headless=new",
		"--disable-extensions",
		"--disable-background-networking",
		"--disable-default-apps",
		"--no-first-run",
		"--disable-sync",
	}
	args = append(args, l.cfg.ExtraArgs...)
	return append(args, url)
}

func (l *Local) Start(ctx context.Context, port int, url string) (Result, error) {
	id := instance.ID(port)
	if filepath.IsAbs(l.cfg.ChromePath) && !l.fs.Exists(l.cfg.ChromePath) {
		return Result{}, fmt.Errorf("browser binary %s does not exist", l.cfg.ChromePath)
	}
	dir, err := l.profileDir(id)
	if err != nil {
		return Result{}, err
	}
	if err := l.fs.MkdirAll(dir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create profile directory: %w", err)
	}

	args := l.Args(port, dir, url)
	logging.Debug("starting headless browser", "instance", id, "command", shellquote.Join(append([]string{l.cfg.ChromePath}, args...)...))

	proc, err := l.spawner.Spawn(l.cfg.ChromePath, args...)
	if err != nil {
		return Result{}, fmt.Errorf("failed to start %s: %w", l.cfg.ChromePath, err)
	}

	if l.cfg.ReadyTimeout > 0 && l.prober != nil {
		if err := l.prober.WaitReady(ctx, port, l.cfg.ReadyTimeout, proc.Done()); err != nil {
			if killErr := l.procs.KillTree(ctx, proc.PID); killErr != nil {
				logging.Warn("failed to kill browser after failed start", "instance", id, "pid", proc.PID, "error", killErr)
			}
			return Result{}, err
		}
	} else if proc.Exited() {
		return Result{}, fmt.Errorf("browser exited immediately: %v", proc.Err())
	}

	logging.Info("headless browser started", "instance", id, "pid", proc.PID)
	return Result{ProcessID: proc.PID}, nil
}

// Stop kills the browser process tree. The pid is only killed while its
// command line still names this port, so a recycled pid is left alone.
func (l *Local) Stop(ctx context.Context, h instance.Handle) {
	if h.ProcessID <= 0 {
		return
	}

	cmdline, err := l.procs.Cmdline(ctx, h.ProcessID)
	if err != nil {
		logging.Debug("browser already gone", "instance", h.InstanceID, "pid", h.ProcessID)
		return
	}
	if !slices.Contains(strings.Fields(cmdline), debugPortFlag(h.Port)) {
		logging.Warn("pid no longer belongs to instance, not killing", "instance", h.InstanceID, "pid", h.ProcessID)
		return
	}

	if err := l.procs.KillTree(ctx, h.ProcessID); err != nil {
		logging.Warn("failed to stop headless browser", "instance", h.InstanceID, "pid", h.ProcessID, "error", err)
		return
	}
	logging.Debug("headless browser stopped", "instance", h.InstanceID, "pid", h.ProcessID)
}

func (l *Local) IsRunning(ctx context.Context, h instance.Handle) (bool, error) {
	if h.ProcessID <= 0 {
		return false, nil
	}
	return l.procs.Alive(ctx, h.ProcessID)
}
