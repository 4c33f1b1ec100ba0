// Package launcher starts and stops the browser behind a pool slot.
// The pool selects an implementation by the slot's mode: Local runs a
// headless process on this host, Remote schedules a GUI browser on the
// remote host and tunnels its debugging port back here.
package launcher

import (
	"context"
	"fmt"
	"time"

	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/logging"
)

// Result holds the identifiers of a started browser.
type Result struct {
	ProcessID int
	TunnelID  int
}

// Launcher is the capability the pool needs from each mode.
// All methods should be safe for concurrent use.
type Launcher interface {
	// Start launches a browser serving DevTools on port and opening url.
	// A failed Start leaves nothing running.
	Start(ctx context.Context, port int, url string) (Result, error)

	// Stop tears down whatever h refers to. It is best-effort: problems
	// are logged, never returned.
	Stop(ctx context.Context, h instance.Handle)

	// IsRunning probes whether the browser behind h is still alive.
	IsRunning(ctx context.Context, h instance.Handle) (bool, error)
}

// OrphanCleaner is implemented by launchers that can leave resources
// behind when the pool process dies.
type OrphanCleaner interface {
	CleanupOrphans(ctx context.Context, ports []int)
}

// Set dispatches to a Launcher by mode.
type Set map[instance.Mode]Launcher

// For returns the launcher registered for mode.
func (s Set) For(mode instance.Mode) (Launcher, error) {
	l, ok := s[mode]
	if !ok || l == nil {
		return nil, fmt.Errorf("no launcher configured for mode %q", mode)
	}
	return l, nil
}

// Supports reports whether mode has a launcher.
func (s Set) Supports(mode instance.Mode) bool {
	_, err := s.For(mode)
	return err == nil
}

// Start launches a browser in the given mode.
func (s Set) Start(ctx context.Context, mode instance.Mode, port int, url string) (Result, error) {
	l, err := s.For(mode)
	if err != nil {
		return Result{}, err
	}
	return l.Start(ctx, port, url)
}

// Stop stops h with the launcher of its mode.
func (s Set) Stop(ctx context.Context, h instance.Handle) {
	l, err := s.For(h.Mode)
	if err != nil {
		logging.Warn("cannot stop instance", "instance", h.InstanceID, "error", err)
		return
	}
	l.Stop(ctx, h)
}

// IsRunning probes h with the launcher of its mode.
func (s Set) IsRunning(ctx context.Context, h instance.Handle) (bool, error) {
	l, err := s.For(h.Mode)
	if err != nil {
		return false, err
	}
	return l.IsRunning(ctx, h)
}

// CleanupOrphans runs every launcher's orphan cleanup over ports.
func (s Set) CleanupOrphans(ctx context.Context, ports []int) {
	for mode, l := range s {
		if c, ok := l.(OrphanCleaner); ok {
			logging.Debug("cleaning orphaned resources", "mode", mode, "ports", len(ports))
			c.CleanupOrphans(ctx, ports)
		}
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
