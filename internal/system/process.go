package system

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// gopsutilTable implements ProcessTable on top of gopsutil.
type gopsutilTable struct{}

func (t *gopsutilTable) Alive(ctx context.Context, pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false, err
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return false, nil
		}
		return false, err
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		// Raced with exit.
		return false, nil
	}
	return !slices.Contains(status, process.Zombie), nil
}

func (t *gopsutilTable) Cmdline(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", err
	}
	return p.CmdlineWithContext(ctx)
}

func (t *gopsutilTable) KillTree(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("lookup pid %d: %w", pid, err)
	}
	return killTree(ctx, p)
}

func killTree(ctx context.Context, p *process.Process) error {
	// ErrorNoChildren is returned for leaf processes.
	children, _ := p.ChildrenWithContext(ctx)

	var errs []error
	for _, child := range children {
		if err := killTree(ctx, child); err != nil {
			errs = append(errs, err)
		}
	}

	if err := p.KillWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); running {
			errs = append(errs, fmt.Errorf("kill pid %d: %w", p.Pid, err))
		}
	}
	return errors.Join(errs...)
}

func (t *gopsutilTable) Find(ctx context.Context, match func(cmdline string) bool) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var pids []int
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		if match(cmdline) {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}
