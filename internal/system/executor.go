package system

import (
	"context"
	"os/exec"
	"syscall"
)

// osExecutor implements CommandExecutor using real OS operations.
type osExecutor struct{}

func (e *osExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Process is a spawned child. Done is closed once the child has exited
// and been reaped; Err is only meaningful after that.
type Process struct {
	PID  int
	done chan struct{}
	err  error
}

// NewProcess returns a Process for pid whose exit is signalled by
// calling the returned function. Used by Spawner implementations.
func NewProcess(pid int) (*Process, func(error)) {
	p := &Process{PID: pid, done: make(chan struct{})}
	return p, func(err error) {
		p.err = err
		close(p.done)
	}
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// Exited reports whether the process has already exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// osSpawner starts processes in their own process group with stdio
// detached, and reaps them in the background.
type osSpawner struct{}

func (s *osSpawner) Spawn(name string, args ...string) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc, exited := NewProcess(cmd.Process.Pid)
	go func() {
		exited(cmd.Wait())
	}()
	return proc, nil
}
