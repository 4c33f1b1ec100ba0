package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/logging"
	"github.com/firefly-engineering/browserpool/internal/ssh"
	"github.com/firefly-engineering/browserpool/internal/system"
)

// RemoteConfig configures GUI browsers on the remote Windows host.
type RemoteConfig struct {
	ChromePath  string
	ProfileRoot string
	ScriptRoot  string
	TaskPrefix  string

	// LocalScriptDir holds launch scripts before they are copied over.
	LocalScriptDir string

	CommandTimeout  time.Duration
	LaunchDelay     time.Duration
	VerifyAttempts  int
	VerifyInterval  time.Duration
	ReleaseAttempts int
	ReleaseInterval time.Duration
}

// Remote launches browsers on the remote host through a one-shot
// scheduled task, so they run in the interactive desktop session, and
// forwards the debugging port back over an ssh tunnel.
type Remote struct {
	cfg     RemoteConfig
	ssh     ssh.Options
	exec    system.CommandExecutor
	spawner system.Spawner
	procs   system.ProcessTable
	fs      system.FileSystem
	sleep   Sleeper
}

// RemoteOption configures a Remote launcher.
type RemoteOption func(*Remote)

// WithRemoteFileSystem sets where launch scripts are written.
func WithRemoteFileSystem(fs system.FileSystem) RemoteOption {
	return func(r *Remote) {
		r.fs = fs
	}
}

// WithSleeper replaces the delay function.
func WithSleeper(s Sleeper) RemoteOption {
	return func(r *Remote) {
		r.sleep = s
	}
}

// NewRemote creates a Remote launcher.
func NewRemote(cfg RemoteConfig, opts ssh.Options, exec system.CommandExecutor, spawner system.Spawner, procs system.ProcessTable, options ...RemoteOption) *Remote {
	r := &Remote{
		cfg:     cfg,
		ssh:     opts,
		exec:    exec,
		spawner: spawner,
		procs:   procs,
		fs:      system.DefaultFS(),
		sleep:   Sleep,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

var launchScript = template.Must(template.New("launch").Funcs(template.FuncMap{"ps": psQuote}).Parse(`$ErrorActionPreference = 'SilentlyContinue'
$port = {{.Port}}
Get-CimInstance Win32_Process -Filter "Name = 'chrome.exe'" |
    Where-Object { $_.CommandLine -match "--remote-debugging-port=$port( |$)" } |
    ForEach-Object { Stop-Process -Id $_.ProcessId -Force }
Start-Process -FilePath {{ps .ChromePath}} -ArgumentList @(
    '--remote-debugging-port={{.Port}}',
    {{ps (print "--user-data-dir=" .ProfileDir)}},
    '--no-first-run',
    '--no-default-browser-check',
    {{ps .URL}}
)
`))

// psQuote renders s as a single-quoted PowerShell string.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// windowsJoin joins Windows path elements.
func windowsJoin(dir, name string) string {
	return strings.TrimRight(dir, `\`) + `\` + name
}

func (r *Remote) taskName(port int) string {
	return fmt.Sprintf("%s%d", r.cfg.TaskPrefix, port)
}

func (r *Remote) scriptName(port int) string {
	return fmt.Sprintf("chrome-pool-%d.ps1", port)
}

// Script renders the PowerShell launch script for port.
func (r *Remote) Script(port int, url string) (string, error) {
	var buf bytes.Buffer
	err := launchScript.Execute(&buf, struct {
		Port       int
		ChromePath string
		ProfileDir string
		URL        string
	}{
		Port:       port,
		ChromePath: r.cfg.ChromePath,
		ProfileDir: windowsJoin(r.cfg.ProfileRoot, instance.ID(port)),
		URL:        url,
	})
	return buf.String(), err
}

// run executes a command on the remote host, bounded by CommandTimeout.
func (r *Remote) run(ctx context.Context, op string, command ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()

	out, err := r.exec.Execute(ctx, "ssh", r.ssh.BuildArgs(command...)...)
	if ctx.Err() != nil {
		return out, poolerrors.TransientRemote(op, ctx.Err())
	}
	if err != nil {
		return out, fmt.Errorf("remote %s: %w: %s", op, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (r *Remote) Start(ctx context.Context, port int, url string) (res Result, err error) {
	id := instance.ID(port)
	log := logging.With("instance", id, "host", r.ssh.Host)

	// Anything already started is torn down on failure.
	defer func() {
		if err != nil {
			log.Warn("remote launch failed, rolling back", "error", err)
			r.Stop(context.WithoutCancel(ctx), instance.Handle{InstanceID: id, Port: port, Mode: instance.ModeGUI})
		}
	}()

	script, err := r.Script(port, url)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render launch script: %w", err)
	}
	localScript := filepath.Join(r.cfg.LocalScriptDir, r.scriptName(port))
	if err := r.fs.MkdirAll(r.cfg.LocalScriptDir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create script directory: %w", err)
	}
	if err := r.fs.WriteFile(localScript, []byte(script), 0644); err != nil {
		return Result{}, fmt.Errorf("failed to write launch script: %w", err)
	}

	remoteScript := windowsJoin(r.cfg.ScriptRoot, r.scriptName(port))
	err = r.copyScript(ctx, localScript, remoteScript)
	if rmErr := r.fs.Remove(localScript); rmErr != nil {
		log.Debug("failed to remove local launch script", "path", localScript, "error", rmErr)
	}
	if err != nil {
		return Result{}, err
	}

	task := r.taskName(port)
	if _, err := r.run(ctx, "delete task", "schtasks", "/Delete", "/TN", task, "/F"); err != nil {
		log.Debug("no previous task to delete", "task", task, "error", err)
	}
	if _, err := r.run(ctx, "create task",
		"schtasks", "/Create", "/TN", task,
		"/TR", fmt.Sprintf(`"powershell -NoProfile -ExecutionPolicy Bypass -File %s"`, remoteScript),
		"/SC", "ONCE", "/ST", "00:00", "/F"); err != nil {
		return Result{}, err
	}
	if _, err := r.run(ctx, "run task", "schtasks", "/Run", "/TN", task); err != nil {
		return Result{}, err
	}
	log.Debug("launch task started", "task", task)

	if err := r.sleep(ctx, r.cfg.LaunchDelay); err != nil {
		return Result{}, err
	}

	tunnelID, err := r.openTunnel(ctx, port)
	if err != nil {
		return Result{}, err
	}

	if err := r.verify(ctx, port); err != nil {
		return Result{}, err
	}

	log.Info("remote browser started", "tunnel_pid", tunnelID)
	return Result{TunnelID: tunnelID}, nil
}

func (r *Remote) copyScript(ctx context.Context, localPath, remotePath string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()

	out, err := r.exec.Execute(ctx, "scp", r.ssh.ScpArgs(localPath, remotePath)...)
	if ctx.Err() != nil {
		return poolerrors.TransientRemote("copy script", ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("failed to copy launch script: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// openTunnel replaces any tunnel for port with a fresh one and returns
// the pid of the backgrounded ssh, or 0 if it could not be found.
func (r *Remote) openTunnel(ctx context.Context, port int) (int, error) {
	r.closeTunnels(ctx, port)

	proc, err := r.spawner.Spawn("ssh", r.ssh.TunnelArgs(port, port)...)
	if err != nil {
		return 0, fmt.Errorf("failed to start tunnel: %w", err)
	}

	// ssh -f exits once the forward is established.
	timer := time.NewTimer(r.cfg.CommandTimeout)
	defer timer.Stop()
	select {
	case <-proc.Done():
		if err := proc.Err(); err != nil {
			return 0, fmt.Errorf("tunnel for port %d failed: %w", port, err)
		}
	case <-timer.C:
		_ = r.procs.KillTree(ctx, proc.PID)
		return 0, poolerrors.TransientRemote("tunnel setup", fmt.Errorf("ssh did not background within %s", r.cfg.CommandTimeout))
	case <-ctx.Done():
		_ = r.procs.KillTree(ctx, proc.PID)
		return 0, ctx.Err()
	}

	pids, err := r.procs.Find(ctx, func(cmdline string) bool { return ssh.IsTunnel(cmdline, port) })
	if err != nil || len(pids) == 0 {
		logging.Debug("tunnel pid not found", "port", port, "error", err)
		return 0, nil
	}
	return pids[0], nil
}

// closeTunnels kills every local ssh forward for port, matched by
// command line.
func (r *Remote) closeTunnels(ctx context.Context, port int) {
	pids, err := r.procs.Find(ctx, func(cmdline string) bool { return ssh.IsTunnel(cmdline, port) })
	if err != nil {
		logging.Warn("failed to list tunnels", "port", port, "error", err)
		return
	}
	for _, pid := range pids {
		if err := r.procs.KillTree(ctx, pid); err != nil {
			logging.Warn("failed to kill tunnel", "port", port, "pid", pid, "error", err)
			continue
		}
		logging.Debug("tunnel closed", "port", port, "pid", pid)
	}
}

// verify polls the remote host until the browser listens on port.
func (r *Remote) verify(ctx context.Context, port int) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.VerifyAttempts; attempt++ {
		if err := r.sleep(ctx, r.cfg.VerifyInterval); err != nil {
			return err
		}
		listening, err := r.listening(ctx, port)
		if err == nil && listening {
			return nil
		}
		lastErr = err
		logging.Debug("remote browser not listening yet", "port", port, "attempt", attempt, "error", err)
	}
	if lastErr == nil {
		lastErr = errors.New("port not listening")
	}
	return poolerrors.TransientRemote("verify", fmt.Errorf("port %d after %d attempts: %w", port, r.cfg.VerifyAttempts, lastErr))
}

// listening asks the remote host whether anything listens on port.
func (r *Remote) listening(ctx context.Context, port int) (bool, error) {
	out, err := r.run(ctx, "port query",
		"powershell", "-NoProfile", "-Command",
		fmt.Sprintf(`"netstat -an | Select-String ':%d ' | Select-String 'LISTENING'"`, port))
	if err != nil {
		return false, err
	}
	return strings.Contains(string(out), "LISTENING"), nil
}

// Stop closes the tunnel, removes the task and kills whatever listens on
// the remote port, then waits for the port to be released.
func (r *Remote) Stop(ctx context.Context, h instance.Handle) {
	log := logging.With("instance", h.InstanceID, "host", r.ssh.Host)

	r.closeTunnels(ctx, h.Port)

	if _, err := r.run(ctx, "delete task", "schtasks", "/Delete", "/TN", r.taskName(h.Port), "/F"); err != nil {
		log.Debug("failed to delete launch task", "error", err)
	}

	kill := fmt.Sprintf(`"Get-NetTCPConnection -LocalPort %d -State Listen -ErrorAction SilentlyContinue | ForEach-Object { Stop-Process -Id $_.OwningProcess -Force -ErrorAction SilentlyContinue }"`, h.Port)
	if _, err := r.run(ctx, "kill by port", "powershell", "-NoProfile", "-Command", kill); err != nil {
		log.Warn("failed to kill remote browser", "error", err)
	}

	for attempt := 1; attempt <= r.cfg.ReleaseAttempts; attempt++ {
		listening, err := r.listening(ctx, h.Port)
		if err == nil && !listening {
			log.Debug("remote port released", "attempt", attempt)
			return
		}
		if attempt < r.cfg.ReleaseAttempts {
			if err := r.sleep(ctx, r.cfg.ReleaseInterval); err != nil {
				break
			}
		}
	}
	log.Warn("remote port still in use after stop", "port", h.Port, "attempts", r.cfg.ReleaseAttempts)
}

// IsRunning reports whether the tunnel for h is still up. The remote
// browser itself is only reachable through it.
func (r *Remote) IsRunning(ctx context.Context, h instance.Handle) (bool, error) {
	if h.TunnelID <= 0 {
		return false, nil
	}
	return r.procs.Alive(ctx, h.TunnelID)
}

// CleanupOrphans closes tunnels left over from a previous run.
func (r *Remote) CleanupOrphans(ctx context.Context, ports []int) {
	for _, port := range ports {
		r.closeTunnels(ctx, port)
	}
}
