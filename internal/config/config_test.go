package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/instance"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Capacity() != 11 {
		t.Errorf("Capacity() = %d, want 11", cfg.Capacity())
	}
	if cfg.Server.Listen != "127.0.0.1:8765" {
		t.Errorf("Listen = %q, want %q", cfg.Server.Listen, "127.0.0.1:8765")
	}
	if cfg.Reaper.Interval.Duration != 30*time.Second {
		t.Errorf("Reaper.Interval = %v, want 30s", cfg.Reaper.Interval)
	}
	if cfg.Server.StreamInterval.Duration != 5*time.Second {
		t.Errorf("StreamInterval = %v, want 5s", cfg.Server.StreamInterval)
	}
	if cfg.Pool.DefaultTimeout.Duration != 300*time.Second {
		t.Errorf("DefaultTimeout = %v, want 300s", cfg.Pool.DefaultTimeout)
	}
	if cfg.DefaultMode() != instance.ModeHeadless {
		t.Errorf("DefaultMode() = %q, want headless", cfg.DefaultMode())
	}
	if cfg.Remote.ReleaseAttempts != 8 || cfg.Remote.ReleaseInterval.Duration != time.Second {
		t.Errorf("release polling = %d x %v, want 8 x 1s", cfg.Remote.ReleaseAttempts, cfg.Remote.ReleaseInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("HOME", dataDir)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Pool.PortFrom != DefaultPortFrom {
		t.Errorf("PortFrom = %d, want %d", cfg.Pool.PortFrom, DefaultPortFrom)
	}
	want := filepath.Join(dataDir, ".local/share/browserpool")
	if cfg.Pool.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.Pool.DataDir, want)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `
[pool]
port_from = 9300
port_to = 9303
data_dir = "`+dataDir+`"
default_mode = "gui"
default_timeout = "90s"

[server]
listen = "0.0.0.0:9000"

[reaper]
interval = "10s"

[local]
extra_args = "--disable-gpu --window-size='1280,720'"

[remote]
host = "winbox"
user = "pool"
verify_attempts = 6
connect_timeout = 3
disable_host_key_check = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Capacity() != 4 {
		t.Errorf("Capacity() = %d, want 4", cfg.Capacity())
	}
	if cfg.DefaultMode() != instance.ModeGUI {
		t.Errorf("DefaultMode() = %q, want gui", cfg.DefaultMode())
	}
	if cfg.Pool.DefaultTimeout.Duration != 90*time.Second {
		t.Errorf("DefaultTimeout = %v, want 90s", cfg.Pool.DefaultTimeout)
	}
	if cfg.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.Reaper.Interval.Duration != 10*time.Second {
		t.Errorf("Reaper.Interval = %v, want 10s", cfg.Reaper.Interval)
	}
	if cfg.Remote.Host != "winbox" || cfg.Remote.User != "pool" || cfg.Remote.VerifyAttempts != 6 {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Remote.ConnectTimeout != 3 || !cfg.Remote.DisableHostKeyCheck {
		t.Errorf("ssh settings = %d, %v", cfg.Remote.ConnectTimeout, cfg.Remote.DisableHostKeyCheck)
	}
	// Untouched keys keep their defaults.
	if cfg.Remote.TaskPrefix != "ChromePool_" {
		t.Errorf("TaskPrefix = %q, want default", cfg.Remote.TaskPrefix)
	}

	args, err := cfg.LocalExtraArgs()
	if err != nil {
		t.Fatalf("LocalExtraArgs error: %v", err)
	}
	if len(args) != 2 || args[1] != "--window-size=1280,720" {
		t.Errorf("LocalExtraArgs() = %q", args)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad toml", "[pool\n", "failed to parse"},
		{"unknown key", "[pool]\ncolour = 1\n", "unknown keys"},
		{"bad duration", "[reaper]\ninterval = \"soon\"\n", "soon"},
		{"empty range", "[pool]\nport_from = 10\nport_to = 5\ndata_dir = \"/tmp/x\"\n", "empty"},
		{"bad mode", "[pool]\ndefault_mode = \"vnc\"\ndata_dir = \"/tmp/x\"\n", "unknown mode"},
		{"unbalanced quote", "[pool]\ndata_dir = \"/tmp/x\"\n[local]\nextra_args = \"--a 'b\"\n", "extra_args"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
			if poolerrors.GetExitCode(err) != poolerrors.ExitConfigError {
				t.Errorf("exit code = %d, want %d", poolerrors.GetExitCode(err), poolerrors.ExitConfigError)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")
	if got := ResolvePath(""); got != DefaultConfigPath {
		t.Errorf("ResolvePath(\"\") = %q, want %q", got, DefaultConfigPath)
	}

	t.Setenv(ConfigEnvVar, "/srv/pool.toml")
	if got := ResolvePath(""); got != "/srv/pool.toml" {
		t.Errorf("ResolvePath with env = %q", got)
	}
	if got := ResolvePath("/flag.toml"); got != "/flag.toml" {
		t.Errorf("ResolvePath with flag = %q", got)
	}
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	p := NewPaths(dir)

	if p.DBPath != filepath.Join(dir, "pool.db") {
		t.Errorf("DBPath = %q", p.DBPath)
	}

	profile, err := p.ProfileDir("chrome-9222")
	if err != nil {
		t.Fatalf("ProfileDir error: %v", err)
	}
	if profile != filepath.Join(dir, "profiles", "chrome-9222") {
		t.Errorf("ProfileDir = %q", profile)
	}

	// Traversal stays confined to the profiles directory.
	escaped, err := p.ProfileDir("../../etc")
	if err != nil {
		t.Fatalf("ProfileDir error: %v", err)
	}
	if !strings.HasPrefix(escaped, p.ProfilesDir) {
		t.Errorf("ProfileDir escaped profiles dir: %q", escaped)
	}

	if err := p.Ensure(); err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	for _, d := range []string{p.ProfilesDir, p.AuditDir, p.ScriptsDir} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("%s should exist as a directory", d)
		}
	}
}

func TestDuration_MarshalText(t *testing.T) {
	d := Duration{90 * time.Second}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText error: %v", err)
	}
	if string(text) != "1m30s" {
		t.Errorf("MarshalText() = %q, want %q", text, "1m30s")
	}
}
