package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/kballard/go-shellquote"

	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/port"
)

const (
	DefaultConfigPath = "/etc/browserpool/config.toml"
	ConfigEnvVar      = "BROWSERPOOL_CONFIG"

	DefaultPortFrom = 9222
	DefaultPortTo   = 9232
	DefaultDataDir  = "~/.local/share/browserpool"
	DefaultURL      = "about:blank"
	DefaultListen   = "127.0.0.1:8765"

	DBFileName = "pool.db"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the browserpool configuration file
type Config struct {
	Pool   PoolConfig   `toml:"pool"`
	Server ServerConfig `toml:"server"`
	Reaper ReaperConfig `toml:"reaper"`
	Local  LocalConfig  `toml:"local"`
	Remote RemoteConfig `toml:"remote"`
}

// PoolConfig sizes the pool and sets allocation defaults.
type PoolConfig struct {
	PortFrom       int      `toml:"port_from"`
	PortTo         int      `toml:"port_to"`
	DataDir        string   `toml:"data_dir"`
	DefaultMode    string   `toml:"default_mode"`
	DefaultTimeout Duration `toml:"default_timeout"`
	DefaultURL     string   `toml:"default_url"`
}

type ServerConfig struct {
	Listen         string   `toml:"listen"`
	StreamInterval Duration `toml:"stream_interval"`
}

type ReaperConfig struct {
	Interval Duration `toml:"interval"`
}

// LocalConfig drives the headless launcher.
type LocalConfig struct {
	ChromePath   string   `toml:"chrome_path"`
	ExtraArgs    string   `toml:"extra_args"`
	ReadyTimeout Duration `toml:"ready_timeout"`
}

// RemoteConfig drives the GUI launcher on the remote Windows host.
type RemoteConfig struct {
	Host         string `toml:"host"`
	User         string `toml:"user"`
	SSHPort      int    `toml:"ssh_port"`
	IdentityFile string `toml:"identity_file"`
	// ConnectTimeout is in seconds; 0 keeps the ssh default.
	ConnectTimeout      int      `toml:"connect_timeout"`
	DisableHostKeyCheck bool     `toml:"disable_host_key_check"`
	ChromePath          string   `toml:"chrome_path"`
	ProfileRoot         string   `toml:"profile_root"`
	ScriptRoot          string   `toml:"script_root"`
	TaskPrefix          string   `toml:"task_prefix"`
	CommandTimeout      Duration `toml:"command_timeout"`
	LaunchDelay         Duration `toml:"launch_delay"`
	VerifyAttempts      int      `toml:"verify_attempts"`
	VerifyInterval      Duration `toml:"verify_interval"`
	ReleaseAttempts     int      `toml:"release_attempts"`
	ReleaseInterval     Duration `toml:"release_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			PortFrom:       DefaultPortFrom,
			PortTo:         DefaultPortTo,
			DataDir:        DefaultDataDir,
			DefaultMode:    string(instance.ModeHeadless),
			DefaultTimeout: Duration{300 * time.Second},
			DefaultURL:     DefaultURL,
		},
		Server: ServerConfig{
			Listen:         DefaultListen,
			StreamInterval: Duration{5 * time.Second},
		},
		Reaper: ReaperConfig{
			Interval: Duration{30 * time.Second},
		},
		Local: LocalConfig{
			ChromePath: "google-chrome",
			ExtraArgs:  "--disable-gpu --no-sandbox",
		},
		Remote: RemoteConfig{
			Host:            "stark-windows",
			ChromePath:      `C:\Program Files\Google\Chrome\Application\chrome.exe`,
			ProfileRoot:     `C:\Users\Public\chrome-pool`,
			ScriptRoot:      `C:\Users\Public\chrome-pool\scripts`,
			TaskPrefix:      "ChromePool_",
			CommandTimeout:  Duration{5 * time.Second},
			LaunchDelay:     Duration{2 * time.Second},
			VerifyAttempts:  4,
			VerifyInterval:  Duration{2 * time.Second},
			ReleaseAttempts: 8,
			ReleaseInterval: Duration{time.Second},
		},
	}
}

// ResolvePath picks the config file: explicit flag, then $BROWSERPOOL_CONFIG,
// then the default location.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(ConfigEnvVar); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Load reads the TOML file at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return finish(Default(), path)
	}
	if err != nil {
		return nil, poolerrors.ConfigError(fmt.Sprintf("failed to read config %s", path), err)
	}
	return Parse(data, path)
}

// Parse decodes TOML data over the defaults. source names the data in
// error messages.
func Parse(data []byte, source string) (*Config, error) {
	cfg := Default()

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, poolerrors.ConfigError(fmt.Sprintf("failed to parse config %s", source), err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, poolerrors.ConfigError(fmt.Sprintf("unknown keys in %s: %s", source, strings.Join(keys, ", ")), nil)
	}
	return finish(cfg, source)
}

func finish(cfg *Config, source string) (*Config, error) {
	dataDir, err := expandHome(cfg.Pool.DataDir)
	if err != nil {
		return nil, poolerrors.ConfigError("invalid data_dir", err)
	}
	cfg.Pool.DataDir = dataDir

	if err := cfg.Validate(); err != nil {
		return nil, poolerrors.ConfigError(fmt.Sprintf("invalid config %s", source), err)
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate checks that the Config is usable.
func (c *Config) Validate() error {
	if err := c.PortRange().Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if c.Pool.DataDir == "" {
		return fmt.Errorf("pool: data_dir is required")
	}
	if _, err := instance.ParseMode(c.Pool.DefaultMode); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if c.Pool.DefaultTimeout.Duration <= 0 {
		return fmt.Errorf("pool: default_timeout must be positive")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server: listen is required")
	}
	if c.Server.StreamInterval.Duration <= 0 {
		return fmt.Errorf("server: stream_interval must be positive")
	}
	if c.Reaper.Interval.Duration <= 0 {
		return fmt.Errorf("reaper: interval must be positive")
	}
	if c.Local.ChromePath == "" {
		return fmt.Errorf("local: chrome_path is required")
	}
	if _, err := c.LocalExtraArgs(); err != nil {
		return fmt.Errorf("local: %w", err)
	}
	if c.Remote.VerifyAttempts < 1 || c.Remote.ReleaseAttempts < 1 {
		return fmt.Errorf("remote: verify_attempts and release_attempts must be at least 1")
	}
	if c.Remote.ConnectTimeout < 0 {
		return fmt.Errorf("remote: connect_timeout must not be negative")
	}
	if c.Remote.CommandTimeout.Duration <= 0 {
		return fmt.Errorf("remote: command_timeout must be positive")
	}
	return nil
}

// PortRange returns the pool's port range.
func (c *Config) PortRange() port.Range {
	return port.Range{From: c.Pool.PortFrom, To: c.Pool.PortTo}
}

// Capacity is the number of slots in the pool.
func (c *Config) Capacity() int {
	return c.PortRange().Size()
}

// DefaultMode returns the parsed default launch mode.
func (c *Config) DefaultMode() instance.Mode {
	mode, err := instance.ParseMode(c.Pool.DefaultMode)
	if err != nil {
		return instance.ModeHeadless
	}
	return mode
}

// LocalExtraArgs splits local.extra_args with shell quoting rules.
func (c *Config) LocalExtraArgs() ([]string, error) {
	args, err := shellquote.Split(c.Local.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid extra_args %q: %w", c.Local.ExtraArgs, err)
	}
	return args, nil
}

// Paths holds the on-disk layout under the data directory
type Paths struct {
	DataDir     string
	DBPath      string
	ProfilesDir string
	AuditDir    string
	ScriptsDir  string
}

// Paths derives the data directory layout.
func (c *Config) Paths() *Paths {
	return NewPaths(c.Pool.DataDir)
}

// NewPaths lays out the data directory rooted at dataDir.
func NewPaths(dataDir string) *Paths {
	return &Paths{
		DataDir:     dataDir,
		DBPath:      filepath.Join(dataDir, DBFileName),
		ProfilesDir: filepath.Join(dataDir, "profiles"),
		AuditDir:    filepath.Join(dataDir, "audit"),
		ScriptsDir:  filepath.Join(dataDir, "scripts"),
	}
}

// ProfileDir returns the browser profile directory of an instance, confined
// to ProfilesDir.
func (p *Paths) ProfileDir(instanceID string) (string, error) {
	dir, err := securejoin.SecureJoin(p.ProfilesDir, instanceID)
	if err != nil {
		return "", fmt.Errorf("invalid profile path for %s: %w", instanceID, err)
	}
	return dir, nil
}

// Ensure creates the data directory tree.
func (p *Paths) Ensure() error {
	for _, dir := range []string{p.DataDir, p.ProfilesDir, p.AuditDir, p.ScriptsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
