package integration

import (
	"context"
	"net"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/firefly-engineering/browserpool/internal/app"
	"github.com/firefly-engineering/browserpool/internal/client"
	"github.com/firefly-engineering/browserpool/internal/config"
	"github.com/firefly-engineering/browserpool/internal/instance"
)

const (
	enableEnvVar = "BROWSERPOOL_INTEGRATION_TESTS"
	chromeEnvVar = "BROWSERPOOL_CHROME"
	portEnvVar   = "BROWSERPOOL_TEST_PORT"

	defaultTestPort = 9600
)

var chromeCandidates = []string{"google-chrome", "chromium", "chromium-browser"}

// Harness is a running pool service backed by a temporary data directory.
type Harness struct {
	t      *testing.T
	Config *config.Config
	App    *app.App
	Client *client.Client

	cancel context.CancelFunc
	done   chan error
}

// NewHarness starts a pool of two slots using the real headless launcher.
// It skips the test if integration tests are disabled or no browser is found.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	if os.Getenv(enableEnvVar) == "" {
		t.Skip("integration tests disabled (set " + enableEnvVar + "=1 to enable)")
	}
	chrome, ok := findChrome()
	if !ok {
		t.Skip("no chrome binary found")
	}

	base := defaultTestPort
	if v := os.Getenv(portEnvVar); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			t.Fatalf("invalid %s: %v", portEnvVar, err)
		}
		base = n
	}

	cfg := TestConfig(t, base, base+1)
	cfg.Local.ChromePath = chrome
	cfg.Local.ReadyTimeout = config.Duration{Duration: 30 * time.Second}
	return Start(t, cfg)
}

// TestConfig returns a local-only config over ports from..to with fast
// sweeps and its data directory under t.TempDir.
func TestConfig(t *testing.T, from, to int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Pool.PortFrom = from
	cfg.Pool.PortTo = to
	cfg.Pool.DataDir = t.TempDir()
	cfg.Server.StreamInterval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Reaper.Interval = config.Duration{Duration: 100 * time.Millisecond}
	cfg.Remote.Host = ""
	return cfg
}

// Start builds an App from cfg and serves it on a loopback port until
// the test ends.
func Start(t *testing.T, cfg *config.Config, opts ...app.Option) *Harness {
	t.Helper()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid config: %v", err)
	}
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		a.Close()
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		t:      t,
		Config: cfg,
		App:    a,
		Client: client.New("http://" + ln.Addr().String()),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { h.done <- a.Serve(ctx, ln) }()
	t.Cleanup(h.Stop)

	h.waitHealthy()
	return h
}

// Stop shuts the service down and waits for Serve to return. It is safe
// to call more than once.
func (h *Harness) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil

	select {
	case err := <-h.done:
		if err != nil {
			h.t.Errorf("Serve error: %v", err)
		}
	case <-time.After(time.Minute):
		h.t.Error("Serve did not return after cancel")
	}
	if err := h.App.Close(); err != nil {
		h.t.Errorf("Close error: %v", err)
	}
}

// WaitForStatus polls the server until the instance reaches want.
func (h *Harness) WaitForStatus(instanceID string, want instance.Status, timeout time.Duration) instance.Slot {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	var last instance.Slot
	for {
		slot, err := h.Client.Status(context.Background(), instanceID)
		if err == nil {
			last = slot
			if slot.Status == want {
				return slot
			}
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("%s did not reach %s within %v (last: %+v, err: %v)", instanceID, want, timeout, last, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (h *Harness) waitHealthy() {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := h.Client.Health(context.Background())
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("server not healthy: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// findChrome locates a browser binary from $BROWSERPOOL_CHROME or PATH.
func findChrome() (string, bool) {
	if p := os.Getenv(chromeEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
		return "", false
	}
	for _, name := range chromeCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, true
		}
	}
	return "", false
}
