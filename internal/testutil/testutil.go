package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/firefly-engineering/browserpool/internal/config"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/launcher"
	"github.com/firefly-engineering/browserpool/internal/port"
	"github.com/firefly-engineering/browserpool/internal/store"
)

// TestEnv holds a pool environment in a temporary data directory
type TestEnv struct {
	T      *testing.T
	TmpDir string
	Config *config.Config
	Paths  *config.Paths
	Store  *store.Store
	Ports  port.Range

	// Headless and GUI back the two modes in Launchers.
	Headless  *launcher.MockLauncher
	GUI       *launcher.MockLauncher
	Launchers launcher.Set

	Clock *Clock
}

// NewTestEnv creates an environment with size slots starting at port
// 9222, an open store and mock launchers for both modes. The GUI mock
// hands out tunnel ids as well as process ids.
func NewTestEnv(t *testing.T, size int) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := config.Default()
	cfg.Pool.DataDir = tmpDir
	cfg.Pool.PortFrom = 9222
	cfg.Pool.PortTo = 9222 + size - 1

	paths := cfg.Paths()
	if err := paths.Ensure(); err != nil {
		t.Fatalf("Failed to create data directories: %v", err)
	}

	st, err := store.Open(context.Background(), paths.DBPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	headless := launcher.NewMockLauncher()
	gui := launcher.NewMockLauncher()
	gui.NextPID = 7000
	gui.WithTunnel = true

	return &TestEnv{
		T:        t,
		TmpDir:   tmpDir,
		Config:   cfg,
		Paths:    paths,
		Store:    st,
		Ports:    cfg.PortRange(),
		Headless: headless,
		GUI:      gui,
		Launchers: launcher.Set{
			instance.ModeHeadless: headless,
			instance.ModeGUI:      gui,
		},
		Clock: NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
	}
}

// SeedSlot writes slot straight to the store, bypassing the pool.
func (e *TestEnv) SeedSlot(slot instance.Slot) {
	e.T.Helper()
	ctx := context.Background()
	if err := e.Store.InitSchema(ctx); err != nil {
		e.T.Fatalf("Failed to init schema: %v", err)
	}
	if err := e.Store.Upsert(ctx, slot); err != nil {
		e.T.Fatalf("Failed to seed slot: %v", err)
	}
}

// Slot reads a slot from the store.
func (e *TestEnv) Slot(instanceID string) instance.Slot {
	e.T.Helper()
	slot, err := e.Store.Get(context.Background(), instanceID)
	if err != nil {
		e.T.Fatalf("Failed to read slot %s: %v", instanceID, err)
	}
	return slot
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
