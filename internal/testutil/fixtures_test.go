package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/firefly-engineering/browserpool/internal/instance"
)

func TestLoadValidConfig(t *testing.T) {
	cfg, err := ValidConfig()
	if err != nil {
		t.Fatalf("ValidConfig error: %v", err)
	}

	if cfg.Capacity() != 5 {
		t.Errorf("Capacity = %d, want 5", cfg.Capacity())
	}
	if cfg.DefaultMode() != instance.ModeGUI {
		t.Errorf("DefaultMode = %q, want gui", cfg.DefaultMode())
	}
	if cfg.Remote.ReleaseInterval.Duration != 500*time.Millisecond {
		t.Errorf("ReleaseInterval = %v", cfg.Remote.ReleaseInterval)
	}
	args, err := cfg.LocalExtraArgs()
	if err != nil || len(args) != 2 || args[1] != "--window-size=1280,800" {
		t.Errorf("LocalExtraArgs = %q, %v", args, err)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	_, err := InvalidConfig()
	if err == nil {
		t.Fatal("invalid config should fail to load")
	}
	if !strings.Contains(err.Error(), "invalid_config.toml") {
		t.Errorf("error should name the fixture: %v", err)
	}
}

func TestSnapshotSlots(t *testing.T) {
	slots, err := SnapshotSlots()
	if err != nil {
		t.Fatalf("SnapshotSlots error: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("len = %d, want 4", len(slots))
	}
	if slots[0].AgentID != "agent-a" || slots[0].ExpiresAt.Sub(slots[0].AllocatedAt) != 5*time.Minute {
		t.Errorf("slot 0 = %+v", slots[0])
	}
	if slots[2].TunnelID != 5120 || slots[2].Mode != instance.ModeGUI {
		t.Errorf("slot 2 = %+v", slots[2])
	}
	for _, s := range slots {
		if !s.Status.Valid() {
			t.Errorf("slot %s has invalid status %q", s.InstanceID, s.Status)
		}
	}
}

func TestLoadFixture_NotFound(t *testing.T) {
	if _, err := LoadFixture("nonexistent.json"); err == nil {
		t.Error("expected error for nonexistent fixture")
	}
}

func TestNewTestEnv(t *testing.T) {
	env := NewTestEnv(t, 3)

	if env.Ports.Size() != 3 || env.Ports.From != 9222 {
		t.Errorf("Ports = %v", env.Ports)
	}
	if env.Store.Path() != env.Paths.DBPath {
		t.Errorf("store path = %q, want %q", env.Store.Path(), env.Paths.DBPath)
	}

	env.SeedSlot(instance.IdleSlot(9223))
	if got := env.Slot("chrome-9223"); got != instance.IdleSlot(9223) {
		t.Errorf("Slot = %+v", got)
	}

	start := env.Clock.Now()
	env.Clock.Advance(time.Minute)
	if env.Clock.Now().Sub(start) != time.Minute {
		t.Error("Advance did not move the clock")
	}
}
