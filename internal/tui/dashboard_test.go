package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/testutil"
)

var snapshotTime = time.Date(2026, 3, 1, 10, 3, 0, 0, time.UTC)

func loadSlots(t *testing.T) []instance.Slot {
	t.Helper()
	slots, err := testutil.SnapshotSlots()
	if err != nil {
		t.Fatalf("SnapshotSlots error: %v", err)
	}
	return slots
}

func TestSlotRows(t *testing.T) {
	rows := slotRows(loadSlots(t), snapshotTime)
	if len(rows) != 4 {
		t.Fatalf("len = %d, want 4", len(rows))
	}

	tests := []struct {
		row  int
		want []string
	}{
		{0, []string{"chrome-9222", "9222", "allocated", "headless", "agent-a", "2m", "1m ago"}},
		{1, []string{"chrome-9223", "9223", "idle", "-", "-", "-", "-"}},
		{2, []string{"chrome-9224", "9224", "allocated", "gui", "agent-b", "29m", "1m ago"}},
		{3, []string{"chrome-9225", "9225", "starting", "gui", "-", "-", "-"}},
	}
	for _, tt := range tests {
		got := rows[tt.row]
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("row %d = %q, want %q", tt.row, got, tt.want)
		}
	}
}

func TestExpiresIn(t *testing.T) {
	base := instance.Slot{Status: instance.StatusAllocated, ExpiresAt: snapshotTime}

	if got := expiresIn(base, snapshotTime.Add(time.Second)); got != "expired" {
		t.Errorf("past expiry = %q, want expired", got)
	}
	if got := expiresIn(base, snapshotTime); got != "expired" {
		t.Errorf("at expiry = %q, want expired", got)
	}
	if got := expiresIn(base, snapshotTime.Add(-90*time.Minute)); got != "1h 30m" {
		t.Errorf("90m before = %q", got)
	}
}

func TestHeartbeatAge(t *testing.T) {
	allocated := instance.Slot{Status: instance.StatusAllocated}
	if got := heartbeatAge(allocated, snapshotTime); got != "never" {
		t.Errorf("no heartbeat = %q, want never", got)
	}
	allocated.LastHeartbeat = snapshotTime.Add(-10 * time.Second)
	if got := heartbeatAge(allocated, snapshotTime); got != "10s ago" {
		t.Errorf("heartbeat = %q, want 10s ago", got)
	}
}

func TestSummary(t *testing.T) {
	if got := summary(nil); !strings.Contains(got, "waiting") {
		t.Errorf("summary(nil) = %q", got)
	}

	got := summary(loadSlots(t))
	for _, want := range []string{"2/4 allocated", "1 idle", "1 starting"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "crashed") {
		t.Errorf("summary = %q, should omit empty statuses", got)
	}
}

func TestDashboard_Snapshot(t *testing.T) {
	m := NewDashboard("http://127.0.0.1:8765", nil)

	if view := m.View(); !strings.Contains(view, "waiting for first snapshot") {
		t.Errorf("initial view should wait for data:\n%s", view)
	}

	updated, _ := m.Update(SnapshotMsg{Timestamp: snapshotTime, Instances: loadSlots(t)})
	m = updated.(Model)

	view := m.View()
	for _, want := range []string{"chrome-9222", "agent-b", "INSTANCE", "EXPIRES IN"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "[x] Release") {
		t.Error("release help shown without a releaser")
	}
}

func TestDashboard_Error(t *testing.T) {
	m := NewDashboard("local", nil)
	updated, _ := m.Update(ErrMsg{Err: errors.New("connection refused")})
	m = updated.(Model)

	if !strings.Contains(m.View(), "connection refused") {
		t.Error("view should show the error")
	}

	// A fresh snapshot clears the error.
	updated, _ = m.Update(SnapshotMsg{Timestamp: snapshotTime, Instances: loadSlots(t)})
	if strings.Contains(updated.(Model).View(), "connection refused") {
		t.Error("error should clear on next snapshot")
	}
}

func TestDashboard_Quit(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	} {
		t.Run(key.String(), func(t *testing.T) {
			m := NewDashboard("local", nil)
			updated, cmd := m.Update(key)
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("command should quit")
			}
			if updated.(Model).View() != "" {
				t.Error("view should be empty after quit")
			}
		})
	}
}

func TestDashboard_Release(t *testing.T) {
	var released []string
	release := func(ctx context.Context, id string) error {
		released = append(released, id)
		return nil
	}
	m := NewDashboard("local", release)
	updated, _ := m.Update(SnapshotMsg{Timestamp: snapshotTime, Instances: loadSlots(t)})
	m = updated.(Model)

	if !strings.Contains(m.View(), "[x] Release") {
		t.Error("release help missing")
	}

	// Cursor starts on chrome-9222, which is allocated.
	xKey := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}
	updated, cmd := m.Update(xKey)
	if cmd == nil {
		t.Fatal("expected release command")
	}
	msg := cmd()
	if len(released) != 1 || released[0] != "chrome-9222" {
		t.Fatalf("released = %v", released)
	}
	updated, _ = updated.Update(msg)
	if !strings.Contains(updated.(Model).View(), "released chrome-9222") {
		t.Error("view should confirm the release")
	}

	// Idle rows are skipped.
	m = updated.(Model)
	m.table.MoveDown(1)
	if _, cmd := m.Update(xKey); cmd != nil {
		t.Error("release on an idle row should do nothing")
	}
}

func TestDashboard_ReleaseError(t *testing.T) {
	m := NewDashboard("local", func(ctx context.Context, id string) error {
		return errors.New("instance chrome-9222 is not allocated to agent x")
	})
	updated, _ := m.Update(SnapshotMsg{Timestamp: snapshotTime, Instances: loadSlots(t)})

	_, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if cmd == nil {
		t.Fatal("expected release command")
	}
	if _, ok := cmd().(ErrMsg); !ok {
		t.Error("failed release should report ErrMsg")
	}
}
