package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/firefly-engineering/browserpool/internal/instance"
)

var ports = []int{9222, 9223, 9224}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema error: %v", err)
	}
	if _, err := st.EnsureSlots(ctx, ports); err != nil {
		t.Fatalf("EnsureSlots error: %v", err)
	}
	return st
}

func allocated(port int, agent string, now time.Time, timeout time.Duration) instance.Slot {
	return instance.Slot{
		InstanceID:    instance.ID(port),
		Port:          port,
		Status:        instance.StatusAllocated,
		Mode:          instance.ModeHeadless,
		ProcessID:     4000 + port,
		AgentID:       agent,
		AllocatedAt:   now,
		ExpiresAt:     now.Add(timeout),
		LastHeartbeat: now,
	}
}

func TestEnsureSlots_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := st.Upsert(ctx, allocated(9223, "agent-a", now, time.Minute)); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	// Re-running init must neither duplicate nor reset existing rows.
	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema error: %v", err)
	}
	created, err := st.EnsureSlots(ctx, append(ports, 9225))
	if err != nil {
		t.Fatalf("EnsureSlots error: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}

	slots, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("len(List) = %d, want 4", len(slots))
	}
	if slots[1].Status != instance.StatusAllocated || slots[1].AgentID != "agent-a" {
		t.Errorf("existing allocation was reset: %+v", slots[1])
	}
}

func TestList_OrderedIdleSlots(t *testing.T) {
	st := openTestStore(t)

	slots, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(slots) != len(ports) {
		t.Fatalf("len(List) = %d, want %d", len(slots), len(ports))
	}
	for i, s := range slots {
		if s != instance.IdleSlot(ports[i]) {
			t.Errorf("slot %d = %+v, want %+v", i, s, instance.IdleSlot(ports[i]))
		}
	}
}

func TestUpsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	want := allocated(9224, "agent-b", now, 5*time.Minute)
	want.Mode = instance.ModeGUI
	want.TunnelID = 777

	if err := st.Upsert(ctx, want); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	got, err := st.Get(ctx, "chrome-9224")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}

	// Resetting to idle clears every lease field.
	if err := st.Upsert(ctx, instance.IdleSlot(9224)); err != nil {
		t.Fatalf("Upsert idle error: %v", err)
	}
	got, _ = st.Get(ctx, "chrome-9224")
	if got != instance.IdleSlot(9224) {
		t.Errorf("after reset Get = %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.Get(context.Background(), "chrome-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestFindIdle_LowestPort(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()

	got, err := st.FindIdle(ctx)
	if err != nil || got.Port != 9222 {
		t.Fatalf("FindIdle = %+v, %v, want port 9222", got, err)
	}

	st.Upsert(ctx, allocated(9222, "a", now, time.Minute))
	got, _ = st.FindIdle(ctx)
	if got.Port != 9223 {
		t.Errorf("FindIdle port = %d, want 9223", got.Port)
	}

	st.Upsert(ctx, allocated(9223, "b", now, time.Minute))
	st.Upsert(ctx, allocated(9224, "c", now, time.Minute))
	if _, err := st.FindIdle(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindIdle on full pool error = %v, want ErrNotFound", err)
	}
}

func TestFindAgentAllocation(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()

	if _, err := st.FindAgentAllocation(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindAgentAllocation error = %v, want ErrNotFound", err)
	}

	st.Upsert(ctx, allocated(9223, "a", now, time.Minute))
	got, err := st.FindAgentAllocation(ctx, "a")
	if err != nil || got.Port != 9223 {
		t.Errorf("FindAgentAllocation = %+v, %v", got, err)
	}

	// A slot mid-start is not an allocation.
	starting := instance.IdleSlot(9224)
	starting.Status = instance.StatusStarting
	starting.AgentID = "b"
	st.Upsert(ctx, starting)
	if _, err := st.FindAgentAllocation(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("starting slot should not count as allocation, err = %v", err)
	}
}

func TestFindExpired(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	st.Upsert(ctx, allocated(9222, "a", now, time.Second))
	st.Upsert(ctx, allocated(9223, "b", now, time.Hour))

	expired, err := st.FindExpired(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("FindExpired error: %v", err)
	}
	if len(expired) != 1 || expired[0].InstanceID != "chrome-9222" {
		t.Errorf("FindExpired = %+v, want only chrome-9222", expired)
	}

	// Strictly before now.
	expired, _ = st.FindExpired(ctx, now.Add(time.Second))
	if len(expired) != 0 {
		t.Errorf("FindExpired at exact expiry = %+v, want none", expired)
	}

	expired, _ = st.FindExpired(ctx, now.Add(2*time.Hour))
	if len(expired) != 2 {
		t.Errorf("FindExpired later = %d slots, want 2", len(expired))
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st.Upsert(ctx, allocated(9222, "a", now, 5*time.Minute))

	later := now.Add(30 * time.Second)
	ok, err := st.UpdateHeartbeat(ctx, "chrome-9222", "a", later)
	if err != nil || !ok {
		t.Fatalf("UpdateHeartbeat = %v, %v, want true", ok, err)
	}

	got, _ := st.Get(ctx, "chrome-9222")
	if !got.LastHeartbeat.Equal(later) {
		t.Errorf("LastHeartbeat = %v, want %v", got.LastHeartbeat, later)
	}
	if !got.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("heartbeat changed ExpiresAt to %v", got.ExpiresAt)
	}

	tests := []struct {
		name, id, agent string
	}{
		{"wrong agent", "chrome-9222", "b"},
		{"unknown instance", "chrome-1", "a"},
		{"idle instance", "chrome-9223", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := st.UpdateHeartbeat(ctx, tt.id, tt.agent, later)
			if err != nil || ok {
				t.Errorf("UpdateHeartbeat = %v, %v, want false, nil", ok, err)
			}
		})
	}
}

func TestRemoveOutside(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	st.EnsureSlots(ctx, []int{9000, 9300})

	removed, err := st.RemoveOutside(ctx, 9222, 9224)
	if err != nil {
		t.Fatalf("RemoveOutside error: %v", err)
	}
	if len(removed) != 2 || removed[0] != "chrome-9000" || removed[1] != "chrome-9300" {
		t.Errorf("removed = %v, want [chrome-9000 chrome-9300]", removed)
	}
	slots, _ := st.List(ctx)
	if len(slots) != 3 || slots[0].Port != 9222 || slots[2].Port != 9224 {
		t.Errorf("List after RemoveOutside = %+v", slots)
	}
}

func TestGet_UnknownStatus(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if _, err := st.db.ExecContext(ctx, `UPDATE instances SET status = 'stopped' WHERE port = 9223`); err != nil {
		t.Fatal(err)
	}

	if _, err := st.Get(ctx, "chrome-9223"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want unknown status error", err)
	}
	if _, err := st.List(ctx); err == nil {
		t.Error("List should fail on a row with an unknown status")
	}
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	st.Upsert(ctx, allocated(9222, "a", time.Now(), time.Minute))

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus error: %v", err)
	}
	if counts[instance.StatusIdle] != 2 || counts[instance.StatusAllocated] != 1 {
		t.Errorf("CountByStatus = %v", counts)
	}
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pool.db")

	st, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	st.InitSchema(ctx)
	st.EnsureSlots(ctx, ports)
	st.Upsert(ctx, allocated(9224, "a", time.Now(), time.Minute))
	st.Close()

	st2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()

	got, err := st2.Get(ctx, "chrome-9224")
	if err != nil || got.AgentID != "a" {
		t.Errorf("after reopen Get = %+v, %v", got, err)
	}
	if st2.Path() != path {
		t.Errorf("Path() = %q, want %q", st2.Path(), path)
	}
}
