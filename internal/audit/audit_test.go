package audit

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLogger_LogAndEvents(t *testing.T) {
	logger := NewLogger(filepath.Join(t.TempDir(), "audit"))
	now := time.Now().Truncate(time.Millisecond)

	events := []Event{
		{Timestamp: now, Type: EventAllocate, Instance: "chrome-9222", Agent: "agent-a", Details: "mode=headless"},
		{Timestamp: now.Add(time.Second), Type: EventCrash, Instance: "chrome-9222", Agent: "agent-a"},
		{Timestamp: now.Add(2 * time.Second), Type: EventAllocate, Instance: "chrome-9222", Agent: "agent-b"},
		{Timestamp: now.Add(3 * time.Second), Type: EventRelease, Instance: "chrome-9222", Agent: "agent-b"},
	}
	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	result, err := logger.Events("chrome-9222")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(result) != len(events) {
		t.Fatalf("got %d events, want %d", len(result), len(events))
	}
	for i, e := range result {
		if e.Type != events[i].Type || e.Agent != events[i].Agent || e.Details != events[i].Details {
			t.Errorf("event %d = %+v, want %+v", i, e, events[i])
		}
		if !e.Timestamp.Equal(events[i].Timestamp) {
			t.Errorf("event %d timestamp = %v, want %v", i, e.Timestamp, events[i].Timestamp)
		}
	}
}

func TestLogger_EventsEmpty(t *testing.T) {
	logger := NewLogger(t.TempDir())

	result, err := logger.Events("chrome-9999")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("got %d events, want 0", len(result))
	}
}

func TestLogger_DefaultTimestamp(t *testing.T) {
	logger := NewLogger(t.TempDir())

	if err := logger.Log(Event{Type: EventExpire, Instance: "chrome-9230", Agent: "agent-x", Details: "lease ended"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.Events("chrome-9230")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Type != EventExpire || e.Instance != "chrome-9230" || e.Agent != "agent-x" {
		t.Errorf("event = %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be set automatically")
	}
}

func TestLogger_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)
	logger.Log(Event{Type: EventAllocate, Instance: "chrome-9222", Agent: "a"})

	f, err := os.OpenFile(filepath.Join(dir, "chrome-9222.events.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json\n\n")
	f.Close()
	logger.Log(Event{Type: EventRelease, Instance: "chrome-9222", Agent: "a"})

	events, err := logger.Events("chrome-9222")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestLogger_Remove(t *testing.T) {
	logger := NewLogger(t.TempDir())
	logger.Log(Event{Type: EventAllocate, Instance: "chrome-9222", Agent: "a"})

	if err := logger.Remove("chrome-9222"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	events, _ := logger.Events("chrome-9222")
	if len(events) != 0 {
		t.Errorf("got %d events after remove, want 0", len(events))
	}

	// Removing again is fine.
	if err := logger.Remove("chrome-9222"); err != nil {
		t.Errorf("Remove should not error for nonexistent: %v", err)
	}
}

func TestLogger_ConcurrentWriters(t *testing.T) {
	logger := NewLogger(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(Event{Type: EventAllocate, Instance: "chrome-9222", Agent: "agent"})
		}()
	}
	wg.Wait()

	events, err := logger.Events("chrome-9222")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 20 {
		t.Errorf("got %d events, want 20", len(events))
	}
}
