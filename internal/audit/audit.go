// Package audit records slot lifecycle events for later inspection.
// Events are stored as JSON Lines (JSONL) files, one per instance.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType classifies a lifecycle event.
type EventType string

const (
	EventAllocate     EventType = "allocate"
	EventLaunchFailed EventType = "launch-failed"
	EventRelease      EventType = "release"
	EventExpire       EventType = "expire"
	EventCrash        EventType = "crash"
	EventShutdown     EventType = "shutdown"
	EventReconcile    EventType = "reconcile"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Instance  string    `json:"instance"`
	Agent     string    `json:"agent,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Logger writes and reads audit events for instances.
// Events are stored in {dir}/{instance}.events.jsonl.
type Logger struct {
	mu  sync.Mutex
	dir string
}

// NewLogger creates a new audit logger rooted at dir.
func NewLogger(dir string) *Logger {
	return &Logger{dir: dir}
}

func (l *Logger) eventPath(instanceID string) string {
	return filepath.Join(l.dir, instanceID+".events.jsonl")
}

// Log appends an event to the instance's audit log.
func (l *Logger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(l.eventPath(event.Instance), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Events reads all events for an instance in the order they were written.
func (l *Logger) Events(instanceID string) ([]Event, error) {
	f, err := os.Open(l.eventPath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading audit log: %w", err)
	}
	return events, nil
}

// Remove deletes the audit log for an instance.
func (l *Logger) Remove(instanceID string) error {
	if err := os.Remove(l.eventPath(instanceID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
