package instance

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestID(t *testing.T) {
	if got := ID(9222); got != "chrome-9222" {
		t.Errorf("ID(9222) = %q, want %q", got, "chrome-9222")
	}
}

func TestPortFromID(t *testing.T) {
	tests := []struct {
		id     string
		want   int
		wantOK bool
	}{
		{"chrome-9222", 9222, true},
		{"chrome-1", 1, true},
		{"chrome-", 0, false},
		{"chrome-abc", 0, false},
		{"chrome--5", 0, false},
		{"firefox-9222", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := PortFromID(tt.id)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("PortFromID(%q) = (%d, %v), want (%d, %v)", tt.id, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"headless", ModeHeadless, false},
		{"GUI", ModeGUI, false},
		{" gui ", ModeGUI, false},
		{"", "", true},
		{"remote", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusStarting, StatusAllocated, StatusCrashed} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("stopped").Valid() {
		t.Error("stopped should not be valid")
	}
}

func TestIdleSlot(t *testing.T) {
	s := IdleSlot(9230)
	if s.InstanceID != "chrome-9230" || s.Port != 9230 || s.Status != StatusIdle {
		t.Errorf("IdleSlot = %+v", s)
	}
	if s.AgentID != "" || !s.ExpiresAt.IsZero() || s.ProcessID != 0 || s.Mode != "" {
		t.Errorf("IdleSlot should have cleared lease fields: %+v", s)
	}
}

func TestSlotExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	allocated := Slot{Status: StatusAllocated, ExpiresAt: now.Add(-time.Second)}
	if !allocated.Expired(now) {
		t.Error("slot past expiry should be expired")
	}

	fresh := Slot{Status: StatusAllocated, ExpiresAt: now.Add(time.Minute)}
	if fresh.Expired(now) {
		t.Error("slot before expiry should not be expired")
	}

	exact := Slot{Status: StatusAllocated, ExpiresAt: now}
	if exact.Expired(now) {
		t.Error("expiry is strict: expires_at == now is not expired")
	}

	idle := Slot{Status: StatusIdle, ExpiresAt: now.Add(-time.Hour)}
	if idle.Expired(now) {
		t.Error("idle slot should never be expired")
	}
}

func TestSlotLeaseAndHandle(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	s := Slot{
		InstanceID: "chrome-9223",
		Port:       9223,
		Status:     StatusAllocated,
		Mode:       ModeGUI,
		ProcessID:  0,
		TunnelID:   4242,
		AgentID:    "agent-a",
		ExpiresAt:  exp,
	}

	lease := s.Lease()
	if lease.InstanceID != "chrome-9223" || lease.DebugPort != 9223 || lease.AgentID != "agent-a" || !lease.ExpiresAt.Equal(exp) {
		t.Errorf("Lease() = %+v", lease)
	}

	h := s.Handle()
	if h.Mode != ModeGUI || h.TunnelID != 4242 {
		t.Errorf("Handle() = %+v", h)
	}
	if !h.Live() {
		t.Error("handle with tunnel id should be live")
	}
	if (Handle{Port: 1}).Live() {
		t.Error("empty handle should not be live")
	}
}

func TestSlotJSONOmitsClearedFields(t *testing.T) {
	data, err := json.Marshal(IdleSlot(9222))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	out := string(data)
	for _, field := range []string{"agent_id", "expires_at", "allocated_at", "pid"} {
		if strings.Contains(out, field) {
			t.Errorf("idle slot JSON should omit %s: %s", field, out)
		}
	}
	if !strings.Contains(out, `"status":"idle"`) {
		t.Errorf("JSON missing status: %s", out)
	}
}
