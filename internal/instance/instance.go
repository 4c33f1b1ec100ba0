// Package instance defines pool slots, the leases bound to them and the
// runtime handles that track their processes.
package instance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a slot.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusAllocated Status = "allocated"
	StatusCrashed   Status = "crashed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusIdle, StatusStarting, StatusAllocated, StatusCrashed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusStarting, StatusAllocated, StatusCrashed:
		return true
	}
	return false
}

// Mode selects how the browser behind a slot is launched.
type Mode string

const (
	// ModeHeadless runs a local headless browser process.
	ModeHeadless Mode = "headless"
	// ModeGUI runs a browser on the remote GUI host, reached through an ssh tunnel.
	ModeGUI Mode = "gui"
)

// ParseMode converts a user supplied mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHeadless:
		return ModeHeadless, nil
	case ModeGUI:
		return ModeGUI, nil
	}
	return "", fmt.Errorf("unknown mode %q (must be %s or %s)", s, ModeHeadless, ModeGUI)
}

// IDPrefix prefixes every instance id.
const IDPrefix = "chrome-"

// ID derives the instance id for a port.
func ID(port int) string {
	return IDPrefix + strconv.Itoa(port)
}

// PortFromID is the inverse of ID.
func PortFromID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, IDPrefix)
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(rest)
	if err != nil || port <= 0 {
		return 0, false
	}
	return port, true
}

// Slot is the persisted state of one pool position.
type Slot struct {
	InstanceID    string    `json:"instance_id"`
	Port          int       `json:"port"`
	Status        Status    `json:"status"`
	Mode          Mode      `json:"mode,omitempty"`
	ProcessID     int       `json:"pid,omitempty"`
	TunnelID      int       `json:"tunnel_pid,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	AllocatedAt   time.Time `json:"allocated_at,omitzero"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero"`
}

// IdleSlot returns the reset state for port: every lease and runtime
// field cleared.
func IdleSlot(port int) Slot {
	return Slot{
		InstanceID: ID(port),
		Port:       port,
		Status:     StatusIdle,
	}
}

// Expired reports whether an allocated slot's lease has passed.
func (s Slot) Expired(now time.Time) bool {
	return s.Status == StatusAllocated && !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// Lease projects the allocation record of the slot.
func (s Slot) Lease() Lease {
	return Lease{
		InstanceID: s.InstanceID,
		Port:       s.Port,
		DebugPort:  s.Port,
		AgentID:    s.AgentID,
		Mode:       s.Mode,
		ExpiresAt:  s.ExpiresAt,
	}
}

// Handle returns the runtime identifiers recorded on the slot.
func (s Slot) Handle() Handle {
	return Handle{
		InstanceID: s.InstanceID,
		Port:       s.Port,
		Mode:       s.Mode,
		ProcessID:  s.ProcessID,
		TunnelID:   s.TunnelID,
	}
}

// Lease binds a slot to an agent until ExpiresAt.
type Lease struct {
	InstanceID string    `json:"instance_id"`
	Port       int       `json:"port"`
	DebugPort  int       `json:"debug_port"`
	AgentID    string    `json:"agent_id"`
	Mode       Mode      `json:"mode"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Handle holds the live process identifiers of a running slot.
type Handle struct {
	InstanceID string
	Port       int
	Mode       Mode
	ProcessID  int
	TunnelID   int
}

// Live reports whether the handle carries an identifier that can be probed.
func (h Handle) Live() bool {
	return h.ProcessID > 0 || h.TunnelID > 0
}
