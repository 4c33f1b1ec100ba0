// Package metrics defines what the pool and reaper report, with a
// Prometheus implementation and a no-op default.
package metrics

import (
	"time"

	"github.com/firefly-engineering/browserpool/internal/instance"
)

// Allocation outcomes.
const (
	OutcomeAllocated    = "allocated"
	OutcomeReused       = "reused"
	OutcomeExhausted    = "exhausted"
	OutcomeLaunchFailed = "launch_failed"
)

// Collector receives pool and reaper measurements.
type Collector interface {
	// AllocationAttempt records one allocate call by mode and outcome.
	AllocationAttempt(mode instance.Mode, outcome string)

	// LaunchDuration records how long a launcher Start took.
	LaunchDuration(mode instance.Mode, d time.Duration, ok bool)

	// Released records a slot returning to idle, by reason.
	Released(reason string)

	// SlotsByStatus replaces the slot count for every status.
	SlotsByStatus(counts map[instance.Status]int)

	// Heartbeat records a heartbeat and whether it was accepted.
	Heartbeat(ok bool)

	// SweepCompleted records one reaper cycle.
	SweepCompleted(expired, crashed, errors int, d time.Duration)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) AllocationAttempt(instance.Mode, string)           {}
func (Noop) LaunchDuration(instance.Mode, time.Duration, bool) {}
func (Noop) Released(string)                                   {}
func (Noop) SlotsByStatus(map[instance.Status]int)             {}
func (Noop) Heartbeat(bool)                                    {}
func (Noop) SweepCompleted(int, int, int, time.Duration)       {}

var _ Collector = Noop{}
