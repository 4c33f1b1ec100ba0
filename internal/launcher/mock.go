package launcher

import (
	"context"
	"sync"
	"time"

	"github.com/firefly-engineering/browserpool/internal/instance"
)

// MockLauncher is a Launcher for testing. Started browsers stay running
// until stopped or marked dead with SetRunning.
type MockLauncher struct {
	mu sync.Mutex

	// NextPID is the process id given to the next started browser.
	NextPID int

	// StartErr fails every Start.
	StartErr error

	// StartDelay makes Start block, to widen race windows in tests.
	StartDelay time.Duration

	// IsRunningErr fails every IsRunning probe.
	IsRunningErr error

	// WithTunnel hands out tunnel ids as well as process ids.
	WithTunnel bool

	// CallLog records all method calls for verification
	CallLog []MockCall

	running  map[int]bool
	orphaned [][]int
}

// MockCall represents a recorded method call
type MockCall struct {
	Method string
	Port   int
	Handle instance.Handle
}

// NewMockLauncher creates a MockLauncher handing out pids from 5000.
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{
		NextPID: 5000,
		running: make(map[int]bool),
	}
}

func (m *MockLauncher) Start(ctx context.Context, port int, url string) (Result, error) {
	m.mu.Lock()
	delay := m.StartDelay
	m.CallLog = append(m.CallLog, MockCall{Method: "Start", Port: port})
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return Result{}, m.StartErr
	}

	res := Result{ProcessID: m.NextPID}
	m.NextPID++
	if m.WithTunnel {
		res.TunnelID = m.NextPID
		m.NextPID++
	}
	m.running[port] = true
	return res, nil
}

func (m *MockLauncher) Stop(ctx context.Context, h instance.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, MockCall{Method: "Stop", Port: h.Port, Handle: h})
	delete(m.running, h.Port)
}

func (m *MockLauncher) IsRunning(ctx context.Context, h instance.Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, MockCall{Method: "IsRunning", Port: h.Port, Handle: h})
	if m.IsRunningErr != nil {
		return false, m.IsRunningErr
	}
	return m.running[h.Port], nil
}

func (m *MockLauncher) CleanupOrphans(ctx context.Context, ports []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphaned = append(m.orphaned, append([]int(nil), ports...))
}

// SetRunning marks the browser on port as alive or dead.
func (m *MockLauncher) SetRunning(port int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running {
		m.running[port] = true
	} else {
		delete(m.running, port)
	}
}

// Running reports whether the browser on port is considered alive.
func (m *MockLauncher) Running(port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[port]
}

// Calls returns how many times method was called for port.
func (m *MockLauncher) Calls(method string, port int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if c.Method == method && c.Port == port {
			n++
		}
	}
	return n
}

// TotalCalls returns how many times method was called for any port.
func (m *MockLauncher) TotalCalls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if c.Method == method {
			n++
		}
	}
	return n
}

// OrphanCleanups returns the port lists CleanupOrphans was called with.
func (m *MockLauncher) OrphanCleanups() [][]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]int(nil), m.orphaned...)
}
