package system

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
)

// MockFS implements FileSystem in memory for testing.
type MockFS struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool

	// Error injection
	WriteFileErr error
	MkdirAllErr  error
}

// NewMockFS creates a new MockFS with an empty filesystem.
func NewMockFS() *MockFS {
	return &MockFS{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// GetFile returns the contents of a file in the mock filesystem.
func (m *MockFS) GetFile(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	return data, ok
}

func (m *MockFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	if m.WriteFileErr != nil {
		return m.WriteFileErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
	return nil
}

func (m *MockFS) MkdirAll(path string, perm fs.FileMode) error {
	if m.MkdirAllErr != nil {
		return m.MkdirAllErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	return nil
}

func (m *MockFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		delete(m.files, path)
		return nil
	}
	if m.dirs[path] {
		delete(m.dirs, path)
		return nil
	}
	return fs.ErrNotExist
}

func (m *MockFS) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok || m.dirs[path]
}

// MockExecutor implements CommandExecutor for testing.
type MockExecutor struct {
	mu sync.Mutex

	// Commands records all executed commands for verification.
	Commands []MockCommand

	// Handler, when set, decides every response. It runs without the
	// executor lock held.
	Handler func(cmd MockCommand) MockResponse

	// Responses maps command patterns to responses.
	// Key format: "command arg1"
	Responses map[string]MockResponse

	// DefaultResponse is used when no matching response is found.
	DefaultResponse MockResponse
}

// MockCommand records an executed command.
type MockCommand struct {
	Name string
	Args []string
}

// String renders the command as a single space separated line.
func (c MockCommand) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// MockResponse defines the response for a command.
type MockResponse struct {
	Output []byte
	Err    error
}

// NewMockExecutor creates a new MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		Responses: make(map[string]MockResponse),
	}
}

// AddResponse adds a response for a specific command pattern.
func (m *MockExecutor) AddResponse(pattern string, output []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[pattern] = MockResponse{Output: output, Err: err}
}

func (m *MockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := MockCommand{Name: name, Args: append([]string(nil), args...)}

	m.mu.Lock()
	m.Commands = append(m.Commands, cmd)
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		resp := handler(cmd)
		return resp.Output, resp.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := name
	if len(args) > 0 {
		key = name + " " + args[0]
	}
	if resp, ok := m.Responses[key]; ok {
		return resp.Output, resp.Err
	}
	if resp, ok := m.Responses[name]; ok {
		return resp.Output, resp.Err
	}
	return m.DefaultResponse.Output, m.DefaultResponse.Err
}

// Matching returns the recorded commands whose rendered line contains substr.
func (m *MockExecutor) Matching(substr string) []MockCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCommand
	for _, c := range m.Commands {
		if strings.Contains(c.String(), substr) {
			out = append(out, c)
		}
	}
	return out
}

// LastCommand returns the most recently executed command.
func (m *MockExecutor) LastCommand() (MockCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Commands) == 0 {
		return MockCommand{}, false
	}
	return m.Commands[len(m.Commands)-1], true
}

// Reset clears all recorded commands.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = nil
}

// MockSpawner implements Spawner for testing. Spawned processes stay
// running until Exit is called, unless ExitImmediately is set.
type MockSpawner struct {
	mu sync.Mutex

	Spawned []MockCommand

	// NextPID is the pid handed to the next spawned process.
	NextPID int

	// Err fails every Spawn call.
	Err error

	// ExitImmediately makes spawned processes exit with ExitErr at once.
	ExitImmediately bool
	ExitErr         error

	// OnSpawn runs after each successful Spawn, outside the lock.
	OnSpawn func(cmd MockCommand, pid int)

	exits map[int]func(error)
}

// NewMockSpawner creates a MockSpawner whose pids start at 1000.
func NewMockSpawner() *MockSpawner {
	return &MockSpawner{NextPID: 1000, exits: make(map[int]func(error))}
}

func (m *MockSpawner) Spawn(name string, args ...string) (*Process, error) {
	cmd := MockCommand{Name: name, Args: append([]string(nil), args...)}

	m.mu.Lock()
	m.Spawned = append(m.Spawned, cmd)
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return nil, err
	}

	pid := m.NextPID
	m.NextPID++
	proc, exited := NewProcess(pid)
	hook := m.OnSpawn
	if m.ExitImmediately {
		exited(m.ExitErr)
	} else {
		m.exits[pid] = exited
	}
	m.mu.Unlock()

	if hook != nil {
		hook(cmd, pid)
	}
	return proc, nil
}

// Exit ends a running mock process.
func (m *MockSpawner) Exit(pid int, err error) {
	m.mu.Lock()
	exited, ok := m.exits[pid]
	delete(m.exits, pid)
	m.mu.Unlock()
	if ok {
		exited(err)
	}
}

// MockProcessTable implements ProcessTable for testing.
type MockProcessTable struct {
	mu sync.Mutex

	procs  map[int]string
	Killed []int

	AliveErr error
	KillErr  error
}

// NewMockProcessTable creates an empty process table.
func NewMockProcessTable() *MockProcessTable {
	return &MockProcessTable{procs: make(map[int]string)}
}

// Add registers a live process with the given command line.
func (m *MockProcessTable) Add(pid int, cmdline string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[pid] = cmdline
}

// Exit removes a process from the table.
func (m *MockProcessTable) Exit(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, pid)
}

// WasKilled reports whether KillTree was called for pid.
func (m *MockProcessTable) WasKilled(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.Killed {
		if k == pid {
			return true
		}
	}
	return false
}

func (m *MockProcessTable) Alive(ctx context.Context, pid int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AliveErr != nil {
		return false, m.AliveErr
	}
	_, ok := m.procs[pid]
	return ok, nil
}

func (m *MockProcessTable) Cmdline(ctx context.Context, pid int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmdline, ok := m.procs[pid]
	if !ok {
		return "", fmt.Errorf("process %d not found", pid)
	}
	return cmdline, nil
}

func (m *MockProcessTable) KillTree(ctx context.Context, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Killed = append(m.Killed, pid)
	if m.KillErr != nil {
		return m.KillErr
	}
	delete(m.procs, pid)
	return nil
}

func (m *MockProcessTable) Find(ctx context.Context, match func(cmdline string) bool) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pids []int
	for pid, cmdline := range m.procs {
		if match(cmdline) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
