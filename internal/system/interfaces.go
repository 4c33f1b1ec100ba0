// Package system provides abstractions for OS operations to enable testing.
package system

import (
	"context"
	"io/fs"
	"os"
)

// FileSystem abstracts the file operations the launchers need.
type FileSystem interface {
	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(path string, data []byte, perm fs.FileMode) error

	// MkdirAll creates a directory named path, along with any necessary parents.
	MkdirAll(path string, perm fs.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(path string) error

	// Exists returns true if the path exists.
	Exists(path string) bool
}

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Execute runs a command to completion and returns its combined output.
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Spawner starts processes that keep running after the call returns.
type Spawner interface {
	Spawn(name string, args ...string) (*Process, error)
}

// ProcessTable inspects and signals processes on this host.
type ProcessTable interface {
	// Alive reports whether pid exists and is not a zombie.
	Alive(ctx context.Context, pid int) (bool, error)

	// Cmdline returns the command line of pid.
	Cmdline(ctx context.Context, pid int) (string, error)

	// KillTree kills pid and all of its descendants. A pid that is
	// already gone is not an error.
	KillTree(ctx context.Context, pid int) error

	// Find returns the pids whose command line satisfies match.
	Find(ctx context.Context, match func(cmdline string) bool) ([]int, error)
}

// Default instances using real OS operations.
var (
	defaultFS       FileSystem      = &osFileSystem{}
	defaultExecutor CommandExecutor = &osExecutor{}
	defaultSpawner  Spawner         = &osSpawner{}
	defaultProcs    ProcessTable    = &gopsutilTable{}
)

// DefaultFS returns the default FileSystem implementation using real OS operations.
func DefaultFS() FileSystem {
	return defaultFS
}

// DefaultExecutor returns the default CommandExecutor implementation.
func DefaultExecutor() CommandExecutor {
	return defaultExecutor
}

// DefaultSpawner returns the default Spawner implementation.
func DefaultSpawner() Spawner {
	return defaultSpawner
}

// DefaultProcessTable returns the host process table.
func DefaultProcessTable() ProcessTable {
	return defaultProcs
}

// osFileSystem implements FileSystem using real OS operations.
type osFileSystem struct{}

func (f *osFileSystem) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (f *osFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (f *osFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (f *osFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
