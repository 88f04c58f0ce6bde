package domain

import (
	"context"
	"io"
)

// Flavor is the sandbox variant. JUnitCapable sandboxes are seeded with the test
// support libraries; a sandbox of one flavor never serves the other.
type Flavor int

const (
	Plain Flavor = iota
	JUnitCapable
)

func (f Flavor) String() string {
	if f == JUnitCapable {
		return "junit"
	}
	return "plain"
}

// FlavorFor returns the sandbox flavor a request mode needs.
func FlavorFor(m Mode) Flavor {
	if m == JUnitRun {
		return JUnitCapable
	}
	return Plain
}

// ExecState is the inspected state of a command started inside a sandbox.
type ExecState struct {
	Running  bool
	ExitCode int
}

// Runtime defines the contract of the isolation runtime.
// Every call may cross the process boundary; none is atomic with respect to another.
type Runtime interface {
	// Create provisions a new instance and returns its runtime ID.
	Create(ctx context.Context, name string) (string, error)

	// Start boots a created instance.
	Start(ctx context.Context, runtimeID string) error

	// PutFiles writes files into dir (relative to the sandbox work dir).
	PutFiles(ctx context.Context, runtimeID, dir string, files []File) error

	// Exec registers a command with stdout and stderr attached and returns its exec ID.
	Exec(ctx context.Context, runtimeID string, cmd []string) (string, error)

	// ExecStart starts a registered command and returns its multiplexed output stream.
	ExecStart(ctx context.Context, execID string) (io.ReadCloser, error)

	// ExecInspect reports whether a started command is still running.
	ExecInspect(ctx context.Context, execID string) (ExecState, error)

	// Kill stops an instance.
	Kill(ctx context.Context, runtimeID string) error

	// Remove deletes an instance and its filesystem.
	Remove(ctx context.Context, runtimeID string) error
}
