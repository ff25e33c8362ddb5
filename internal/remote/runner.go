// Package remote abstracts where a target harness runs: directly on this
// machine (native mode) or inside a VM reached over SSH. The fuzzing loop
// only sees the Runner interface.
package remote

import (
	"context"
	"os"
)

// ExecResult is the outcome of one remote command.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Ok reports whether the command exited zero.
func (r ExecResult) Ok() bool { return r.ExitCode == 0 }

// Runner executes commands and moves files on one target machine. A
// non-nil error from Exec means the command could not be run or the
// session died; a failing command returns a nil error and a non-zero
// ExitCode.
type Runner interface {
	Exec(ctx context.Context, name string, args ...string) (ExecResult, error)
	WriteFile(path string, data []byte, mode os.FileMode) error
	ReadFile(path string) ([]byte, error)
	MkdirAll(path string) error
	RemoveAll(path string) error
	// Alive probes session liveness; the heartbeat monitor calls it
	// between runs.
	Alive(ctx context.Context) error
	Close() error
}

// Compile-time interface checks.
var (
	_ Runner = (*Local)(nil)
	_ Runner = (*SSH)(nil)
)
