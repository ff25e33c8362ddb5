// Package harness dispatches workloads to the two targets under test and
// folds their traces and state digests into a verdict.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"fsdiff/internal/cover"
	"fsdiff/internal/dash"
	"fsdiff/internal/mount"
	"fsdiff/internal/remote"
	"fsdiff/internal/trace"
	"fsdiff/internal/workload"
)

// Target is one side of the differential pair: a filesystem, the machine
// it runs on, and where its artifacts live there.
type Target struct {
	// Label distinguishes the pair in reports, "first" or "second".
	Label string
	FS    mount.Filesystem
	Run   remote.Runner
	// Device is the block device backing the filesystem.
	Device string
	// MountPoint is where Setup mounts the filesystem.
	MountPoint string
	// WorkDir holds test.json and the run artifacts on the target.
	WorkDir string
	// AgentBin is the path of this binary on the target machine.
	AgentBin string
	// KCov enables kernel coverage collection for this target.
	KCov bool
	// HashOpts selects the metadata the state digest covers.
	HashOpts dash.Options
	// KeepMount leaves the filesystem mounted after the run, for manual
	// inspection in single-run modes.
	KeepMount bool
}

func (t *Target) String() string {
	return fmt.Sprintf("%s(%s)", t.Label, t.FS.Name())
}

// RunResult is everything one target produced for one workload.
type RunResult struct {
	Trace    trace.Trace
	State    *dash.State
	PCs      []uint64
	Duration time.Duration
}

// RunWorkload executes w on this target: fresh filesystem, agent
// invocation, artifact collection. An error means the target itself
// failed (crash, hang, lost session), not that an operation returned an
// errno.
func (t *Target) RunWorkload(ctx context.Context, w workload.Workload) (*RunResult, error) {
	start := time.Now()
	if err := t.FS.Setup(ctx, t.Run, t.Device, t.MountPoint); err != nil {
		return nil, fmt.Errorf("target %s: %w", t, err)
	}
	if !t.KeepMount {
		defer t.FS.Teardown(context.WithoutCancel(ctx), t.Run, t.MountPoint)
	}

	if err := t.Run.MkdirAll(t.WorkDir); err != nil {
		return nil, fmt.Errorf("target %s: %w", t, err)
	}
	data, err := encodeWorkload(w)
	if err != nil {
		return nil, err
	}
	wlPath := path.Join(t.WorkDir, workload.TestFileName)
	if err := t.Run.WriteFile(wlPath, data, 0644); err != nil {
		return nil, fmt.Errorf("target %s: %w", t, err)
	}

	args := []string{
		"agent",
		"--root", t.MountPoint,
		"--workload", wlPath,
		"--out", t.WorkDir,
	}
	args = append(args, hashFlags(t.HashOpts)...)
	if t.KCov {
		args = append(args, "--kcov")
	}
	res, err := t.Run.Exec(ctx, t.AgentBin, args...)
	if err != nil {
		return nil, fmt.Errorf("target %s: agent: %w", t, err)
	}
	if !res.Ok() {
		return nil, fmt.Errorf("target %s: agent exited %d: %s", t, res.ExitCode, res.Stderr)
	}

	out := &RunResult{Duration: time.Since(start)}
	traceData, err := t.Run.ReadFile(path.Join(t.WorkDir, trace.FileName))
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t, err)
	}
	out.Trace, err = trace.Parse(bytesReader(traceData))
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t, err)
	}
	stateData, err := t.Run.ReadFile(path.Join(t.WorkDir, dash.FileName))
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t, err)
	}
	out.State, err = decodeState(stateData)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t, err)
	}
	if t.KCov {
		coverData, err := t.Run.ReadFile(path.Join(t.WorkDir, cover.FileName))
		if err == nil {
			out.PCs, err = cover.Parse(coverData)
			if err != nil {
				return nil, fmt.Errorf("target %s: %w", t, err)
			}
		}
	}
	return out, nil
}

func encodeWorkload(w workload.Workload) ([]byte, error) {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal workload: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*dash.State, error) {
	var s dash.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &s, nil
}

func bytesReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}

func hashFlags(opts dash.Options) []string {
	var flags []string
	if opts.Size {
		flags = append(flags, "--hash-size")
	}
	if opts.Mode {
		flags = append(flags, "--hash-mode")
	}
	if opts.Nlink {
		flags = append(flags, "--hash-nlink")
	}
	if opts.Owner {
		flags = append(flags, "--hash-owner")
	}
	return flags
}
