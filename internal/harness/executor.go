package harness

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fsdiff/internal/dash"
	"fsdiff/internal/trace"
	"fsdiff/internal/workload"
)

// VerdictKind classifies the outcome of one differential run.
type VerdictKind int

const (
	// Agree: traces match row by row and the final state digests are
	// equal.
	Agree VerdictKind = iota + 1
	// ReturnMismatch: some operation succeeded on one target and failed,
	// or failed differently, on the other.
	ReturnMismatch
	// StateMismatch: every operation agreed but the final state digests
	// differ. The silent divergence class.
	StateMismatch
	// Crash: a target's harness died, hung past the timeout, or lost its
	// session.
	Crash
)

func (k VerdictKind) String() string {
	switch k {
	case Agree:
		return "agree"
	case ReturnMismatch:
		return "return-mismatch"
	case StateMismatch:
		return "state-mismatch"
	case Crash:
		return "crash"
	default:
		return "unknown"
	}
}

// Verdict is the oracle's judgement of one run.
type Verdict struct {
	Kind VerdictKind
	// Index is the first diverging operation for ReturnMismatch.
	Index int
	// Target names the crashed side for Crash.
	Target string
	// Mismatch carries both diverging trace rows for ReturnMismatch.
	Mismatch *trace.Mismatch
	// StateDiff lists diverging paths for StateMismatch.
	StateDiff []string
	// Accident marks divergences where both traces already carry errors;
	// those usually indict the workload model rather than a target.
	Accident bool
}

func (v Verdict) String() string {
	switch v.Kind {
	case ReturnMismatch:
		return fmt.Sprintf("%s at op %d", v.Kind, v.Index)
	case Crash:
		return fmt.Sprintf("%s of %s", v.Kind, v.Target)
	default:
		return v.Kind.String()
	}
}

// Outcome is a verdict plus everything both targets produced.
type Outcome struct {
	Verdict  Verdict
	First    *RunResult
	Second   *RunResult
	Duration time.Duration
}

// PCs returns the union of both targets' coverage for this run.
func (o *Outcome) PCs() []uint64 {
	var pcs []uint64
	if o.First != nil {
		pcs = append(pcs, o.First.PCs...)
	}
	if o.Second != nil {
		pcs = append(pcs, o.Second.PCs...)
	}
	return pcs
}

// Executor runs the identical workload on both targets and computes the
// verdict.
type Executor struct {
	First  *Target
	Second *Target
	// Timeout bounds one differential run; expiry counts as a crash of
	// whichever target had not finished.
	Timeout time.Duration
}

// Run dispatches w to both targets concurrently and joins on both
// completions before judging. The two sides are independent filesystems;
// nothing they do can race.
func (e *Executor) Run(ctx context.Context, w workload.Workload) (*Outcome, error) {
	start := time.Now()
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var (
		firstRes, secondRes *RunResult
		firstErr, secondErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		firstRes, firstErr = e.First.RunWorkload(gctx, w)
		return nil
	})
	g.Go(func() error {
		secondRes, secondErr = e.Second.RunWorkload(gctx, w)
		return nil
	})
	g.Wait()

	out := &Outcome{First: firstRes, Second: secondRes, Duration: time.Since(start)}
	if firstErr != nil {
		out.Verdict = Verdict{Kind: Crash, Target: e.First.String()}
		return out, firstErr
	}
	if secondErr != nil {
		out.Verdict = Verdict{Kind: Crash, Target: e.Second.String()}
		return out, secondErr
	}

	out.Verdict = judge(firstRes, secondRes)
	return out, nil
}

// judge compares two completed runs.
func judge(first, second *RunResult) Verdict {
	accident := first.Trace.HasErrors() && second.Trace.HasErrors()
	if m := trace.Diff(first.Trace, second.Trace); m != nil {
		return Verdict{Kind: ReturnMismatch, Index: m.Index, Mismatch: m, Accident: accident}
	}
	if first.State.Digest != second.State.Digest {
		return Verdict{
			Kind:      StateMismatch,
			StateDiff: diffStates(first, second),
			Accident:  accident,
		}
	}
	return Verdict{Kind: Agree}
}

func diffStates(first, second *RunResult) []string {
	if first.State == nil || second.State == nil {
		return nil
	}
	return dash.DiffStates(first.State, second.State)
}
