package fuzz

import (
	"context"
	"log/slog"

	"fsdiff/internal/harness"
	"fsdiff/internal/mutate"
	"fsdiff/internal/workload"
)

// Runner re-executes candidate workloads differentially. Satisfied by
// *harness.Executor.
type Runner interface {
	Run(ctx context.Context, w workload.Workload) (*harness.Outcome, error)
}

// Reducer shrinks a diverging workload with delta debugging: remove
// progressively smaller chunks, repair the remainder, keep a candidate
// iff the same divergence class still reproduces.
type Reducer struct {
	Exec    Runner
	Mutator *mutate.Mutator
	Logger  *slog.Logger
}

// Reduce returns the smallest reproducing workload the search found,
// starting from w whose run produced verdict. The result is always
// namespace-valid and reproduces the same divergence class; if nothing
// smaller reproduces, w itself is returned.
func (r *Reducer) Reduce(ctx context.Context, w workload.Workload, verdict harness.Verdict) (workload.Workload, error) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	cur := w
	chunk := len(cur.Ops) / 2
	if chunk < 1 {
		chunk = 1
	}
	for chunk >= 1 {
		reducedThisSize := false
		start := 0
		for start+chunk <= len(cur.Ops) {
			if err := ctx.Err(); err != nil {
				return cur, err
			}
			cand, ok := r.Mutator.RemoveRange(cur, start, start+chunk)
			if !ok || cand.Len() >= cur.Len() {
				start += chunk
				continue
			}
			out, err := r.Exec.Run(ctx, cand)
			if out == nil {
				return cur, err
			}
			if !sameClass(verdict, out.Verdict, cur, cand) {
				start += chunk
				continue
			}
			log.Debug("reduction step", "from", cur.Len(), "to", cand.Len(), "chunk", chunk)
			// The candidate becomes the new baseline; its verdict
			// carries the re-numbered diverging index.
			cur = cand
			verdict = out.Verdict
			reducedThisSize = true
			start = 0
		}
		if chunk == 1 {
			if !reducedThisSize {
				break
			}
			continue
		}
		chunk /= 2
	}
	log.Info("reduction finished", "original", w.Len(), "reduced", cur.Len())
	return cur, nil
}

// sameClass reports whether a candidate's verdict reproduces the
// original divergence. Classes compare by kind; return mismatches also
// require the same diverging operation kind and errno pair, not the same
// raw index, since reduction shifts indices.
func sameClass(orig, cand harness.Verdict, origW, candW workload.Workload) bool {
	if orig.Kind != cand.Kind {
		return false
	}
	switch orig.Kind {
	case harness.ReturnMismatch:
		return opKindAt(origW, orig.Index) == opKindAt(candW, cand.Index) &&
			errnoPair(orig) == errnoPair(cand)
	case harness.Crash:
		return orig.Target == cand.Target
	default:
		return true
	}
}

func opKindAt(w workload.Workload, i int) workload.Kind {
	if i < 0 || i >= len(w.Ops) {
		return 0
	}
	return w.Ops[i].Kind
}

func errnoPair(v harness.Verdict) [2]int {
	if v.Mismatch == nil {
		return [2]int{}
	}
	return [2]int{v.Mismatch.First.Errno.Code, v.Mismatch.Second.Errno.Code}
}
