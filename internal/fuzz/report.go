package fuzz

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/zeebo/blake3"

	"fsdiff/internal/buglog"
	"fsdiff/internal/dash"
	"fsdiff/internal/harness"
	"fsdiff/internal/trace"
	"fsdiff/internal/workload"
)

var (
	bugColor      = color.New(color.FgRed, color.Bold)
	accidentColor = color.New(color.FgYellow)
)

// Reporter archives confirmed divergences: one directory per bug with
// the workload, a standalone C reproducer, both traces, both state
// manifests and a human-readable reason file. Accidents (both sides
// failing) are archived under a separate subtree since they usually
// indict the workload model rather than a target.
type Reporter struct {
	// Dir is the report root.
	Dir      string
	FirstFS  string
	SecondFS string
	// Ledger deduplicates divergence signatures across restarts. Nil
	// disables deduplication.
	Ledger *buglog.DB
	Logger *slog.Logger
}

// Report archives one divergence. It returns the report directory, or ""
// when the signature was already in the ledger.
func (r *Reporter) Report(w workload.Workload, out *harness.Outcome) (string, error) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	v := out.Verdict
	sig := r.signature(w, v)

	if r.Ledger != nil {
		seen, err := r.Ledger.Seen(sig)
		if err != nil {
			return "", err
		}
		if seen {
			log.Debug("duplicate divergence", "signature", sig)
			return "", nil
		}
	}

	name := fmt.Sprintf("%s-%.12s", v.Kind, sig)
	dir := filepath.Join(r.Dir, name)
	if v.Accident {
		dir = filepath.Join(r.Dir, "accidents", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	if err := w.Save(filepath.Join(dir, workload.TestFileName)); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "repro.c"), []byte(w.EncodeC()), 0644); err != nil {
		return "", fmt.Errorf("save reproducer: %w", err)
	}
	if err := r.saveRun(dir, "first", out.First); err != nil {
		return "", err
	}
	if err := r.saveRun(dir, "second", out.Second); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "reason.md"), []byte(r.reason(w, out)), 0644); err != nil {
		return "", fmt.Errorf("save reason: %w", err)
	}

	if r.Ledger != nil {
		opIndex := -1
		if v.Kind == harness.ReturnMismatch {
			opIndex = v.Index
		}
		if _, err := r.Ledger.Record(buglog.Entry{
			ID:       sig,
			Kind:     v.Kind.String(),
			FirstFS:  r.FirstFS,
			SecondFS: r.SecondFS,
			OpIndex:  opIndex,
			Accident: v.Accident,
			Dir:      dir,
			Workload: w.Name(),
		}); err != nil {
			return "", err
		}
	}

	paint := bugColor
	if v.Accident {
		paint = accidentColor
	}
	paint.Fprintf(color.Output, "[%s] %s -> %s\n", v.Kind, v, dir)
	log.Info("divergence archived", "kind", v.Kind.String(), "dir", dir, "accident", v.Accident)
	return dir, nil
}

func (r *Reporter) saveRun(dir, label string, res *harness.RunResult) error {
	if res == nil {
		return nil
	}
	if err := res.Trace.Save(filepath.Join(dir, label+"-"+trace.FileName)); err != nil {
		return err
	}
	if res.State != nil {
		if err := res.State.Save(filepath.Join(dir, label+"-"+dash.FileName)); err != nil {
			return err
		}
	}
	return nil
}

// signature folds a divergence into a stable identity so the same bug,
// rediscovered through a different workload, is not archived twice. The
// class is what matters: for return mismatches the diverging operation
// kind plus both errnos, for state mismatches the set of diverging
// paths, for crashes the crashed target.
func (r *Reporter) signature(w workload.Workload, v harness.Verdict) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s|%s|%s|", v.Kind, r.FirstFS, r.SecondFS)
	switch v.Kind {
	case harness.ReturnMismatch:
		opKind := "?"
		if v.Index < len(w.Ops) {
			opKind = w.Ops[v.Index].Kind.String()
		}
		var a, b trace.Errno
		if v.Mismatch != nil {
			a, b = v.Mismatch.First.Errno, v.Mismatch.Second.Errno
		}
		fmt.Fprintf(h, "%s|%s|%s", opKind, a, b)
	case harness.StateMismatch:
		fmt.Fprint(h, strings.Join(v.StateDiff, "|"))
	case harness.Crash:
		fmt.Fprint(h, v.Target)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (r *Reporter) reason(w workload.Workload, out *harness.Outcome) string {
	v := out.Verdict
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", v)
	fmt.Fprintf(&b, "Pair: first=%s second=%s\n\n", r.FirstFS, r.SecondFS)
	fmt.Fprintf(&b, "Workload `%s`, %d operations.\n\n", w.Name(), len(w.Ops))

	switch v.Kind {
	case harness.ReturnMismatch:
		if v.Index < len(w.Ops) {
			fmt.Fprintf(&b, "Diverging operation %d: `%s`\n\n", v.Index, w.Ops[v.Index])
		}
		if m := v.Mismatch; m != nil {
			fmt.Fprintf(&b, "| target | return | errno | extra |\n|---|---|---|---|\n")
			fmt.Fprintf(&b, "| %s | %d | %s | %s |\n", r.FirstFS, m.First.Ret, m.First.Errno, m.First.Extra)
			fmt.Fprintf(&b, "| %s | %d | %s | %s |\n\n", r.SecondFS, m.Second.Ret, m.Second.Errno, m.Second.Extra)
			if m.Truncated {
				fmt.Fprint(&b, "One trace ended early.\n\n")
			}
		}
	case harness.StateMismatch:
		fmt.Fprint(&b, "All operations agreed; the final states differ:\n\n")
		for _, line := range v.StateDiff {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		fmt.Fprint(&b, "\n")
	case harness.Crash:
		fmt.Fprintf(&b, "Target %s terminated abnormally; the workload is preserved verbatim.\n\n", v.Target)
	}

	if v.Accident {
		fmt.Fprint(&b, "Both traces carry errors: this divergence may point at the workload model rather than a target.\n\n")
	}
	fmt.Fprint(&b, "Reproduce with `repro.c` against a mounted target, or replay `test.json` in duo-single mode.\n")
	return b.String()
}
