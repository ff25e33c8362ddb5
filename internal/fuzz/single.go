package fuzz

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fatih/color"

	"fsdiff/internal/dash"
	"fsdiff/internal/harness"
	"fsdiff/internal/trace"
	"fsdiff/internal/workload"
)

// SoloSingle executes one saved workload on a single target and writes
// the trace and state manifest to outDir. With target.KeepMount set the
// filesystem stays mounted afterwards for manual inspection.
func SoloSingle(ctx context.Context, target *harness.Target, w workload.Workload, outDir string) (*harness.RunResult, error) {
	res, err := target.RunWorkload(ctx, w)
	if err != nil {
		return nil, err
	}
	if err := res.Trace.Save(filepath.Join(outDir, trace.FileName)); err != nil {
		return nil, err
	}
	if res.State != nil {
		if err := res.State.Save(filepath.Join(outDir, dash.FileName)); err != nil {
			return nil, err
		}
	}
	slog.Info("single run finished",
		"target", target.String(),
		"ops", w.Len(),
		"errors", res.Trace.HasErrors(),
		"digest", res.State.Digest,
	)
	return res, nil
}

// DuoSingle executes one saved workload differentially, prints the
// verdict and archives a divergence the usual way.
func DuoSingle(ctx context.Context, exec Runner, reporter *Reporter, w workload.Workload) (*harness.Outcome, error) {
	out, err := exec.Run(ctx, w)
	if err != nil {
		if out != nil && out.Verdict.Kind == harness.Crash {
			if _, rerr := reporter.Report(w, out); rerr != nil {
				slog.Error("archive crash", "error", rerr)
			}
		}
		return out, err
	}
	if out.Verdict.Kind == harness.Agree {
		color.New(color.FgGreen).Fprintf(color.Output, "[agree] %d ops, digest %.12s\n",
			w.Len(), out.First.State.Digest)
		return out, nil
	}
	dir, err := reporter.Report(w, out)
	if err != nil {
		return out, err
	}
	if dir == "" {
		fmt.Fprintf(color.Output, "[%s] already in ledger\n", out.Verdict.Kind)
	}
	return out, nil
}
