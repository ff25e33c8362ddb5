package fuzz

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"fsdiff/internal/corpus"
	"fsdiff/internal/cover"
	"fsdiff/internal/harness"
	"fsdiff/internal/mutate"
	"fsdiff/internal/workload"
)

// Options configures a fuzzing campaign.
type Options struct {
	// MaxRuns stops the campaign after that many differential runs; 0
	// runs until cancelled.
	MaxRuns int64
	// Seed initializes the deterministic RNG.
	Seed uint64
	// InitialWorkloads is how many random seeds boot an empty corpus.
	InitialWorkloads int
	// InitialLength is the operation count of generated seed workloads.
	InitialLength int
	// SaveCorpus persists retained seeds to CorpusDir.
	SaveCorpus bool
	CorpusDir  string
	// Reduce shrinks diverging workloads before archiving. Crashes are
	// never reduced; their workload is preserved verbatim.
	Reduce bool
	// StatsInterval spaces the periodic progress log lines.
	StatsInterval time.Duration
}

// Fuzzer drives the campaign: selection, mutation, differential
// execution, coverage feedback, reduction, reporting. The loop is
// single-threaded; the only concurrency lives inside the executor's
// two-target dispatch.
type Fuzzer struct {
	Exec      Runner
	Gen       *mutate.Generator
	Mutator   *mutate.Mutator
	Corpus    *corpus.Corpus
	Scheduler corpus.Scheduler
	Coverage  cover.Set
	Reporter  *Reporter
	Reducer   *Reducer
	Stats     *Stats
	Logger    *slog.Logger
	Opts      Options

	rng *rand.Rand
}

// ErrRunBudget signals a campaign that stopped because MaxRuns was hit.
var ErrRunBudget = errors.New("run budget exhausted")

func (f *Fuzzer) init() {
	if f.rng == nil {
		f.rng = rand.New(rand.NewPCG(f.Opts.Seed, f.Opts.Seed))
	}
	if f.Stats == nil {
		f.Stats = NewStats()
	}
	if f.Logger == nil {
		f.Logger = slog.Default()
	}
	if f.Coverage == nil {
		f.Coverage = cover.NewSet()
	}
}

// Greybox runs the coverage-guided loop until ctx is cancelled or the
// run budget is exhausted.
func (f *Fuzzer) Greybox(ctx context.Context) error {
	f.init()
	f.seedCorpus()
	lastStats := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Opts.MaxRuns > 0 && f.Stats.Snapshot().Runs >= f.Opts.MaxRuns {
			return ErrRunBudget
		}

		entry := f.Scheduler.Select(f.Corpus, f.rng)
		var child workload.Workload
		if entry != nil {
			child = f.Mutator.Mutate(entry.Workload, f.rng)
		} else {
			child = f.Gen.Generate(f.rng, f.initialLength())
		}

		out, err := f.Exec.Run(ctx, child)
		f.Stats.AddRun()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.crash(child, out, err)
			continue
		}

		added := f.Coverage.Merge(out.PCs())
		foundNew := added > 0
		if entry != nil {
			f.Scheduler.Record(entry, out.Duration, foundNew)
		}

		if out.Verdict.Kind == harness.Agree {
			f.Stats.AddAgreement()
		} else {
			f.divergence(ctx, child, out)
		}

		// Retention: a child earns a corpus slot iff it saw new
		// coverage.
		if foundNew {
			f.Corpus.Add(child, out.Duration, true)
			if f.Opts.SaveCorpus {
				if err := corpus.SaveEntry(f.Opts.CorpusDir, child); err != nil {
					f.Logger.Warn("persist corpus entry", "error", err)
				}
			}
		}
		f.Stats.SetCorpusSize(f.Corpus.Len())
		f.Stats.SetCoverageSize(f.Coverage.Len())

		if f.Opts.StatsInterval > 0 && time.Since(lastStats) >= f.Opts.StatsInterval {
			f.Logger.Info("progress", "stats", f.Stats.Snapshot().String())
			lastStats = time.Now()
		}
	}
}

// Blackbox runs the unguided loop: fresh random workloads, no coverage,
// no corpus.
func (f *Fuzzer) Blackbox(ctx context.Context) error {
	f.init()
	lastStats := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Opts.MaxRuns > 0 && f.Stats.Snapshot().Runs >= f.Opts.MaxRuns {
			return ErrRunBudget
		}

		w := f.Gen.Generate(f.rng, f.initialLength())
		out, err := f.Exec.Run(ctx, w)
		f.Stats.AddRun()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.crash(w, out, err)
			continue
		}
		if out.Verdict.Kind == harness.Agree {
			f.Stats.AddAgreement()
		} else {
			f.divergence(ctx, w, out)
		}

		if f.Opts.StatsInterval > 0 && time.Since(lastStats) >= f.Opts.StatsInterval {
			f.Logger.Info("progress", "stats", f.Stats.Snapshot().String())
			lastStats = time.Now()
		}
	}
}

// seedCorpus boots an empty corpus with random workloads so the first
// Select has something to pick.
func (f *Fuzzer) seedCorpus() {
	if f.Corpus == nil {
		f.Corpus = corpus.New()
	}
	for f.Corpus.Len() < f.Opts.InitialWorkloads {
		f.Corpus.Add(f.Gen.Generate(f.rng, f.initialLength()), 0, false)
	}
}

func (f *Fuzzer) initialLength() int {
	if f.Opts.InitialLength > 0 {
		return f.Opts.InitialLength
	}
	return 10
}

// crash archives a crashing workload verbatim. No reduction: replaying a
// crash burns a whole session reset per attempt and the workload is
// already preserved.
func (f *Fuzzer) crash(w workload.Workload, out *harness.Outcome, err error) {
	f.Stats.AddCrash()
	f.Logger.Error("target crashed", "error", err)
	if out == nil {
		return
	}
	if _, rerr := f.Reporter.Report(w, out); rerr != nil {
		f.Logger.Error("archive crash", "error", rerr)
	}
}

// divergence reduces (when enabled) and archives a non-crash mismatch.
func (f *Fuzzer) divergence(ctx context.Context, w workload.Workload, out *harness.Outcome) {
	switch out.Verdict.Kind {
	case harness.ReturnMismatch:
		f.Stats.AddReturnMismatch()
	case harness.StateMismatch:
		f.Stats.AddStateMismatch()
	}
	if out.Verdict.Accident {
		f.Stats.AddAccident()
	}

	reduced := w
	final := out
	if f.Opts.Reduce && f.Reducer != nil {
		small, err := f.Reducer.Reduce(ctx, w, out.Verdict)
		if err == nil && small.Len() < w.Len() {
			// Re-run the reduced workload so the archived artifacts
			// match what reproduces.
			if rerun, rerr := f.Exec.Run(ctx, small); rerr == nil &&
				sameClass(out.Verdict, rerun.Verdict, w, small) {
				reduced = small
				final = rerun
			}
		}
	}

	dir, err := f.Reporter.Report(reduced, final)
	if err != nil {
		f.Logger.Error("archive divergence", "error", err)
		return
	}
	if dir == "" {
		f.Stats.AddDuplicate()
	}
}
