package fuzz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsdiff/internal/buglog"
	"fsdiff/internal/corpus"
	"fsdiff/internal/dash"
	"fsdiff/internal/harness"
	"fsdiff/internal/mutate"
	"fsdiff/internal/trace"
	"fsdiff/internal/workload"
)

// fakeExec judges workloads with a pure function instead of mounting
// anything.
type fakeExec struct {
	judge func(w workload.Workload) harness.Verdict
	pcs   func(w workload.Workload) []uint64
	calls int
}

func (f *fakeExec) Run(_ context.Context, w workload.Workload) (*harness.Outcome, error) {
	f.calls++
	v := f.judge(w)
	out := &harness.Outcome{
		Verdict:  v,
		First:    &harness.RunResult{Trace: trace.Trace{}, State: &dash.State{Digest: "aa"}},
		Second:   &harness.RunResult{Trace: trace.Trace{}, State: &dash.State{Digest: "aa"}},
		Duration: time.Millisecond,
	}
	if f.pcs != nil {
		out.First.PCs = f.pcs(w)
	}
	if v.Kind == harness.Crash {
		return out, errors.New("target died")
	}
	return out, nil
}

func agreeAlways(workload.Workload) harness.Verdict {
	return harness.Verdict{Kind: harness.Agree}
}

func newTestFuzzer(t *testing.T, exec Runner, opts Options) *Fuzzer {
	t.Helper()
	sched, err := corpus.NewScheduler("FAST", 8)
	require.NoError(t, err)
	return &Fuzzer{
		Exec:      exec,
		Gen:       mutate.NewGenerator(nil),
		Mutator:   mutate.New(nil, workload.DefaultMutationWeights(), 30, 2),
		Corpus:    corpus.New(),
		Scheduler: sched,
		Reporter:  &Reporter{Dir: t.TempDir(), FirstFS: "ext4", SecondFS: "littlefs"},
		Stats:     NewStats(),
		Opts:      opts,
	}
}

func TestGreyboxStopsAtRunBudget(t *testing.T) {
	exec := &fakeExec{judge: agreeAlways}
	f := newTestFuzzer(t, exec, Options{MaxRuns: 20, Seed: 1, InitialWorkloads: 2, InitialLength: 8})

	err := f.Greybox(context.Background())
	assert.ErrorIs(t, err, ErrRunBudget)
	assert.Equal(t, 20, exec.calls)
	assert.EqualValues(t, 20, f.Stats.Snapshot().Runs)
	assert.EqualValues(t, 20, f.Stats.Snapshot().Agreements)
}

func TestGreyboxStopsOnCancel(t *testing.T) {
	exec := &fakeExec{judge: agreeAlways}
	f := newTestFuzzer(t, exec, Options{Seed: 1, InitialWorkloads: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := f.Greybox(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGreyboxRetainsOnlyNewCoverage(t *testing.T) {
	next := uint64(0)
	exec := &fakeExec{
		judge: agreeAlways,
		pcs: func(w workload.Workload) []uint64 {
			// First half of the runs discover a fresh PC each; then the
			// well runs dry.
			if next < 5 {
				next++
				return []uint64{next}
			}
			return []uint64{1}
		},
	}
	f := newTestFuzzer(t, exec, Options{MaxRuns: 40, Seed: 3, InitialWorkloads: 2, InitialLength: 8})

	err := f.Greybox(context.Background())
	assert.ErrorIs(t, err, ErrRunBudget)
	assert.Equal(t, 2+5, f.Corpus.Len(), "only coverage-increasing children earn corpus slots")
	assert.EqualValues(t, 5, f.Stats.Snapshot().CoverageSize)
}

func TestGreyboxSavesCorpus(t *testing.T) {
	dir := t.TempDir()
	served := false
	exec := &fakeExec{
		judge: agreeAlways,
		pcs: func(workload.Workload) []uint64 {
			if served {
				return nil
			}
			served = true
			return []uint64{42}
		},
	}
	f := newTestFuzzer(t, exec, Options{
		MaxRuns: 10, Seed: 5, InitialWorkloads: 1, InitialLength: 6,
		SaveCorpus: true, CorpusDir: dir,
	})

	require.ErrorIs(t, f.Greybox(context.Background()), ErrRunBudget)

	loaded, err := corpus.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
}

func TestGreyboxArchivesDivergenceAndDeduplicates(t *testing.T) {
	ledger, err := buglog.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	exec := &fakeExec{judge: func(workload.Workload) harness.Verdict {
		return harness.Verdict{Kind: harness.StateMismatch, StateDiff: []string{"differs: /f"}}
	}}
	f := newTestFuzzer(t, exec, Options{MaxRuns: 5, Seed: 7, InitialWorkloads: 1, InitialLength: 6})
	f.Reporter.Ledger = ledger

	require.ErrorIs(t, f.Greybox(context.Background()), ErrRunBudget)

	snap := f.Stats.Snapshot()
	assert.EqualValues(t, 5, snap.StateMismatches)
	assert.EqualValues(t, 4, snap.Duplicates, "same signature archives once")

	bugs, err := ledger.List()
	require.NoError(t, err)
	require.Len(t, bugs, 1)
	assert.Equal(t, "state-mismatch", bugs[0].Kind)

	entries, err := os.ReadDir(f.Reporter.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	reportDir := filepath.Join(f.Reporter.Dir, entries[0].Name())
	for _, file := range []string{"test.json", "repro.c", "reason.md", "first-trace.csv", "second-trace.csv"} {
		_, err := os.Stat(filepath.Join(reportDir, file))
		assert.NoError(t, err, file)
	}
}

func TestGreyboxCrashKeepsGoing(t *testing.T) {
	exec := &fakeExec{judge: func(workload.Workload) harness.Verdict {
		return harness.Verdict{Kind: harness.Crash, Target: "second(littlefs)"}
	}}
	f := newTestFuzzer(t, exec, Options{MaxRuns: 3, Seed: 9, InitialWorkloads: 1, InitialLength: 4})

	require.ErrorIs(t, f.Greybox(context.Background()), ErrRunBudget)
	assert.EqualValues(t, 3, f.Stats.Snapshot().Crashes)
}

func TestBlackboxRuns(t *testing.T) {
	exec := &fakeExec{judge: agreeAlways}
	f := newTestFuzzer(t, exec, Options{MaxRuns: 10, Seed: 11, InitialLength: 8})

	err := f.Blackbox(context.Background())
	assert.ErrorIs(t, err, ErrRunBudget)
	assert.Equal(t, 10, exec.calls)
	assert.Equal(t, 0, f.Corpus.Len(), "blackbox keeps no corpus")
}

// renameJudge diverges iff the workload contains a RENAME: the model of
// a target that mishandles rename.
func renameJudge(w workload.Workload) harness.Verdict {
	for i, op := range w.Ops {
		if op.Kind == workload.KindRename {
			return harness.Verdict{
				Kind:  harness.ReturnMismatch,
				Index: i,
				Mismatch: &trace.Mismatch{
					Index:  i,
					First:  trace.Row{Ret: 0},
					Second: trace.Row{Ret: -1, Errno: trace.Errno{Name: "EIO", Code: 5}},
				},
			}
		}
	}
	return harness.Verdict{Kind: harness.Agree}
}

func TestReducerShrinksToMinimal(t *testing.T) {
	exec := &fakeExec{judge: renameJudge}
	r := &Reducer{
		Exec:    exec,
		Mutator: mutate.New(nil, workload.DefaultMutationWeights(), 50, 1),
	}

	w := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindCreate, Path: "/a"},
		{Kind: workload.KindMkDir, Path: "/d"},
		{Kind: workload.KindCreate, Path: "/d/f"},
		{Kind: workload.KindRename, Path: "/a", NewPath: "/b"},
		{Kind: workload.KindCreate, Path: "/c"},
	}}
	verdict := renameJudge(w)

	reduced, err := r.Reduce(context.Background(), w, verdict)
	require.NoError(t, err)
	assert.Equal(t, []workload.Op{
		{Kind: workload.KindCreate, Path: "/a"},
		{Kind: workload.KindRename, Path: "/a", NewPath: "/b"},
	}, reduced.Ops)
}

func TestReducerKeepsOriginalWhenNothingSmallerReproduces(t *testing.T) {
	exec := &fakeExec{judge: renameJudge}
	r := &Reducer{
		Exec:    exec,
		Mutator: mutate.New(nil, workload.DefaultMutationWeights(), 50, 1),
	}

	w := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindCreate, Path: "/a"},
		{Kind: workload.KindRename, Path: "/a", NewPath: "/b"},
	}}

	reduced, err := r.Reduce(context.Background(), w, renameJudge(w))
	require.NoError(t, err)
	assert.Equal(t, w.Ops, reduced.Ops)
}

func TestSameClassComparesErrnoPairNotIndex(t *testing.T) {
	mk := func(index, code int) harness.Verdict {
		return harness.Verdict{
			Kind:  harness.ReturnMismatch,
			Index: index,
			Mismatch: &trace.Mismatch{
				First:  trace.Row{Ret: 0},
				Second: trace.Row{Ret: -1, Errno: trace.Errno{Code: code}},
			},
		}
	}
	wa := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindCreate, Path: "/x"},
		{Kind: workload.KindRename, Path: "/x", NewPath: "/y"},
	}}
	wb := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindRename, Path: "/x", NewPath: "/y"},
	}}

	// Same op kind and errno pair at shifted indices is the same bug.
	assert.True(t, sameClass(mk(1, 5), mk(0, 5), wa, wb))
	// A different errno is a different bug.
	assert.False(t, sameClass(mk(1, 5), mk(0, 13), wa, wb))
	// A different diverging op kind is a different bug.
	assert.False(t, sameClass(mk(1, 5), mk(0, 5), wa, wa))
}

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	s.AddRun()
	s.AddRun()
	s.AddReturnMismatch()
	s.AddCrash()
	s.SetCorpusSize(3)

	snap := s.Snapshot()
	assert.EqualValues(t, 2, snap.Runs)
	assert.EqualValues(t, 2, snap.Bugs())
	assert.EqualValues(t, 3, snap.CorpusSize)
	assert.Contains(t, snap.String(), "runs=2")
	assert.Greater(t, snap.RunsPerSec(), 0.0)
}
