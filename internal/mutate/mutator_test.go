package mutate

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsdiff/internal/model"
	"fsdiff/internal/workload"
)

func testRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestGenerateIsValid(t *testing.T) {
	gen := NewGenerator(nil)
	for seed := uint64(1); seed <= 20; seed++ {
		w := gen.Generate(testRNG(seed), 30)
		require.Len(t, w.Ops, 30)
		_, err := model.Replay(w)
		require.NoError(t, err, "seed %d produced an invalid workload", seed)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	gen := NewGenerator(nil)
	a := gen.Generate(testRNG(42), 25)
	b := gen.Generate(testRNG(42), 25)
	assert.Equal(t, a, b)
}

func TestGenerateHonorsZeroWeights(t *testing.T) {
	weights := workload.Weights{workload.KindMkDir: 1}
	gen := NewGenerator(weights)

	w := gen.Generate(testRNG(7), 10)
	for _, op := range w.Ops {
		assert.Equal(t, workload.KindMkDir, op.Kind)
	}
}

func TestMutateStaysValid(t *testing.T) {
	gen := NewGenerator(nil)
	m := New(nil, workload.DefaultMutationWeights(), 50, 3)

	for seed := uint64(1); seed <= 20; seed++ {
		rng := testRNG(seed)
		w := gen.Generate(rng, 20)
		for range 10 {
			w = m.Mutate(w, rng)
			_, err := model.Replay(w)
			require.NoError(t, err, "seed %d produced an invalid child", seed)
			assert.LessOrEqual(t, len(w.Ops), 50+3)
		}
	}
}

func TestMutateDoesNotModifyParent(t *testing.T) {
	gen := NewGenerator(nil)
	m := New(nil, workload.DefaultMutationWeights(), 50, 2)

	rng := testRNG(3)
	parent := gen.Generate(rng, 15)
	snapshot := parent.Clone()

	for range 20 {
		m.Mutate(parent, rng)
	}
	assert.Equal(t, snapshot, parent)
}

func TestRemoveOpenCascades(t *testing.T) {
	// Dropping the OPEN must drop every descriptor user behind it.
	w := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindCreate, Path: "/f"},
		{Kind: workload.KindOpen, Path: "/f", Fd: 0},
		{Kind: workload.KindWrite, Fd: 0, Size: 512},
		{Kind: workload.KindFSync, Fd: 0},
		{Kind: workload.KindClose, Fd: 0},
	}}
	m := New(nil, workload.DefaultMutationWeights(), 50, 1)

	child, ok := m.RemoveAt(w, 1)
	require.True(t, ok)
	assert.Equal(t, []workload.Op{{Kind: workload.KindCreate, Path: "/f"}}, child.Ops)
}

func TestRemoveOpenRenumbersLaterDescriptors(t *testing.T) {
	w := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindCreate, Path: "/a"},
		{Kind: workload.KindCreate, Path: "/b"},
		{Kind: workload.KindOpen, Path: "/a", Fd: 0},
		{Kind: workload.KindOpen, Path: "/b", Fd: 1},
		{Kind: workload.KindWrite, Fd: 1, Size: 100},
		{Kind: workload.KindClose, Fd: 0},
		{Kind: workload.KindClose, Fd: 1},
	}}
	m := New(nil, workload.DefaultMutationWeights(), 50, 1)

	// Removing the first OPEN shifts /b's descriptor from 1 to 0.
	child, ok := m.RemoveAt(w, 2)
	require.True(t, ok)
	assert.Equal(t, []workload.Op{
		{Kind: workload.KindCreate, Path: "/a"},
		{Kind: workload.KindCreate, Path: "/b"},
		{Kind: workload.KindOpen, Path: "/b", Fd: 0},
		{Kind: workload.KindWrite, Fd: 0, Size: 100},
		{Kind: workload.KindClose, Fd: 0},
	}, child.Ops)

	_, err := model.Replay(child)
	require.NoError(t, err)
}

func TestRemoveCreateCascades(t *testing.T) {
	w := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindMkDir, Path: "/d"},
		{Kind: workload.KindCreate, Path: "/d/f"},
		{Kind: workload.KindOpen, Path: "/d/f", Fd: 0},
		{Kind: workload.KindRead, Fd: 0, Size: 64},
		{Kind: workload.KindClose, Fd: 0},
		{Kind: workload.KindRemove, Path: "/d/f"},
		{Kind: workload.KindRemove, Path: "/d"},
	}}
	m := New(nil, workload.DefaultMutationWeights(), 50, 1)

	// Removing the CREATE invalidates every operation touching /d/f, but
	// the directory removal survives because /d ends up empty anyway.
	child, ok := m.RemoveAt(w, 1)
	require.True(t, ok)
	assert.Equal(t, []workload.Op{
		{Kind: workload.KindMkDir, Path: "/d"},
		{Kind: workload.KindRemove, Path: "/d"},
	}, child.Ops)
}

func TestRemoveRange(t *testing.T) {
	w := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindMkDir, Path: "/d"},
		{Kind: workload.KindCreate, Path: "/d/f"},
		{Kind: workload.KindOpen, Path: "/d/f", Fd: 0},
		{Kind: workload.KindWrite, Fd: 0, Size: 4096},
		{Kind: workload.KindClose, Fd: 0},
	}}
	m := New(nil, workload.DefaultMutationWeights(), 50, 1)

	child, ok := m.RemoveRange(w, 1, 3)
	require.True(t, ok)
	assert.Equal(t, []workload.Op{{Kind: workload.KindMkDir, Path: "/d"}}, child.Ops)

	_, ok = m.RemoveRange(w, 3, 2)
	assert.False(t, ok)
	_, ok = m.RemoveRange(w, 0, 6)
	assert.False(t, ok)
}

func TestMutateRespectsMaxLength(t *testing.T) {
	gen := NewGenerator(nil)
	m := New(nil, workload.MutationWeights{Insert: 1, Remove: 0}, 10, 1)

	rng := testRNG(11)
	w := gen.Generate(rng, 10)
	for range 50 {
		w = m.Mutate(w, rng)
	}
	assert.LessOrEqual(t, len(w.Ops), 10)
}
