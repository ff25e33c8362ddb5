package mutate

import (
	"math/rand/v2"

	"fsdiff/internal/model"
	"fsdiff/internal/workload"
)

// maxAttempts bounds retries of a single mutation step before giving the
// parent back unchanged.
const maxAttempts = 16

// Mutator derives child workloads by inserting or removing operations and
// repairing whatever the edit broke.
type Mutator struct {
	gen        *Generator
	mutWeights workload.MutationWeights

	// MaxLength caps child workload length; inserts that would exceed it
	// are skipped. MaxMutations bounds how many edits one Mutate applies.
	MaxLength    int
	MaxMutations int
}

// New returns a mutator with the given operation and mutation weights.
func New(opWeights workload.Weights, mutWeights workload.MutationWeights, maxLength, maxMutations int) *Mutator {
	if mutWeights.Insert == 0 && mutWeights.Remove == 0 {
		mutWeights = workload.DefaultMutationWeights()
	}
	if maxMutations < 1 {
		maxMutations = 1
	}
	return &Mutator{
		gen:          NewGenerator(opWeights),
		mutWeights:   mutWeights,
		MaxLength:    maxLength,
		MaxMutations: maxMutations,
	}
}

// Mutate returns a new workload derived from w by up to MaxMutations
// random edits. It never fails and never returns an invalid workload; if
// every attempt produces an empty or unchanged child, the parent is
// returned as-is.
func (m *Mutator) Mutate(w workload.Workload, rng *rand.Rand) workload.Workload {
	out := w.Clone()
	edits := 1 + rng.IntN(m.MaxMutations)
	for range edits {
		for attempt := 0; attempt < maxAttempts; attempt++ {
			child, ok := m.mutateOnce(out, rng)
			if ok {
				out = child
				break
			}
		}
	}
	return out
}

func (m *Mutator) mutateOnce(w workload.Workload, rng *rand.Rand) (workload.Workload, bool) {
	insert := rng.Uint32N(m.mutWeights.Insert+m.mutWeights.Remove) < m.mutWeights.Insert
	if len(w.Ops) == 0 {
		insert = true
	}
	if insert {
		return m.insertAt(w, rng.IntN(len(w.Ops)+1), rng)
	}
	return m.removeAt(w, rng.IntN(len(w.Ops)))
}

// insertAt replays the prefix before pos, synthesizes one operation valid
// in that state, and repairs the suffix around it.
func (m *Mutator) insertAt(w workload.Workload, pos int, rng *rand.Rand) (workload.Workload, bool) {
	if m.MaxLength > 0 && len(w.Ops) >= m.MaxLength {
		return workload.Workload{}, false
	}
	fs, err := model.ReplayPrefix(w, pos)
	if err != nil {
		return workload.Workload{}, false
	}
	op, ok := m.gen.synthesize(fs, rng)
	if !ok {
		return workload.Workload{}, false
	}
	ops := make([]workload.Op, 0, len(w.Ops)+1)
	ops = append(ops, w.Ops[:pos]...)
	ops = append(ops, op)
	if err := fs.Apply(op); err != nil {
		return workload.Workload{}, false
	}
	ops = repair(fs, ops, w.Ops[pos:], prefixFdMap(w.Ops[:pos]))
	return workload.Workload{Ops: ops}, true
}

// removeAt deletes the operation at pos and repairs the suffix. A child
// identical to the parent (the removed op was the only casualty and
// nothing else changed) still counts as a successful mutation; an empty
// child does not.
func (m *Mutator) removeAt(w workload.Workload, pos int) (workload.Workload, bool) {
	fs, err := model.ReplayPrefix(w, pos)
	if err != nil {
		return workload.Workload{}, false
	}
	ops := append([]workload.Op(nil), w.Ops[:pos]...)
	ops = repair(fs, ops, w.Ops[pos+1:], prefixFdMap(w.Ops[:pos]))
	if len(ops) == 0 {
		return workload.Workload{}, false
	}
	return workload.Workload{Ops: ops}, true
}

// RemoveAt exposes single-operation removal with repair for delta
// debugging. ok is false when pos is out of range or the result is empty.
func (m *Mutator) RemoveAt(w workload.Workload, pos int) (workload.Workload, bool) {
	if pos < 0 || pos >= len(w.Ops) {
		return workload.Workload{}, false
	}
	return m.removeAt(w, pos)
}

// RemoveRange removes ops [from, to) with repair, for chunked reduction.
func (m *Mutator) RemoveRange(w workload.Workload, from, to int) (workload.Workload, bool) {
	if from < 0 || to > len(w.Ops) || from >= to {
		return workload.Workload{}, false
	}
	fs, err := model.ReplayPrefix(w, from)
	if err != nil {
		return workload.Workload{}, false
	}
	ops := append([]workload.Op(nil), w.Ops[:from]...)
	ops = repair(fs, ops, w.Ops[to:], prefixFdMap(w.Ops[:from]))
	if len(ops) == 0 {
		return workload.Workload{}, false
	}
	return workload.Workload{Ops: ops}, true
}

// prefixFdMap returns the identity mapping for every descriptor the
// prefix allocates. Suffix references to those descriptors survive a
// mutation untouched.
func prefixFdMap(prefix []workload.Op) map[workload.Fd]workload.Fd {
	fdMap := map[workload.Fd]workload.Fd{}
	for _, op := range prefix {
		if op.Kind == workload.KindOpen {
			fdMap[op.Fd] = op.Fd
		}
	}
	return fdMap
}

// repair replays suffix on top of fs, dropping every operation whose
// precondition the edit broke and renumbering descriptor references as
// surviving OPENs land on new descriptor slots. Dropping an OPEN cascades:
// all later references to its descriptor are dropped too, because the
// descriptor never enters fdMap.
func repair(fs *model.FS, kept []workload.Op, suffix []workload.Op, fdMap map[workload.Fd]workload.Fd) []workload.Op {
	for _, op := range suffix {
		op := op
		if op.UsesFd() {
			mapped, ok := fdMap[op.Fd]
			if !ok {
				continue
			}
			op.Fd = mapped
		}
		if op.Kind == workload.KindOpen {
			oldFd := op.Fd
			op.Fd = fs.NextFd()
			if err := fs.Apply(op); err != nil {
				continue
			}
			fdMap[oldFd] = op.Fd
			kept = append(kept, op)
			continue
		}
		if err := fs.Apply(op); err != nil {
			// Precondition broken by the edit; drop it.
			continue
		}
		kept = append(kept, op)
	}
	return kept
}
