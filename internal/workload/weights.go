package workload

// Weights biases random operation selection during generation and
// mutation. A kind with weight zero is never picked.
type Weights map[Kind]uint32

// DefaultWeights favors structural operations so generated namespaces
// stay interesting, while keeping descriptor traffic common enough to
// exercise open-file edge cases.
func DefaultWeights() Weights {
	return Weights{
		KindCreate:   25,
		KindMkDir:    25,
		KindRemove:   10,
		KindHardlink: 10,
		KindRename:   10,
		KindOpen:     20,
		KindClose:    15,
		KindWrite:    20,
		KindRead:     15,
		KindFSync:    5,
	}
}

// UniformWeights gives every kind the same probability.
func UniformWeights() Weights {
	w := make(Weights, len(Kinds))
	for _, k := range Kinds {
		w[k] = 1
	}
	return w
}

// Total returns the sum of all weights.
func (w Weights) Total() uint32 {
	var total uint32
	for _, v := range w {
		total += v
	}
	return total
}

// MutationKind selects between the two workload mutations.
type MutationKind int

const (
	// MutationInsert splices a fresh operation at a random index.
	MutationInsert MutationKind = iota + 1
	// MutationRemove deletes the operation at a random index.
	MutationRemove
)

func (m MutationKind) String() string {
	switch m {
	case MutationInsert:
		return "insert"
	case MutationRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// MutationWeights biases the mutation picker toward growth so coverage
// expands instead of shrinking toward empty workloads.
type MutationWeights struct {
	Insert uint32
	Remove uint32
}

// DefaultMutationWeights matches a 70/30 insert/remove split.
func DefaultMutationWeights() MutationWeights {
	return MutationWeights{Insert: 7, Remove: 3}
}
