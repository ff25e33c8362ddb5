// Package mutate generates and mutates workloads. Every workload it
// produces replays cleanly against the namespace model; validity is
// guaranteed by construction, not by retrying invalid candidates against
// a real filesystem.
package mutate

import (
	"math/rand/v2"
	"strconv"

	"fsdiff/internal/model"
	"fsdiff/internal/workload"
)

// interestingSizes biases WRITE and READ lengths toward block and page
// boundaries where filesystems historically misbehave.
var interestingSizes = []uint64{0, 1, 7, 16, 63, 512, 1024, 4095, 4096, 8192, 65536}

// Generator produces random namespace-valid workloads and synthesizes
// single operations for the mutator's insert step.
type Generator struct {
	Weights workload.Weights
}

// NewGenerator returns a generator using the given operation weights,
// or the defaults if weights is nil.
func NewGenerator(weights workload.Weights) *Generator {
	if weights == nil {
		weights = workload.DefaultWeights()
	}
	return &Generator{Weights: weights}
}

// Generate builds a random workload of exactly length operations.
func (g *Generator) Generate(rng *rand.Rand, length int) workload.Workload {
	fs := model.New()
	ops := make([]workload.Op, 0, length)
	for len(ops) < length {
		op, ok := g.synthesize(fs, rng)
		if !ok {
			// Nothing weighted is satisfiable; MKDIR with a fresh name
			// always is.
			op = workload.Op{Kind: workload.KindMkDir, Path: g.freshPath(fs, pick(rng, fs.Dirs()), rng)}
		}
		if err := fs.Apply(op); err != nil {
			// synthesize only proposes applicable operations.
			panic(err)
		}
		ops = append(ops, op)
	}
	return workload.Workload{Ops: ops}
}

// synthesize proposes one operation valid in the given state. The kind is
// drawn from the weight table restricted to kinds whose preconditions can
// currently be met; CREATE and MKDIR are always available since the root
// always exists.
func (g *Generator) synthesize(fs *model.FS, rng *rand.Rand) (workload.Op, bool) {
	kind, ok := g.drawKind(fs, rng)
	if !ok {
		return workload.Op{}, false
	}
	switch kind {
	case workload.KindCreate, workload.KindMkDir:
		dir := pick(rng, fs.Dirs())
		return workload.Op{Kind: kind, Path: g.freshPath(fs, dir, rng)}, true
	case workload.KindRemove:
		targets := removable(fs)
		return workload.Op{Kind: kind, Path: pick(rng, targets)}, true
	case workload.KindHardlink:
		src := pick(rng, fs.Files())
		dir := pick(rng, fs.Dirs())
		return workload.Op{Kind: kind, Path: src, NewPath: g.freshPath(fs, dir, rng)}, true
	case workload.KindRename:
		return g.synthesizeRename(fs, rng)
	case workload.KindOpen:
		path := pick(rng, openable(fs))
		return workload.Op{Kind: kind, Path: path, Fd: fs.NextFd()}, true
	case workload.KindClose, workload.KindFSync:
		fd := pick(rng, fs.OpenDescriptors())
		return workload.Op{Kind: kind, Fd: fd}, true
	case workload.KindWrite:
		fd := pick(rng, fs.OpenDescriptors())
		return workload.Op{
			Kind:      kind,
			Fd:        fd,
			Size:      pick(rng, interestingSizes),
			SrcOffset: uint64(rng.IntN(4096)),
		}, true
	case workload.KindRead:
		fd := pick(rng, fs.OpenDescriptors())
		return workload.Op{Kind: kind, Fd: fd, Size: pick(rng, interestingSizes)}, true
	}
	return workload.Op{}, false
}

// synthesizeRename moves a random node to a fresh name, or occasionally
// onto an existing file so destination-replacement paths get exercised.
func (g *Generator) synthesizeRename(fs *model.FS, rng *rand.Rand) (workload.Op, bool) {
	sources := renamable(fs)
	src := pick(rng, sources)

	files := fs.Files()
	if isFile(fs, src) && len(files) > 1 && rng.IntN(4) == 0 {
		for range 4 {
			dst := pick(rng, files)
			if dst != src {
				return workload.Op{Kind: workload.KindRename, Path: src, NewPath: dst}, true
			}
		}
	}
	for range 8 {
		dir := pick(rng, fs.Dirs())
		dst := g.freshPath(fs, dir, rng)
		op := workload.Op{Kind: workload.KindRename, Path: src, NewPath: dst}
		if fs.Valid(op) {
			return op, true
		}
	}
	return workload.Op{}, false
}

// drawKind makes a weighted draw over the kinds currently satisfiable.
func (g *Generator) drawKind(fs *model.FS, rng *rand.Rand) (workload.Kind, bool) {
	var total uint32
	var candidates []workload.Kind
	var weights []uint32
	for _, k := range workload.Kinds {
		w := g.Weights[k]
		if w == 0 || !satisfiable(fs, k) {
			continue
		}
		candidates = append(candidates, k)
		weights = append(weights, w)
		total += w
	}
	if total == 0 {
		return 0, false
	}
	n := rng.Uint32N(total)
	for i, w := range weights {
		if n < w {
			return candidates[i], true
		}
		n -= w
	}
	return candidates[len(candidates)-1], true
}

func satisfiable(fs *model.FS, k workload.Kind) bool {
	switch k {
	case workload.KindCreate, workload.KindMkDir:
		return true
	case workload.KindRemove:
		return len(removable(fs)) > 0
	case workload.KindHardlink:
		return len(fs.Files()) > 0
	case workload.KindRename:
		return len(renamable(fs)) > 0
	case workload.KindOpen:
		return len(openable(fs)) > 0
	default:
		return len(fs.OpenDescriptors()) > 0
	}
}

// freshPath returns a child path of dir not currently in use. Names come
// from a numeric counter so regenerating from the same state and seed is
// reproducible.
func (g *Generator) freshPath(fs *model.FS, dir string, rng *rand.Rand) string {
	base := rng.IntN(1 << 16)
	for i := range 1 << 16 {
		path := childPath(dir, strconv.Itoa((base+i)%(1<<16)))
		if !fs.Valid(workload.Op{Kind: workload.KindMkDir, Path: path}) {
			continue
		}
		return path
	}
	return childPath(dir, strconv.Itoa(base))
}

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// removable lists files and empty directories, the nodes REMOVE accepts.
func removable(fs *model.FS) []string {
	out := append([]string(nil), fs.Files()...)
	for _, p := range fs.Dirs() {
		if p == "/" {
			continue
		}
		if fs.Valid(workload.Op{Kind: workload.KindRemove, Path: p}) {
			out = append(out, p)
		}
	}
	return out
}

// renamable lists every node except the root.
func renamable(fs *model.FS) []string {
	var out []string
	out = append(out, fs.Files()...)
	for _, p := range fs.Dirs() {
		if p != "/" {
			out = append(out, p)
		}
	}
	return out
}

// openable lists files that can be opened right now.
func openable(fs *model.FS) []string {
	var out []string
	for _, p := range fs.Files() {
		if fs.Valid(workload.Op{Kind: workload.KindOpen, Path: p, Fd: fs.NextFd()}) {
			out = append(out, p)
		}
	}
	return out
}

func isFile(fs *model.FS, path string) bool {
	for _, p := range fs.Files() {
		if p == path {
			return true
		}
	}
	return false
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}
