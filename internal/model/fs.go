// Package model simulates a filesystem namespace and descriptor table.
// Replaying a workload prefix through the model is the sole authority for
// whether the next operation is well-formed, so generated and mutated
// workloads never violate a precondition by construction.
package model

import (
	"fmt"
	"sort"

	"fsdiff/internal/workload"
)

// FileIndex and DirIndex address the model's arenas. Indices are allocated
// from a monotonic counter and never reused, so replaying the same prefix
// always assigns the same identifiers.
type (
	FileIndex int
	DirIndex  int
)

type nodeKind int

const (
	nodeFile nodeKind = iota + 1
	nodeDir
)

type node struct {
	kind nodeKind
	file FileIndex
	dir  DirIndex
}

type dirNode struct {
	children map[string]node
}

type fileNode struct {
	size  uint64
	nlink int
}

type descriptor struct {
	file   FileIndex
	open   bool
	offset uint64
}

// FS is the simulated filesystem state derived from a workload prefix.
// The zero value is not usable; call New.
type FS struct {
	dirs  []dirNode
	files []fileNode
	descs []descriptor
}

// RootDir is the index of the root directory, present from creation.
const RootDir DirIndex = 0

// New returns an empty filesystem containing only the root directory.
func New() *FS {
	return &FS{dirs: []dirNode{{children: map[string]node{}}}}
}

// Clone returns an independent deep copy.
func (fs *FS) Clone() *FS {
	c := &FS{
		dirs:  make([]dirNode, len(fs.dirs)),
		files: append([]fileNode(nil), fs.files...),
		descs: append([]descriptor(nil), fs.descs...),
	}
	for i, d := range fs.dirs {
		children := make(map[string]node, len(d.children))
		for name, n := range d.children {
			children[name] = n
		}
		c.dirs[i] = dirNode{children: children}
	}
	return c
}

// NextFd returns the symbolic descriptor the next successful OPEN will
// allocate. Descriptors are never reused.
func (fs *FS) NextFd() workload.Fd {
	return workload.Fd(len(fs.descs))
}

// DescriptorOpen reports whether fd names a currently open descriptor.
func (fs *FS) DescriptorOpen(fd workload.Fd) bool {
	return fd >= 0 && int(fd) < len(fs.descs) && fs.descs[fd].open
}

// OpenDescriptors lists every currently open descriptor in allocation order.
func (fs *FS) OpenDescriptors() []workload.Fd {
	var fds []workload.Fd
	for i, d := range fs.descs {
		if d.open {
			fds = append(fds, workload.Fd(i))
		}
	}
	return fds
}

// lookup resolves an absolute path to the node it names.
func (fs *FS) lookup(path string) (node, error) {
	parts, err := splitPath(path)
	if err != nil {
		return node{}, err
	}
	cur := node{kind: nodeDir, dir: RootDir}
	for _, name := range parts {
		if cur.kind != nodeDir {
			return node{}, ErrNotDir
		}
		next, ok := fs.dirs[cur.dir].children[name]
		if !ok {
			return node{}, ErrNotFound
		}
		cur = next
	}
	return cur, nil
}

// lookupParent resolves the directory containing path and the final name
// component. The parent must exist; the leaf may or may not.
func (fs *FS) lookupParent(path string) (DirIndex, string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return 0, "", err
	}
	if len(parts) == 0 {
		return 0, "", ErrRootImmutable
	}
	cur := RootDir
	for _, name := range parts[:len(parts)-1] {
		next, ok := fs.dirs[cur].children[name]
		if !ok {
			return 0, "", ErrNotFound
		}
		if next.kind != nodeDir {
			return 0, "", ErrNotDir
		}
		cur = next.dir
	}
	return cur, parts[len(parts)-1], nil
}

// fileOpen reports whether any open descriptor refers to idx.
func (fs *FS) fileOpen(idx FileIndex) bool {
	for _, d := range fs.descs {
		if d.open && d.file == idx {
			return true
		}
	}
	return false
}

// Create makes a new empty regular file. The underlying call opens and
// immediately closes the file, so no descriptor is allocated.
func (fs *FS) Create(path string) error {
	parent, name, err := fs.lookupParent(path)
	if err != nil {
		return err
	}
	if _, ok := fs.dirs[parent].children[name]; ok {
		return ErrExists
	}
	idx := FileIndex(len(fs.files))
	fs.files = append(fs.files, fileNode{nlink: 1})
	fs.dirs[parent].children[name] = node{kind: nodeFile, file: idx}
	return nil
}

// MkDir makes a new empty directory.
func (fs *FS) MkDir(path string) error {
	parent, name, err := fs.lookupParent(path)
	if err != nil {
		return err
	}
	if _, ok := fs.dirs[parent].children[name]; ok {
		return ErrExists
	}
	idx := DirIndex(len(fs.dirs))
	fs.dirs = append(fs.dirs, dirNode{children: map[string]node{}})
	fs.dirs[parent].children[name] = node{kind: nodeDir, dir: idx}
	return nil
}

// Remove unlinks a file or removes an empty directory. Removing a file
// with open descriptors succeeds; the descriptors stay usable until
// closed, matching unlink semantics.
func (fs *FS) Remove(path string) error {
	parent, name, err := fs.lookupParent(path)
	if err != nil {
		return err
	}
	n, ok := fs.dirs[parent].children[name]
	if !ok {
		return ErrNotFound
	}
	if n.kind == nodeDir && len(fs.dirs[n.dir].children) > 0 {
		return ErrDirNotEmpty
	}
	if n.kind == nodeFile {
		fs.files[n.file].nlink--
	}
	delete(fs.dirs[parent].children, name)
	return nil
}

// Hardlink creates a second name for an existing regular file.
func (fs *FS) Hardlink(oldPath, newPath string) error {
	src, err := fs.lookup(oldPath)
	if err != nil {
		return err
	}
	if src.kind != nodeFile {
		return ErrNotFile
	}
	parent, name, err := fs.lookupParent(newPath)
	if err != nil {
		return err
	}
	if _, ok := fs.dirs[parent].children[name]; ok {
		return ErrExists
	}
	fs.files[src.file].nlink++
	fs.dirs[parent].children[name] = node{kind: nodeFile, file: src.file}
	return nil
}

// Rename moves a file or directory. An existing destination of the same
// kind is replaced; a replaced directory must be empty. A directory cannot
// move into its own subtree.
func (fs *FS) Rename(oldPath, newPath string) error {
	srcParent, srcName, err := fs.lookupParent(oldPath)
	if err != nil {
		return err
	}
	src, ok := fs.dirs[srcParent].children[srcName]
	if !ok {
		return ErrNotFound
	}
	if oldPath == newPath {
		return nil
	}
	if src.kind == nodeDir && isAncestor(oldPath, newPath) {
		return ErrRenameIntoSelf
	}
	dstParent, dstName, err := fs.lookupParent(newPath)
	if err != nil {
		return err
	}
	if dst, ok := fs.dirs[dstParent].children[dstName]; ok {
		if dst.kind != src.kind {
			if src.kind == nodeFile {
				return ErrNotFile
			}
			return ErrNotDir
		}
		if dst.kind == nodeDir && len(fs.dirs[dst.dir].children) > 0 {
			return ErrDirNotEmpty
		}
		if dst.kind == nodeFile {
			fs.files[dst.file].nlink--
		}
	}
	delete(fs.dirs[srcParent].children, srcName)
	fs.dirs[dstParent].children[dstName] = src
	return nil
}

// Open opens a regular file and allocates the next descriptor. A file may
// be open through at most one descriptor at a time; op synthesis relies on
// this to keep descriptor bookkeeping unambiguous.
func (fs *FS) Open(path string) (workload.Fd, error) {
	n, err := fs.lookup(path)
	if err != nil {
		return -1, err
	}
	if n.kind != nodeFile {
		return -1, ErrNotFile
	}
	if fs.fileOpen(n.file) {
		return -1, ErrFileOpen
	}
	fd := fs.NextFd()
	fs.descs = append(fs.descs, descriptor{file: n.file, open: true})
	return fd, nil
}

// Close closes an open descriptor.
func (fs *FS) Close(fd workload.Fd) error {
	if fd < 0 || int(fd) >= len(fs.descs) {
		return ErrBadDescriptor
	}
	if !fs.descs[fd].open {
		return ErrDescriptorClosed
	}
	fs.descs[fd].open = false
	return nil
}

// Write appends size bytes at the descriptor's offset, extending the file.
func (fs *FS) Write(fd workload.Fd, size uint64) error {
	if !fs.DescriptorOpen(fd) {
		return fs.descErr(fd)
	}
	d := &fs.descs[fd]
	d.offset += size
	if f := &fs.files[d.file]; d.offset > f.size {
		f.size = d.offset
	}
	return nil
}

// Read advances the descriptor's offset by up to size bytes.
func (fs *FS) Read(fd workload.Fd, size uint64) error {
	if !fs.DescriptorOpen(fd) {
		return fs.descErr(fd)
	}
	d := &fs.descs[fd]
	if remaining := fs.files[d.file].size - d.offset; size > remaining {
		size = remaining
	}
	d.offset += size
	return nil
}

// FSync flushes an open descriptor. A no-op in the model beyond validity.
func (fs *FS) FSync(fd workload.Fd) error {
	if !fs.DescriptorOpen(fd) {
		return fs.descErr(fd)
	}
	return nil
}

func (fs *FS) descErr(fd workload.Fd) error {
	if fd < 0 || int(fd) >= len(fs.descs) {
		return ErrBadDescriptor
	}
	return ErrDescriptorClosed
}

// Apply executes one operation against the model, mutating state only on
// success. For OPEN the operation's recorded descriptor must equal the one
// the model would allocate; this is what keeps symbolic descriptors honest
// across mutation.
func (fs *FS) Apply(op workload.Op) error {
	switch op.Kind {
	case workload.KindCreate:
		return fs.Create(op.Path)
	case workload.KindMkDir:
		return fs.MkDir(op.Path)
	case workload.KindRemove:
		return fs.Remove(op.Path)
	case workload.KindHardlink:
		return fs.Hardlink(op.Path, op.NewPath)
	case workload.KindRename:
		return fs.Rename(op.Path, op.NewPath)
	case workload.KindOpen:
		if op.Fd != fs.NextFd() {
			return ErrBadDescriptor
		}
		_, err := fs.Open(op.Path)
		return err
	case workload.KindClose:
		return fs.Close(op.Fd)
	case workload.KindWrite:
		return fs.Write(op.Fd, op.Size)
	case workload.KindRead:
		return fs.Read(op.Fd, op.Size)
	case workload.KindFSync:
		return fs.FSync(op.Fd)
	default:
		return fmt.Errorf("unknown operation kind %d", op.Kind)
	}
}

// Valid reports whether op could be applied to the current state.
func (fs *FS) Valid(op workload.Op) bool {
	return fs.Clone().Apply(op) == nil
}

// Replay builds the state reached by applying every operation in w.
func Replay(w workload.Workload) (*FS, error) {
	return ReplayPrefix(w, len(w.Ops))
}

// ReplayPrefix builds the state reached by the first n operations of w.
func ReplayPrefix(w workload.Workload, n int) (*FS, error) {
	fs := New()
	for i, op := range w.Ops[:n] {
		if err := fs.Apply(op); err != nil {
			return nil, fmt.Errorf("op %d (%s): %w", i, op, err)
		}
	}
	return fs, nil
}

// Dirs lists every live directory path including the root, sorted.
func (fs *FS) Dirs() []string {
	var out []string
	fs.walk("/", RootDir, func(path string, n node) {
		if n.kind == nodeDir {
			out = append(out, path)
		}
	})
	out = append(out, "/")
	sort.Strings(out)
	return out
}

// Files lists every live regular file path, sorted. A file reachable by
// several hard links appears once per link.
func (fs *FS) Files() []string {
	var out []string
	fs.walk("/", RootDir, func(path string, n node) {
		if n.kind == nodeFile {
			out = append(out, path)
		}
	})
	sort.Strings(out)
	return out
}

func (fs *FS) walk(prefix string, dir DirIndex, visit func(string, node)) {
	for name, n := range fs.dirs[dir].children {
		path := prefix + name
		if prefix != "/" {
			path = prefix + "/" + name
		}
		visit(path, n)
		if n.kind == nodeDir {
			fs.walk(path, n.dir, visit)
		}
	}
}
