package dash

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

// Hash walks root bottom-up and returns its abstract state digest.
func Hash(root string, opts Options) (Digest, error) {
	s, err := Build(root, opts)
	if err != nil {
		return Digest{}, err
	}
	return s.RootDigest()
}

// Build walks root bottom-up and returns both the digest and the entry
// manifest. Traversal order never affects the result: directory digests
// are computed over children sorted by name.
func Build(root string, opts Options) (*State, error) {
	var st unix.Stat_t
	if err := unix.Lstat(root, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	b := &builder{opts: opts, root: root}
	digest, err := b.hashDir(root, "", &st)
	if err != nil {
		return nil, err
	}
	b.entries = append(b.entries, Entry{
		Path:   "/",
		Kind:   kindDir,
		Mode:   permBits(&st),
		Digest: digest.String(),
	})
	sort.Slice(b.entries, func(i, j int) bool { return b.entries[i].Path < b.entries[j].Path })
	return &State{Digest: digest.String(), Entries: b.entries}, nil
}

type builder struct {
	opts    Options
	root    string
	entries []Entry
}

// hashDir digests one directory: the sorted (name, kind, child digest)
// tuples of its children followed by the directory's own metadata.
// Directory sizes never contribute; they are allocation artifacts.
func (b *builder) hashDir(abs, rel string, st *unix.Stat_t) (Digest, error) {
	dirents, err := os.ReadDir(abs)
	if err != nil {
		return Digest{}, fmt.Errorf("read dir %s: %w", abs, err)
	}
	h := newHasher()
	for _, de := range dirents {
		name := de.Name()
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		if b.opts.skipped(childRel) {
			continue
		}
		childAbs := filepath.Join(abs, name)
		var cst unix.Stat_t
		if err := unix.Lstat(childAbs, &cst); err != nil {
			return Digest{}, fmt.Errorf("stat %s: %w", childAbs, err)
		}
		var (
			digest Digest
			kind   string
		)
		switch cst.Mode & unix.S_IFMT {
		case unix.S_IFDIR:
			kind = kindDir
			digest, err = b.hashDir(childAbs, childRel, &cst)
		case unix.S_IFREG:
			kind = kindFile
			digest, err = b.hashFile(childAbs, &cst)
		case unix.S_IFLNK:
			kind = kindSymlink
			digest, err = b.hashSymlink(childAbs, &cst)
		default:
			// Device and special nodes are outside the modeled state.
			continue
		}
		if err != nil {
			return Digest{}, err
		}
		h.Write([]byte(name))
		h.Write([]byte{0, kindTag[kind]})
		h.Write(digest[:])
		b.record(childRel, kind, &cst, digest)
	}
	b.writeMeta(h, 0, st)
	return sum(h), nil
}

// hashFile digests a regular file's content followed by its selected
// metadata. Two hard links to the same file produce the same digest.
func (b *builder) hashFile(abs string, st *unix.Stat_t) (Digest, error) {
	f, err := os.Open(abs)
	if err != nil {
		return Digest{}, fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()
	h := newHasher()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, fmt.Errorf("read %s: %w", abs, err)
	}
	b.writeMeta(h, uint64(st.Size), st)
	return sum(h), nil
}

func (b *builder) hashSymlink(abs string, st *unix.Stat_t) (Digest, error) {
	target, err := os.Readlink(abs)
	if err != nil {
		return Digest{}, fmt.Errorf("readlink %s: %w", abs, err)
	}
	h := newHasher()
	h.Write([]byte(target))
	b.writeMeta(h, 0, st)
	return sum(h), nil
}

// writeMeta mixes the enabled metadata fields into h in a fixed order.
func (b *builder) writeMeta(h io.Writer, size uint64, st *unix.Stat_t) {
	var buf [8]byte
	if b.opts.Size {
		binary.LittleEndian.PutUint64(buf[:], size)
		h.Write(buf[:])
	}
	if b.opts.Mode {
		binary.LittleEndian.PutUint32(buf[:4], permBits(st))
		h.Write(buf[:4])
	}
	if b.opts.Nlink {
		binary.LittleEndian.PutUint64(buf[:], uint64(st.Nlink))
		h.Write(buf[:])
	}
	if b.opts.Owner {
		binary.LittleEndian.PutUint32(buf[:4], st.Uid)
		h.Write(buf[:4])
		binary.LittleEndian.PutUint32(buf[:4], st.Gid)
		h.Write(buf[:4])
	}
}

func (b *builder) record(rel, kind string, st *unix.Stat_t, digest Digest) {
	e := Entry{
		Path:   "/" + rel,
		Kind:   kind,
		Mode:   permBits(st),
		Digest: digest.String(),
	}
	if kind == kindFile {
		e.Size = uint64(st.Size)
		e.Nlink = uint64(st.Nlink)
	}
	if b.opts.Owner {
		e.UID = st.Uid
		e.GID = st.Gid
	}
	b.entries = append(b.entries, e)
}

func permBits(st *unix.Stat_t) uint32 {
	return uint32(st.Mode) & 0o7777
}
