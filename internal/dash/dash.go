// Package dash computes an abstract state digest of a filesystem subtree.
// The digest covers what a user-space observer can see through stat and
// read: structure, names, kinds, content and selected metadata. Inode
// numbers, timestamps and physical layout never contribute, so two
// filesystems with identical semantics hash identically no matter how
// they arrange bytes on disk.
package dash

import (
	"encoding/hex"
	"regexp"

	"github.com/zeebo/blake3"
)

// Digest is an abstract state hash. Digests compare for equality only.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest parses the hex form produced by String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(d) {
		return Digest{}, errMalformedDigest
	}
	copy(d[:], raw)
	return d, nil
}

// Options selects which metadata feeds the digest beyond structure and
// content. Nlink defaults off: hard links are observed through content
// identity, and targets may keep different internal link bookkeeping.
type Options struct {
	Size  bool
	Mode  bool
	Nlink bool
	Owner bool

	// Skip drops entries whose root-relative path matches any pattern.
	// Filesystem artifacts like lost+found must not poison the digest.
	Skip []*regexp.Regexp
}

// DefaultOptions covers size and permission bits and skips the common
// artifact directories of block filesystems.
func DefaultOptions() Options {
	return Options{
		Size: true,
		Mode: true,
		Skip: []*regexp.Regexp{regexp.MustCompile(`^lost\+found$`)},
	}
}

func (o Options) skipped(relPath string) bool {
	for _, re := range o.Skip {
		if re.MatchString(relPath) {
			return true
		}
	}
	return false
}

// entry kinds, one byte each, mixed into parent directory digests.
const (
	kindFile    = "file"
	kindDir     = "dir"
	kindSymlink = "symlink"
)

var kindTag = map[string]byte{kindFile: 'f', kindDir: 'd', kindSymlink: 'l'}

func newHasher() *blake3.Hasher { return blake3.New() }

func sum(h *blake3.Hasher) Digest {
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
