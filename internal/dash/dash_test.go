package dash

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestHashIgnoresCreationOrder(t *testing.T) {
	a := t.TempDir()
	writeTree(t, a, map[string]string{"x/one": "1", "x/two": "2", "three": "3"})

	b := t.TempDir()
	writeTree(t, b, map[string]string{"three": "3"})
	writeTree(t, b, map[string]string{"x/two": "2", "x/one": "1"})

	da, err := Hash(a, DefaultOptions())
	require.NoError(t, err)
	db, err := Hash(b, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestHashIgnoresTimestamps(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"f": "data"})

	before, err := Hash(root, DefaultOptions())
	require.NoError(t, err)

	past := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "f"), past, past))

	after, err := Hash(root, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestHashSeesContent(t *testing.T) {
	a := t.TempDir()
	writeTree(t, a, map[string]string{"f": "data"})
	b := t.TempDir()
	writeTree(t, b, map[string]string{"f": "DATA"})

	da, err := Hash(a, DefaultOptions())
	require.NoError(t, err)
	db, err := Hash(b, DefaultOptions())
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestHashSeesNames(t *testing.T) {
	a := t.TempDir()
	writeTree(t, a, map[string]string{"f": "data"})
	b := t.TempDir()
	writeTree(t, b, map[string]string{"g": "data"})

	da, err := Hash(a, DefaultOptions())
	require.NoError(t, err)
	db, err := Hash(b, DefaultOptions())
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestHashSeesMode(t *testing.T) {
	a := t.TempDir()
	writeTree(t, a, map[string]string{"f": "data"})
	b := t.TempDir()
	writeTree(t, b, map[string]string{"f": "data"})
	require.NoError(t, os.Chmod(filepath.Join(b, "f"), 0600))

	da, err := Hash(a, DefaultOptions())
	require.NoError(t, err)
	db, err := Hash(b, DefaultOptions())
	require.NoError(t, err)
	assert.NotEqual(t, da, db)

	// With mode excluded the trees are indistinguishable.
	opts := DefaultOptions()
	opts.Mode = false
	da, err = Hash(a, opts)
	require.NoError(t, err)
	db, err = Hash(b, opts)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestHashSkipsArtifacts(t *testing.T) {
	a := t.TempDir()
	writeTree(t, a, map[string]string{"f": "data"})
	b := t.TempDir()
	writeTree(t, b, map[string]string{"f": "data", "lost+found/junk": "x"})

	da, err := Hash(a, DefaultOptions())
	require.NoError(t, err)
	db, err := Hash(b, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestHashCustomSkip(t *testing.T) {
	a := t.TempDir()
	writeTree(t, a, map[string]string{"f": "data", "tmp/scratch": "x"})
	b := t.TempDir()
	writeTree(t, b, map[string]string{"f": "data"})

	opts := DefaultOptions()
	opts.Skip = append(opts.Skip, regexp.MustCompile(`^tmp(/|$)`))

	da, err := Hash(a, opts)
	require.NoError(t, err)
	db, err := Hash(b, opts)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestHardlinksHashByIdentity(t *testing.T) {
	a := t.TempDir()
	writeTree(t, a, map[string]string{"f": "data"})
	require.NoError(t, os.Link(filepath.Join(a, "f"), filepath.Join(a, "g")))

	// Same names and content written independently: link count differs
	// underneath, the digest must not.
	b := t.TempDir()
	writeTree(t, b, map[string]string{"f": "data", "g": "data"})

	da, err := Hash(a, DefaultOptions())
	require.NoError(t, err)
	db, err := Hash(b, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, da, db)

	opts := DefaultOptions()
	opts.Nlink = true
	da, err = Hash(a, opts)
	require.NoError(t, err)
	db, err = Hash(b, opts)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestBuildManifest(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"d/f": "hello"})

	s, err := Build(root, DefaultOptions())
	require.NoError(t, err)

	var paths []string
	for _, e := range s.Entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/", "/d", "/d/f"}, paths)

	f := s.Entries[2]
	assert.Equal(t, "file", f.Kind)
	assert.Equal(t, uint64(5), f.Size)
	assert.NotEmpty(t, f.Digest)

	d, err := s.RootDigest()
	require.NoError(t, err)
	assert.Equal(t, s.Digest, d.String())
}

func TestStateSaveLoadAndDiff(t *testing.T) {
	rootA := t.TempDir()
	writeTree(t, rootA, map[string]string{"f": "data", "only-a": "x"})
	rootB := t.TempDir()
	writeTree(t, rootB, map[string]string{"f": "DATA", "only-b": "x"})

	a, err := Build(rootA, DefaultOptions())
	require.NoError(t, err)
	b, err := Build(rootB, DefaultOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, a.Save(path))
	loaded, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, a, loaded)

	diffs := DiffStates(a, b)
	assert.Len(t, diffs, 4, "root digest, /f content, and one orphan per side")
	assert.Empty(t, DiffStates(a, a))
}
