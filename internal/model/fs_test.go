package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsdiff/internal/workload"
)

func TestCreateAndMkDir(t *testing.T) {
	fs := New()

	require.NoError(t, fs.MkDir("/a"))
	require.NoError(t, fs.Create("/a/f"))

	assert.ErrorIs(t, fs.Create("/a/f"), ErrExists)
	assert.ErrorIs(t, fs.MkDir("/a"), ErrExists)
	assert.ErrorIs(t, fs.Create("/missing/f"), ErrNotFound)
	assert.ErrorIs(t, fs.MkDir("/a/f/sub"), ErrNotDir)

	assert.Equal(t, []string{"/", "/a"}, fs.Dirs())
	assert.Equal(t, []string{"/a/f"}, fs.Files())
}

func TestBadPaths(t *testing.T) {
	fs := New()

	assert.ErrorIs(t, fs.Create("relative"), ErrBadPath)
	assert.ErrorIs(t, fs.Create("/a/"), ErrBadPath)
	assert.ErrorIs(t, fs.Create("/a//b"), ErrBadPath)
	assert.ErrorIs(t, fs.Create("/../x"), ErrBadPath)
	assert.ErrorIs(t, fs.Create("/"), ErrRootImmutable)
	assert.ErrorIs(t, fs.Remove("/"), ErrRootImmutable)
}

func TestRemove(t *testing.T) {
	fs := New()
	require.NoError(t, fs.MkDir("/d"))
	require.NoError(t, fs.Create("/d/f"))

	assert.ErrorIs(t, fs.Remove("/d"), ErrDirNotEmpty)
	require.NoError(t, fs.Remove("/d/f"))
	require.NoError(t, fs.Remove("/d"))
	assert.ErrorIs(t, fs.Remove("/d"), ErrNotFound)
}

func TestRemoveOpenFileThenParentDir(t *testing.T) {
	fs := New()
	require.NoError(t, fs.MkDir("/1"))
	require.NoError(t, fs.Create("/1/2"))

	fd, err := fs.Open("/1/2")
	require.NoError(t, err)

	// Unlink keeps the descriptor usable and empties the directory.
	require.NoError(t, fs.Remove("/1/2"))
	require.NoError(t, fs.Remove("/1"))
	require.NoError(t, fs.FSync(fd))
	require.NoError(t, fs.Close(fd))
}

func TestHardlink(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Create("/f"))
	require.NoError(t, fs.MkDir("/d"))

	require.NoError(t, fs.Hardlink("/f", "/d/g"))
	assert.ErrorIs(t, fs.Hardlink("/f", "/d/g"), ErrExists)
	assert.ErrorIs(t, fs.Hardlink("/d", "/d2"), ErrNotFile)
	assert.ErrorIs(t, fs.Hardlink("/missing", "/x"), ErrNotFound)

	// Both names stay live after removing one link.
	require.NoError(t, fs.Remove("/f"))
	assert.Equal(t, []string{"/d/g"}, fs.Files())
}

func TestRename(t *testing.T) {
	fs := New()
	require.NoError(t, fs.MkDir("/a"))
	require.NoError(t, fs.MkDir("/b"))
	require.NoError(t, fs.Create("/a/f"))
	require.NoError(t, fs.Create("/b/g"))

	// Replace an existing file destination.
	require.NoError(t, fs.Rename("/a/f", "/b/g"))
	assert.Equal(t, []string{"/b/g"}, fs.Files())

	// Replace an existing empty directory destination.
	require.NoError(t, fs.Rename("/a", "/c"))
	require.NoError(t, fs.MkDir("/a"))
	require.NoError(t, fs.Rename("/a", "/c"))

	assert.ErrorIs(t, fs.Rename("/c", "/b"), ErrDirNotEmpty)
	assert.ErrorIs(t, fs.Rename("/c", "/b/g"), ErrNotDir)
	assert.ErrorIs(t, fs.Rename("/b/g", "/c"), ErrNotFile)
	assert.ErrorIs(t, fs.Rename("/c", "/c/inner"), ErrRenameIntoSelf)
	assert.ErrorIs(t, fs.Rename("/missing", "/x"), ErrNotFound)
	assert.NoError(t, fs.Rename("/c", "/c"))
}

func TestDescriptors(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Create("/f"))

	fd, err := fs.Open("/f")
	require.NoError(t, err)
	assert.Equal(t, workload.Fd(0), fd)
	assert.True(t, fs.DescriptorOpen(fd))

	_, err = fs.Open("/f")
	assert.ErrorIs(t, err, ErrFileOpen)

	require.NoError(t, fs.Write(fd, 100))
	require.NoError(t, fs.Read(fd, 4096))
	require.NoError(t, fs.Close(fd))

	assert.ErrorIs(t, fs.Close(fd), ErrDescriptorClosed)
	assert.ErrorIs(t, fs.Write(fd, 1), ErrDescriptorClosed)
	assert.ErrorIs(t, fs.Close(workload.Fd(9)), ErrBadDescriptor)

	// Descriptors are never reused.
	fd2, err := fs.Open("/f")
	require.NoError(t, err)
	assert.Equal(t, workload.Fd(1), fd2)
}

func TestOpenErrors(t *testing.T) {
	fs := New()
	require.NoError(t, fs.MkDir("/d"))

	_, err := fs.Open("/d")
	assert.ErrorIs(t, err, ErrNotFile)
	_, err = fs.Open("/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyEnforcesRecordedDescriptor(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Create("/f"))

	err := fs.Apply(workload.Op{Kind: workload.KindOpen, Path: "/f", Fd: 3})
	assert.ErrorIs(t, err, ErrBadDescriptor)
	require.NoError(t, fs.Apply(workload.Op{Kind: workload.KindOpen, Path: "/f", Fd: 0}))
}

func TestReplay(t *testing.T) {
	w := workload.Workload{Ops: []workload.Op{
		{Kind: workload.KindMkDir, Path: "/1"},
		{Kind: workload.KindCreate, Path: "/1/2"},
		{Kind: workload.KindOpen, Path: "/1/2", Fd: 0},
		{Kind: workload.KindRemove, Path: "/1/2"},
		{Kind: workload.KindRemove, Path: "/1"},
		{Kind: workload.KindClose, Fd: 0},
	}}

	fs, err := Replay(w)
	require.NoError(t, err)
	assert.Empty(t, fs.Files())
	assert.Equal(t, []string{"/"}, fs.Dirs())

	w.Ops = append(w.Ops, workload.Op{Kind: workload.KindClose, Fd: 0})
	_, err = Replay(w)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDescriptorClosed)
}

func TestCloneIsIndependent(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Create("/f"))

	c := fs.Clone()
	require.NoError(t, c.Remove("/f"))

	assert.Equal(t, []string{"/f"}, fs.Files())
	assert.Empty(t, c.Files())
}

func TestValidDoesNotMutate(t *testing.T) {
	fs := New()
	op := workload.Op{Kind: workload.KindCreate, Path: "/f"}

	assert.True(t, fs.Valid(op))
	assert.True(t, fs.Valid(op), "checking validity must not apply the op")
	assert.False(t, fs.Valid(workload.Op{Kind: workload.KindClose, Fd: 0}))
}
