package trace

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() Trace {
	return Trace{Rows: []Row{
		{Index: 0, Command: "MKDIR /a", Ret: 0},
		{Index: 1, Command: "OPEN /a/f -> fd0", Ret: -1, Errno: Errno{Name: "ENOENT", Code: 2}},
		{Index: 2, Command: "CREATE /a/f", Ret: 0},
		{Index: 3, Command: "READ fd0 size=512", Ret: 512, Extra: "9f86d081"},
	}}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	tr := sampleTrace()

	var buf bytes.Buffer
	require.NoError(t, tr.Encode(&buf))
	got, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, tr, got)
}

func TestEncodeFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleTrace().Encode(&buf))

	lines := buf.String()
	assert.Contains(t, lines, "Index,Command,ReturnCode,Errno,Extra")
	assert.Contains(t, lines, "1,OPEN /a/f -> fd0,-1,ENOENT(2),")
	assert.Contains(t, lines, "3,READ fd0 size=512,512,,9f86d081")
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(bytes.NewBufferString(""))
	assert.Error(t, err)

	_, err = Parse(bytes.NewBufferString("Index,Command,ReturnCode,Errno,Extra\nx,MKDIR,0,,\n"))
	assert.Error(t, err)

	_, err = Parse(bytes.NewBufferString("Index,Command,ReturnCode,Errno,Extra\n0,MKDIR,0,EIO,\n"))
	assert.Error(t, err, "errno without code must be rejected")
}

func TestSaveLoad(t *testing.T) {
	tr := sampleTrace()
	path := filepath.Join(t.TempDir(), FileName)

	require.NoError(t, tr.Save(path))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tr, got)
}

func TestHasErrors(t *testing.T) {
	assert.True(t, sampleTrace().HasErrors())
	assert.False(t, Trace{Rows: []Row{{Ret: 0}}}.HasErrors())
}

func TestDiffAgree(t *testing.T) {
	assert.Nil(t, Diff(sampleTrace(), sampleTrace()))
}

func TestDiffSuccessClass(t *testing.T) {
	a := sampleTrace()
	b := sampleTrace()
	b.Rows[2].Ret = -1
	b.Rows[2].Errno = Errno{Name: "EEXIST", Code: 17}

	m := Diff(a, b)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Index)
}

func TestDiffErrnoMismatch(t *testing.T) {
	a := sampleTrace()
	b := sampleTrace()
	b.Rows[1].Errno = Errno{Name: "EACCES", Code: 13}

	m := Diff(a, b)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.Index)
}

func TestDiffReadContent(t *testing.T) {
	a := sampleTrace()
	b := sampleTrace()
	b.Rows[3].Extra = "deadbeef"

	m := Diff(a, b)
	require.NotNil(t, m)
	assert.Equal(t, 3, m.Index)
}

func TestDiffLengthMismatch(t *testing.T) {
	a := sampleTrace()
	b := sampleTrace()
	b.Rows = b.Rows[:3]

	m := Diff(a, b)
	require.NotNil(t, m)
	assert.Equal(t, 3, m.Index)
	assert.True(t, m.Truncated)
}
