package buglog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "bugs", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenConfiguresJournal(t *testing.T) {
	db := openTestDB(t)

	var mode string
	require.NoError(t, db.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestRecordAndSeen(t *testing.T) {
	db := openTestDB(t)

	e := Entry{
		ID:       "sig-1",
		Kind:     "return-mismatch",
		FirstFS:  "ext4",
		SecondFS: "littlefs",
		OpIndex:  4,
		Dir:      "/bugs/sig-1",
		Workload: "abc123",
	}

	fresh, err := db.Record(e)
	require.NoError(t, err)
	assert.True(t, fresh)

	seen, err := db.Seen("sig-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = db.Seen("sig-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRecordDeduplicates(t *testing.T) {
	db := openTestDB(t)
	e := Entry{ID: "sig-1", Kind: "crash", FirstFS: "ext4", SecondFS: "btrfs", OpIndex: -1}

	fresh, err := db.Record(e)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = db.Record(e)
	require.NoError(t, err)
	assert.False(t, fresh, "same signature must not insert twice")

	list, err := db.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListOrder(t *testing.T) {
	db := openTestDB(t)
	old := Entry{ID: "old", Kind: "crash", OpIndex: -1, CreatedAt: time.Unix(1000, 0)}
	recent := Entry{ID: "recent", Kind: "state-mismatch", OpIndex: -1, CreatedAt: time.Unix(2000, 0)}

	_, err := db.Record(old)
	require.NoError(t, err)
	_, err = db.Record(recent)
	require.NoError(t, err)

	list, err := db.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "recent", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	assert.False(t, list[1].Accident)
	assert.Equal(t, time.Unix(1000, 0), list[1].CreatedAt)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Record(Entry{ID: "sig-1", Kind: "crash", OpIndex: -1})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	seen, err := db.Seen("sig-1")
	require.NoError(t, err)
	assert.True(t, seen)
}
