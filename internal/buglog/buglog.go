// Package buglog keeps a SQLite ledger of every confirmed divergence, so
// long campaigns deduplicate findings across restarts and report
// directories stay joinable to their provenance.
package buglog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded divergence.
type Entry struct {
	// ID is the divergence signature; two runs tripping the same bug get
	// the same ID.
	ID string
	// Kind is the verdict class: return-mismatch, state-mismatch, crash.
	Kind     string
	FirstFS  string
	SecondFS string
	// OpIndex is the diverging operation for return mismatches, -1
	// otherwise.
	OpIndex int
	// Accident marks both-sides-failed divergences.
	Accident bool
	// Dir is the report directory holding the artifacts.
	Dir string
	// Workload is the reduced workload's content name.
	Workload  string
	CreatedAt time.Time
}

// DB is the ledger handle. All access goes through the single fuzzing
// loop; no internal locking.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	d := &DB{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS bugs (
			id        TEXT PRIMARY KEY,
			kind      TEXT NOT NULL,
			fs_first  TEXT NOT NULL,
			fs_second TEXT NOT NULL,
			op_index  INTEGER NOT NULL,
			accident  INTEGER NOT NULL,
			dir       TEXT NOT NULL,
			workload  TEXT NOT NULL,
			created   INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Record inserts an entry, reporting whether it was new. A duplicate ID
// leaves the existing row untouched.
func (d *DB) Record(e Entry) (bool, error) {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := d.db.Exec(`
		INSERT OR IGNORE INTO bugs
			(id, kind, fs_first, fs_second, op_index, accident, dir, workload, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.FirstFS, e.SecondFS, e.OpIndex,
		boolToInt(e.Accident), e.Dir, e.Workload, created.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("record bug %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record bug %s: %w", e.ID, err)
	}
	return n > 0, nil
}

// Seen reports whether a divergence signature is already in the ledger.
func (d *DB) Seen(id string) (bool, error) {
	var one int
	err := d.db.QueryRow("SELECT 1 FROM bugs WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup bug %s: %w", id, err)
	}
	return true, nil
}

// List returns every recorded divergence, newest first.
func (d *DB) List() ([]Entry, error) {
	rows, err := d.db.Query(`
		SELECT id, kind, fs_first, fs_second, op_index, accident, dir, workload, created
		FROM bugs ORDER BY created DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			accident int
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.FirstFS, &e.SecondFS,
			&e.OpIndex, &accident, &e.Dir, &e.Workload, &created); err != nil {
			return nil, fmt.Errorf("scan bug row: %w", err)
		}
		e.Accident = accident != 0
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) Close() error { return d.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
