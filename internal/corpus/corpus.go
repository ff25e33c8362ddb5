// Package corpus keeps the seed pool and the power schedule that picks
// which seed to mutate next.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fsdiff/internal/workload"
)

// Entry is one retained seed plus the bookkeeping the scheduler reads.
// Energy is always derived from these fields, never stored.
type Entry struct {
	Workload workload.Workload

	// Seq orders entries by insertion; higher is newer.
	Seq int
	// TimesChosen counts scheduler selections.
	TimesChosen int
	// Cost is the wall time of the entry's last execution.
	Cost time.Duration
	// FoundNew marks whether the last execution discovered coverage not
	// seen before anywhere.
	FoundNew bool
}

// Corpus is the in-memory seed pool. It is owned by the single fuzzing
// loop; there are no concurrent writers and no locking.
type Corpus struct {
	entries []*Entry
	nextSeq int
}

// New returns an empty corpus.
func New() *Corpus { return &Corpus{} }

// Add retains a workload and returns its entry.
func (c *Corpus) Add(w workload.Workload, cost time.Duration, foundNew bool) *Entry {
	e := &Entry{Workload: w, Seq: c.nextSeq, Cost: cost, FoundNew: foundNew}
	c.nextSeq++
	c.entries = append(c.entries, e)
	return e
}

// Remove discards an entry from the pool.
func (c *Corpus) Remove(e *Entry) {
	for i, cur := range c.entries {
		if cur == e {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of retained seeds.
func (c *Corpus) Len() int { return len(c.entries) }

// Entries returns the pool in insertion order. The slice is shared; the
// caller must not modify it.
func (c *Corpus) Entries() []*Entry { return c.entries }

// Newest returns the most recently added entry, or nil when empty.
func (c *Corpus) Newest() *Entry {
	if len(c.entries) == 0 {
		return nil
	}
	return c.entries[len(c.entries)-1]
}

// avgCost is the mean last-execution cost across the pool, used to
// normalize per-entry cost in the power schedule.
func (c *Corpus) avgCost() time.Duration {
	if len(c.entries) == 0 {
		return 0
	}
	var total time.Duration
	for _, e := range c.entries {
		total += e.Cost
	}
	return total / time.Duration(len(c.entries))
}

const entryExt = ".wl"

// SaveDir persists every entry to dir in the compact binary form, named
// by workload content so re-saving is idempotent.
func (c *Corpus) SaveDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create corpus dir: %w", err)
	}
	for _, e := range c.entries {
		if err := SaveEntry(dir, e.Workload); err != nil {
			return err
		}
	}
	return nil
}

// SaveEntry persists one workload into the corpus directory.
func SaveEntry(dir string, w workload.Workload) error {
	data, err := w.EncodeBinary()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, w.Name()+entryExt)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save corpus entry: %w", err)
	}
	return nil
}

// LoadDir reads every persisted workload from dir into a fresh corpus.
// A missing directory yields an empty corpus, not an error.
func LoadDir(dir string) (*Corpus, error) {
	c := New()
	dirents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entryExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("read corpus entry %s: %w", de.Name(), err)
		}
		w, err := workload.DecodeBinary(data)
		if err != nil {
			return nil, fmt.Errorf("corpus entry %s: %w", de.Name(), err)
		}
		c.Add(w, 0, false)
	}
	return c, nil
}
