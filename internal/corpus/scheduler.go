package corpus

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Scheduler picks the next seed to mutate and records execution results.
type Scheduler interface {
	// Select returns the next entry, or nil when the corpus is empty.
	Select(c *Corpus, rng *rand.Rand) *Entry
	// Record updates an entry's bookkeeping after a run.
	Record(e *Entry, cost time.Duration, foundNew bool)
}

// NewScheduler builds the scheduler named in configuration.
func NewScheduler(kind string, mConstant float64) (Scheduler, error) {
	switch kind {
	case "FAST", "":
		return NewFast(mConstant), nil
	case "QUEUE":
		return &Queue{}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", kind)
	}
}

// Fast is a power schedule favoring under-explored, cheap seeds. A seed
// whose last run found fresh coverage gets its energy boosted by a
// constant factor.
type Fast struct {
	// MConstant multiplies the energy of seeds that just found coverage.
	MConstant float64
}

// NewFast returns a FAST scheduler. mConstant below 1 is lifted to the
// conventional default of 8.
func NewFast(mConstant float64) *Fast {
	if mConstant < 1 {
		mConstant = 8
	}
	return &Fast{MConstant: mConstant}
}

// Energy derives an entry's selection weight. It shrinks with every
// selection and with execution cost relative to the corpus average.
func (f *Fast) Energy(c *Corpus, e *Entry) float64 {
	boost := 1.0
	if e.FoundNew {
		boost = f.MConstant
	}
	costFactor := 1.0
	if avg := c.avgCost(); avg > 0 && e.Cost > 0 {
		costFactor = float64(e.Cost) / float64(avg)
		if costFactor < 0.1 {
			costFactor = 0.1
		}
	}
	return boost / (float64(1+e.TimesChosen) * costFactor)
}

// Select draws an entry with probability proportional to energy. The
// scan runs newest to oldest so that when all mass is equal, or the
// draw degenerates, the most recently added seed wins.
func (f *Fast) Select(c *Corpus, rng *rand.Rand) *Entry {
	entries := c.Entries()
	if len(entries) == 0 {
		return nil
	}
	var total float64
	for _, e := range entries {
		total += f.Energy(c, e)
	}
	if total <= 0 {
		return c.Newest()
	}
	r := rng.Float64() * total
	for i := len(entries) - 1; i >= 0; i-- {
		r -= f.Energy(c, entries[i])
		if r < 0 {
			return entries[i]
		}
	}
	return entries[0]
}

func (f *Fast) Record(e *Entry, cost time.Duration, foundNew bool) {
	e.TimesChosen++
	e.Cost = cost
	e.FoundNew = foundNew
}

// Queue cycles through the corpus in insertion order, ignoring energy.
// Used for seed replay and as a baseline against FAST.
type Queue struct {
	next int
}

func (q *Queue) Select(c *Corpus, rng *rand.Rand) *Entry {
	entries := c.Entries()
	if len(entries) == 0 {
		return nil
	}
	if q.next >= len(entries) {
		q.next = 0
	}
	e := entries[q.next]
	q.next++
	return e
}

func (q *Queue) Record(e *Entry, cost time.Duration, foundNew bool) {
	e.TimesChosen++
	e.Cost = cost
	e.FoundNew = foundNew
}
