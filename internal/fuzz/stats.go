package fuzz

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats tracks campaign counters with lock-free atomics. The fuzzing
// loop writes; the heartbeat logger reads concurrently.
type Stats struct {
	runs             atomic.Int64
	agreements       atomic.Int64
	returnMismatches atomic.Int64
	stateMismatches  atomic.Int64
	crashes          atomic.Int64
	accidents        atomic.Int64
	duplicates       atomic.Int64
	corpusSize       atomic.Int64
	coverageSize     atomic.Int64
	startTime        time.Time
}

// NewStats returns a collector with the campaign start set to now.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) AddRun()            { s.runs.Add(1) }
func (s *Stats) AddAgreement()      { s.agreements.Add(1) }
func (s *Stats) AddReturnMismatch() { s.returnMismatches.Add(1) }
func (s *Stats) AddStateMismatch()  { s.stateMismatches.Add(1) }
func (s *Stats) AddCrash()          { s.crashes.Add(1) }
func (s *Stats) AddAccident()       { s.accidents.Add(1) }
func (s *Stats) AddDuplicate()      { s.duplicates.Add(1) }

func (s *Stats) SetCorpusSize(n int)   { s.corpusSize.Store(int64(n)) }
func (s *Stats) SetCoverageSize(n int) { s.coverageSize.Store(int64(n)) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Runs             int64
	Agreements       int64
	ReturnMismatches int64
	StateMismatches  int64
	Crashes          int64
	Accidents        int64
	Duplicates       int64
	CorpusSize       int64
	CoverageSize     int64
	Elapsed          time.Duration
}

// Snapshot reads every counter at once.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Runs:             s.runs.Load(),
		Agreements:       s.agreements.Load(),
		ReturnMismatches: s.returnMismatches.Load(),
		StateMismatches:  s.stateMismatches.Load(),
		Crashes:          s.crashes.Load(),
		Accidents:        s.accidents.Load(),
		Duplicates:       s.duplicates.Load(),
		CorpusSize:       s.corpusSize.Load(),
		CoverageSize:     s.coverageSize.Load(),
		Elapsed:          time.Since(s.startTime),
	}
}

// Bugs counts unique divergences found so far.
func (s Snapshot) Bugs() int64 {
	return s.ReturnMismatches + s.StateMismatches + s.Crashes
}

// RunsPerSec is the campaign-average execution rate.
func (s Snapshot) RunsPerSec() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Runs) / secs
}

func (s Snapshot) String() string {
	return fmt.Sprintf("runs=%d (%.1f/s) bugs=%d (ret=%d state=%d crash=%d) accidents=%d dup=%d corpus=%d cover=%d",
		s.Runs, s.RunsPerSec(), s.Bugs(), s.ReturnMismatches, s.StateMismatches,
		s.Crashes, s.Accidents, s.Duplicates, s.CorpusSize, s.CoverageSize)
}
