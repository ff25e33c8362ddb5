// Package cover parses target coverage dumps and tracks the cumulative
// coverage set driving seed retention.
package cover

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// FileName is the canonical coverage dump name inside a run directory.
const FileName = "cover.txt"

// Set is a cumulative set of instrumentation points. Kernel coverage
// contributes raw program counters; userspace line coverage contributes
// hashed file:line identifiers. Both live in the same set.
type Set map[uint64]struct{}

// NewSet returns an empty coverage set.
func NewSet() Set { return Set{} }

// Merge adds pcs to the set and returns how many were new.
func (s Set) Merge(pcs []uint64) int {
	var added int
	for _, pc := range pcs {
		if _, ok := s[pc]; !ok {
			s[pc] = struct{}{}
			added++
		}
	}
	return added
}

// Contains reports whether every pc is already present.
func (s Set) Contains(pcs []uint64) bool {
	for _, pc := range pcs {
		if _, ok := s[pc]; !ok {
			return false
		}
	}
	return true
}

func (s Set) Len() int { return len(s) }

// ParseKCov reads a kernel coverage dump: one hex program counter per
// line, with or without a 0x prefix. Blank lines are ignored.
func ParseKCov(r io.Reader) ([]uint64, error) {
	var pcs []uint64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		pc, err := strconv.ParseUint(strings.TrimPrefix(line, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed coverage line %q: %w", line, err)
		}
		pcs = append(pcs, pc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read coverage: %w", err)
	}
	return pcs, nil
}

// ParseLCov reads an lcov tracefile and returns one identifier per
// executed line (DA records with a nonzero hit count), derived from the
// enclosing SF record so identifiers are stable across runs.
func ParseLCov(r io.Reader) ([]uint64, error) {
	var (
		pcs  []uint64
		file string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "SF:"):
			file = line[3:]
		case strings.HasPrefix(line, "DA:"):
			fields := strings.SplitN(line[3:], ",", 3)
			if len(fields) < 2 {
				return nil, fmt.Errorf("malformed lcov record %q", line)
			}
			hits, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed lcov record %q: %w", line, err)
			}
			if hits == 0 {
				continue
			}
			pcs = append(pcs, lineID(file, fields[0]))
		case line == "end_of_record":
			file = ""
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lcov: %w", err)
	}
	return pcs, nil
}

// lineID folds file and line into the same 64-bit space as kernel PCs.
func lineID(file, line string) uint64 {
	sum := blake3.Sum256([]byte(file + ":" + line))
	return binary.LittleEndian.Uint64(sum[:8])
}

// Parse auto-detects the dump format: lcov tracefiles start with a
// TN/SF record, everything else is treated as a PC list.
func Parse(data []byte) ([]uint64, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "TN:") || strings.HasPrefix(trimmed, "SF:") {
		return ParseLCov(strings.NewReader(trimmed))
	}
	return ParseKCov(strings.NewReader(trimmed))
}
