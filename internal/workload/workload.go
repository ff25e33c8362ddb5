// Package workload defines the fuzzer's input representation: an ordered,
// namespace-valid sequence of filesystem operations.
package workload

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// TestFileName is the canonical name for a workload saved as JSON inside
// a corpus or bug-report directory.
const TestFileName = "test.json"

// Workload is an ordered sequence of operations executed as one test.
// Workloads are value objects: mutation produces a new Workload and never
// modifies the parent in place.
type Workload struct {
	Ops []Op `json:"ops" msgpack:"ops"`
}

// Clone returns a deep copy.
func (w Workload) Clone() Workload {
	ops := make([]Op, len(w.Ops))
	copy(ops, w.Ops)
	return Workload{Ops: ops}
}

// Len returns the operation count.
func (w Workload) Len() int { return len(w.Ops) }

// Name derives a stable, filesystem-safe identifier from the workload
// content. Equal workloads always get equal names.
func (w Workload) Name() string {
	data, err := json.Marshal(w)
	if err != nil {
		// Op contains only plain fields; Marshal cannot fail.
		panic(err)
	}
	sum := blake3.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}

func (w Workload) String() string {
	return fmt.Sprintf("workload %s (%d ops)", w.Name(), len(w.Ops))
}

// Save writes the workload as indented JSON.
func (w Workload) Save(path string) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workload: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save workload %s: %w", path, err)
	}
	return nil
}

// Load reads a workload saved by Save.
func Load(path string) (Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Workload{}, fmt.Errorf("read workload %s: %w", path, err)
	}
	var w Workload
	if err := json.Unmarshal(data, &w); err != nil {
		return Workload{}, fmt.Errorf("parse workload %s: %w", path, err)
	}
	return w, nil
}

// EncodeBinary serializes the workload in the compact corpus format.
func (w Workload) EncodeBinary() ([]byte, error) {
	data, err := msgpack.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode workload: %w", err)
	}
	return data, nil
}

// DecodeBinary parses a workload encoded with EncodeBinary.
func DecodeBinary(data []byte) (Workload, error) {
	var w Workload
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Workload{}, fmt.Errorf("decode workload: %w", err)
	}
	return w, nil
}
