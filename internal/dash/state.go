package dash

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileName is the canonical state file name inside a run directory.
const FileName = "state.json"

var errMalformedDigest = errors.New("malformed digest")

// Entry is one visible node of the hashed subtree.
type Entry struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Size   uint64 `json:"size,omitempty"`
	Mode   uint32 `json:"mode,omitempty"`
	Nlink  uint64 `json:"nlink,omitempty"`
	UID    uint32 `json:"uid,omitempty"`
	GID    uint32 `json:"gid,omitempty"`
	Digest string `json:"digest"`
}

// State is the full abstract state of a subtree: its root digest plus the
// per-entry manifest the bug reporter renders for humans. Entries are
// sorted by path.
type State struct {
	Digest  string  `json:"digest"`
	Entries []Entry `json:"entries"`
}

// RootDigest returns the parsed root digest.
func (s *State) RootDigest() (Digest, error) {
	return ParseDigest(s.Digest)
}

// Save writes the state as indented JSON.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save state %s: %w", path, err)
	}
	return nil
}

// LoadState reads a state written by Save.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return &s, nil
}

// DiffStates lists human-readable differences between two states, one
// line per diverging path. Equal states produce nil.
func DiffStates(a, b *State) []string {
	var out []string
	am := entryMap(a)
	bm := entryMap(b)
	for _, e := range a.Entries {
		other, ok := bm[e.Path]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("only in first: %s (%s)", e.Path, e.Kind))
		case e != other:
			out = append(out, fmt.Sprintf("differs: %s (%s vs %s)", e.Path, describe(e), describe(other)))
		}
	}
	for _, e := range b.Entries {
		if _, ok := am[e.Path]; !ok {
			out = append(out, fmt.Sprintf("only in second: %s (%s)", e.Path, e.Kind))
		}
	}
	return out
}

func entryMap(s *State) map[string]Entry {
	m := make(map[string]Entry, len(s.Entries))
	for _, e := range s.Entries {
		m[e.Path] = e
	}
	return m
}

func describe(e Entry) string {
	return fmt.Sprintf("%s size=%d mode=%o digest=%.8s", e.Kind, e.Size, e.Mode, e.Digest)
}
