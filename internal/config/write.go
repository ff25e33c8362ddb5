package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Write encodes cfg to path as TOML, creating the parent directory if
// needed. Used to emit a starter config a campaign can be edited from.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// MarshalText implements encoding.TextMarshaler so durations round-trip
// through Write as "30s" strings.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
