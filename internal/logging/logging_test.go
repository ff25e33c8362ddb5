package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsdiff/internal/config"
	"fsdiff/internal/logging"
)

// The campaign logger writes the same record twice: human-readable text
// for the operator's terminal, JSON for the on-disk campaign log.
func TestMultiHandler_OperatorAndDiskSeeSameRecord(t *testing.T) {
	t.Parallel()

	var term, disk bytes.Buffer
	termH := slog.NewTextHandler(&term, &slog.HandlerOptions{Level: slog.LevelInfo})
	diskH := slog.NewJSONHandler(&disk, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(logging.NewMultiHandler(termH, diskH))
	logger.Info("divergence archived", "kind", "state-mismatch", "dir", "reports/state-mismatch-a1b2c3")

	assert.Contains(t, term.String(), "divergence archived")
	assert.Contains(t, term.String(), "kind=state-mismatch")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(disk.Bytes(), &rec))
	assert.Equal(t, "divergence archived", rec["msg"])
	assert.Equal(t, "state-mismatch", rec["kind"])
	assert.Equal(t, "reports/state-mismatch-a1b2c3", rec["dir"])
}

// Per-run debug chatter stays out of a warn-level terminal but still
// reaches the campaign log, which always records at debug.
func TestMultiHandler_EachHandlerKeepsItsLevel(t *testing.T) {
	t.Parallel()

	var campaignLog, term bytes.Buffer
	debugH := slog.NewTextHandler(&campaignLog, &slog.HandlerOptions{Level: slog.LevelDebug})
	warnH := slog.NewTextHandler(&term, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(logging.NewMultiHandler(debugH, warnH))
	logger.Debug("reduction step", "from", 24, "to", 12)
	logger.Warn("heartbeat failed")

	assert.Contains(t, campaignLog.String(), "reduction step")
	assert.Contains(t, campaignLog.String(), "heartbeat failed")

	assert.NotContains(t, term.String(), "reduction step")
	assert.Contains(t, term.String(), "heartbeat failed")
}

func TestMultiHandler_EnabledIfAnyHandlerIs(t *testing.T) {
	t.Parallel()

	warnH := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	errH := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError})

	m := logging.NewMultiHandler(warnH, errH)

	assert.True(t, m.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, m.Enabled(context.Background(), slog.LevelError))
	assert.False(t, m.Enabled(context.Background(), slog.LevelInfo))
}

// Attrs bound once (like the campaign seed) must reach every fan-out
// destination on every later record.
func TestMultiHandler_BoundAttrsPropagate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	m := logging.NewMultiHandler(h)
	logger := slog.New(m.WithAttrs([]slog.Attr{slog.Uint64("seed", 42)}))

	logger.Info("campaign starting")
	assert.Contains(t, buf.String(), "seed=42")
}

func TestMultiHandler_GroupsPropagate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	m := logging.NewMultiHandler(h)
	logger := slog.New(m.WithGroup("verdict"))

	logger.Info("run finished", "kind", "return-mismatch", "index", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec))
	group, ok := rec["verdict"].(map[string]any)
	require.True(t, ok, "expected group 'verdict' in JSON output")
	assert.Equal(t, "return-mismatch", group["kind"])
	assert.EqualValues(t, 7, group["index"])
}

func TestSetupWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsdiff.log")
	logger := logging.Setup(config.LogConfig{File: path, Level: "info", MaxSizeMB: 1}, false, true)

	// Quiet raises the terminal to warn, but the file handler still
	// records debug.
	logger.Debug("progress", "runs", 100)
	logger.Warn("target crashed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "progress")
	assert.Contains(t, string(data), "target crashed")
}
