package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Local runs everything on this machine. Used in native mode, where the
// operator accepts that a kernel target can take the whole host down.
type Local struct{}

// NewLocal returns a local runner.
func NewLocal() *Local { return &Local{} }

func (*Local) Exec(ctx context.Context, name string, args ...string) (ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("exec %s: %w", name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("exec %s: %w", name, err)
	}
	return res, nil
}

func (*Local) WriteFile(path string, data []byte, mode os.FileMode) error {
	return os.WriteFile(path, data, mode)
}

func (*Local) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (*Local) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (*Local) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (*Local) Alive(context.Context) error { return nil }

func (*Local) Close() error { return nil }
