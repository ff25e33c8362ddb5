// Package agent executes a workload against a real mounted filesystem
// and records the trace, state digest and coverage dump the fuzzer
// compares. It is the only component that runs on the target side; the
// fuzzer invokes it through a hidden subcommand, locally or over SSH.
package agent

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"fsdiff/internal/dash"
	"fsdiff/internal/trace"
	"fsdiff/internal/workload"
)

// sourceLen is the size of the deterministic write source buffer. WRITE
// offsets wrap around it, so every target writes identical bytes for
// identical operations.
const sourceLen = 1 << 20

var source = func() []byte {
	buf := make([]byte, sourceLen)
	for i := range buf {
		buf[i] = byte(i % 256)
	}
	return buf
}()

// sourceSlice returns size deterministic bytes starting at off, wrapping.
func sourceSlice(off, size uint64) []byte {
	out := make([]byte, size)
	pos := off % sourceLen
	for n := uint64(0); n < size; {
		c := copy(out[n:], source[pos:])
		n += uint64(c)
		pos = 0
	}
	return out
}

// Execute replays w under root, one syscall per operation. Failures are
// recorded, never fatal: a real filesystem is allowed to refuse what the
// model accepted, and that difference is exactly what the oracle wants
// to see. Descriptors left open at the end are closed.
func Execute(root string, w workload.Workload) trace.Trace {
	fds := map[workload.Fd]int{}
	defer func() {
		for _, osfd := range fds {
			unix.Close(osfd)
		}
	}()

	var t trace.Trace
	for i, op := range w.Ops {
		row := trace.Row{Index: i, Command: op.String()}
		ret, extra, err := apply(root, fds, op)
		row.Ret = ret
		row.Extra = extra
		if err != nil {
			row.Ret = -1
			row.Errno = toErrno(err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func apply(root string, fds map[workload.Fd]int, op workload.Op) (int64, string, error) {
	switch op.Kind {
	case workload.KindCreate:
		fd, err := unix.Open(join(root, op.Path), unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY, 0644)
		if err != nil {
			return 0, "", err
		}
		unix.Close(fd)
		return 0, "", nil

	case workload.KindMkDir:
		return 0, "", unix.Mkdir(join(root, op.Path), 0755)

	case workload.KindRemove:
		path := join(root, op.Path)
		err := unix.Unlink(path)
		if err == unix.EISDIR {
			err = unix.Rmdir(path)
		}
		return 0, "", err

	case workload.KindHardlink:
		return 0, "", unix.Link(join(root, op.Path), join(root, op.NewPath))

	case workload.KindRename:
		return 0, "", unix.Rename(join(root, op.Path), join(root, op.NewPath))

	case workload.KindOpen:
		fd, err := unix.Open(join(root, op.Path), unix.O_RDWR, 0)
		if err != nil {
			return 0, "", err
		}
		fds[op.Fd] = fd
		return int64(op.Fd), "", nil

	case workload.KindClose:
		osfd, ok := fds[op.Fd]
		if !ok {
			return 0, "", unix.EBADF
		}
		delete(fds, op.Fd)
		return 0, "", unix.Close(osfd)

	case workload.KindWrite:
		osfd, ok := fds[op.Fd]
		if !ok {
			return 0, "", unix.EBADF
		}
		n, err := unix.Write(osfd, sourceSlice(op.SrcOffset, op.Size))
		return int64(n), "", err

	case workload.KindRead:
		osfd, ok := fds[op.Fd]
		if !ok {
			return 0, "", unix.EBADF
		}
		buf := make([]byte, op.Size)
		n, err := unix.Read(osfd, buf)
		if err != nil {
			return int64(n), "", err
		}
		sum := blake3.Sum256(buf[:n])
		return int64(n), hex.EncodeToString(sum[:8]), nil

	case workload.KindFSync:
		osfd, ok := fds[op.Fd]
		if !ok {
			return 0, "", unix.EBADF
		}
		return 0, "", unix.Fsync(osfd)
	}
	return 0, "", unix.EINVAL
}

func join(root, path string) string {
	return filepath.Join(root, path)
}

func toErrno(err error) trace.Errno {
	if errno, ok := err.(unix.Errno); ok {
		name := unix.ErrnoName(errno)
		if name == "" {
			name = fmt.Sprintf("E%d", int(errno))
		}
		return trace.Errno{Name: name, Code: int(errno)}
	}
	return trace.Errno{Name: "EUNKNOWN", Code: -1}
}

// Options configures one agent invocation.
type Options struct {
	// Root is the mounted filesystem under test.
	Root string
	// WorkloadPath is the test.json to execute.
	WorkloadPath string
	// OutDir receives trace.csv, state.json and cover.txt.
	OutDir string
	// HashOptions selects the metadata the state digest covers.
	HashOptions dash.Options
	// KCov enables kernel coverage collection around the run.
	KCov bool
}

// Run executes a saved workload and writes every artifact the fuzzer
// reads back.
func Run(opts Options) error {
	w, err := workload.Load(opts.WorkloadPath)
	if err != nil {
		return err
	}

	var kcov *KCov
	if opts.KCov {
		kcov, err = OpenKCov()
		if err != nil {
			return fmt.Errorf("enable kcov: %w", err)
		}
		defer kcov.Close()
		if err := kcov.Enable(); err != nil {
			return fmt.Errorf("enable kcov: %w", err)
		}
	}

	t := Execute(opts.Root, w)

	var pcs []uint64
	if kcov != nil {
		pcs = kcov.Collect()
		kcov.Disable()
	}

	if err := t.Save(filepath.Join(opts.OutDir, trace.FileName)); err != nil {
		return err
	}
	state, err := dash.Build(opts.Root, opts.HashOptions)
	if err != nil {
		return fmt.Errorf("hash state: %w", err)
	}
	if err := state.Save(filepath.Join(opts.OutDir, dash.FileName)); err != nil {
		return err
	}
	if kcov != nil {
		if err := writeCover(filepath.Join(opts.OutDir, "cover.txt"), pcs); err != nil {
			return err
		}
	}
	return nil
}
