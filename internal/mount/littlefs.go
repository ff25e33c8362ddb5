package mount

import (
	"context"
	"fmt"

	"fsdiff/internal/remote"
)

func init() {
	register("littlefs", func() Filesystem { return &littleFS{binary: "lfs"} })
}

// littleFS mounts littlefs-fuse on a block device. The FUSE daemon keeps
// running for the lifetime of the mount; unmounting stops it.
type littleFS struct {
	binary string
}

func (l *littleFS) Name() string { return "littlefs" }

func (l *littleFS) Setup(ctx context.Context, run remote.Runner, device, target string) error {
	res, err := run.Exec(ctx, l.binary, "--format", device)
	if err != nil {
		return fmt.Errorf("format littlefs on %s: %w", device, err)
	}
	if !res.Ok() {
		return fmt.Errorf("format littlefs on %s: %s", device, res.Stderr)
	}
	if err := run.MkdirAll(target); err != nil {
		return fmt.Errorf("create mountpoint %s: %w", target, err)
	}
	res, err = run.Exec(ctx, l.binary, device, target)
	if err != nil {
		return fmt.Errorf("mount littlefs on %s: %w", target, err)
	}
	if !res.Ok() {
		return fmt.Errorf("mount littlefs on %s: %s", target, res.Stderr)
	}
	return nil
}

func (l *littleFS) Teardown(ctx context.Context, run remote.Runner, target string) error {
	res, err := run.Exec(ctx, "fusermount", "-u", target)
	if err != nil {
		return fmt.Errorf("fusermount %s: %w", target, err)
	}
	if !res.Ok() {
		// Fall back to a plain umount for setups without fusermount.
		return unmount(ctx, run, target)
	}
	return nil
}
