package mount

import (
	"context"
	"fmt"

	"fsdiff/internal/remote"
)

func init() {
	register("ext4", func() Filesystem {
		return &blockFS{name: "ext4", mkfs: "mkfs.ext4", mkfsArgs: []string{"-F", "-q"}}
	})
	register("ext2", func() Filesystem {
		return &blockFS{name: "ext2", mkfs: "mkfs.ext2", mkfsArgs: []string{"-F", "-q"}}
	})
	register("btrfs", func() Filesystem {
		return &blockFS{name: "btrfs", mkfs: "mkfs.btrfs", mkfsArgs: []string{"-f", "-q"}}
	})
	register("f2fs", func() Filesystem {
		return &blockFS{name: "f2fs", mkfs: "mkfs.f2fs", mkfsArgs: []string{"-f", "-q"}}
	})
	register("xfs", func() Filesystem {
		return &blockFS{name: "xfs", mkfs: "mkfs.xfs", mkfsArgs: []string{"-f", "-q"}}
	})
}

// blockFS is a kernel block filesystem: mkfs the device, mount it with
// the in-kernel driver.
type blockFS struct {
	name     string
	mkfs     string
	mkfsArgs []string
}

func (b *blockFS) Name() string { return b.name }

func (b *blockFS) Setup(ctx context.Context, run remote.Runner, device, target string) error {
	args := append(append([]string(nil), b.mkfsArgs...), device)
	res, err := run.Exec(ctx, b.mkfs, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", b.mkfs, device, err)
	}
	if !res.Ok() {
		return fmt.Errorf("%s %s: %s", b.mkfs, device, res.Stderr)
	}
	if err := run.MkdirAll(target); err != nil {
		return fmt.Errorf("create mountpoint %s: %w", target, err)
	}
	res, err = run.Exec(ctx, "mount", "-t", b.name, device, target)
	if err != nil {
		return fmt.Errorf("mount %s on %s: %w", device, target, err)
	}
	if !res.Ok() {
		return fmt.Errorf("mount %s on %s: %s", device, target, res.Stderr)
	}
	return nil
}

func (b *blockFS) Teardown(ctx context.Context, run remote.Runner, target string) error {
	return unmount(ctx, run, target)
}
