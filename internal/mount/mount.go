// Package mount prepares and tears down the filesystems under test. All
// privileged work goes through a remote.Runner, so the same code drives a
// target inside a VM and a native-mode target on this host.
package mount

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fsdiff/internal/remote"
)

// Filesystem owns the lifecycle of one mounted target instance.
type Filesystem interface {
	// Name is the identifier used on the command line and in reports.
	Name() string
	// Setup formats device and mounts it at target, starting from a
	// clean state every time.
	Setup(ctx context.Context, run remote.Runner, device, target string) error
	// Teardown unmounts target and releases the device.
	Teardown(ctx context.Context, run remote.Runner, target string) error
}

// registry maps filesystem names to constructors.
var registry = map[string]func() Filesystem{}

func register(name string, f func() Filesystem) {
	registry[name] = f
}

// Lookup resolves a filesystem identifier from the -f/-s flags.
func Lookup(name string) (Filesystem, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown filesystem %q (known: %v)", name, Names())
	}
	return f(), nil
}

// Names lists registered filesystem identifiers, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetupRAMDisks loads the brd module so /dev/ram0../ramN-1 exist. Block
// filesystems live on RAM disks: reformatting between runs is fast and
// nothing survives a crash.
func SetupRAMDisks(ctx context.Context, run remote.Runner, count, sizeKB int) error {
	res, err := run.Exec(ctx, "modprobe", "brd",
		"rd_nr="+strconv.Itoa(count), "rd_size="+strconv.Itoa(sizeKB))
	if err != nil {
		return fmt.Errorf("load brd: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("load brd: %s", res.Stderr)
	}
	return nil
}

// unmount detaches target, tolerating an already-unmounted path.
func unmount(ctx context.Context, run remote.Runner, target string) error {
	res, err := run.Exec(ctx, "umount", target)
	if err != nil {
		return fmt.Errorf("umount %s: %w", target, err)
	}
	if !res.Ok() && !strings.Contains(string(res.Stderr), "not mounted") {
		return fmt.Errorf("umount %s: %s", target, res.Stderr)
	}
	return nil
}
