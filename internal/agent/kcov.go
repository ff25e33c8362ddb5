package agent

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// kcov ioctl numbers, from include/uapi/linux/kcov.h.
const (
	kcovInitTrace = 0x80086301 // KCOV_INIT_TRACE(unsigned long)
	kcovEnable    = 0x6364     // KCOV_ENABLE
	kcovDisable   = 0x6365     // KCOV_DISABLE
	kcovTracePC   = 0

	// coverSize is the trace buffer length in 8-byte words.
	coverSize = 64 << 10
)

// KCov collects kernel program counters for the calling thread. The
// enabling goroutine is pinned to its OS thread for the whole window
// because kcov coverage is per thread.
type KCov struct {
	file *os.File
	mem  []byte
}

// OpenKCov sets up a kcov handle. Fails cleanly on kernels without
// CONFIG_KCOV or inside unprivileged environments.
func OpenKCov() (*KCov, error) {
	f, err := os.OpenFile("/sys/kernel/debug/kcov", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open kcov: %w", err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), kcovInitTrace, coverSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("init kcov: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, coverSize*8, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap kcov: %w", err)
	}
	return &KCov{file: f, mem: mem}, nil
}

// Enable starts PC tracing for the current thread and pins it.
func (k *KCov) Enable() error {
	runtime.LockOSThread()
	if err := unix.IoctlSetInt(int(k.file.Fd()), kcovEnable, kcovTracePC); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("enable kcov: %w", err)
	}
	k.words()[0] = 0
	return nil
}

// Collect returns the PCs recorded since Enable, deduplicated.
func (k *KCov) Collect() []uint64 {
	words := k.words()
	n := words[0]
	if n > coverSize-1 {
		n = coverSize - 1
	}
	seen := make(map[uint64]struct{}, n)
	pcs := make([]uint64, 0, n)
	for _, pc := range words[1 : n+1] {
		if _, ok := seen[pc]; ok {
			continue
		}
		seen[pc] = struct{}{}
		pcs = append(pcs, pc)
	}
	return pcs
}

// Disable stops tracing and unpins the thread.
func (k *KCov) Disable() {
	unix.IoctlSetInt(int(k.file.Fd()), kcovDisable, 0)
	runtime.UnlockOSThread()
}

func (k *KCov) Close() error {
	unix.Munmap(k.mem)
	return k.file.Close()
}

func (k *KCov) words() []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&k.mem[0])), coverSize)
}

// writeCover dumps PCs one hex value per line, the format cover.Parse
// reads back.
func writeCover(path string, pcs []uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write coverage: %w", err)
	}
	for _, pc := range pcs {
		fmt.Fprintf(f, "0x%x\n", pc)
	}
	return f.Close()
}
