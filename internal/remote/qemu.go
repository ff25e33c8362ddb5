package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"
)

// VMConfig describes one QEMU-backed target.
type VMConfig struct {
	// Launch is the command that boots the VM, typically a launch.sh
	// shipped with the target image.
	Launch []string
	// QMPSocket is the unix socket QEMU exposes its control protocol on.
	QMPSocket string
	// Snapshot is the named VM snapshot to restore between runs; empty
	// disables snapshot resets.
	Snapshot string
	// BootTimeout bounds how long to wait for the QMP socket to appear.
	BootTimeout time.Duration
}

// VM supervises one QEMU process: boot, snapshot restore, teardown.
// Snapshot restore is what makes crash recovery cheap; rebooting from
// scratch only happens when the process itself dies.
type VM struct {
	cfg VMConfig
	cmd *exec.Cmd
}

// StartVM boots the VM and waits for its QMP socket.
func StartVM(ctx context.Context, cfg VMConfig) (*VM, error) {
	if len(cfg.Launch) == 0 {
		return nil, fmt.Errorf("vm launch command is empty")
	}
	cmd := exec.CommandContext(ctx, cfg.Launch[0], cfg.Launch[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start vm: %w", err)
	}
	vm := &VM{cfg: cfg, cmd: cmd}
	if err := vm.waitForQMP(ctx); err != nil {
		vm.Stop()
		return nil, err
	}
	return vm, nil
}

func (vm *VM) waitForQMP(ctx context.Context) error {
	timeout := vm.cfg.BootTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := os.Stat(vm.cfg.QMPSocket); err == nil {
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("vm did not expose qmp socket %s within %s", vm.cfg.QMPSocket, timeout)
}

// Running reports whether the QEMU process is still alive.
func (vm *VM) Running() bool {
	return vm.cmd.ProcessState == nil && vm.cmd.Process != nil
}

// SaveSnapshot records the named snapshot configured for this VM.
func (vm *VM) SaveSnapshot(ctx context.Context) error {
	if vm.cfg.Snapshot == "" {
		return nil
	}
	return vm.hmp(ctx, "savevm "+vm.cfg.Snapshot)
}

// Reset restores the named snapshot, rolling the whole VM back to its
// post-boot state.
func (vm *VM) Reset(ctx context.Context) error {
	if vm.cfg.Snapshot == "" {
		return fmt.Errorf("vm has no snapshot configured")
	}
	return vm.hmp(ctx, "loadvm "+vm.cfg.Snapshot)
}

// Stop tears the VM down.
func (vm *VM) Stop() error {
	if vm.cmd.Process != nil {
		vm.cmd.Process.Kill()
	}
	return vm.cmd.Wait()
}

// hmp sends one human-monitor command through QMP.
func (vm *VM) hmp(ctx context.Context, command string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "unix", vm.cfg.QMPSocket)
	if err != nil {
		return fmt.Errorf("qmp dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	r := bufio.NewReader(conn)
	// QMP greets first; capabilities must be negotiated before commands.
	if _, err := r.ReadBytes('\n'); err != nil {
		return fmt.Errorf("qmp greeting: %w", err)
	}
	if err := vm.qmpRoundTrip(conn, r, map[string]any{"execute": "qmp_capabilities"}); err != nil {
		return err
	}
	return vm.qmpRoundTrip(conn, r, map[string]any{
		"execute":   "human-monitor-command",
		"arguments": map[string]any{"command-line": command},
	})
}

func (vm *VM) qmpRoundTrip(conn net.Conn, r *bufio.Reader, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("qmp write: %w", err)
	}
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("qmp read: %w", err)
		}
		var reply struct {
			Return any             `json:"return"`
			Event  string          `json:"event"`
			Error  json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(line, &reply); err != nil {
			return fmt.Errorf("qmp reply: %w", err)
		}
		if reply.Event != "" {
			// Async events interleave with replies; skip them.
			continue
		}
		if reply.Error != nil {
			return fmt.Errorf("qmp error: %s", reply.Error)
		}
		return nil
	}
}
