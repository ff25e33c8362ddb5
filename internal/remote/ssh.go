package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOpts configures the connection to a target VM.
type SSHOpts struct {
	Port     int    // 0 = 22
	KeyFile  string // override key file; empty = try defaults
	Password string // non-interactive password auth; empty = skip
	Timeout  time.Duration
}

// SSH runs commands on a target over an SSH session and moves files over
// SFTP on the same connection.
type SSH struct {
	client *ssh.Client
	sftp   *sftp.Client
	addr   string
}

// DialSSH connects to host as userName.
//
// Auth methods are tried in order:
//  1. SSH agent (if SSH_AUTH_SOCK is set)
//  2. Key files (~/.ssh/id_ed25519, id_ecdsa, id_rsa) or SSHOpts.KeyFile
//  3. Password (if SSHOpts.Password is set)
func DialSSH(host, userName string, opts SSHOpts) (*SSH, error) {
	if userName == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("determine current user: %w", err)
		}
		userName = u.Username
	}
	port := opts.Port
	if port == 0 {
		port = 22
	}
	authMethods := buildAuthMethods(opts)
	if len(authMethods) == 0 {
		return nil, errors.New("no SSH auth methods available (set SSH_AUTH_SOCK, provide a key, or password)")
	}

	hostKeyCallback, err := defaultHostKeyCallback()
	if err != nil {
		// Target VMs are ephemeral and their host keys churn on every
		// image rebuild.
		//nolint:gosec
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	config := &ssh.ClientConfig{
		User:            userName,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("sftp client %s: %w", addr, err)
	}
	return &SSH{client: client, sftp: sftpClient, addr: addr}, nil
}

func buildAuthMethods(opts SSHOpts) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	// 1. SSH agent.
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			agentClient := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
		}
	}

	// 2. Key files.
	if opts.KeyFile != "" {
		if m := keyFileAuth(opts.KeyFile); m != nil {
			methods = append(methods, m)
		}
	} else {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			home, err := os.UserHomeDir()
			if err != nil {
				continue
			}
			if m := keyFileAuth(filepath.Join(home, ".ssh", name)); m != nil {
				methods = append(methods, m)
			}
		}
	}

	// 3. Password.
	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}
	return methods
}

func keyFileAuth(path string) ssh.AuthMethod {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return ssh.PublicKeys(signer)
}

func defaultHostKeyCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
}

// Exec runs a command in a fresh session. Cancelling ctx closes the
// session, which terminates the remote process group.
func (s *SSH) Exec(ctx context.Context, name string, args ...string) (ExecResult, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("ssh session %s: %w", s.addr, err)
	}
	defer session.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	cmd := name
	for _, a := range args {
		cmd += " " + shellQuote(a)
	}
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(cmd)
	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("ssh exec %q: %w", name, ctx.Err())
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("ssh exec %q: %w", name, err)
	}
	return res, nil
}

func (s *SSH) WriteFile(path string, data []byte, mode os.FileMode) error {
	f, err := s.sftp.Create(path)
	if err != nil {
		return fmt.Errorf("sftp create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("sftp write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sftp close %s: %w", path, err)
	}
	return s.sftp.Chmod(path, mode)
}

func (s *SSH) ReadFile(path string) ([]byte, error) {
	f, err := s.sftp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sftp open %s: %w", path, err)
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("sftp read %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

func (s *SSH) MkdirAll(path string) error {
	if err := s.sftp.MkdirAll(path); err != nil {
		return fmt.Errorf("sftp mkdir %s: %w", path, err)
	}
	return nil
}

func (s *SSH) RemoveAll(path string) error {
	if err := s.sftp.RemoveAll(path); err != nil {
		return fmt.Errorf("sftp remove %s: %w", path, err)
	}
	return nil
}

// Alive sends an OpenSSH keepalive. An unanswerable request means the VM
// is hung or the transport is gone.
func (s *SSH) Alive(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("heartbeat %s: %w", s.addr, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("heartbeat %s: %w", s.addr, err)
		}
		return nil
	}
}

func (s *SSH) Close() error {
	s.sftp.Close()
	return s.client.Close()
}

// shellQuote wraps an argument in single quotes for the remote shell.
func shellQuote(s string) string {
	out := "'"
	for _, r := range s {
		if r == '\'' {
			out += `'\''`
			continue
		}
		out += string(r)
	}
	return out + "'"
}
