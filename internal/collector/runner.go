package collector

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mycoool/gpuhub/internal/sshclient"
	"golang.org/x/crypto/ssh"
)

// DefaultTimeout bounds every command a runner executes.
const DefaultTimeout = 10 * time.Second

// Runner executes a shell command and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// LocalRunner runs commands through /bin/sh on this machine.
type LocalRunner struct {
	Timeout time.Duration
	Dir     string
}

func (r LocalRunner) Run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(r.Timeout))
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %q: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// SSHRunner runs commands on a remote host, one ssh session per command over
// a connection dialed on first use.
type SSHRunner struct {
	Address string
	Options sshclient.Options
	Timeout time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

func (r *SSHRunner) Run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(r.Timeout))
	defer cancel()

	client, err := r.dial(ctx)
	if err != nil {
		return "", err
	}
	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session on %s: %w", r.Address, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()
	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("run %q on %s: %w", command, r.Address, ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("run %q on %s: %w: %s", command, r.Address, err, strings.TrimSpace(stderr.String()))
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *SSHRunner) dial(ctx context.Context) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	opts := r.Options
	if opts.Timeout <= 0 {
		opts.Timeout = timeoutOr(r.Timeout)
	}
	c, err := sshclient.Dial(ctx, r.Address, opts)
	if err != nil {
		return nil, err
	}
	r.client = c
	return c, nil
}

// Close releases the underlying connection, if any.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
