// Package transfer copies a spoke's stats file to the hub.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTransfer marks a failed copy to the hub.
var ErrTransfer = errors.New("transfer failed")

// Target names the remote artifact: "<address>:<path><hostname>.json". The
// path is concatenated as is, so it is expected to end with a separator.
func Target(address, path, hostname string) string {
	return address + ":" + path + hostname + ".json"
}

// SplitTarget undoes Target's address/path join.
func SplitTarget(target string) (address, path string, err error) {
	address, path, ok := strings.Cut(target, ":")
	if !ok || address == "" || path == "" {
		return "", "", fmt.Errorf("malformed remote target %q", target)
	}
	return address, path, nil
}

// Transport sends a local file to a remote target.
type Transport interface {
	Send(ctx context.Context, localPath, target string) error
}

// SCP shells out to the scp binary.
type SCP struct {
	Binary  string
	KeyFile string
	Timeout time.Duration
	// ExtraArgs are passed before the source operand.
	ExtraArgs []string
}

// Args returns the scp argument list for one copy.
func (s SCP) Args(localPath, target string) []string {
	args := []string{"-q", "-o", "BatchMode=yes"}
	if s.KeyFile != "" {
		args = append(args, "-i", s.KeyFile)
	}
	args = append(args, s.ExtraArgs...)
	return append(args, localPath, target)
}

func (s SCP) Send(ctx context.Context, localPath, target string) error {
	bin := s.Binary
	if bin == "" {
		bin = "scp"
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, bin, s.Args(localPath, target)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("scp %s -> %s: %w: %s", localPath, target, err, strings.TrimSpace(out.String()))
	}
	return nil
}
