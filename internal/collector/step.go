package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrFetch marks a failed fetch step.
var ErrFetch = errors.New("fetch step failed")

// Result describes one run of a fetch step.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// FetchStep produces the stats files a sync or update run ships.
type FetchStep interface {
	Fetch(ctx context.Context) (*Result, error)
}

// StepError is returned when an external fetch program fails. ExitCode is the
// program's exit status, or -1 when it never ran.
type StepError struct {
	Argv     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("fetch step %q failed", strings.Join(e.Argv, " "))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

// CommandStep runs an external fetch program in Dir.
type CommandStep struct {
	Argv    []string
	Dir     string
	Timeout time.Duration
	Env     []string
}

func (s CommandStep) Fetch(ctx context.Context) (*Result, error) {
	if len(s.Argv) == 0 {
		return nil, errors.New("fetch step: empty command")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, &StepError{Argv: s.Argv, ExitCode: res.ExitCode, Output: res.Stderr, Err: err}
	}
	return res, nil
}

// FuncStep adapts an in-process fetch to FetchStep.
type FuncStep func(ctx context.Context) error

func (f FuncStep) Fetch(ctx context.Context) (*Result, error) {
	start := time.Now()
	err := f(ctx)
	res := &Result{Duration: time.Since(start)}
	if err != nil {
		res.ExitCode = 1
		return res, err
	}
	return res, nil
}

// ExitCode maps err to a process exit status: the exit code of the failing
// external program when one is known, 1 for any other failure, 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StepError
	if errors.As(err, &se) && se.ExitCode > 0 {
		return se.ExitCode
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}
