package publish

import (
	"errors"
	"fmt"
)

// ErrCommit is returned when staging or committing the tracked files fails.
var ErrCommit = errors.New("commit failed")

// ErrPush is returned when the push to the remote fails.
var ErrPush = errors.New("push failed")

// ErrDetachedHead is returned when HEAD does not point at a branch.
var ErrDetachedHead = errors.New("HEAD is detached")

// WrapError wraps err with msg, keeping it testable with errors.Is.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf is WrapError with a format string.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// wrapBoth marks err with kind while keeping the cause reachable.
func wrapBoth(kind, err error, msg string) error {
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}
