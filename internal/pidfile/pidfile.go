// Package pidfile keeps two invocations from working on the same base
// directory at once. The lock is an advisory flock held for the life of the
// process, so a stale file left by a crashed run never blocks the next one.
package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the pid file.
var ErrLocked = errors.New("another instance is running")

// PIDFile is a locked file containing the process id.
type PIDFile struct {
	path string
	f    *os.File
}

// New locks path and writes the current pid to it.
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	for range maxAttempts {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, err
		}
		current, err := lockCurrent(f, path)
		if err != nil {
			f.Close()
			return nil, err
		}
		if !current {
			f.Close()
			continue
		}
		p := &PIDFile{path: path, f: f}
		if err := p.Write(); err != nil {
			f.Close()
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("lock %s: file replaced %d times while locking", path, maxAttempts)
}

const maxAttempts = 10

// lockCurrent flocks f and reports whether f is still the file at path.
// Remove unlinks before unlocking, so a lock won on an unlinked inode
// guards nothing and has to be retried.
func lockCurrent(f *os.File, path string) (bool, error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, fmt.Errorf("%w (pid file %s, pid %s)", ErrLocked, path, readPID(path))
		}
		return false, fmt.Errorf("lock %s: %w", path, err)
	}
	held, err := f.Stat()
	if err != nil {
		return false, err
	}
	cur, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(held, cur), nil
}

// Write replaces the file contents with the current pid.
func (p *PIDFile) Write() error {
	if p.f == nil {
		return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
	}
	if err := p.f.Truncate(0); err != nil {
		return err
	}
	if _, err := p.f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return err
	}
	return p.f.Sync()
}

// Remove deletes the file while still holding the lock, then releases it.
func (p *PIDFile) Remove() error {
	err := os.Remove(p.path)
	if p.f != nil {
		p.f.Close()
		p.f = nil
	}
	return err
}

func readPID(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "?"
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return "?"
}
