// Package publish commits the hub's stats files and pushes them to the
// tracking branch.
package publish

import (
	"context"
	"fmt"
	"time"
)

// DefaultMessagePrefix starts every commit message.
const DefaultMessagePrefix = "Auto-update GPU stats: "

// Publisher detects, commits and pushes changes to tracked files. Files are
// paths relative to the repository work tree.
//
// Pending returns the HEAD hash when HEAD holds commits that the
// remote-tracking branch does not, and "" otherwise.
type Publisher interface {
	Changed(ctx context.Context, files []string) (bool, error)
	Commit(ctx context.Context, files []string, msg string) (string, error)
	Push(ctx context.Context) error
	Pending(ctx context.Context) (string, error)
}

// Options configure either backend.
type Options struct {
	Dir         string // work tree
	Remote      string
	Branch      string
	AuthorName  string
	AuthorEmail string
	SSHKey      string
	Token       string
}

func (o Options) withDefaults() Options {
	if o.Remote == "" {
		o.Remote = "origin"
	}
	if o.Branch == "" {
		o.Branch = "main"
	}
	if o.AuthorName == "" {
		o.AuthorName = "GPU Stats Bot"
	}
	if o.AuthorEmail == "" {
		o.AuthorEmail = "gpuhub@localhost"
	}
	return o
}

// New returns the backend named by backend ("gogit" or "cli").
func New(backend string, opts Options) (Publisher, error) {
	switch backend {
	case "", "gogit":
		return NewGoGit(opts)
	case "cli":
		return NewCLI(opts), nil
	}
	return nil, fmt.Errorf("unknown git backend %q", backend)
}

// Message returns the commit message for a run at t.
func Message(t time.Time) string {
	return DefaultMessagePrefix + t.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// Outcome is what Publish did.
type Outcome int

const (
	Unchanged Outcome = iota
	Pushed
	// Resent means the files were unchanged but an earlier commit that
	// never reached the remote was pushed.
	Resent
)

// Publish commits files when they differ from HEAD and pushes the commit.
// When nothing changed it pushes a commit left behind by a failed push.
// It makes at most one commit and one push attempt.
func Publish(ctx context.Context, p Publisher, files []string, msg string) (Outcome, string, error) {
	changed, err := p.Changed(ctx, files)
	if err != nil {
		return Unchanged, "", WrapError(err, "check changes")
	}
	if !changed {
		hash, err := p.Pending(ctx)
		if err != nil {
			return Unchanged, "", WrapError(err, "check unpushed commits")
		}
		if hash == "" {
			return Unchanged, "", nil
		}
		if err := p.Push(ctx); err != nil {
			return Unchanged, hash, err
		}
		return Resent, hash, nil
	}
	hash, err := p.Commit(ctx, files, msg)
	if err != nil {
		return Unchanged, "", err
	}
	if err := p.Push(ctx); err != nil {
		return Unchanged, hash, err
	}
	return Pushed, hash, nil
}
