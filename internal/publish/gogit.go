package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// GoGit publishes through go-git without a git binary.
type GoGit struct {
	opts Options
	repo *git.Repository
	now  func() time.Time
}

// NewGoGit opens the repository containing opts.Dir.
func NewGoGit(opts Options) (*GoGit, error) {
	opts = opts.withDefaults()
	repo, err := git.PlainOpenWithOptions(opts.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, WrapErrorf(err, "open repository %s", opts.Dir)
	}
	return &GoGit{opts: opts, repo: repo, now: time.Now}, nil
}

// relPaths turns base-dir relative paths into work tree paths.
func (g *GoGit) relPaths(wt *git.Worktree, files []string) ([]string, error) {
	root := wt.Filesystem.Root()
	out := make([]string, 0, len(files))
	for _, f := range files {
		abs := f
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(g.opts.Dir, f)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return nil, err
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

func (g *GoGit) Changed(ctx context.Context, files []string) (bool, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return false, WrapError(err, "open worktree")
	}
	paths, err := g.relPaths(wt, files)
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, WrapError(err, "worktree status")
	}
	for _, p := range paths {
		fs, ok := status[p]
		if !ok {
			continue
		}
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			return true, nil
		}
	}
	return false, nil
}

func (g *GoGit) Commit(ctx context.Context, files []string, msg string) (string, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return "", wrapBoth(ErrCommit, err, "open worktree")
	}
	paths, err := g.relPaths(wt, files)
	if err != nil {
		return "", wrapBoth(ErrCommit, err, "resolve paths")
	}
	if err := g.checkForeignStaged(wt, paths); err != nil {
		return "", err
	}
	for _, p := range paths {
		if _, err := wt.Filesystem.Stat(p); err != nil {
			log.Printf("publish: skipping missing file %s", p)
			continue
		}
		if _, err := wt.Add(p); err != nil {
			return "", wrapBoth(ErrCommit, err, fmt.Sprintf("add %s", p))
		}
	}
	sig := &object.Signature{Name: g.opts.AuthorName, Email: g.opts.AuthorEmail, When: g.now()}
	hash, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", wrapBoth(ErrCommit, err, "commit")
	}
	return hash.String(), nil
}

func (g *GoGit) Push(ctx context.Context) error {
	head, err := g.repo.Head()
	if err != nil {
		return wrapBoth(ErrPush, err, "resolve HEAD")
	}
	if !head.Name().IsBranch() {
		return wrapBoth(ErrPush, ErrDetachedHead, "push")
	}
	refspec := config.RefSpec(fmt.Sprintf("%s:%s", head.Name(), plumbing.NewBranchReferenceName(g.opts.Branch)))

	pushOpts := &git.PushOptions{
		RemoteName: g.opts.Remote,
		RefSpecs:   []config.RefSpec{refspec},
	}
	remote, err := g.repo.Remote(g.opts.Remote)
	if err != nil {
		return wrapBoth(ErrPush, err, fmt.Sprintf("remote %s", g.opts.Remote))
	}
	if urls := remote.Config().URLs; len(urls) > 0 {
		auth, err := g.auth(urls[0])
		if err != nil {
			return wrapBoth(ErrPush, err, "authentication")
		}
		pushOpts.Auth = auth
	}

	err = g.repo.PushContext(ctx, pushOpts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return wrapBoth(ErrPush, err, fmt.Sprintf("push %s to %s/%s", head.Name().Short(), g.opts.Remote, g.opts.Branch))
	}
	return nil
}

// checkForeignStaged refuses to commit when the index holds staged changes
// to paths other than the tracked files, since go-git always commits the
// whole index.
func (g *GoGit) checkForeignStaged(wt *git.Worktree, paths []string) error {
	status, err := wt.Status()
	if err != nil {
		return wrapBoth(ErrCommit, err, "worktree status")
	}
	tracked := make(map[string]bool, len(paths))
	for _, p := range paths {
		tracked[p] = true
	}
	var foreign []string
	for p, fs := range status {
		if tracked[p] || fs.Staging == git.Unmodified || fs.Staging == git.Untracked {
			continue
		}
		foreign = append(foreign, p)
	}
	if len(foreign) > 0 {
		sort.Strings(foreign)
		return WrapErrorf(ErrCommit, "index has staged changes outside the tracked files: %s", strings.Join(foreign, ", "))
	}
	return nil
}

func (g *GoGit) Pending(ctx context.Context) (string, error) {
	head, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", WrapError(err, "resolve HEAD")
	}
	tracking, err := g.repo.Reference(plumbing.NewRemoteReferenceName(g.opts.Remote, g.opts.Branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return head.Hash().String(), nil
	}
	if err != nil {
		return "", WrapErrorf(err, "resolve %s/%s", g.opts.Remote, g.opts.Branch)
	}
	if tracking.Hash() == head.Hash() {
		return "", nil
	}
	local, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return "", WrapError(err, "read HEAD commit")
	}
	remote, err := g.repo.CommitObject(tracking.Hash())
	if err != nil {
		return head.Hash().String(), nil
	}
	behind, err := local.IsAncestor(remote)
	if err != nil {
		return "", WrapError(err, "compare with remote")
	}
	if behind {
		return "", nil
	}
	return head.Hash().String(), nil
}

// auth picks credentials for url: the token as basic auth over http(s),
// the configured key or the ssh agent over ssh, nothing for local remotes.
func (g *GoGit) auth(url string) (transport.AuthMethod, error) {
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return nil, err
	}
	switch ep.Protocol {
	case "http", "https":
		if g.opts.Token == "" {
			return nil, nil
		}
		return &githttp.BasicAuth{Username: "x-access-token", Password: g.opts.Token}, nil
	case "ssh":
		user := ep.User
		if user == "" {
			user = "git"
		}
		if g.opts.SSHKey != "" {
			return gitssh.NewPublicKeysFromFile(user, g.opts.SSHKey, "")
		}
		return gitssh.NewSSHAgentAuth(user)
	}
	return nil, nil
}
