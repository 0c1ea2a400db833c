package publish

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CLI publishes by running the git binary against the work tree.
type CLI struct {
	opts   Options
	Binary string
}

// NewCLI returns a git CLI publisher.
func NewCLI(opts Options) *CLI {
	return &CLI{opts: opts.withDefaults(), Binary: "git"}
}

func (c *CLI) git(ctx context.Context, args ...string) (string, error) {
	argv := append([]string{"-C", c.opts.Dir}, args...)
	cmd := exec.CommandContext(ctx, c.Binary, argv...)
	env := cmd.Environ()
	if c.opts.SSHKey != "" {
		env = append(env, fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o BatchMode=yes", c.opts.SSHKey))
	}
	cmd.Env = env
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w, output: %s", c.redact(strings.Join(args, " ")), err, c.redact(strings.TrimSpace(string(output))))
	}
	return string(output), nil
}

func (c *CLI) redact(s string) string {
	if c.opts.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.opts.Token, "***")
}

func (c *CLI) Changed(ctx context.Context, files []string) (bool, error) {
	args := append([]string{"status", "--porcelain", "--"}, files...)
	out, err := c.git(ctx, args...)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (c *CLI) Commit(ctx context.Context, files []string, msg string) (string, error) {
	var existing []string
	for _, f := range files {
		p := f
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.opts.Dir, f)
		}
		if _, err := os.Stat(p); err != nil {
			log.Printf("publish: skipping missing file %s", f)
			continue
		}
		existing = append(existing, f)
	}
	if len(existing) == 0 {
		return "", WrapError(ErrCommit, "no tracked files present")
	}
	if _, err := c.git(ctx, append([]string{"add", "--"}, existing...)...); err != nil {
		return "", wrapBoth(ErrCommit, err, "add")
	}
	args := []string{
		"-c", "user.name=" + c.opts.AuthorName,
		"-c", "user.email=" + c.opts.AuthorEmail,
		"commit", "-m", msg, "--",
	}
	_, err := c.git(ctx, append(args, existing...)...)
	if err != nil {
		return "", wrapBoth(ErrCommit, err, "commit")
	}
	out, err := c.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", wrapBoth(ErrCommit, err, "resolve commit")
	}
	return strings.TrimSpace(out), nil
}

func (c *CLI) Pending(ctx context.Context) (string, error) {
	out, err := c.git(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	if err != nil {
		return "", nil
	}
	head := strings.TrimSpace(out)
	tracking := "refs/remotes/" + c.opts.Remote + "/" + c.opts.Branch
	if _, err := c.git(ctx, "rev-parse", "--verify", "--quiet", tracking); err != nil {
		return head, nil
	}
	out, err = c.git(ctx, "rev-list", "--count", tracking+"..HEAD")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "0" {
		return "", nil
	}
	return head, nil
}

func (c *CLI) Push(ctx context.Context) error {
	remoteURL := ""
	if out, err := c.git(ctx, "remote", "get-url", c.opts.Remote); err == nil {
		remoteURL = strings.TrimSpace(out)
	}
	target := c.opts.Remote
	if c.opts.Token != "" && strings.HasPrefix(remoteURL, "https://") {
		target = "https://x-access-token:" + c.opts.Token + "@" + strings.TrimPrefix(remoteURL, "https://")
	}
	if _, err := c.git(ctx, "push", target, "HEAD:refs/heads/"+c.opts.Branch); err != nil {
		return wrapBoth(ErrPush, err, fmt.Sprintf("push to %s/%s", c.opts.Remote, c.opts.Branch))
	}
	return nil
}
