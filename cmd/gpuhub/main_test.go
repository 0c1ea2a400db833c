package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycoool/gpuhub/internal/config"
	"github.com/mycoool/gpuhub/internal/hub"
)

var hubBinPath string

// TestMain builds the gpuhub binary once for the tests below.
func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "gpuhub-test-bin-")
	if err != nil {
		panic(err)
	}
	bin := filepath.Join(tmp, "gpuhub")
	cmd := exec.Command("go", "build", "-o", bin)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.RemoveAll(tmp)
		panic(string(out))
	}
	hubBinPath = bin

	code := m.Run()

	_ = os.RemoveAll(tmp)
	os.Exit(code)
}

const fetchStatic = `fetch_command:
  - /bin/sh
  - -c
  - "echo '{}' > status.json; echo '{}' > aggregate_stats.json"
`

// hubRepo makes base a work tree with hub.yaml and an origin remote at url.
func hubRepo(t *testing.T, yaml, url string) (string, *git.Repository) {
	t.Helper()
	base := t.TempDir()
	repo, err := git.PlainInit(base, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, config.HubFileName), []byte(yaml), 0o644))
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{url}})
	require.NoError(t, err)
	return base, repo
}

func bareRemote(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	bare, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	return dir, bare
}

func runHub(t *testing.T, args ...string) (string, int) {
	t.Helper()
	out, err := exec.Command(hubBinPath, args...).CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode()
	}
	require.NoError(t, err)
	return string(out), 0
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary required for file remotes")
	}
}

func TestUpdatePushesThenReportsNoChanges(t *testing.T) {
	requireGit(t)
	remoteDir, bare := bareRemote(t)
	base, repo := hubRepo(t, fetchStatic, remoteDir)

	out, code := runHub(t, "-dir", base)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, hub.PushedMessage)

	head, err := repo.Head()
	require.NoError(t, err)
	ref, err := bare.Reference(plumbing.NewBranchReferenceName("main"), true)
	require.NoError(t, err)
	assert.Equal(t, head.Hash(), ref.Hash())

	out, code = runHub(t, "update", "-dir", base)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, hub.NoChangesMessage)
	assert.NotContains(t, out, hub.PushedMessage)
}

func TestUpdatePushesCommitLeftByFailedPush(t *testing.T) {
	requireGit(t)
	base, repo := hubRepo(t, fetchStatic, filepath.Join(t.TempDir(), "missing.git"))

	out, code := runHub(t, "-dir", base)
	assert.Equal(t, 1, code, out)
	assert.NotContains(t, out, hub.PushedMessage)

	remoteDir, bare := bareRemote(t)
	require.NoError(t, repo.DeleteRemote("origin"))
	_, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{remoteDir}})
	require.NoError(t, err)

	out, code = runHub(t, "-dir", base)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, hub.NoChangesMessage)

	head, err := repo.Head()
	require.NoError(t, err)
	ref, err := bare.Reference(plumbing.NewBranchReferenceName("main"), true)
	require.NoError(t, err)
	assert.Equal(t, head.Hash(), ref.Hash())
}

func TestUpdateFetchExitCodePassesThrough(t *testing.T) {
	remoteDir, _ := bareRemote(t)
	base, _ := hubRepo(t, "fetch_command: [\"/bin/sh\", \"-c\", \"exit 5\"]\n", remoteDir)

	out, code := runHub(t, "-dir", base)
	assert.Equal(t, 5, code, out)
	assert.NotContains(t, out, hub.NoChangesMessage)
	assert.NotContains(t, out, hub.PushedMessage)
}

func TestTokenRefusesDefaultSecret(t *testing.T) {
	base := t.TempDir()
	out, code := runHub(t, "token", "-dir", base)
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "jwt_secret")

	require.NoError(t, os.WriteFile(filepath.Join(base, config.HubFileName), []byte("jwt_secret: s3cret\n"), 0o644))
	out, code = runHub(t, "token", "-dir", base)
	require.Equal(t, 0, code, out)
	assert.Regexp(t, `^[\w-]+\.[\w-]+\.[\w-]+\s*$`, out)
}

func TestUnknownCommand(t *testing.T) {
	_, code := runHub(t, "frobnicate")
	assert.Equal(t, 2, code)
}
