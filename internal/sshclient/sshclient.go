// Package sshclient dials the ssh connections used to poll GPU servers and to
// copy spoke reports to the hub.
package sshclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Options controls authentication and host verification.
type Options struct {
	// KeyFile is a private key to try before the default ~/.ssh keys.
	KeyFile string
	// KnownHosts defaults to ~/.ssh/known_hosts.
	KnownHosts string
	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
}

// Endpoint is a parsed "[user@]host[:port]" address.
type Endpoint struct {
	User string
	Host string
	Port string
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// ParseAddress splits "[user@]host[:port]". The user defaults to the current
// user and the port to 22.
func ParseAddress(address string) (Endpoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Endpoint{}, errors.New("empty ssh address")
	}
	ep := Endpoint{Port: "22"}
	if u, rest, ok := strings.Cut(address, "@"); ok {
		ep.User = u
		address = rest
	}
	if host, port, err := net.SplitHostPort(address); err == nil {
		ep.Host, ep.Port = host, port
	} else {
		ep.Host = strings.Trim(address, "[]")
	}
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("ssh address %q has no host", address)
	}
	if ep.User == "" {
		if cu, err := user.Current(); err == nil {
			ep.User = cu.Username
		}
	}
	return ep, nil
}

// Dial opens an ssh client connection to address.
func Dial(ctx context.Context, address string, opts Options) (*ssh.Client, error) {
	ep, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	cfg, err := clientConfig(ep.User, opts)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, ep.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", ep.Addr(), err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func clientConfig(username string, opts Options) (*ssh.ClientConfig, error) {
	auth := authMethods(opts.KeyFile)
	if len(auth) == 0 {
		return nil, errors.New("no ssh credentials: ssh-agent unavailable and no readable private key")
	}

	var hostKey ssh.HostKeyCallback
	if opts.InsecureIgnoreHostKey {
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		path := opts.KnownHosts
		if path == "" {
			path = filepath.Join(homeDir(), ".ssh", "known_hosts")
		}
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", path, err)
		}
		hostKey = cb
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func authMethods(keyFile string) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	var signers []ssh.Signer
	for _, path := range keyCandidates(keyFile) {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		s, err := ssh.ParsePrivateKey(b)
		if err != nil {
			// passphrase protected keys are left to the agent
			continue
		}
		signers = append(signers, s)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	return methods
}

func keyCandidates(keyFile string) []string {
	var paths []string
	if keyFile != "" {
		paths = append(paths, expandHome(keyFile))
	}
	dir := filepath.Join(homeDir(), ".ssh")
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}
