package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/mycoool/gpuhub/internal/sshclient"
)

// SSHCopy writes the file with the scp sink protocol over a native ssh
// session, so the spoke needs no scp binary.
type SSHCopy struct {
	Options sshclient.Options
	Timeout time.Duration
}

func (s SSHCopy) Send(ctx context.Context, localPath, target string) error {
	address, remotePath, err := SplitTarget(target)
	if err != nil {
		return err
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	opts := s.Options
	if opts.Timeout <= 0 {
		opts.Timeout = s.Timeout
	}
	client, err := sshclient.Dial(ctx, address, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session on %s: %w", address, err)
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return err
	}
	if err := sess.Start("scp -qt " + shellQuote(remotePath)); err != nil {
		return fmt.Errorf("start remote scp on %s: %w", address, err)
	}

	done := make(chan error, 1)
	go func() {
		err := writeSCP(stdin, bufio.NewReader(stdout), path.Base(remotePath), info.Size(), f)
		stdin.Close()
		if err == nil {
			err = sess.Wait()
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		client.Close()
		return fmt.Errorf("copy to %s: %w", target, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("copy to %s: %w", target, err)
		}
	}
	return nil
}

// writeSCP sends one file through an scp sink ("scp -t"): a C record with
// mode, size and name, the content, then a zero byte. Every step is
// acknowledged by the sink.
func writeSCP(w io.Writer, r *bufio.Reader, name string, size int64, content io.Reader) error {
	if err := readAck(r); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "C0644 %d %s\n", size, name); err != nil {
		return err
	}
	if err := readAck(r); err != nil {
		return err
	}
	n, err := io.Copy(w, content)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("short copy: wrote %d of %d bytes", n, size)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	return readAck(r)
}

func readAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read scp ack: %w", err)
	}
	switch b {
	case 0:
		return nil
	case 1, 2:
		msg, _ := r.ReadString('\n')
		return errors.New("remote scp: " + strings.TrimSpace(msg))
	default:
		return fmt.Errorf("unexpected scp ack byte %d", b)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
