// Package spoke runs one sync of a GPU machine: collect stats into the local
// stats file, then copy it to the hub as <hostname>.json.
package spoke

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/mycoool/gpuhub/internal/collector"
	"github.com/mycoool/gpuhub/internal/config"
	"github.com/mycoool/gpuhub/internal/sshclient"
	"github.com/mycoool/gpuhub/internal/stats"
	"github.com/mycoool/gpuhub/internal/transfer"
)

// SuccessMessage is printed after the stats file reached the hub.
const SuccessMessage = "Sent stats to hub."

// Spoke holds everything one sync needs. Zero-valued hooks are filled by New.
type Spoke struct {
	BaseDir   string
	Config    *config.Spoke
	Fetch     collector.FetchStep
	Collector *collector.Collector // built-in fetch only
	Transport transfer.Transport
	Hostname  string
	Out       io.Writer
}

// New wires the fetch step and transport named by cfg.
func New(baseDir string, cfg *config.Spoke) (*Spoke, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("%w: timeout: %v", config.ErrConfig, err)
	}
	host, err := stats.ShortHostname()
	if err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}
	s := &Spoke{BaseDir: baseDir, Config: cfg, Hostname: host, Out: os.Stdout}

	if len(cfg.FetchCommand) > 0 {
		s.Fetch = collector.CommandStep{Argv: cfg.FetchCommand, Dir: baseDir, Timeout: timeout}
	} else {
		s.Collector = collector.NewLocal(timeout)
		s.Collector.Enrich = cfg.EnrichXML
		s.Fetch = collector.FuncStep(func(ctx context.Context) error {
			srv := s.Collector.Collect(ctx, host)
			if srv.Failed() {
				log.Printf("spoke: collection reported: %s", *srv.Error)
			}
			return stats.WriteJSON(s.statsPath(), srv)
		})
	}

	switch cfg.Transport {
	case "ssh":
		s.Transport = transfer.SSHCopy{
			Options: sshclient.Options{KeyFile: cfg.SSHKey, KnownHosts: cfg.KnownHosts, Timeout: timeout},
			Timeout: timeout,
		}
	default:
		s.Transport = transfer.SCP{KeyFile: cfg.SSHKey, Timeout: timeout}
	}
	return s, nil
}

func (s *Spoke) statsPath() string {
	return config.Resolve(s.BaseDir, s.Config.StatsFile)
}

// Target is where the stats file lands on the hub.
func (s *Spoke) Target() string {
	return transfer.Target(s.Config.HubAddress, s.Config.HubPath, s.Hostname)
}

// Sync runs the fetch step once and ships the stats file once. Failures of
// either step are returned wrapped in collector.ErrFetch or
// transfer.ErrTransfer.
func (s *Spoke) Sync(ctx context.Context) error {
	start := time.Now()
	res, err := s.Fetch.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", collector.ErrFetch, err)
	}
	log.Printf("spoke: fetch step finished in %s", res.Duration.Round(time.Millisecond))

	path := s.statsPath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: stats file not produced: %w", collector.ErrFetch, err)
	}

	target := s.Target()
	if err := s.Transport.Send(ctx, path, target); err != nil {
		return fmt.Errorf("%w: %w", transfer.ErrTransfer, err)
	}
	log.Printf("spoke: sent %s to %s in %s", path, target, time.Since(start).Round(time.Millisecond))

	if s.Out != nil {
		fmt.Fprintln(s.Out, SuccessMessage)
	}
	return nil
}
