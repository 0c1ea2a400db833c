// Package collector gathers GPU, process and host statistics from the local
// machine or from remote servers over ssh.
package collector

import (
	"context"
	"log"
	"time"

	"github.com/mycoool/gpuhub/internal/stats"
)

// Collector builds a stats.Server from a Runner. Owners and Host are optional
// hooks replacing the command based lookups; the local collector points them
// at gopsutil.
type Collector struct {
	Runner Runner
	Owners func(ctx context.Context, pids []string) map[string]stats.PSEntry
	Host   func(ctx context.Context, s *stats.Server)
	// Enrich runs `nvidia-smi -q -x` to fill GPU names and temperatures the
	// CSV query left empty.
	Enrich bool
	Now    func() time.Time
}

// NewLocal returns a collector for the machine it runs on.
func NewLocal(timeout time.Duration) *Collector {
	return &Collector{
		Runner: LocalRunner{Timeout: timeout},
		Owners: LocalOwners,
		Host:   LocalHost,
	}
}

// NewRemote returns a collector for a server reached through r.
func NewRemote(r Runner) *Collector {
	return &Collector{Runner: r}
}

// Collect queries GPUs, their compute processes and the process owners.
// Collection problems are recorded on the returned entry, never returned.
func (c *Collector) Collect(ctx context.Context, name string) stats.Server {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	srv := stats.Server{Name: name, GPUs: []stats.GPU{}, CollectedAt: stats.Timestamp(now())}

	out, err := c.Runner.Run(ctx, stats.GPUQuery)
	if err != nil {
		log.Printf("collector: %s: gpu query failed: %v", name, err)
		srv.SetError("Failed to connect or run nvidia-smi.")
		return srv
	}
	gpus, err := stats.ParseGPUs(out)
	if err != nil {
		log.Printf("collector: %s: %v", name, err)
		srv.SetError("Failed to parse nvidia-smi output.")
		return srv
	}

	var apps []stats.App
	if out, err := c.Runner.Run(ctx, stats.ProcQuery); err != nil {
		log.Printf("collector: %s: process query failed: %v", name, err)
	} else if apps, err = stats.ParseApps(out); err != nil {
		log.Printf("collector: %s: %v", name, err)
	}

	owners := c.owners(ctx, name, stats.PIDs(apps))
	srv.GPUs = stats.Attach(gpus, apps, owners)

	if c.Enrich {
		c.enrich(ctx, &srv)
	}
	if c.Host != nil {
		c.Host(ctx, &srv)
	} else if out, err := c.Runner.Run(ctx, stats.ProcStatCommand); err == nil {
		if util, err := stats.ParseCPUUtil(out); err == nil {
			srv.CPUUtil = util
		}
	}
	return srv
}

func (c *Collector) owners(ctx context.Context, name string, pids []string) map[string]stats.PSEntry {
	if len(pids) == 0 {
		return map[string]stats.PSEntry{}
	}
	if c.Owners != nil {
		return c.Owners(ctx, pids)
	}
	out, err := c.Runner.Run(ctx, stats.PSCommand(pids))
	if err != nil {
		// ps exits non-zero when one of the pids already ended
		log.Printf("collector: %s: ps failed: %v", name, err)
	}
	return stats.ParsePS(out)
}

func (c *Collector) enrich(ctx context.Context, srv *stats.Server) {
	out, err := c.Runner.Run(ctx, SMIXMLQuery)
	if err != nil {
		log.Printf("collector: %s: xml query failed: %v", srv.Name, err)
		return
	}
	details, err := ParseSMIXML([]byte(out))
	if err != nil {
		log.Printf("collector: %s: %v", srv.Name, err)
		return
	}
	ApplyDetails(srv.GPUs, details)
}
