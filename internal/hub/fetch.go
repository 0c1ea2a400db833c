package hub

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/mycoool/gpuhub/internal/achievements"
	"github.com/mycoool/gpuhub/internal/aggregate"
	"github.com/mycoool/gpuhub/internal/collector"
	"github.com/mycoool/gpuhub/internal/config"
	"github.com/mycoool/gpuhub/internal/sshclient"
	"github.com/mycoool/gpuhub/internal/stats"
)

// RunnerFactory returns the runner used to poll one configured server.
type RunnerFactory func(srv config.Server) collector.Runner

// SSHRunners polls servers over native ssh.
func SSHRunners(cfg *config.Hub) RunnerFactory {
	return func(srv config.Server) collector.Runner {
		return &collector.SSHRunner{
			Address: srv.Address,
			Options: sshclient.Options{KeyFile: cfg.SSHKey, KnownHosts: cfg.KnownHosts, Timeout: cfg.Timeout},
			Timeout: cfg.Timeout,
		}
	}
}

// Builtin is the hub's own fetch step: poll servers, merge spoke reports,
// write the status file, fold it into the aggregate and award achievements.
type Builtin struct {
	BaseDir string
	Config  *config.Hub
	Runners RunnerFactory
	Now     func() time.Time

	// Results of the last Fetch.
	Snapshot *stats.Snapshot
	Awards   []achievements.Award
}

func (b *Builtin) path(p string) string {
	return config.Resolve(b.BaseDir, p)
}

func (b *Builtin) Fetch(ctx context.Context) (*collector.Result, error) {
	start := time.Now()
	now := time.Now().UTC()
	if b.Now != nil {
		now = b.Now().UTC()
	}
	cfg := b.Config

	snap := &stats.Snapshot{Servers: b.poll(ctx)}
	polled := make(map[string]bool, len(snap.Servers))
	for _, s := range snap.Servers {
		polled[s.Name] = true
	}
	for _, s := range ReadSpokes(b.path(cfg.SpokesDir), cfg.SpokeMaxAge, now) {
		if polled[s.Name] {
			log.Printf("hub: ignoring spoke report for polled server %s", s.Name)
			continue
		}
		snap.Servers = append(snap.Servers, s)
	}
	snap.LastUpdated = stats.Timestamp(now)

	if err := stats.WriteJSON(b.path(cfg.StatusFile), snap); err != nil {
		return nil, fmt.Errorf("write status file: %w", err)
	}

	canon := aggregate.NewCanonicalizer(cfg.Aliases)
	aggPath := b.path(cfg.AggregateFile)
	agg := aggregate.Load(aggPath)
	agg.Update(snap, canon, now, cfg.MaxSampleGap)
	if err := agg.Save(aggPath); err != nil {
		return nil, fmt.Errorf("write aggregate file: %w", err)
	}

	achPath := b.path(cfg.AchievementsFile)
	store := achievements.Load(achPath)
	awards := achievements.Check(snap, agg, canon, store, now)
	for _, a := range awards {
		log.Printf("hub: %s earned %s %s", a.User, a.Achievement.Icon, a.Achievement.Name)
	}
	if err := store.Save(achPath, now); err != nil {
		return nil, fmt.Errorf("write achievements file: %w", err)
	}

	b.Snapshot = snap
	b.Awards = awards
	return &collector.Result{Duration: time.Since(start)}, nil
}

// poll collects every configured server concurrently, keeping config order.
func (b *Builtin) poll(ctx context.Context) []stats.Server {
	servers := b.Config.Servers
	out := make([]stats.Server, len(servers))
	var wg sync.WaitGroup
	for i, srv := range servers {
		wg.Add(1)
		go func(i int, srv config.Server) {
			defer wg.Done()
			r := b.Runners(srv)
			if c, ok := r.(io.Closer); ok {
				defer c.Close()
			}
			c := collector.NewRemote(r)
			c.Enrich = b.Config.EnrichXML
			out[i] = c.Collect(ctx, srv.Name)
		}(i, srv)
	}
	wg.Wait()
	return out
}
