package achievements

import (
	"fmt"
	"time"

	"github.com/mycoool/gpuhub/internal/aggregate"
	"github.com/mycoool/gpuhub/internal/stats"
)

// userSnapshot is what one user does across the cluster right now.
type userSnapshot struct {
	gpus            map[string]bool // "server:index"
	machines        map[string]bool
	cpuMachines     map[string]bool
	totalMemMB      int
	maxGPUMemPct    float64
	maxGPUUtil      int
	maxProcessHours float64
}

func newUserSnapshot() *userSnapshot {
	return &userSnapshot{gpus: map[string]bool{}, machines: map[string]bool{}, cpuMachines: map[string]bool{}}
}

type checker struct {
	store  *Store
	ts     string
	awards []Award
}

func (c *checker) grant(user, id string) {
	if a, ok := c.store.award(user, id, c.ts); ok {
		c.awards = append(c.awards, a)
	}
}

// Check evaluates every rule against snap and agg, records new achievements
// in store and returns them in the order they were granted. Processes owned
// by root and servers that failed collection are ignored.
func Check(snap *stats.Snapshot, agg *aggregate.Stats, canon aggregate.Canonicalizer, store *Store, now time.Time) []Award {
	c := &checker{store: store, ts: stats.Timestamp(now)}
	users := map[string]*userSnapshot{}
	var order []string

	for _, srv := range snap.Servers {
		if srv.Failed() {
			continue
		}
		serverUsers := map[string]bool{}
		var serverOrder []string
		gpuUsers := make([]map[string]bool, len(srv.GPUs))

		for gi, gpu := range srv.GPUs {
			gpuUsers[gi] = map[string]bool{}
			for _, p := range gpu.Processes {
				if p.User == "root" {
					continue
				}
				u := canon.Canonical(p.User)
				if !serverUsers[u] {
					serverUsers[u] = true
					serverOrder = append(serverOrder, u)
				}
				gpuUsers[gi][u] = true

				us, ok := users[u]
				if !ok {
					us = newUserSnapshot()
					users[u] = us
					order = append(order, u)
				}
				us.gpus[fmt.Sprintf("%s:%d", srv.Name, gpu.Index)] = true
				us.machines[srv.Name] = true
				us.totalMemMB += p.Mem

				if gpu.MemTotal > 0 {
					pct := float64(gpu.MemUsed) / float64(gpu.MemTotal) * 100
					us.maxGPUMemPct = max(us.maxGPUMemPct, pct)
				}
				us.maxGPUUtil = max(us.maxGPUUtil, gpu.Util)
				us.maxProcessHours = max(us.maxProcessHours, stats.ElapsedHours(p.Time))
			}
		}

		if srv.CPUUtil > 95 {
			for _, u := range serverOrder {
				users[u].cpuMachines[srv.Name] = true
			}
		}

		if len(serverUsers) >= 4 {
			for _, u := range serverOrder {
				c.grant(u, PartyMachine)
			}
		}

		occupied := 0
		for _, gu := range gpuUsers {
			if len(gu) > 0 {
				occupied++
			}
		}
		if occupied > 1 && occupied == len(gpuUsers) {
			for gi := range gpuUsers {
				for _, u := range serverOrder {
					if gpuUsers[gi][u] {
						c.grant(u, FullHouse)
					}
				}
			}
		}

		for gi := range gpuUsers {
			if len(gpuUsers[gi]) < 2 {
				continue
			}
			for _, u := range serverOrder {
				if gpuUsers[gi][u] {
					c.grant(u, GPURoommate)
				}
			}
		}
	}

	for _, u := range order {
		us := users[u]
		gpuCount := len(us.gpus)

		c.grant(u, FirstBlood)
		if gpuCount >= 4 {
			c.grant(u, QuadGPUMaster)
		}
		if gpuCount >= 8 {
			c.grant(u, GPUHoarder)
		}

		memGB := float64(us.totalMemMB) / 1024
		if memGB >= 300 {
			c.grant(u, RAMBeast)
		}
		if memGB >= 500 {
			c.grant(u, RAMMonster)
		}

		if us.maxGPUMemPct >= 90 {
			c.grant(u, MemoryTitan)
		}
		if us.maxGPUMemPct >= 99 {
			c.grant(u, MemoryPerfectionist)
		}
		if us.maxGPUUtil >= 95 {
			c.grant(u, UtilizationChampion)
		}
		if us.maxProcessHours >= 24 {
			c.grant(u, GPUMarathon)
		}
		if us.maxProcessHours >= 168 {
			c.grant(u, GPUUltraMarathon)
		}
		if len(us.cpuMachines) > 0 {
			c.grant(u, CPUMaximus)
		}
		if len(us.machines) >= 3 {
			c.grant(u, ClusterCommander)
		}
		if len(us.machines) >= 5 {
			c.grant(u, ClusterOverlord)
		}
		// approximated by the busiest GPU the user touches
		if gpuCount > 0 && us.maxGPUUtil >= 80 {
			c.grant(u, EfficiencyExpert)
		}
	}

	if agg != nil {
		for _, raw := range sortedKeys(agg.Users) {
			life := agg.Users[raw]
			if life == nil {
				continue
			}
			u := canon.Canonical(raw)
			if life.TotalGBHours >= 100 {
				c.grant(u, GPUVeteran)
			}
			if life.TotalGBHours >= 1000 {
				c.grant(u, GPUHero)
			}
			if life.TotalGBHours >= 10000 {
				c.grant(u, GPULegend)
			}
			if len(life.AllMachines) >= 10 {
				c.grant(u, GlobeTrotter)
			}
		}
	}

	return c.awards
}
