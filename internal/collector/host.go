package collector

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/mycoool/gpuhub/internal/stats"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const gib = 1 << 30

// LocalHost fills CPU and memory usage of the running machine.
func LocalHost(ctx context.Context, s *stats.Server) {
	if perc, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(perc) > 0 {
		s.CPUUtil = perc[0]
	} else if err != nil {
		log.Printf("collector: cpu percent: %v", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		s.MemUsedGB = float64(vm.Used) / gib
		s.MemTotalGB = float64(vm.Total) / gib
	}
}

// LocalOwners resolves owner and elapsed run time of local pids without
// spawning ps. Pids that vanished are left out.
func LocalOwners(ctx context.Context, pids []string) map[string]stats.PSEntry {
	now := time.Now()
	res := make(map[string]stats.PSEntry, len(pids))
	for _, raw := range pids {
		pid, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			continue
		}
		p, err := process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			continue
		}
		user, err := p.UsernameWithContext(ctx)
		if err != nil {
			continue
		}
		entry := stats.PSEntry{User: user}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			entry.Elapsed = stats.FormatElapsed(int64(now.Sub(time.UnixMilli(created)).Seconds()))
		}
		res[raw] = entry
	}
	return res
}
