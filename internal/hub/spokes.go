package hub

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mycoool/gpuhub/internal/stats"
)

// Error texts recorded on merged spoke entries.
const (
	StaleReport   = "stale report"
	InvalidReport = "invalid report"
)

// ReadSpokes loads every <hostname>.json dropped into dir by spokes, sorted
// by name. Reports older than maxAge are kept but marked stale so the
// dashboard still lists the machine.
func ReadSpokes(dir string, maxAge time.Duration, now time.Time) []stats.Server {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		log.Printf("hub: list spoke reports in %s: %v", dir, err)
		return nil
	}
	servers := make([]stats.Server, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".json")
		info, err := os.Stat(p)
		if err != nil {
			continue
		}

		var srv stats.Server
		if err := stats.ReadJSON(p, &srv); err != nil {
			log.Printf("hub: spoke report %s: %v", p, err)
			srv = stats.Server{Name: name}
			srv.SetError(InvalidReport)
		}
		if srv.Name == "" {
			srv.Name = name
		}
		if srv.GPUs == nil {
			srv.GPUs = []stats.GPU{}
		}

		collected := info.ModTime()
		if srv.CollectedAt != "" {
			if t, err := stats.ParseTimestamp(srv.CollectedAt); err == nil {
				collected = t
			}
		}
		if maxAge > 0 && now.Sub(collected) > maxAge && !srv.Failed() {
			srv.SetError(StaleReport)
		}
		servers = append(servers, srv)
	}
	stats.SortServers(servers)
	return servers
}
