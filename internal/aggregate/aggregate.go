// Package aggregate accumulates per-user GPU usage across hub runs.
package aggregate

import (
	"errors"
	"io/fs"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mycoool/gpuhub/internal/stats"
)

// UserStats is the lifetime usage of one canonical user.
type UserStats struct {
	TotalGBHours float64  `json:"total_gb_hours"`
	AllMachines  []string `json:"all_machines"`
	MaxGPUs      int      `json:"max_gpus"`
	LastSeen     string   `json:"last_seen,omitempty"`
	Samples      int      `json:"samples"`
}

// Stats is the aggregate stats file.
type Stats struct {
	Users     map[string]*UserStats `json:"users"`
	UpdatedAt *string               `json:"updated_at"`
}

// New returns an empty aggregate.
func New() *Stats {
	return &Stats{Users: map[string]*UserStats{}}
}

// Load reads path. A missing or unreadable file yields an empty aggregate.
func Load(path string) *Stats {
	s := New()
	if err := stats.ReadJSON(path, s); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("aggregate: failed to load %s, starting over: %v", path, err)
		}
		return New()
	}
	if s.Users == nil {
		s.Users = map[string]*UserStats{}
	}
	for u, us := range s.Users {
		if us == nil {
			log.Printf("aggregate: dropping empty entry for %s in %s", u, path)
			delete(s.Users, u)
		}
	}
	return s
}

// Save writes the aggregate to path.
func (s *Stats) Save(path string) error {
	return stats.WriteJSON(path, s)
}

// Canonicalizer maps raw usernames to canonical users.
type Canonicalizer map[string]string

// Canonical resolves a username through the alias table (case-insensitive
// keys). Empty names become "unknown".
func (c Canonicalizer) Canonical(user string) string {
	if user == "" {
		return "unknown"
	}
	if canon, ok := c[strings.ToLower(user)]; ok {
		return canon
	}
	return user
}

// NewCanonicalizer lower-cases the alias keys.
func NewCanonicalizer(aliases map[string]string) Canonicalizer {
	c := make(Canonicalizer, len(aliases))
	for k, v := range aliases {
		c[strings.ToLower(k)] = v
	}
	return c
}

// Update folds snap into s. Usage is charged for the time since the previous
// update, clamped to maxGap; the first update only records presence.
func (s *Stats) Update(snap *stats.Snapshot, canon Canonicalizer, now time.Time, maxGap time.Duration) {
	var hours float64
	if s.UpdatedAt != nil {
		if prev, err := stats.ParseTimestamp(*s.UpdatedAt); err == nil {
			elapsed := now.Sub(prev)
			if elapsed < 0 {
				elapsed = 0
			}
			if maxGap > 0 && elapsed > maxGap {
				elapsed = maxGap
			}
			hours = elapsed.Hours()
		}
	}

	type seen struct {
		machines map[string]bool
		gpus     map[string]bool
		memMB    int
	}
	current := map[string]*seen{}

	for _, srv := range snap.Servers {
		if srv.Failed() {
			continue
		}
		for _, gpu := range srv.GPUs {
			for _, p := range gpu.Processes {
				if p.User == "root" {
					continue
				}
				u := canon.Canonical(p.User)
				cur, ok := current[u]
				if !ok {
					cur = &seen{machines: map[string]bool{}, gpus: map[string]bool{}}
					current[u] = cur
				}
				cur.machines[srv.Name] = true
				cur.gpus[srv.Name+":"+strconv.Itoa(gpu.Index)] = true
				cur.memMB += p.Mem
			}
		}
	}

	ts := stats.Timestamp(now)
	for u, cur := range current {
		us := s.Users[u]
		if us == nil {
			us = &UserStats{AllMachines: []string{}}
			s.Users[u] = us
		}
		us.TotalGBHours += float64(cur.memMB) / 1024 * hours
		for m := range cur.machines {
			us.AllMachines = appendUnique(us.AllMachines, m)
		}
		sort.Strings(us.AllMachines)
		if n := len(cur.gpus); n > us.MaxGPUs {
			us.MaxGPUs = n
		}
		us.LastSeen = ts
		us.Samples++
	}
	s.UpdatedAt = &ts
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
