package achievements

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mycoool/gpuhub/internal/aggregate"
	"github.com/mycoool/gpuhub/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func proc(user string, mem int, etime string) stats.Process {
	return stats.Process{PID: "1", Name: "python", User: user, Mem: mem, Time: etime}
}

func ids(awards []Award, user string) []string {
	var out []string
	for _, a := range awards {
		if a.User == user {
			out = append(out, a.AchievementID)
		}
	}
	return out
}

func TestCatalogComplete(t *testing.T) {
	assert.Len(t, Catalog, 21)
	for id, def := range Catalog {
		assert.NotEmpty(t, def.Name, id)
		assert.NotEqual(t, 99, def.Tier.rank(), id)
	}
	unknown := Lookup("nope")
	assert.Equal(t, "Unknown", unknown.Name)
}

func TestCheckPerUserRules(t *testing.T) {
	var gpus []stats.GPU
	for i := 0; i < 4; i++ {
		gpus = append(gpus, stats.GPU{Index: i, MemUsed: 79000, MemTotal: 80000, Util: 97,
			Processes: []stats.Process{proc("alice", 80000, "1-02:00:00")}})
	}
	snap := &stats.Snapshot{Servers: []stats.Server{{Name: "lambda", GPUs: gpus, CPUUtil: 99}}}
	store := NewStore()

	awards := Check(snap, nil, aggregate.NewCanonicalizer(nil), store, now)
	got := ids(awards, "alice")

	assert.Subset(t, got, []string{FirstBlood, QuadGPUMaster, RAMBeast, MemoryTitan,
		UtilizationChampion, GPUMarathon, CPUMaximus, EfficiencyExpert})
	assert.NotContains(t, got, GPUHoarder)
	assert.NotContains(t, got, RAMMonster)
	assert.NotContains(t, got, MemoryPerfectionist)
	assert.NotContains(t, got, GPUUltraMarathon)
	assert.NotContains(t, got, ClusterCommander)
	assert.Equal(t, stats.Timestamp(now), awards[0].Timestamp)
}

func TestCheckIsIdempotent(t *testing.T) {
	snap := &stats.Snapshot{Servers: []stats.Server{{Name: "a", GPUs: []stats.GPU{
		{Index: 0, Processes: []stats.Process{proc("bob", 100, "05:00")}},
	}}}}
	store := NewStore()
	canon := aggregate.NewCanonicalizer(nil)

	first := Check(snap, nil, canon, store, now)
	assert.Equal(t, []string{FirstBlood}, ids(first, "bob"))

	second := Check(snap, nil, canon, store, now.Add(time.Hour))
	assert.Empty(t, second)
	assert.Equal(t, stats.Timestamp(now), store.Users["bob"][FirstBlood].EarnedAt)
}

func TestCheckIgnoresRootAndFailedServers(t *testing.T) {
	failed := "Failed to connect or run nvidia-smi."
	snap := &stats.Snapshot{Servers: []stats.Server{
		{Name: "a", GPUs: []stats.GPU{{Index: 0, Processes: []stats.Process{proc("root", 100, "01:00")}}}},
		{Name: "b", Error: &failed, GPUs: []stats.GPU{{Index: 0, Processes: []stats.Process{proc("eve", 100, "01:00")}}}},
	}}
	store := NewStore()
	assert.Empty(t, Check(snap, nil, aggregate.NewCanonicalizer(nil), store, now))
	assert.Empty(t, store.Users)
}

func TestCheckCooperativeRules(t *testing.T) {
	snap := &stats.Snapshot{Servers: []stats.Server{{Name: "shared", GPUs: []stats.GPU{
		{Index: 0, Processes: []stats.Process{proc("u1", 10, "01:00"), proc("u2", 10, "01:00")}},
		{Index: 1, Processes: []stats.Process{proc("u3", 10, "01:00")}},
		{Index: 2, Processes: []stats.Process{proc("u4", 10, "01:00")}},
	}}}}
	awards := Check(snap, nil, aggregate.NewCanonicalizer(nil), NewStore(), now)

	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		assert.Contains(t, ids(awards, u), PartyMachine, u)
		assert.Contains(t, ids(awards, u), FullHouse, u)
	}
	assert.Contains(t, ids(awards, "u1"), GPURoommate)
	assert.Contains(t, ids(awards, "u2"), GPURoommate)
	assert.NotContains(t, ids(awards, "u3"), GPURoommate)
}

func TestCheckFullHouseNeedsEveryGPU(t *testing.T) {
	snap := &stats.Snapshot{Servers: []stats.Server{{Name: "half", GPUs: []stats.GPU{
		{Index: 0, Processes: []stats.Process{proc("u1", 10, "01:00")}},
		{Index: 1},
	}}}}
	awards := Check(snap, nil, aggregate.NewCanonicalizer(nil), NewStore(), now)
	assert.NotContains(t, ids(awards, "u1"), FullHouse)
}

func TestCheckClusterAndAliases(t *testing.T) {
	var servers []stats.Server
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		user := "carol"
		if i%2 == 1 {
			user = "Carol2"
		}
		servers = append(servers, stats.Server{Name: name, GPUs: []stats.GPU{
			{Index: 0, Processes: []stats.Process{proc(user, 10, "01:00")}},
		}})
	}
	canon := aggregate.NewCanonicalizer(map[string]string{"carol2": "carol"})
	awards := Check(&stats.Snapshot{Servers: servers}, nil, canon, NewStore(), now)

	assert.Subset(t, ids(awards, "carol"), []string{ClusterCommander, ClusterOverlord, QuadGPUMaster})
	assert.Empty(t, ids(awards, "carol2"))
}

func TestCheckLifetimeRules(t *testing.T) {
	agg := aggregate.New()
	machines := []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9"}
	agg.Users["dave"] = &aggregate.UserStats{TotalGBHours: 1500, AllMachines: machines}
	agg.Users["erin"] = &aggregate.UserStats{TotalGBHours: 50, AllMachines: []string{"m0"}}

	awards := Check(&stats.Snapshot{}, agg, aggregate.NewCanonicalizer(nil), NewStore(), now)
	assert.ElementsMatch(t, []string{GPUVeteran, GPUHero, GlobeTrotter}, ids(awards, "dave"))
	assert.Empty(t, ids(awards, "erin"))
}

func TestUserAchievementsOrder(t *testing.T) {
	s := NewStore()
	s.award("zed", GPURoommate, "2025-01-01T00:00:00.000000Z")
	s.award("zed", GPUHoarder, "2025-01-03T00:00:00.000000Z")
	s.award("zed", MemoryTitan, "2025-01-02T00:00:00.000000Z")
	s.award("zed", QuadGPUMaster, "2025-01-01T00:00:00.000000Z")

	list := s.UserAchievements("zed")
	var order []string
	for _, a := range list {
		order = append(order, a.ID)
	}
	assert.Equal(t, []string{GPUHoarder, QuadGPUMaster, MemoryTitan, GPURoommate}, order)
	assert.Empty(t, s.UserAchievements("nobody"))
}

func TestSummarize(t *testing.T) {
	s := NewStore()
	for i := 0; i < 12; i++ {
		user := string(rune('a' + i))
		s.award(user, FirstBlood, "t")
	}
	s.award("a", GPURoommate, "t")
	s.award("b", GPURoommate, "t")
	s.award("b", FullHouse, "t")

	sum := s.Summarize()
	assert.Equal(t, 15, sum.TotalEarned)
	assert.Equal(t, 12, sum.TotalUsers)
	assert.Equal(t, 12, sum.Distribution[FirstBlood])
	assert.Equal(t, 2, sum.Distribution[GPURoommate])
	require.Len(t, sum.TopAchievers, 10)
	assert.Equal(t, UserCount{User: "b", Count: 3}, sum.TopAchievers[0])
	assert.Equal(t, UserCount{User: "a", Count: 2}, sum.TopAchievers[1])
}

func TestStoreRoundTripAndCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "achievements.json")

	assert.Empty(t, Load(path).Users)

	s := NewStore()
	s.award("alice", FirstBlood, stats.Timestamp(now))
	require.NoError(t, s.Save(path, now))

	loaded := Load(path)
	assert.True(t, loaded.Has("alice", FirstBlood))
	require.NotNil(t, loaded.UpdatedAt)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Empty(t, Load(path).Users)
}

func TestLoadDropsNullUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "achievements.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":{"alice":null}}`), 0o644))

	store := Load(path)
	assert.NotContains(t, store.Users, "alice")

	snap := &stats.Snapshot{Servers: []stats.Server{{Name: "lambda", GPUs: []stats.GPU{
		{Index: 0, Processes: []stats.Process{proc("alice", 1024, "10:00")}},
	}}}}
	var awards []Award
	assert.NotPanics(t, func() { awards = Check(snap, nil, nil, store, now) })
	assert.Contains(t, ids(awards, "alice"), FirstBlood)
}

func TestCheckToleratesNilEntries(t *testing.T) {
	store := NewStore()
	store.Users["alice"] = nil
	agg := aggregate.New()
	agg.Users["bob"] = nil

	snap := &stats.Snapshot{Servers: []stats.Server{{Name: "lambda", GPUs: []stats.GPU{
		{Index: 0, Processes: []stats.Process{proc("alice", 1024, "10:00")}},
	}}}}
	var awards []Award
	require.NotPanics(t, func() { awards = Check(snap, agg, nil, store, now) })
	assert.Contains(t, ids(awards, "alice"), FirstBlood)
	assert.Empty(t, ids(awards, "bob"))
}
