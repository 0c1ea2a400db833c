package aggregate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mycoool/gpuhub/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() *stats.Snapshot {
	failed := "Failed to connect or run nvidia-smi."
	return &stats.Snapshot{Servers: []stats.Server{
		{Name: "lambda", GPUs: []stats.GPU{
			{Index: 0, Processes: []stats.Process{{PID: "1", User: "Alice", Mem: 2048}, {PID: "2", User: "root", Mem: 4096}}},
			{Index: 1, Processes: []stats.Process{{PID: "3", User: "alice2", Mem: 1024}}},
		}},
		{Name: "titan", GPUs: []stats.GPU{
			{Index: 0, Processes: []stats.Process{{PID: "4", User: "bob", Mem: 512}}},
		}},
		{Name: "broken", Error: &failed, GPUs: []stats.GPU{
			{Index: 0, Processes: []stats.Process{{PID: "9", User: "mallory", Mem: 99999}}},
		}},
	}}
}

func TestCanonicalizer(t *testing.T) {
	c := NewCanonicalizer(map[string]string{"Alice2": "alice"})
	assert.Equal(t, "alice", c.Canonical("ALICE2"))
	assert.Equal(t, "bob", c.Canonical("bob"))
	assert.Equal(t, "unknown", c.Canonical(""))
}

func TestUpdateFirstRunRecordsPresenceOnly(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Update(snapshot(), NewCanonicalizer(map[string]string{"alice": "alice", "alice2": "alice"}), now, time.Hour)

	require.Contains(t, s.Users, "alice")
	assert.Zero(t, s.Users["alice"].TotalGBHours)
	assert.Equal(t, 2, s.Users["alice"].MaxGPUs)
	assert.Equal(t, []string{"lambda"}, s.Users["alice"].AllMachines)
	assert.NotContains(t, s.Users, "root")
	assert.NotContains(t, s.Users, "mallory")
	require.NotNil(t, s.UpdatedAt)
}

func TestUpdateChargesElapsedTimeClamped(t *testing.T) {
	s := New()
	canon := NewCanonicalizer(map[string]string{"alice": "alice", "alice2": "alice"})
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Update(snapshot(), canon, t0, time.Hour)

	s.Update(snapshot(), canon, t0.Add(30*time.Minute), time.Hour)
	// alice holds 3 GiB for half an hour
	assert.InDelta(t, 1.5, s.Users["alice"].TotalGBHours, 1e-9)
	assert.InDelta(t, 0.25, s.Users["bob"].TotalGBHours, 1e-9)

	// a six hour gap is charged as one hour
	s.Update(snapshot(), canon, t0.Add(30*time.Minute+6*time.Hour), time.Hour)
	assert.InDelta(t, 4.5, s.Users["alice"].TotalGBHours, 1e-9)
	assert.Equal(t, 3, s.Users["alice"].Samples)
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := Load(filepath.Join(dir, "absent.json"))
	assert.Empty(t, s.Users)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	assert.Empty(t, Load(bad).Users)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aggregate_stats.json")
	s := New()
	s.Update(snapshot(), nil, time.Now(), time.Hour)
	require.NoError(t, s.Save(path))

	loaded := Load(path)
	assert.Equal(t, s.Users["bob"].AllMachines, loaded.Users["bob"].AllMachines)
	assert.Equal(t, *s.UpdatedAt, *loaded.UpdatedAt)
}

func TestLoadDropsNullUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aggregate_stats.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":{"alice":null,"bob":{"total_gb_hours":2}}}`), 0o644))

	s := Load(path)
	assert.NotContains(t, s.Users, "alice")
	require.Contains(t, s.Users, "bob")

	assert.NotPanics(t, func() {
		s.Update(snapshot(), NewCanonicalizer(map[string]string{"alice2": "alice"}), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)
	})
	require.Contains(t, s.Users, "alice")
	assert.Equal(t, 1, s.Users["alice"].Samples)
}

func TestUpdateReplacesNilEntry(t *testing.T) {
	s := New()
	s.Users["bob"] = nil
	s.Update(snapshot(), nil, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)
	require.NotNil(t, s.Users["bob"])
	assert.Equal(t, []string{"titan"}, s.Users["bob"].AllMachines)
}
