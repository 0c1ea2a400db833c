package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGPUs(t *testing.T) {
	out := "0, 1024, 81920, 37, GPU-aaa, NVIDIA A100-SXM4-80GB, 41\n" +
		"1, [N/A], 81920, 0, GPU-bbb\n"

	gpus, err := ParseGPUs(out)
	require.NoError(t, err)
	require.Len(t, gpus, 2)

	assert.Equal(t, GPU{Index: 0, UUID: "GPU-aaa", Name: "NVIDIA A100-SXM4-80GB", MemUsed: 1024, MemTotal: 81920, Util: 37, Temperature: 41, Processes: []Process{}}, gpus[0])
	assert.Equal(t, 0, gpus[1].MemUsed)
	assert.Equal(t, "GPU-bbb", gpus[1].UUID)
	assert.Empty(t, gpus[1].Name)
}

func TestParseGPUsRejectsShortRows(t *testing.T) {
	_, err := ParseGPUs("0, 1024, 81920\n")
	require.Error(t, err)
}

func TestParseAppsAndAttach(t *testing.T) {
	gpus, err := ParseGPUs("0, 10, 100, 5, GPU-a\n1, 20, 100, 50, GPU-b\n")
	require.NoError(t, err)

	apps, err := ParseApps("GPU-a, 101, python, 512\nGPU-b, 202, /usr/bin/train, 2048\nGPU-x, 303, ghost, 1\n")
	require.NoError(t, err)
	require.Len(t, apps, 3)
	assert.Equal(t, []string{"101", "202", "303"}, PIDs(apps))

	owners := ParsePS(" 101 alice 1-02:03:04\n 303 bob 00:10\n")
	gpus = Attach(gpus, apps, owners)

	require.Len(t, gpus[0].Processes, 1)
	assert.Equal(t, Process{PID: "101", Name: "python", User: "alice", Mem: 512, Time: "1-02:03:04"}, gpus[0].Processes[0])
	require.Len(t, gpus[1].Processes, 1)
	assert.Equal(t, "unknown", gpus[1].Processes[0].User)
}

func TestParsePSTwoColumns(t *testing.T) {
	got := ParsePS("  42 carol\ngarbage\n")
	assert.Equal(t, map[string]PSEntry{"42": {User: "carol"}}, got)
}

func TestElapsedHours(t *testing.T) {
	cases := map[string]float64{
		"12:30:00":   12.5,
		"1-02:00:00": 26,
		"30:00":      0.5,
		"7-00:00:00": 168,
		"":           0,
		"bogus":      0,
		"x-01:00:00": 0,
	}
	for in, want := range cases {
		assert.InDelta(t, want, ElapsedHours(in), 1e-9, in)
	}
}

func TestFormatElapsedRoundTrip(t *testing.T) {
	for _, secs := range []int64{59, 3600, 90061, 7 * 86400} {
		assert.InDelta(t, float64(secs)/3600, ElapsedHours(FormatElapsed(secs)), 1e-6)
	}
	assert.Equal(t, "01:05", FormatElapsed(65))
	assert.Equal(t, "1-01:01:01", FormatElapsed(90061))
}

func TestParseCPUUtil(t *testing.T) {
	out := "cpu  100 0 100 800 0 0 0 0 0 0\ncpu  150 0 150 900 0 0 0 0 0 0\n"
	util, err := ParseCPUUtil(out)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, util, 1e-9)

	_, err = ParseCPUUtil("cpu  1 2 3 4\n")
	require.Error(t, err)
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "machine-2", ShortName("machine-2.mylab.edu"))
	assert.Equal(t, "solo", ShortName("solo"))
}

func TestWriteAndReadJSON(t *testing.T) {
	path := t.TempDir() + "/nested/status.json"
	in := Snapshot{Servers: []Server{{Name: "a", GPUs: []GPU{}}}, LastUpdated: "2025-01-01T00:00:00.000000Z"}
	require.NoError(t, WriteJSON(path, in))

	var out Snapshot
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)
	assert.False(t, out.Servers[0].Failed())
}
