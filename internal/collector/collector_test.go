package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mycoool/gpuhub/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers commands by prefix.
type fakeRunner struct {
	answers map[string]string
	fail    map[string]bool
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, command string) (string, error) {
	f.calls = append(f.calls, command)
	for prefix, failed := range f.fail {
		if failed && strings.HasPrefix(command, prefix) {
			return "", errors.New("boom")
		}
	}
	for prefix, out := range f.answers {
		if strings.HasPrefix(command, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func fixedNow() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestCollectRemote(t *testing.T) {
	r := &fakeRunner{answers: map[string]string{
		"nvidia-smi --query-gpu":          "0, 1000, 80000, 90, GPU-a, A100, 50\n1, 0, 80000, 0, GPU-b, A100, 30",
		"nvidia-smi --query-compute-apps": "GPU-a, 11, python, 1000",
		"ps -o":                           "11 alice 2-00:00:00",
		"head -n1 /proc/stat":             "cpu  0 0 0 100 0\ncpu  50 0 50 100 0",
	}}
	c := NewRemote(r)
	c.Now = fixedNow

	srv := c.Collect(context.Background(), "lambda")
	require.False(t, srv.Failed())
	assert.Equal(t, "lambda", srv.Name)
	require.Len(t, srv.GPUs, 2)
	require.Len(t, srv.GPUs[0].Processes, 1)
	assert.Equal(t, "alice", srv.GPUs[0].Processes[0].User)
	assert.Equal(t, "2-00:00:00", srv.GPUs[0].Processes[0].Time)
	assert.Empty(t, srv.GPUs[1].Processes)
	assert.InDelta(t, 100.0, srv.CPUUtil, 1e-9)
	assert.Equal(t, "2025-03-01T12:00:00.000000Z", srv.CollectedAt)
	assert.Contains(t, r.calls, "ps -o pid=,user=,etime= -p 11")
}

func TestCollectGPUQueryFailure(t *testing.T) {
	r := &fakeRunner{fail: map[string]bool{"nvidia-smi": true}}
	srv := NewRemote(r).Collect(context.Background(), "titan")

	require.True(t, srv.Failed())
	assert.Equal(t, "Failed to connect or run nvidia-smi.", *srv.Error)
	assert.Empty(t, srv.GPUs)
	assert.Len(t, r.calls, 1)
}

func TestCollectWithoutProcessesSkipsPS(t *testing.T) {
	r := &fakeRunner{answers: map[string]string{
		"nvidia-smi --query-gpu": "0, 0, 100, 0, GPU-a",
	}}
	c := NewRemote(r)
	c.Host = func(context.Context, *stats.Server) {}

	srv := c.Collect(context.Background(), "idle")
	require.False(t, srv.Failed())
	for _, call := range r.calls {
		assert.False(t, strings.HasPrefix(call, "ps "), call)
	}
}

func TestCollectEnrichFromXML(t *testing.T) {
	xml := `<?xml version="1.0" ?>
<nvidia_smi_log>
  <gpu id="00000000:07:00.0">
    <product_name>NVIDIA H100 80GB HBM3</product_name>
    <uuid>GPU-a</uuid>
    <temperature><gpu_temp>64 C</gpu_temp></temperature>
  </gpu>
</nvidia_smi_log>`
	r := &fakeRunner{answers: map[string]string{
		"nvidia-smi --query-gpu": "0, 0, 100, 0, GPU-a",
		"nvidia-smi -q -x":       xml,
	}}
	c := NewRemote(r)
	c.Enrich = true
	c.Host = func(context.Context, *stats.Server) {}

	srv := c.Collect(context.Background(), "h100")
	require.Len(t, srv.GPUs, 1)
	assert.Equal(t, "NVIDIA H100 80GB HBM3", srv.GPUs[0].Name)
	assert.Equal(t, 64, srv.GPUs[0].Temperature)
}

func TestParseSMIXMLMultipleGPUs(t *testing.T) {
	xml := `<nvidia_smi_log>
  <gpu id="0"><product_name>A</product_name><uuid>GPU-1</uuid><temperature><gpu_temp>40 C</gpu_temp></temperature></gpu>
  <gpu id="1"><product_name>B</product_name><uuid>GPU-2</uuid><temperature><gpu_temp>N/A</gpu_temp></temperature></gpu>
</nvidia_smi_log>`
	got, err := ParseSMIXML([]byte(xml))
	require.NoError(t, err)
	assert.Equal(t, map[string]GPUDetail{
		"GPU-1": {ProductName: "A", Temperature: 40},
		"GPU-2": {ProductName: "B"},
	}, got)
}

func TestLocalRunner(t *testing.T) {
	dir := t.TempDir()
	out, err := LocalRunner{Dir: dir}.Run(context.Background(), "pwd")
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir, resolved}, out)

	_, err = LocalRunner{}.Run(context.Background(), "exit 3")
	require.Error(t, err)
}

func TestCommandStep(t *testing.T) {
	dir := t.TempDir()
	step := CommandStep{Argv: []string{"/bin/sh", "-c", "echo '{}' > my_stats.json"}, Dir: dir}
	res, err := step.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	_, err = os.Stat(filepath.Join(dir, "my_stats.json"))
	require.NoError(t, err)

	_, err = CommandStep{Argv: []string{"/bin/sh", "-c", "echo nope >&2; exit 4"}, Dir: dir}.Fetch(context.Background())
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 4, stepErr.ExitCode)
	assert.Contains(t, stepErr.Error(), "nope")

	_, err = CommandStep{}.Fetch(context.Background())
	require.Error(t, err)
}

func TestFuncStep(t *testing.T) {
	res, err := FuncStep(func(context.Context) error { return errors.New("x") }).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, res.ExitCode)
}
