package stats

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Queries issued against nvidia-smi. The GPU query has two trailing columns
// (name, temperature) that older drivers may leave empty.
const (
	GPUQuery  = "nvidia-smi --query-gpu=index,memory.used,memory.total,utilization.gpu,uuid,name,temperature.gpu --format=csv,noheader,nounits"
	ProcQuery = "nvidia-smi --query-compute-apps=gpu_uuid,pid,process_name,used_gpu_memory --format=csv,noheader,nounits"
)

// App is one row of the compute-apps query.
type App struct {
	GPUUUID string
	PID     string
	Name    string
	Mem     int
}

// PSEntry is one row of `ps -o pid=,user=,etime=`.
type PSEntry struct {
	User    string
	Elapsed string
}

func readCSV(out string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
}

// atoi treats nvidia-smi placeholders such as "[N/A]" as zero.
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// ParseGPUs parses the output of GPUQuery. The result keeps nvidia-smi's order.
func ParseGPUs(out string) ([]GPU, error) {
	rows, err := readCSV(out)
	if err != nil {
		return nil, fmt.Errorf("parse gpu query: %w", err)
	}
	gpus := make([]GPU, 0, len(rows))
	for _, rec := range rows {
		if len(rec) < 5 {
			return nil, fmt.Errorf("parse gpu query: expected at least 5 fields, got %d in %q", len(rec), strings.Join(rec, ", "))
		}
		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("parse gpu query: bad index %q", rec[0])
		}
		g := GPU{
			Index:     idx,
			MemUsed:   atoi(rec[1]),
			MemTotal:  atoi(rec[2]),
			Util:      atoi(rec[3]),
			UUID:      rec[4],
			Processes: []Process{},
		}
		if len(rec) > 5 {
			g.Name = rec[5]
		}
		if len(rec) > 6 {
			g.Temperature = atoi(rec[6])
		}
		gpus = append(gpus, g)
	}
	return gpus, nil
}

// ParseApps parses the output of ProcQuery.
func ParseApps(out string) ([]App, error) {
	rows, err := readCSV(out)
	if err != nil {
		return nil, fmt.Errorf("parse compute apps: %w", err)
	}
	apps := make([]App, 0, len(rows))
	for _, rec := range rows {
		if len(rec) != 4 {
			return nil, fmt.Errorf("parse compute apps: expected 4 fields, got %d in %q", len(rec), strings.Join(rec, ", "))
		}
		apps = append(apps, App{GPUUUID: rec[0], PID: rec[1], Name: rec[2], Mem: atoi(rec[3])})
	}
	return apps, nil
}

// PSCommand builds the ps invocation resolving owners and run times of pids.
func PSCommand(pids []string) string {
	return "ps -o pid=,user=,etime= -p " + strings.Join(pids, ",")
}

// ParsePS parses `ps -o pid=,user=[,etime=]` output keyed by pid.
// Malformed lines are skipped.
func ParsePS(out string) map[string]PSEntry {
	res := make(map[string]PSEntry)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		switch len(f) {
		case 2:
			res[f[0]] = PSEntry{User: f[1]}
		case 3:
			res[f[0]] = PSEntry{User: f[1], Elapsed: f[2]}
		}
	}
	return res
}

// PIDs returns the distinct pids of apps in first-seen order.
func PIDs(apps []App) []string {
	seen := make(map[string]bool, len(apps))
	pids := make([]string, 0, len(apps))
	for _, a := range apps {
		if seen[a.PID] {
			continue
		}
		seen[a.PID] = true
		pids = append(pids, a.PID)
	}
	return pids
}

// Attach distributes apps over the gpus they run on. Apps on an unknown GPU
// are dropped; pids missing from owners get user "unknown".
func Attach(gpus []GPU, apps []App, owners map[string]PSEntry) []GPU {
	byUUID := make(map[string]int, len(gpus))
	for i := range gpus {
		byUUID[gpus[i].UUID] = i
		if gpus[i].Processes == nil {
			gpus[i].Processes = []Process{}
		}
	}
	for _, a := range apps {
		i, ok := byUUID[a.GPUUUID]
		if !ok {
			continue
		}
		p := Process{PID: a.PID, Name: a.Name, User: "unknown", Mem: a.Mem}
		if o, ok := owners[a.PID]; ok {
			p.User = o.User
			p.Time = o.Elapsed
		}
		gpus[i].Processes = append(gpus[i].Processes, p)
	}
	return gpus
}

// ElapsedHours converts a ps etime value ([[dd-]hh:]mm:ss) to hours.
// Unparseable input yields 0.
func ElapsedHours(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	days := 0
	if d, rest, ok := strings.Cut(s, "-"); ok {
		n, err := strconv.Atoi(d)
		if err != nil {
			return 0
		}
		days, s = n, rest
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	vals := make([]int, 3)
	off := 3 - len(parts)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		vals[off+i] = n
	}
	return float64(days*24+vals[0]) + float64(vals[1])/60 + float64(vals[2])/3600
}

// FormatElapsed renders seconds in ps etime format.
func FormatElapsed(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	d := secs / 86400
	h := secs % 86400 / 3600
	m := secs % 3600 / 60
	s := secs % 60
	switch {
	case d > 0:
		return fmt.Sprintf("%d-%02d:%02d:%02d", d, h, m, s)
	case h > 0:
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	default:
		return fmt.Sprintf("%02d:%02d", m, s)
	}
}

// ProcStatCommand samples the aggregate cpu line of /proc/stat twice, one
// second apart.
const ProcStatCommand = "head -n1 /proc/stat; sleep 1; head -n1 /proc/stat"

// ParseCPUUtil computes busy percent between two "cpu ..." lines of /proc/stat.
func ParseCPUUtil(out string) (float64, error) {
	var samples [][]uint64
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 5 || f[0] != "cpu" {
			continue
		}
		vals := make([]uint64, 0, len(f)-1)
		for _, v := range f[1:] {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse /proc/stat: %w", err)
			}
			vals = append(vals, n)
		}
		samples = append(samples, vals)
	}
	if len(samples) < 2 {
		return 0, fmt.Errorf("parse /proc/stat: need 2 samples, got %d", len(samples))
	}
	idle := func(v []uint64) uint64 {
		n := v[3]
		if len(v) > 4 {
			n += v[4] // iowait
		}
		return n
	}
	total := func(v []uint64) uint64 {
		var t uint64
		for _, x := range v {
			t += x
		}
		return t
	}
	a, b := samples[0], samples[len(samples)-1]
	dt := total(b) - total(a)
	if total(b) <= total(a) {
		return 0, nil
	}
	busy := dt - (idle(b) - idle(a))
	return float64(busy) / float64(dt) * 100, nil
}

// SortServers orders servers by name, keeping equal names stable.
func SortServers(servers []Server) {
	sort.SliceStable(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
}
