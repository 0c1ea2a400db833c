// Package stats holds the GPU snapshot model shared by spokes, the hub and the
// dashboard, together with the parsers for the command output it is built from.
package stats

import "time"

// Process is one compute process running on a GPU.
type Process struct {
	PID  string `json:"pid"`
	Name string `json:"name"`
	User string `json:"user"`
	Mem  int    `json:"mem"`            // MiB
	Time string `json:"time,omitempty"` // ps etime format, [[dd-]hh:]mm:ss
}

// GPU is one device as reported by nvidia-smi.
type GPU struct {
	Index       int       `json:"index"`
	UUID        string    `json:"uuid,omitempty"`
	Name        string    `json:"name,omitempty"`
	MemUsed     int       `json:"mem_used"`
	MemTotal    int       `json:"mem_total"`
	Util        int       `json:"util"`
	Temperature int       `json:"temperature,omitempty"`
	Processes   []Process `json:"processes"`
}

// Server is the stats of one machine. It is also the layout of a spoke's
// local stats file.
type Server struct {
	Name        string  `json:"name"`
	GPUs        []GPU   `json:"gpus"`
	CPUUtil     float64 `json:"cpu_util,omitempty"`
	MemUsedGB   float64 `json:"mem_used_gb,omitempty"`
	MemTotalGB  float64 `json:"mem_total_gb,omitempty"`
	Error       *string `json:"error"`
	CollectedAt string  `json:"collected_at,omitempty"`
}

// Failed reports whether the server entry carries a collection error.
func (s Server) Failed() bool {
	return s.Error != nil && *s.Error != ""
}

// SetError marks the server entry as failed.
func (s *Server) SetError(msg string) {
	s.Error = &msg
}

// Snapshot is the hub's status file.
type Snapshot struct {
	Servers     []Server `json:"servers"`
	LastUpdated string   `json:"last_updated"`
}

// Timestamp formats t the way every file in this project stores times.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

// ParseTimestamp parses a time written by Timestamp (or any RFC3339 time).
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
