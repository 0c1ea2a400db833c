package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
)

// SpokeFileName is the default spoke configuration file.
const SpokeFileName = "config.json"

// SpokeConfigMessage is printed when the spoke configuration is unusable.
const SpokeConfigMessage = "Error: could not load hub_address or hub_path from config.json"

// Spoke is the spoke configuration (config.json).
type Spoke struct {
	HubAddress   string   `json:"hub_address"`
	HubPath      string   `json:"hub_path"`
	Transport    string   `json:"transport,omitempty"` // scp | ssh
	FetchCommand []string `json:"fetch_command,omitempty"`
	EnrichXML    bool     `json:"enrich_xml,omitempty"`
	StatsFile    string   `json:"stats_file,omitempty"`
	SSHKey       string   `json:"ssh_key,omitempty"`
	KnownHosts   string   `json:"known_hosts,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
}

// LoadSpoke reads the spoke configuration at path. GPUHUB_HUB_ADDRESS and
// GPUHUB_HUB_PATH override the file. Any failure wraps ErrConfig.
func LoadSpoke(path string) (*Spoke, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	s := &Spoke{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}

	s.HubAddress = firstNonEmpty(os.Getenv("GPUHUB_HUB_ADDRESS"), s.HubAddress)
	s.HubPath = firstNonEmpty(os.Getenv("GPUHUB_HUB_PATH"), s.HubPath)

	if strings.TrimSpace(s.HubAddress) == "" || strings.TrimSpace(s.HubPath) == "" {
		return nil, fmt.Errorf("%w: hub_address and hub_path are required", ErrConfig)
	}
	if s.StatsFile == "" {
		s.StatsFile = "my_stats.json"
	}
	switch s.Transport {
	case "":
		s.Transport = "scp"
	case "scp", "ssh":
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrConfig, s.Transport)
	}
	if _, err := s.TimeoutDuration(); err != nil {
		return nil, fmt.Errorf("%w: timeout: %v", ErrConfig, err)
	}
	return s, nil
}

// TimeoutDuration is the per-command timeout, 10s when unset.
func (s *Spoke) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(s.Timeout)
}
