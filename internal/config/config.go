// Package config loads the spoke and hub configuration files and resolves the
// directory every relative path is anchored to.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrConfig marks configuration that cannot be loaded or is incomplete.
var ErrConfig = errors.New("invalid configuration")

// HubFileName is the default hub configuration file.
const HubFileName = "hub.yaml"

// Server is one machine the hub polls over ssh.
type Server struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"` // [user@]host[:port]
}

// Git configures how the hub publishes its files.
type Git struct {
	Backend     string `yaml:"backend" json:"backend"` // gogit | cli
	Remote      string `yaml:"remote" json:"remote"`
	Branch      string `yaml:"branch" json:"branch"`
	AuthorName  string `yaml:"author_name" json:"author_name"`
	AuthorEmail string `yaml:"author_email" json:"author_email"`
	SSHKey      string `yaml:"ssh_key" json:"ssh_key"`
	TokenEnv    string `yaml:"token_env" json:"token_env"`
}

// Database configures run history storage. An empty Type disables it.
type Database struct {
	Type     string `yaml:"type" json:"type"` // sqlite | sqlite-pure
	Database string `yaml:"database" json:"database"`
}

// Hub is the hub configuration (hub.yaml).
type Hub struct {
	Servers          []Server          `yaml:"servers" json:"servers"`
	SpokesDir        string            `yaml:"spokes_dir" json:"spokes_dir"`
	SpokeMaxAge      time.Duration     `yaml:"spoke_max_age" json:"spoke_max_age"`
	StatusFile       string            `yaml:"status_file" json:"status_file"`
	AggregateFile    string            `yaml:"aggregate_file" json:"aggregate_file"`
	AchievementsFile string            `yaml:"achievements_file" json:"achievements_file"`
	TrackedFiles     []string          `yaml:"tracked_files" json:"tracked_files"`
	Git              Git               `yaml:"git" json:"git"`
	FetchCommand     []string          `yaml:"fetch_command" json:"fetch_command"`
	EnrichXML        bool              `yaml:"enrich_xml" json:"enrich_xml"`
	Aliases          map[string]string `yaml:"aliases" json:"aliases"`
	MaxSampleGap     time.Duration     `yaml:"max_sample_gap" json:"max_sample_gap"`
	SSHKey           string            `yaml:"ssh_key" json:"ssh_key"`
	KnownHosts       string            `yaml:"known_hosts" json:"known_hosts"`
	Timeout          time.Duration     `yaml:"timeout" json:"timeout"`
	Database         Database          `yaml:"database" json:"database"`
	Listen           string            `yaml:"listen" json:"listen"`
	JWTSecret        string            `yaml:"jwt_secret" json:"-"`
	JWTExpiryHours   int               `yaml:"jwt_expiry_hours" json:"jwt_expiry_hours"`
}

// DefaultHub returns a hub configuration with every default filled in.
func DefaultHub() *Hub {
	h := &Hub{}
	h.applyDefaults()
	return h
}

func (h *Hub) applyDefaults() {
	if h.SpokesDir == "" {
		h.SpokesDir = "spokes/"
	}
	if h.SpokeMaxAge <= 0 {
		h.SpokeMaxAge = 15 * time.Minute
	}
	if h.StatusFile == "" {
		h.StatusFile = "status.json"
	}
	if h.AggregateFile == "" {
		h.AggregateFile = "aggregate_stats.json"
	}
	if h.AchievementsFile == "" {
		h.AchievementsFile = "achievements.json"
	}
	if len(h.TrackedFiles) == 0 {
		h.TrackedFiles = []string{h.StatusFile, h.AggregateFile}
	}
	if h.Git.Backend == "" {
		h.Git.Backend = "gogit"
	}
	if h.Git.Remote == "" {
		h.Git.Remote = "origin"
	}
	if h.Git.Branch == "" {
		h.Git.Branch = "main"
	}
	if h.Git.TokenEnv == "" {
		h.Git.TokenEnv = "GPUHUB_GIT_TOKEN"
	}
	if h.MaxSampleGap <= 0 {
		h.MaxSampleGap = time.Hour
	}
	if h.Timeout <= 0 {
		h.Timeout = 10 * time.Second
	}
	if h.Listen == "" {
		h.Listen = ":9100"
	}
	if h.JWTSecret == "" {
		h.JWTSecret = DefaultJWTSecret
	}
	if h.JWTExpiryHours <= 0 {
		h.JWTExpiryHours = 24
	}
}

// LoadHub reads the hub configuration at path. A missing file is replaced by
// the defaults, which are written back so they can be edited.
func LoadHub(path string) (*Hub, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		h := DefaultHub()
		if saveErr := SaveHub(path, h); saveErr != nil {
			log.Printf("Warning: failed to save default hub config: %v", saveErr)
		} else {
			log.Printf("Created default %s configuration file", filepath.Base(path))
		}
		return h, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	h := &Hub{}
	if err := yaml.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	h.applyDefaults()
	for i, s := range h.Servers {
		if s.Name == "" || s.Address == "" {
			return nil, fmt.Errorf("%w: server %d needs both name and address", ErrConfig, i)
		}
	}
	return h, nil
}

// SaveHub writes h to path as YAML.
func SaveHub(path string, h *Hub) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("serialize hub config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save hub config: %v", err)
	}
	return nil
}

// DefaultJWTSecret is written to a fresh hub.yaml. It is public, so the
// update endpoint stays disabled until it is replaced.
const DefaultJWTSecret = "gpuhub-secret-key-change-in-production"

// DefaultSecret reports whether the API secret is unset or still the
// shipped default.
func (h *Hub) DefaultSecret() bool {
	return h.JWTSecret == "" || h.JWTSecret == DefaultJWTSecret
}

// GitToken returns the push token from the configured environment variable.
func (h *Hub) GitToken() string {
	if h.Git.TokenEnv == "" {
		return ""
	}
	return os.Getenv(h.Git.TokenEnv)
}
