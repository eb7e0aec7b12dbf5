package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Retention     RetentionConfig     `yaml:"retention"`
	Chat          ChatConfig          `yaml:"chat"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
}

// ServerConfig holds the ops listener and database location.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Audit enables the JSON audit sink under state/audit.
	Audit bool `yaml:"audit"`
}

// RetentionConfig holds configuration for the expiry sweep.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Workers bounds how many chats are swept at once.
	Workers int      `yaml:"workers"`
	Lease   Duration `yaml:"lease"`
	Paused  bool     `yaml:"paused"`
}

// ChatConfig tunes chat logs.
type ChatConfig struct {
	WindowBeforeRatio float64 `yaml:"window_before_ratio"`
}

// WorkflowConfig controls the background job loop.
type WorkflowConfig struct {
	StepsPerSecond float64  `yaml:"steps_per_second"`
	Burst          int      `yaml:"burst"`
	PollInterval   Duration `yaml:"poll_interval"`
}

// CollaboratorsConfig holds the endpoints of the external services jobs
// call. An empty URL leaves that collaborator unconfigured.
type CollaboratorsConfig struct {
	Ledger   EndpointConfig `yaml:"ledger"`
	Escrow   EndpointConfig `yaml:"escrow"`
	Blobs    EndpointConfig `yaml:"blobs"`
	Exporter EndpointConfig `yaml:"exporter"`
}

type EndpointConfig struct {
	URL              string    `yaml:"url"`
	Timeout          Duration  `yaml:"timeout"`
	MaxResponseBytes SizeBytes `yaml:"max_response_bytes"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSize accepts "4MB", "512 KiB" or a plain byte count.
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDuration accepts Go duration strings or numeric seconds.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
