package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr        = ":8080"
	DefaultDBPath      = "./.chatlog"
	DefaultConfigPath  = "./config.yaml"
	DefaultCron        = "*/5 * * * *"
	DefaultLease       = 10 * time.Minute
	DefaultPoll        = time.Second
	DefaultTimeout     = 10 * time.Second
	DefaultMaxResponse = 4 << 20
)

// Addr returns host:port for the ops server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Server.DBPath == "" {
		c.Server.DBPath = DefaultDBPath
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = DefaultCron
	}
	if c.Retention.Workers <= 0 {
		c.Retention.Workers = 4
	}
	if c.Retention.Lease == 0 {
		c.Retention.Lease = Duration(DefaultLease)
	}
	if c.Workflow.PollInterval == 0 {
		c.Workflow.PollInterval = Duration(DefaultPoll)
	}
	for _, ep := range []*EndpointConfig{&c.Collaborators.Ledger, &c.Collaborators.Escrow, &c.Collaborators.Blobs, &c.Collaborators.Exporter} {
		if ep.Timeout == 0 {
			ep.Timeout = Duration(DefaultTimeout)
		}
		if ep.MaxResponseBytes == 0 {
			ep.MaxResponseBytes = DefaultMaxResponse
		}
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if r := c.Chat.WindowBeforeRatio; r < 0 || r >= 1 {
		return fmt.Errorf("chat.window_before_ratio must be in [0, 1): %v", r)
	}
	if c.Workflow.StepsPerSecond < 0 {
		return fmt.Errorf("workflow.steps_per_second must not be negative")
	}
	if c.Retention.Lease.Duration() < 0 {
		return fmt.Errorf("retention.lease must not be negative")
	}
	return nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDotEnv loads a .env file into the process environment if one is
// present. Existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `CHATLOG_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATLOG_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
