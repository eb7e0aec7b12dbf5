package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the single source LoadEffectiveConfig chose.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseConfigFlags parses the process flags.
func ParseConfigFlags() Flags {
	f, err := ParseFlagSet(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	return f
}

// ParseFlagSet registers --addr, --db and --config on fs and parses args.
func ParseFlagSet(fs *flag.FlagSet, args []string) (Flags, error) {
	addrPtr := fs.String("addr", DefaultAddr, "ops HTTP listen address")
	dbPtr := fs.String("db", DefaultDBPath, "Pebble DB path")
	cfgPtr := fs.String("config", DefaultConfigPath, "Path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}, nil
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads CHATLOG_* variables into a fresh Config and
// reports whether any were set.
func ParseConfigEnvs() (*Config, bool, error) {
	envCfg := &Config{}
	envUsed := false
	var errs []error

	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			envUsed = true
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			envUsed = true
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes":
				*dst = true
			default:
				*dst = false
			}
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			envUsed = true
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			envUsed = true
			*dst = f
		}
	}
	duration := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			envUsed = true
			*dst = d
		}
	}
	size := func(name string, dst *SizeBytes) {
		if v := os.Getenv(name); v != "" {
			s, err := ParseSize(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			envUsed = true
			*dst = s
		}
	}

	// Server address/port
	if v := os.Getenv("CHATLOG_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		str("CHATLOG_SERVER_ADDRESS", &envCfg.Server.Address)
		integer("CHATLOG_SERVER_PORT", &envCfg.Server.Port)
	}
	str("CHATLOG_DB_PATH", &envCfg.Server.DBPath)

	str("CHATLOG_LOG_LEVEL", &envCfg.Logging.Level)
	boolean("CHATLOG_LOG_AUDIT", &envCfg.Logging.Audit)

	boolean("CHATLOG_RETENTION_ENABLED", &envCfg.Retention.Enabled)
	str("CHATLOG_RETENTION_CRON", &envCfg.Retention.Cron)
	integer("CHATLOG_RETENTION_WORKERS", &envCfg.Retention.Workers)
	duration("CHATLOG_RETENTION_LEASE", &envCfg.Retention.Lease)
	boolean("CHATLOG_RETENTION_PAUSED", &envCfg.Retention.Paused)

	float("CHATLOG_CHAT_WINDOW_BEFORE_RATIO", &envCfg.Chat.WindowBeforeRatio)

	float("CHATLOG_WORKFLOW_STEPS_PER_SECOND", &envCfg.Workflow.StepsPerSecond)
	integer("CHATLOG_WORKFLOW_BURST", &envCfg.Workflow.Burst)
	duration("CHATLOG_WORKFLOW_POLL_INTERVAL", &envCfg.Workflow.PollInterval)

	for name, ep := range map[string]*EndpointConfig{
		"LEDGER":   &envCfg.Collaborators.Ledger,
		"ESCROW":   &envCfg.Collaborators.Escrow,
		"BLOBS":    &envCfg.Collaborators.Blobs,
		"EXPORTER": &envCfg.Collaborators.Exporter,
	} {
		str("CHATLOG_"+name+"_URL", &ep.URL)
		duration("CHATLOG_"+name+"_TIMEOUT", &ep.Timeout)
		size("CHATLOG_"+name+"_MAX_RESPONSE_BYTES", &ep.MaxResponseBytes)
	}

	return envCfg, envUsed, errors.Join(errs...)
}

// LoadEffectiveConfig decides which single source to use (flags, config
// file, or env) and returns the effective config plus resolved addr and
// dbPath. It honors an explicit flags.Config (user provided --config)
// by using the config file only; otherwise it uses flags if any flags
// are set; else if a config file exists it uses that; otherwise env.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	finish := func(cfg *Config, source string) (EffectiveConfigResult, error) {
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return res, err
		}
		res.Config = cfg
		res.Addr = cfg.Addr()
		res.DBPath = cfg.Server.DBPath
		res.Source = source
		return res, nil
	}

	// If user explicitly passed --config, require the file to exist and use it.
	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		return finish(fileCfg, "config")
	}

	// If user passed any non-config flags (addr/db), use flags exclusively.
	if flags.Set["addr"] || flags.Set["db"] {
		addr := flags.Addr
		if !flags.Set["addr"] {
			addr = envCfg.Addr()
		}
		dbPath := flags.DB
		if !flags.Set["db"] {
			if p := strings.TrimSpace(envCfg.Server.DBPath); p != "" {
				dbPath = p
			} else if p := strings.TrimSpace(fileCfg.Server.DBPath); p != "" {
				dbPath = p
			}
		}
		out := &Config{}
		out.Server.Address, out.Server.Port = splitAddr(addr)
		out.Server.DBPath = dbPath
		r, err := finish(out, "flags")
		if err == nil {
			r.Addr = addr
		}
		return r, err
	}

	// No explicit flags: prefer file config if present, otherwise env.
	if fileExists {
		return finish(fileCfg, "config")
	}
	return finish(envCfg, "env")
}

// splitAddr extracts the host and port of a host:port string.
func splitAddr(a string) (string, int) {
	if a == "" {
		return "", 0
	}
	h, p, err := net.SplitHostPort(a)
	if err != nil {
		return a, 0
	}
	pi, _ := strconv.Atoi(p)
	return h, pi
}
