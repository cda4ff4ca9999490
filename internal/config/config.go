// Package config loads chatsync settings from defaults, an optional YAML
// file, an optional .env file and CHATSYNC_* environment variables, in
// increasing order of precedence.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
	DriverMemory = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" json:"store"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Trigger   TriggerConfig   `yaml:"trigger" json:"trigger"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

type StoreConfig struct {
	Driver        string   `yaml:"driver" json:"driver"`
	Path          string   `yaml:"path" json:"path"`
	Namespace     string   `yaml:"namespace" json:"namespace"`
	ResolutionTTL Duration `yaml:"resolution_ttl" json:"resolution_ttl"`
}

type TransportConfig struct {
	Timeout   Duration `yaml:"timeout" json:"timeout"`
	UserAgent string   `yaml:"user_agent" json:"user_agent"`
}

// TriggerConfig selects how replay passes are triggered besides explicit
// flushes. An empty ProbeURL disables the connectivity hook; an empty Cron
// disables the schedule.
type TriggerConfig struct {
	ProbeURL      string   `yaml:"probe_url" json:"probe_url"`
	ProbeInterval Duration `yaml:"probe_interval" json:"probe_interval"`
	ProbeBurst    int      `yaml:"probe_burst" json:"probe_burst"`
	Cron          string   `yaml:"cron" json:"cron"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:        DriverSQLite,
			Path:          "chatsync.db",
			Namespace:     "default",
			ResolutionTTL: Duration(7 * 24 * time.Hour),
		},
		Transport: TransportConfig{
			Timeout:   Duration(30 * time.Second),
			UserAgent: "chatsync",
		},
		Trigger: TriggerConfig{
			ProbeInterval: Duration(5 * time.Second),
			ProbeBurst:    1,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8787",
			AllowedOrigins: []string{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Sources names the layers Load reads.
type Sources struct {
	// File is an optional YAML file. Unknown keys are rejected.
	File string

	// EnvFile is an optional dotenv file. A missing file is ignored.
	// Real environment variables win over its entries.
	EnvFile string

	// LookupEnv reads the environment. Default: os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load merges every layer and validates the result.
func Load(src Sources) (*Config, error) {
	cfg := Default()

	if src.File != "" {
		if err := cfg.mergeFile(src.File); err != nil {
			return nil, err
		}
	}

	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if src.EnvFile != "" {
		dotenv, err := godotenv.Read(src.EnvFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", src.EnvFile, err)
		}
		lookup = layered(lookup, dotenv)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration against the embedded CUE schema and
// the constraints CUE cannot express.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Store.Driver != DriverMemory && c.Store.Path == "" {
		return fmt.Errorf("invalid config: store.path is required for driver %q", c.Store.Driver)
	}
	if c.Trigger.Cron != "" && !gronx.IsValid(c.Trigger.Cron) {
		return fmt.Errorf("invalid config: trigger.cron %q is not a valid cron expression", c.Trigger.Cron)
	}
	if c.Trigger.ProbeURL != "" {
		u, err := url.Parse(c.Trigger.ProbeURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid config: trigger.probe_url %q must be an absolute http(s) URL", c.Trigger.ProbeURL)
		}
	}
	return nil
}

// layered consults primary first, then the fallback map.
func layered(primary func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
