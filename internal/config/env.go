package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATSYNC_"

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	if err := d.UnmarshalText([]byte(node.Value)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// applyEnv overlays CHATSYNC_* variables onto c.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORE_DRIVER":         &c.Store.Driver,
		"STORE_PATH":           &c.Store.Path,
		"STORE_NAMESPACE":      &c.Store.Namespace,
		"TRANSPORT_USER_AGENT": &c.Transport.UserAgent,
		"TRIGGER_PROBE_URL":    &c.Trigger.ProbeURL,
		"TRIGGER_CRON":         &c.Trigger.Cron,
		"SERVER_ADDR":          &c.Server.Addr,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FORMAT":           &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"STORE_RESOLUTION_TTL":   &c.Store.ResolutionTTL,
		"TRANSPORT_TIMEOUT":      &c.Transport.Timeout,
		"TRIGGER_PROBE_INTERVAL": &c.Trigger.ProbeInterval,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
		}
	}

	if v, ok := lookup(EnvPrefix + "TRIGGER_PROBE_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTRIGGER_PROBE_BURST: %w", EnvPrefix, err)
		}
		c.Trigger.ProbeBurst = n
	}
	if v, ok := lookup(EnvPrefix + "METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		c.Metrics.Enabled = b
	}
	if v, ok := lookup(EnvPrefix + "SERVER_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	return nil
}
