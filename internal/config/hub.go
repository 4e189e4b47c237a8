package config

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// HubConfig holds configuration for the tabwire hub.
type HubConfig struct {
	Port           int           `yaml:"port"`
	Candidates     []string      `yaml:"candidates"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ClientID       string        `yaml:"client_id"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ConfigFile     string        `yaml:"-"`
}

func (c *HubConfig) BindFlags() {
	port, _ := strconv.Atoi(getEnv("PORT", "8780"))
	c.Port = port
	c.Candidates = splitList(getEnv("CANDIDATES", ""))
	pt, _ := time.ParseDuration(getEnv("PROBE_TIMEOUT", "2s"))
	c.ProbeTimeout = pt
	ct, _ := time.ParseDuration(getEnv("CONNECT_TIMEOUT", "30s"))
	c.ConnectTimeout = ct
	rt, _ := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s"))
	c.RequestTimeout = rt
	c.ClientID = getEnv("CLIENT_ID", "")
	c.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", ""))
	c.ConfigFile = getEnv("CONFIG_FILE", "")

	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "per-candidate discovery probe timeout")
	flag.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "endpoint connect timeout")
	flag.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "per-request timeout on endpoint sessions")
	flag.StringVar(&c.ClientID, "client-id", c.ClientID, "client identifier presented in handshakes")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "optional YAML config file")
}

// Load overlays values from the YAML config file, if set.
func (c *HubConfig) Load() error { return loadFile(c.ConfigFile, c) }

// UnmarshalYAML overlays only the keys present in the file, leaving
// env/flag-derived values intact. Durations are strings like "2s".
func (c *HubConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Port           int      `yaml:"port"`
		Candidates     []string `yaml:"candidates"`
		ProbeTimeout   string   `yaml:"probe_timeout"`
		ConnectTimeout string   `yaml:"connect_timeout"`
		RequestTimeout string   `yaml:"request_timeout"`
		ClientID       string   `yaml:"client_id"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Port != 0 {
		c.Port = raw.Port
	}
	if len(raw.Candidates) > 0 {
		c.Candidates = raw.Candidates
	}
	for _, f := range []struct {
		in  string
		out *time.Duration
		key string
	}{
		{raw.ProbeTimeout, &c.ProbeTimeout, "probe_timeout"},
		{raw.ConnectTimeout, &c.ConnectTimeout, "connect_timeout"},
		{raw.RequestTimeout, &c.RequestTimeout, "request_timeout"},
	} {
		if f.in == "" {
			continue
		}
		d, err := time.ParseDuration(f.in)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.out = d
	}
	if raw.ClientID != "" {
		c.ClientID = raw.ClientID
	}
	if len(raw.AllowedOrigins) > 0 {
		c.AllowedOrigins = raw.AllowedOrigins
	}
	return nil
}
