package config

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BridgeConfig holds configuration for the tabwire bridge.
type BridgeConfig struct {
	Port           int           `yaml:"port"`
	AgentKey       string        `yaml:"agent_key"`
	AgentWSPath    string        `yaml:"agent_ws_path"`
	PeerWSPath     string        `yaml:"peer_ws_path"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ScreenshotDir  string        `yaml:"screenshot_dir"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ConfigFile     string        `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *BridgeConfig) BindFlags() {
	port, _ := strconv.Atoi(getEnv("PORT", "8765"))
	c.Port = port
	c.AgentKey = getEnv("AGENT_KEY", "")
	c.AgentWSPath = getEnv("AGENT_WS_PATH", "/ws/agent")
	c.PeerWSPath = getEnv("PEER_WS_PATH", "/ws")
	ct, _ := time.ParseDuration(getEnv("COMMAND_TIMEOUT", "30s"))
	c.CommandTimeout = ct
	c.ScreenshotDir = getEnv("SCREENSHOT_DIR", "")
	c.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", ""))
	c.ConfigFile = getEnv("CONFIG_FILE", "")

	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.StringVar(&c.AgentKey, "agent-key", c.AgentKey, "shared key agents must present when registering; leave empty to disable auth")
	flag.StringVar(&c.AgentWSPath, "agent-ws-path", c.AgentWSPath, "path browser agents use to establish WebSocket connections")
	flag.StringVar(&c.PeerWSPath, "peer-ws-path", c.PeerWSPath, "path upstream peers use to establish WebSocket connections")
	flag.DurationVar(&c.CommandTimeout, "command-timeout", c.CommandTimeout, "maximum duration to wait for an agent reply")
	flag.StringVar(&c.ScreenshotDir, "screenshot-dir", c.ScreenshotDir, "directory screenshots are written to; empty uses the working directory")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "optional YAML config file")
}

// Load overlays values from the YAML config file, if set.
func (c *BridgeConfig) Load() error { return loadFile(c.ConfigFile, c) }

// UnmarshalYAML overlays only the keys present in the file, leaving
// env/flag-derived values intact. Durations are strings like "30s".
func (c *BridgeConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Port           int      `yaml:"port"`
		AgentKey       string   `yaml:"agent_key"`
		AgentWSPath    string   `yaml:"agent_ws_path"`
		PeerWSPath     string   `yaml:"peer_ws_path"`
		CommandTimeout string   `yaml:"command_timeout"`
		ScreenshotDir  string   `yaml:"screenshot_dir"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Port != 0 {
		c.Port = raw.Port
	}
	if raw.AgentKey != "" {
		c.AgentKey = raw.AgentKey
	}
	if raw.AgentWSPath != "" {
		c.AgentWSPath = raw.AgentWSPath
	}
	if raw.PeerWSPath != "" {
		c.PeerWSPath = raw.PeerWSPath
	}
	if raw.CommandTimeout != "" {
		d, err := time.ParseDuration(raw.CommandTimeout)
		if err != nil {
			return fmt.Errorf("command_timeout: %w", err)
		}
		c.CommandTimeout = d
	}
	if raw.ScreenshotDir != "" {
		c.ScreenshotDir = raw.ScreenshotDir
	}
	if len(raw.AllowedOrigins) > 0 {
		c.AllowedOrigins = raw.AllowedOrigins
	}
	return nil
}
