package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the Beacon server configuration
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		DataDir         string        `yaml:"data_dir"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Cluster struct {
		Name       string `yaml:"name"`
		DataCenter string `yaml:"data_center"`
	} `yaml:"cluster"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	Peer struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"peer"`

	Housekeeping struct {
		Interval      time.Duration `yaml:"interval"`
		SyncFrequency time.Duration `yaml:"sync_frequency"`
		MaxRetry      int           `yaml:"max_retry"`
	} `yaml:"housekeeping"`

	Scheduler struct {
		Tick      time.Duration       `yaml:"tick"`
		Executors map[string][]string `yaml:"executors"`
	} `yaml:"scheduler"`

	Policy struct {
		MinFrequency  time.Duration `yaml:"min_frequency"`
		RetryAttempts int           `yaml:"retry_attempts"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
	} `yaml:"policy"`

	Metrics struct {
		CollectInterval time.Duration `yaml:"collect_interval"`
	} `yaml:"metrics"`

	Plugins []PluginConfig `yaml:"plugins"`
}

// PluginConfig declares a plugin backed by external commands. The dataset
// and staging path are passed through the environment.
type PluginConfig struct {
	Name       string   `yaml:"name"`
	Export     []string `yaml:"export"`
	Import     []string `yaml:"import"`
	StagingDir string   `yaml:"staging_dir"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML config file, fills defaults and applies BEACON_*
// environment overrides. An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":25968"
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "./beacon-data"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Peer.Timeout == 0 {
		c.Peer.Timeout = 30 * time.Second
	}
	if c.Housekeeping.Interval == 0 {
		c.Housekeeping.Interval = 30 * time.Second
	}
	if c.Housekeeping.SyncFrequency == 0 {
		c.Housekeeping.SyncFrequency = 5 * time.Minute
	}
	if c.Housekeeping.MaxRetry == 0 {
		c.Housekeeping.MaxRetry = 10
	}
	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = time.Second
	}
	if c.Scheduler.Executors == nil {
		c.Scheduler.Executors = map[string][]string{}
	}
	if c.Policy.MinFrequency == 0 {
		c.Policy.MinFrequency = 60 * time.Second
	}
	if c.Policy.RetryAttempts == 0 {
		c.Policy.RetryAttempts = 3
	}
	if c.Policy.RetryDelay == 0 {
		c.Policy.RetryDelay = 120 * time.Second
	}
	if c.Metrics.CollectInterval == 0 {
		c.Metrics.CollectInterval = 15 * time.Second
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("BEACON_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("BEACON_DATA_DIR"); ok {
		c.Server.DataDir = v
	}
	if v, ok := getEnvStr("BEACON_CLUSTER_NAME"); ok {
		c.Cluster.Name = v
	}
	if v, ok := getEnvStr("BEACON_DATA_CENTER"); ok {
		c.Cluster.DataCenter = v
	}
	if v, ok := getEnvStr("BEACON_LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvBool("BEACON_LOG_JSON"); ok {
		c.Log.JSON = v
	}
	if v, ok := getEnvDur("BEACON_PEER_TIMEOUT"); ok {
		c.Peer.Timeout = v
	}
	if v, ok := getEnvDur("BEACON_HOUSEKEEPING_INTERVAL"); ok {
		c.Housekeeping.Interval = v
	}
	if v, ok := getEnvDur("BEACON_HOUSEKEEPING_SYNC_FREQUENCY"); ok {
		c.Housekeeping.SyncFrequency = v
	}
	if v, ok := getEnvInt("BEACON_HOUSEKEEPING_MAX_RETRY"); ok {
		c.Housekeeping.MaxRetry = v
	}
	if v, ok := getEnvDur("BEACON_POLICY_MIN_FREQUENCY"); ok {
		c.Policy.MinFrequency = v
	}
}

// Validate checks values that have no usable default
func (c *Config) Validate() error {
	if c.Cluster.Name == "" {
		return fmt.Errorf("cluster.name is required")
	}
	if c.Housekeeping.MaxRetry < 1 {
		return fmt.Errorf("housekeeping.max_retry must be positive, got %d", c.Housekeeping.MaxRetry)
	}
	for i, p := range c.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugins[%d].name is required", i)
		}
		if len(p.Export) == 0 || len(p.Import) == 0 {
			return fmt.Errorf("plugin %s needs export and import commands", p.Name)
		}
	}
	if c.Policy.MinFrequency < time.Second {
		return fmt.Errorf("policy.min_frequency must be at least 1s, got %s", c.Policy.MinFrequency)
	}
	return nil
}
