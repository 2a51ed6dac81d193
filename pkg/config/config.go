package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/types"
)

// ServerConfig controls the REST controller.
type ServerConfig struct {
	Host       string `yaml:"host" mapstructure:"host"`
	Port       int    `yaml:"port" mapstructure:"port"`
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	APIKeyName string `yaml:"api_key_name" mapstructure:"api_key_name"`

	// Workers bounds concurrent fan-out during batch dispatch.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// JobConfig holds default job lifetimes in seconds. Per-request TTLs
// override these.
type JobConfig struct {
	TTL        int `yaml:"ttl" mapstructure:"ttl"`
	Timeout    int `yaml:"timeout" mapstructure:"timeout"`
	ResultTTL  int `yaml:"result_ttl" mapstructure:"result_ttl"`
	FailureTTL int `yaml:"failure_ttl" mapstructure:"failure_ttl"`
}

// WorkerConfig controls node and FIFO worker behavior.
type WorkerConfig struct {
	Scheduler     string `yaml:"scheduler" mapstructure:"scheduler"`
	TTL           int    `yaml:"ttl" mapstructure:"ttl"` // liveness window, seconds
	PinnedPerNode int    `yaml:"pinned_per_node" mapstructure:"pinned_per_node"`

	// KeepaliveInterval is how often idle pinned workers probe their
	// device session, in seconds.
	KeepaliveInterval int `yaml:"keepalive_interval" mapstructure:"keepalive_interval"`

	// FifoConcurrency caps simultaneous executions inside one FIFO worker.
	FifoConcurrency int `yaml:"fifo_concurrency" mapstructure:"fifo_concurrency"`

	// Hostname overrides the OS hostname used for worker identity.
	Hostname string `yaml:"hostname" mapstructure:"hostname"`

	// LockDir holds the node.lock and fifo.lock singleton guards.
	LockDir string `yaml:"lock_dir" mapstructure:"lock_dir"`
}

func (w WorkerConfig) TTLDuration() time.Duration {
	return time.Duration(w.TTL) * time.Second
}

func (w WorkerConfig) KeepaliveDuration() time.Duration {
	return time.Duration(w.KeepaliveInterval) * time.Second
}

// RedisTLSConfig enables TLS on store connections.
type RedisTLSConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file" mapstructure:"ca_file"`
	CertFile           string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile            string `yaml:"key_file" mapstructure:"key_file"`
}

// RedisSentinelConfig enables sentinel-based master discovery.
type RedisSentinelConfig struct {
	Enabled    bool     `yaml:"enabled" mapstructure:"enabled"`
	MasterName string   `yaml:"master_name" mapstructure:"master_name"`
	Addrs      []string `yaml:"addrs" mapstructure:"addrs"`
	Password   string   `yaml:"password" mapstructure:"password"`
}

// RedisConfig holds state store connection settings. Timeouts are in
// seconds; zero keeps the client default.
type RedisConfig struct {
	Host         string              `yaml:"host" mapstructure:"host"`
	Port         int                 `yaml:"port" mapstructure:"port"`
	Password     string              `yaml:"password" mapstructure:"password"`
	DB           int                 `yaml:"db" mapstructure:"db"`
	DialTimeout  int                 `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  int                 `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout int                 `yaml:"write_timeout" mapstructure:"write_timeout"`
	KeepAlive    int                 `yaml:"keepalive" mapstructure:"keepalive"`
	TLS          RedisTLSConfig      `yaml:"tls" mapstructure:"tls"`
	Sentinel     RedisSentinelConfig `yaml:"sentinel" mapstructure:"sentinel"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PluginConfig points at directories searched for template files referenced
// by file:// rendering and parsing sources.
type PluginConfig struct {
	TemplatePaths []string `yaml:"template_paths" mapstructure:"template_paths"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Config is the root configuration for every NetPulse process.
type Config struct {
	Server  ServerConfig `yaml:"server" mapstructure:"server"`
	Redis   RedisConfig  `yaml:"redis" mapstructure:"redis"`
	Job     JobConfig    `yaml:"job" mapstructure:"job"`
	Worker  WorkerConfig `yaml:"worker" mapstructure:"worker"`
	Plugins PluginConfig `yaml:"plugins" mapstructure:"plugins"`
	Log     LogConfig    `yaml:"log" mapstructure:"log"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       9000,
			APIKeyName: "X-API-KEY",
			Workers:    8,
		},
		Redis: RedisConfig{
			Host:        "localhost",
			Port:        6379,
			DialTimeout: 5,
			KeepAlive:   30,
		},
		Job: JobConfig{
			TTL:        300,
			Timeout:    300,
			ResultTTL:  300,
			FailureTTL: 300,
		},
		Worker: WorkerConfig{
			Scheduler:         "least_load",
			TTL:               60,
			PinnedPerNode:     32,
			KeepaliveInterval: 30,
			FifoConcurrency:   8,
			LockDir:           filepath.Join(os.TempDir(), "netpulse"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file if
// path is non-empty, then NETPULSE_ environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that would otherwise surface as
// runtime faults.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("redis.port out of range: %d", c.Redis.Port)
	}
	if c.Job.TTL < types.MinJobTTL || c.Job.TTL > types.MaxJobTTL {
		return fmt.Errorf("job.ttl must be between %d and %d", types.MinJobTTL, types.MaxJobTTL)
	}
	if c.Job.Timeout < 1 {
		return fmt.Errorf("job.timeout must be positive")
	}
	if c.Worker.PinnedPerNode < 1 {
		return fmt.Errorf("worker.pinned_per_node must be at least 1")
	}
	if c.Worker.TTL < 1 {
		return fmt.Errorf("worker.ttl must be positive")
	}
	if c.Worker.FifoConcurrency < 1 {
		return fmt.Errorf("worker.fifo_concurrency must be at least 1")
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be at least 1")
	}
	if c.Redis.Sentinel.Enabled {
		if c.Redis.Sentinel.MasterName == "" || len(c.Redis.Sentinel.Addrs) == 0 {
			return fmt.Errorf("redis.sentinel requires master_name and addrs")
		}
	}
	return nil
}

// LogInit converts the configured level and format into the logger's
// init arguments.
func (c *Config) LogInit() log.Config {
	return log.Config{
		Level:      log.Level(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}
