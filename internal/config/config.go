// Package config loads the judge configuration from a YAML file, the
// environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Queue   QueueConfig   `yaml:"queue"`
	Docker  DockerConfig  `yaml:"docker"`
	Pool    PoolConfig    `yaml:"pool"`
	Java    JavaConfig    `yaml:"java"`
	Tracing TracingConfig `yaml:"tracing"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is the number of requests per second allowed per remote IP.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type QueueConfig struct {
	// Backend is "redis" or "memory".
	Backend            string        `yaml:"backend"`
	RedisAddr          string        `yaml:"redis_addr"`
	RedisPassword      string        `yaml:"redis_password"`
	Stream             string        `yaml:"stream"`
	Group              string        `yaml:"group"`
	DefaultConcurrency int           `yaml:"default_concurrency"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	ReclaimInterval    time.Duration `yaml:"reclaim_interval"`
	ReclaimMinIdle     time.Duration `yaml:"reclaim_min_idle"`
}

type DockerConfig struct {
	Image          string `yaml:"image"`
	MemoryMB       int64  `yaml:"memory_mb"`
	PIDsLimit      int64  `yaml:"pids_limit"`
	NetworkEnabled bool   `yaml:"network_enabled"`
	WorkDir        string `yaml:"work_dir"`
}

type PoolConfig struct {
	PlainCapacity int           `yaml:"plain_capacity"`
	JUnitCapacity int           `yaml:"junit_capacity"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	SeedTimeout   time.Duration `yaml:"seed_timeout"`
	// SupportLibDir is a host directory whose jar files are injected into JUnit sandboxes.
	SupportLibDir string `yaml:"support_lib_dir"`
	Warmup        bool   `yaml:"warmup"`
}

type JavaConfig struct {
	RunFlags []string `yaml:"run_flags"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":5016",
			RateLimit: 5,
			RateBurst: 20,
		},
		Queue: QueueConfig{
			Backend:            "redis",
			RedisAddr:          "localhost:6379",
			Stream:             "javabox:jobs",
			Group:              "javabox:workers",
			DefaultConcurrency: 5,
			MaxConcurrency:     20,
			ReclaimInterval:    time.Minute,
			ReclaimMinIdle:     5 * time.Minute,
		},
		Docker: DockerConfig{
			Image:     "openjdk:8u111-jdk",
			MemoryMB:  512,
			PIDsLimit: 128,
			WorkDir:   "/sandbox",
		},
		Pool: PoolConfig{
			PlainCapacity: 2,
			JUnitCapacity: 2,
			SweepInterval: 30 * time.Second,
			PollInterval:  250 * time.Millisecond,
			SeedTimeout:   30 * time.Second,
			SupportLibDir: "./lib",
			Warmup:        true,
		},
		Java: JavaConfig{
			RunFlags: []string{"-Djava.security.manager"},
		},
		Tracing: TracingConfig{
			ServiceName: "javabox",
			SampleRate:  1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if path
// is not empty), then JAVABOX_* environment variables.
func Load(path string) (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "JAVABOX_ADDR")
	setString(&c.Queue.Backend, "JAVABOX_QUEUE_BACKEND")
	setString(&c.Queue.RedisAddr, "REDIS_ADDR")
	setString(&c.Queue.RedisPassword, "REDIS_PASSWORD")
	setString(&c.Docker.Image, "JAVABOX_IMAGE")
	setString(&c.Pool.SupportLibDir, "JAVABOX_SUPPORT_LIB_DIR")
	setString(&c.Tracing.Endpoint, "JAVABOX_OTLP_ENDPOINT")
	setString(&c.Log.Level, "JAVABOX_LOG_LEVEL")

	if err := setInt(&c.Queue.DefaultConcurrency, "JAVABOX_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&c.Queue.MaxConcurrency, "JAVABOX_MAX_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&c.Pool.PlainCapacity, "JAVABOX_POOL_PLAIN"); err != nil {
		return err
	}
	if err := setInt(&c.Pool.JUnitCapacity, "JAVABOX_POOL_JUNIT"); err != nil {
		return err
	}
	if v := os.Getenv("JAVABOX_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JAVABOX_POLL_INTERVAL: %w", err)
		}
		c.Pool.PollInterval = d
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Queue.DefaultConcurrency <= 0 {
		problems = append(problems, "queue.default_concurrency must be positive")
	}
	if c.Queue.MaxConcurrency <= 0 {
		problems = append(problems, "queue.max_concurrency must be positive")
	}
	if c.Queue.Backend != "redis" && c.Queue.Backend != "memory" {
		problems = append(problems, fmt.Sprintf("queue.backend %q must be redis or memory", c.Queue.Backend))
	}
	if c.Pool.PlainCapacity < 0 || c.Pool.JUnitCapacity < 0 {
		problems = append(problems, "pool capacities must not be negative")
	}
	if c.Pool.PollInterval <= 0 {
		problems = append(problems, "pool.poll_interval must be positive")
	}
	if c.Docker.Image == "" {
		problems = append(problems, "docker.image is required")
	}
	if !strings.HasPrefix(c.Docker.WorkDir, "/") {
		problems = append(problems, "docker.work_dir must be absolute")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
