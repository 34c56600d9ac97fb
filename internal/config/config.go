// Package config loads the legendlog configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string            `yaml:"listen_addr"`
	API        APIConfig         `yaml:"api"`
	Challenge  ChallengeConfig   `yaml:"challenge"`
	Workspace  string            `yaml:"workspace"`
	Locale     string            `yaml:"locale"`
	Texts      map[string]string `yaml:"texts"`
	Archive    ArchiveConfig     `yaml:"archive"`
	Terminal   TerminalConfig    `yaml:"terminal"`
	Logging    LoggingConfig     `yaml:"logging"`
	PollPeriod time.Duration     `yaml:"poll_period"`
}

type APIConfig struct {
	Server  string        `yaml:"server"`
	From    string        `yaml:"from"`
	Timeout time.Duration `yaml:"timeout"`
}

type ChallengeConfig struct {
	MissionID    string   `yaml:"mission_id"`
	ChallengeID  string   `yaml:"challenge_id"`
	RepoFullName string   `yaml:"repo_full_name"`
	Whitelist    []string `yaml:"whitelist"`
	InitialURL   string   `yaml:"initial_url"`
}

type ArchiveConfig struct {
	Driver    string        `yaml:"driver"`
	RedisAddr string        `yaml:"redis_addr"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type TerminalConfig struct {
	Echo bool `yaml:"echo"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

const (
	ArchiveMemory = "memory"
	ArchiveRedis  = "redis"
	ArchiveNone   = "none"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		API: APIConfig{
			Server:  "https://bytelegend.com",
			From:    "github1s",
			Timeout: 30 * time.Second,
		},
		Workspace:  ".",
		Locale:     "en",
		Archive:    ArchiveConfig{Driver: ArchiveMemory, KeyPrefix: "legendlog"},
		Logging:    LoggingConfig{Level: "info"},
		PollPeriod: 30 * time.Second,
	}
}

// Load reads the file at path on top of the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 -- path is operator-provided config path.
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}

		expanded := os.ExpandEnv(string(raw))
		expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("LEGENDLOG_LISTEN_ADDR", &c.ListenAddr)
	set("LEGENDLOG_API_SERVER", &c.API.Server)
	set("LEGENDLOG_WORKSPACE", &c.Workspace)
	set("LEGENDLOG_LOCALE", &c.Locale)
	set("LEGENDLOG_LOG_LEVEL", &c.Logging.Level)
	if v, ok := lookup("LEGENDLOG_REDIS_ADDR"); ok && v != "" {
		c.Archive.RedisAddr = v
		c.Archive.Driver = ArchiveRedis
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.API.Server == "" {
		return fmt.Errorf("api.server is required")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if c.PollPeriod <= 0 {
		return fmt.Errorf("poll_period must be positive")
	}

	switch c.Archive.Driver {
	case "", ArchiveMemory, ArchiveNone:
	case ArchiveRedis:
		if c.Archive.RedisAddr == "" {
			return fmt.Errorf("archive.redis_addr is required when archive.driver=redis")
		}
	default:
		return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
