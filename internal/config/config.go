package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftwall/driftwall/internal/engine"
)

// Config holds all driftwall configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Database DBConfig      `yaml:"database"`
	Engine   engine.Config `yaml:"engine"`
	Refresh  RefreshConfig `yaml:"refresh"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`

	// FeedbackPerSecond / FeedbackBurst bound the feedback ingestion rate;
	// the device worker can emit implicit events in bursts.
	FeedbackPerSecond float64 `yaml:"feedback_per_second"`
	FeedbackBurst     int     `yaml:"feedback_burst"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type RefreshConfig struct {
	// Interval between automatic queue rebuilds while serving.
	Interval time.Duration `yaml:"interval"`
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:              "127.0.0.1",
			Port:              37810,
			FeedbackPerSecond: 5,
			FeedbackBurst:     20,
		},
		Database: DBConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Engine:  engine.DefaultConfig(),
		Refresh: RefreshConfig{Interval: time.Hour},
	}
}

// Load reads the config file at path, layered over the defaults. An empty
// path checks $DRIFTWALL_CONFIG and falls back to defaults when nothing is
// configured.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("DRIFTWALL_CONFIG")
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
