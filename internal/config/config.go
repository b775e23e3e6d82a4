// Package config provides YAML-based configuration loading for Phaseline.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Phaseline configuration, loaded from phaseline.yaml.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	Slack      SlackConfig      `yaml:"slack"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// HTTPConfig holds settings for the JSON API server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// AMQPConfig holds settings for the post-commit event publisher. An empty URL
// disables publishing.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// SlackConfig holds the webhook used for milestone-completed notifications.
// An empty URL disables them.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// SchedulingConfig tunes the scheduling engine.
type SchedulingConfig struct {
	// PauseFrom lists the statuses a milestone may be paused from.
	PauseFrom []string `yaml:"pause_from"`
	// CompactOnDelete renumbers later milestones down when one is deleted.
	// Off by default: deletes leave a gap, matching historical behavior.
	CompactOnDelete bool `yaml:"compact_on_delete"`
}

// ReconcileConfig controls the background consistency job.
type ReconcileConfig struct {
	Cron string `yaml:"cron"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "phaseline"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "phaseline.events"
	}
	if len(c.Scheduling.PauseFrom) == 0 {
		c.Scheduling.PauseFrom = []string{"planned", "active"}
	}
	if c.Reconcile.Cron == "" {
		c.Reconcile.Cron = "*/15 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	known := map[string]bool{
		"planned": true, "active": true, "completed": true, "paused": true,
	}
	for i, s := range c.Scheduling.PauseFrom {
		if !known[s] {
			errs = append(errs, fmt.Sprintf("scheduling.pause_from[%d]: unknown status %q", i, s))
		} else if s == "paused" || s == "completed" {
			errs = append(errs, fmt.Sprintf("scheduling.pause_from[%d]: cannot pause from %q", i, s))
		}
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port: %d out of range", c.HTTP.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
