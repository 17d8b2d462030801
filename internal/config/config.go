// Package config handles configuration loading for the supervisor and
// the fleet registry: an optional YAML file with COMFYGUARD_* environment
// overrides, via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Address the control surface listens on.
	ListenAddr string

	// Stable identifier for this supervisor instance. Generated when empty.
	WorkerID string

	// Supervised engine process.
	EngineCommand     string
	EngineArgs        []string
	EngineHost        string
	EnginePort        int
	EngineAutostart   bool
	EngineAutorestart bool

	// Restart policy.
	MaxRestarts     int
	RestartCooldown time.Duration

	// Health monitoring.
	HealthInterval     time.Duration
	HealthProbeTimeout time.Duration
	HealthMaxFailures  int

	// Job polling.
	JobPollInterval    time.Duration
	JobDefaultDeadline time.Duration
	JobMaxDeadline     time.Duration

	// Path to the sqlite job archive.
	ArchivePath string

	// Directory of workflow JSON templates. Empty disables the template store.
	TemplatesDir string

	// Fleet registry. Empty URL disables registration and heartbeats.
	FleetURL               string
	FleetHeartbeatInterval time.Duration

	// OTLP collector endpoint for traces. Empty disables tracing export.
	OTELEndpoint string
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables use the COMFYGUARD_ prefix with dots mapped to
// underscores (e.g. COMFYGUARD_ENGINE_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("worker_id", "")
	v.SetDefault("engine.command", "/environment-comfyui/venv/bin/python")
	v.SetDefault("engine.args", []string{"/ComfyUI/main.py"})
	v.SetDefault("engine.host", "127.0.0.1")
	v.SetDefault("engine.port", 8188)
	v.SetDefault("engine.autostart", true)
	v.SetDefault("engine.autorestart", true)
	v.SetDefault("supervisor.max_restarts", 5)
	v.SetDefault("supervisor.restart_cooldown", "60s")
	v.SetDefault("health.interval", "10s")
	v.SetDefault("health.probe_timeout", "30s")
	v.SetDefault("health.max_failures", 3)
	v.SetDefault("job.poll_interval", "2s")
	v.SetDefault("job.default_deadline", "300s")
	v.SetDefault("job.max_deadline", "1200s")
	v.SetDefault("archive.path", "comfyguard.db")
	v.SetDefault("templates.dir", "")
	v.SetDefault("fleet.url", "")
	v.SetDefault("fleet.heartbeat_interval", "10s")
	v.SetDefault("otel.endpoint", "")

	v.SetEnvPrefix("COMFYGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		ListenAddr:             v.GetString("listen_addr"),
		WorkerID:               v.GetString("worker_id"),
		EngineCommand:          v.GetString("engine.command"),
		EngineArgs:             v.GetStringSlice("engine.args"),
		EngineHost:             v.GetString("engine.host"),
		EnginePort:             v.GetInt("engine.port"),
		EngineAutostart:        v.GetBool("engine.autostart"),
		EngineAutorestart:      v.GetBool("engine.autorestart"),
		MaxRestarts:            v.GetInt("supervisor.max_restarts"),
		RestartCooldown:        v.GetDuration("supervisor.restart_cooldown"),
		HealthInterval:         v.GetDuration("health.interval"),
		HealthProbeTimeout:     v.GetDuration("health.probe_timeout"),
		HealthMaxFailures:      v.GetInt("health.max_failures"),
		JobPollInterval:        v.GetDuration("job.poll_interval"),
		JobDefaultDeadline:     v.GetDuration("job.default_deadline"),
		JobMaxDeadline:         v.GetDuration("job.max_deadline"),
		ArchivePath:            v.GetString("archive.path"),
		TemplatesDir:           v.GetString("templates.dir"),
		FleetURL:               strings.TrimRight(v.GetString("fleet.url"), "/"),
		FleetHeartbeatInterval: v.GetDuration("fleet.heartbeat_interval"),
		OTELEndpoint:           v.GetString("otel.endpoint"),
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EngineURL returns the base URL of the supervised engine's HTTP API.
func (c *Config) EngineURL() string {
	return fmt.Sprintf("http://%s:%d", c.EngineHost, c.EnginePort)
}

func (c *Config) validate() error {
	if c.EngineCommand == "" {
		return fmt.Errorf("engine.command is required")
	}
	if c.EnginePort <= 0 || c.EnginePort > 65535 {
		return fmt.Errorf("invalid engine.port: %d", c.EnginePort)
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("supervisor.max_restarts must not be negative")
	}
	if c.HealthMaxFailures <= 0 {
		return fmt.Errorf("health.max_failures must be positive")
	}
	if c.JobPollInterval <= 0 {
		return fmt.Errorf("job.poll_interval must be positive")
	}
	if c.JobDefaultDeadline <= 0 || c.JobMaxDeadline < c.JobDefaultDeadline {
		return fmt.Errorf("job deadlines must be positive and max >= default")
	}
	return nil
}
