package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultTicketURL = "https://api.camstream.dev/device/getLiveViewTicket"

// Config holds the application configuration.
type Config struct {
	Token       string `yaml:"token"`
	DeviceID    string `yaml:"device_id"`
	TicketURL   string `yaml:"ticket_url"`
	ControlAddr string `yaml:"control_addr"`
	LogLevel    string `yaml:"log_level"`
	MicPath     string `yaml:"mic_path"`

	Timeouts Timeouts `yaml:"timeouts"`
}

// Timeouts bounds the remote calls made by a live-view session.
type Timeouts struct {
	ExtensionBuffer time.Duration `yaml:"extension_buffer"`
	Dispose         time.Duration `yaml:"dispose"`
	Fetch           time.Duration `yaml:"fetch"`
	Toggle          time.Duration `yaml:"toggle"`
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ExtensionBuffer: 5 * time.Second,
		Dispose:         time.Second,
		Fetch:           5 * time.Second,
		Toggle:          10 * time.Second,
	}
}

// Load reads configuration from a .env file (if present), an optional YAML
// file named by CAMSTREAM_CONFIG, and environment variables.
// Environment variables take precedence over both files.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		TicketURL: defaultTicketURL,
		Timeouts:  DefaultTimeouts(),
	}

	if path := os.Getenv("CAMSTREAM_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	overrideFromEnv(cfg)

	if cfg.Token == "" {
		return nil, fmt.Errorf("CAMSTREAM_TOKEN environment variable is required")
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("CAMSTREAM_DEVICE environment variable is required")
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func overrideFromEnv(cfg *Config) {
	for env, dst := range map[string]*string{
		"CAMSTREAM_TOKEN":        &cfg.Token,
		"CAMSTREAM_DEVICE":       &cfg.DeviceID,
		"CAMSTREAM_TICKET_URL":   &cfg.TicketURL,
		"CAMSTREAM_CONTROL_ADDR": &cfg.ControlAddr,
		"CAMSTREAM_LOG_LEVEL":    &cfg.LogLevel,
		"CAMSTREAM_MIC_PATH":     &cfg.MicPath,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.ExtensionBuffer <= 0 {
		t.ExtensionBuffer = d.ExtensionBuffer
	}
	if t.Dispose <= 0 {
		t.Dispose = d.Dispose
	}
	if t.Fetch <= 0 {
		t.Fetch = d.Fetch
	}
	if t.Toggle <= 0 {
		t.Toggle = d.Toggle
	}
	return t
}
