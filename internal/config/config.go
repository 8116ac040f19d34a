package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" validate:"omitempty,numeric"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" validate:"omitempty,url"`
	} `yaml:"postgres"`
	Question struct {
		TTL string `yaml:"ttl"`
	} `yaml:"question"`
	Identity struct {
		Secret string `yaml:"secret"`
		TTL    string `yaml:"ttl"`
	} `yaml:"identity"`
	Vote struct {
		Debounce      string  `yaml:"debounce"`
		LockWindow    float64 `yaml:"lock_window" validate:"gte=0"`
		InputDuration float64 `yaml:"input_duration" validate:"gte=0"`
		MaxRetries    int     `yaml:"max_retries" validate:"gte=0"`
	} `yaml:"vote"`
	Timeline struct {
		Highlight         string  `yaml:"highlight"`
		ScrollQuiet       string  `yaml:"scroll_quiet"`
		ScrollSensitivity float64 `yaml:"scroll_sensitivity" validate:"gte=0"`
		FrameInterval     string  `yaml:"frame_interval"`
	} `yaml:"timeline"`
	LocalCache struct {
		Path string `yaml:"path"`
	} `yaml:"local_cache"`
	RabbitMQ struct {
		URL      string `yaml:"url" validate:"omitempty,url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Content struct {
		Path string `yaml:"path"`
	} `yaml:"content"`
	Log struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	} `yaml:"log"`
}

var validate = validator.New()

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(data)
}

// Parse decodes and validates YAML config.
func Parse(data []byte) (Config, error) {
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints and duration syntax.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]string{
		"redis.ttl":               c.Redis.TTL,
		"question.ttl":            c.Question.TTL,
		"identity.ttl":            c.Identity.TTL,
		"vote.debounce":           c.Vote.Debounce,
		"timeline.highlight":      c.Timeline.Highlight,
		"timeline.scroll_quiet":   c.Timeline.ScrollQuiet,
		"timeline.frame_interval": c.Timeline.FrameInterval,
	}
	for name, raw := range durations {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d < 0 {
			return fmt.Errorf("invalid config: %s: bad duration %q", name, raw)
		}
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Float returns v, or fallback when v is zero.
func Float(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
