// Package config loads runcollab settings: built-in defaults, then an
// optional YAML file, then RUNCOLLAB_* environment variables, then
// validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/runcollab/internal/supervisor"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "RUNCOLLAB_"

// Config is the full runcollab configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" env:"LOG_LEVEL"`
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Client     ClientConfig     `yaml:"client" envPrefix:"CLIENT_"`
	Supervisor SupervisorConfig `yaml:"supervisor" envPrefix:"SUPERVISOR_"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// ServerConfig configures `runcollab serve`.
type ServerConfig struct {
	Addr          string        `yaml:"addr" env:"ADDR"`
	DBPath        string        `yaml:"db_path" env:"DB_PATH"`
	MaxFrameBytes int           `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// ClientConfig configures the engine used by `runcollab join` and the
// HTTP client commands.
type ClientConfig struct {
	URL               string        `yaml:"url" env:"URL"`
	UserID            string        `yaml:"user_id" env:"USER_ID"`
	Pipeline          []string      `yaml:"pipeline" env:"PIPELINE" envSeparator:","`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	Staleness         time.Duration `yaml:"staleness" env:"STALENESS"`
	NoticeLimit       int           `yaml:"notice_limit" env:"NOTICE_LIMIT"`
	NoticeTimeout     time.Duration `yaml:"notice_timeout" env:"NOTICE_TIMEOUT"`
	Outbox            bool          `yaml:"outbox" env:"OUTBOX"`
}

// SupervisorConfig tunes reconnection and the circuit breaker.
type SupervisorConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	CoolDown         time.Duration `yaml:"cool_down" env:"COOL_DOWN"`
	BaseDelay        time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay         time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier       float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter           float64       `yaml:"jitter" env:"JITTER"`
	DialTimeout      time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// TelemetryConfig enables OTLP tracing when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the built-in configuration.
func Default() Config {
	sup := supervisor.DefaultConfig()
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:          "127.0.0.1:8080",
			DBPath:        "runcollab.db",
			MaxFrameBytes: 64 << 10,
			WriteTimeout:  5 * time.Second,
		},
		Client: ClientConfig{
			URL:               "ws://127.0.0.1:8080/ws",
			HeartbeatInterval: 10 * time.Second,
			Staleness:         30 * time.Second,
			NoticeLimit:       10,
			NoticeTimeout:     5 * time.Second,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: sup.FailureThreshold,
			CoolDown:         sup.CoolDown,
			BaseDelay:        sup.BaseDelay,
			MaxDelay:         sup.MaxDelay,
			Multiplier:       sup.Multiplier,
			Jitter:           sup.Jitter,
			DialTimeout:      sup.DialTimeout,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "runcollab",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML overlays data onto cfg, rejecting unknown keys.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// SupervisorSettings converts the supervisor section.
func (c Config) SupervisorSettings() supervisor.Config {
	s := c.Supervisor
	return supervisor.Config{
		FailureThreshold: s.FailureThreshold,
		CoolDown:         s.CoolDown,
		BaseDelay:        s.BaseDelay,
		MaxDelay:         s.MaxDelay,
		Multiplier:       s.Multiplier,
		Jitter:           s.Jitter,
		DialTimeout:      s.DialTimeout,
	}
}
