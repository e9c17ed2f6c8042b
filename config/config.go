// Package config loads engine settings from a YAML file with environment
// overrides. Every knob has a default, so a zero-file, zero-env process
// still starts with sane budgets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML fields written as "1.5s", "20s".
type Duration time.Duration

// UnmarshalYAML parses the standard Go duration syntax.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StoreTimeouts bounds each adapter call.
type StoreTimeouts struct {
	Vector     Duration `yaml:"vector"`
	Relational Duration `yaml:"relational"`
	Graph      Duration `yaml:"graph"`
}

// Budgets holds the per-depth retrieval budgets.
type Budgets struct {
	RelevantDeadline      Duration `yaml:"relevant_deadline"`
	DeepDeadline          Duration `yaml:"deep_deadline"`
	ComprehensiveDeadline Duration `yaml:"comprehensive_deadline"`

	RelevantLimit      int `yaml:"relevant_limit"`
	DeepLimit          int `yaml:"deep_limit"`
	ComprehensiveLimit int `yaml:"comprehensive_limit"`

	ReasonerTimeout Duration `yaml:"reasoner_timeout"`
}

// Breaker holds the graph circuit-breaker settings.
type Breaker struct {
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	Interval            Duration `yaml:"interval"`
	Cooldown            Duration `yaml:"cooldown"`
	MaxProbeRequests    uint32   `yaml:"max_probe_requests"`
}

// Background holds the worker-pool settings.
type Background struct {
	Workers   int      `yaml:"workers"`
	QueueSize int      `yaml:"queue_size"`
	Timeout   Duration `yaml:"timeout"`
}

// Narrative holds the narrative-cache settings.
type Narrative struct {
	TTL        Duration `yaml:"ttl"`
	MaxEntries int64    `yaml:"max_entries"`
}

// Config is the full engine configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	LogLevel   string `yaml:"log_level"`

	TriageTimeout Duration      `yaml:"triage_timeout"`
	StoreTimeouts StoreTimeouts `yaml:"store_timeouts"`
	Budgets       Budgets       `yaml:"budgets"`
	Breaker       Breaker       `yaml:"breaker"`
	Background    Background    `yaml:"background"`
	Narrative     Narrative     `yaml:"narrative"`

	DedupSize int `yaml:"dedup_size"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		ListenAddr:    ":8080",
		DataDir:       "./data",
		LogLevel:      "info",
		TriageTimeout: Duration(2 * time.Second),
		StoreTimeouts: StoreTimeouts{
			Vector:     Duration(1 * time.Second),
			Relational: Duration(500 * time.Millisecond),
			Graph:      Duration(3 * time.Second),
		},
		Budgets: Budgets{
			RelevantDeadline:      Duration(3 * time.Second),
			DeepDeadline:          Duration(8 * time.Second),
			ComprehensiveDeadline: Duration(18 * time.Second),
			RelevantLimit:         15,
			DeepLimit:             40,
			ComprehensiveLimit:    80,
			ReasonerTimeout:       Duration(1500 * time.Millisecond),
		},
		Breaker: Breaker{
			ConsecutiveFailures: 3,
			Interval:            Duration(30 * time.Second),
			Cooldown:            Duration(20 * time.Second),
			MaxProbeRequests:    1,
		},
		Background: Background{
			Workers:   4,
			QueueSize: 64,
			Timeout:   Duration(30 * time.Second),
		},
		Narrative: Narrative{
			TTL:        Duration(7 * 24 * time.Hour),
			MaxEntries: 10_000,
		},
		DedupSize: 4096,
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets deploy-time settings override the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("RECALL_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("RECALL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RECALL_BACKGROUND_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Background.Workers = n
		}
	}
	if v := os.Getenv("RECALL_BACKGROUND_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Background.QueueSize = n
		}
	}
}

// NewLogger builds the process logger for the configured level.
// Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
