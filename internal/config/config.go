package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every tunable of the signal engine. Statistical
// constants are deliberately configuration, not hardcoded truth.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Stats       StatsConfig       `yaml:"stats"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Prediction  PredictionConfig  `yaml:"prediction"`
	Rules       RulesConfig       `yaml:"rules"`
	NATS        NATSConfig        `yaml:"nats"`
	Signals     []SignalSeed      `yaml:"signals"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig bounds observation retention.
type StoreConfig struct {
	Retention time.Duration `yaml:"retention"`
	Shards    int           `yaml:"shards"`
}

// IngestConfig controls the backpressure contract at the ingest boundary.
type IngestConfig struct {
	QueueSize int           `yaml:"queueSize"`
	Workers   int           `yaml:"workers"`
	MaxFuture time.Duration `yaml:"maxFuture"`
}

// StatsConfig tunes the rolling statistics aggregator.
type StatsConfig struct {
	StrengthHalfLife float64            `yaml:"strengthHalfLife"` // samples
	VelocityWindow   int                `yaml:"velocityWindow"`   // samples
	TrendRuns        int                `yaml:"trendRuns"`        // consecutive evaluations
	TrendThreshold   float64            `yaml:"trendThreshold"`   // pt/day
	MinSamples       int                `yaml:"minSamples"`
	DefaultSourceK   float64            `yaml:"defaultSourceK"`
	SourceK          map[string]float64 `yaml:"sourceK"`
}

// CorrelationConfig tunes the pairwise correlation pass.
type CorrelationConfig struct {
	Cadence     time.Duration `yaml:"cadence"`
	Window      time.Duration `yaml:"window"`
	MinOverlap  int           `yaml:"minOverlap"` // aligned buckets
	MinSamples  int           `yaml:"minSamples"` // per-signal observations
	MaxLag      time.Duration `yaml:"maxLag"`
	MaxLagSteps int           `yaml:"maxLagSteps"`
	MinBucket   time.Duration `yaml:"minBucket"`
	MaxBucket   time.Duration `yaml:"maxBucket"`
	MaxSignals  int           `yaml:"maxSignals"`
}

// PredictionConfig tunes the spike scorer.
type PredictionConfig struct {
	Cadence         time.Duration `yaml:"cadence"`
	SpikeThreshold  float64       `yaml:"spikeThreshold"`
	MinHorizon      time.Duration `yaml:"minHorizon"`
	MaxHorizon      time.Duration `yaml:"maxHorizon"`
	ConfidenceFloor float64       `yaml:"confidenceFloor"`
	FitWindow       time.Duration `yaml:"fitWindow"`
	FitFloor        float64       `yaml:"fitFloor"`
	ActionableCap   float64       `yaml:"actionableCap"`
	VelocityRef     float64       `yaml:"velocityRef"` // pt/day treated as full trend credit
	AccelerationCap float64       `yaml:"accelerationCap"`
}

// RulesConfig controls workflow evaluation and the alert log.
type RulesConfig struct {
	Cadence       time.Duration `yaml:"cadence"`
	Cooldown      time.Duration `yaml:"cooldown"`
	Path          string        `yaml:"path"`
	AlertCapacity int           `yaml:"alertCapacity"`
}

// NATSConfig configures the optional NATS source connector.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Name    string `yaml:"name"`
}

// SignalSeed registers signal metadata ahead of its first observation.
type SignalSeed struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	Category string `yaml:"category"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SIGNAL_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8090",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Store: StoreConfig{
			Retention: 90 * 24 * time.Hour,
			Shards:    32,
		},
		Ingest: IngestConfig{
			QueueSize: 256,
			Workers:   4,
			MaxFuture: 5 * time.Minute,
		},
		Stats: StatsConfig{
			StrengthHalfLife: 14,
			VelocityWindow:   5,
			TrendRuns:        3,
			TrendThreshold:   1.0,
			MinSamples:       5,
			DefaultSourceK:   5,
			SourceK: map[string]float64{
				"Internal Telemetry": 3,
				"Bug Reports":        4,
				"Support Tickets":    4,
				"Reddit":             6,
				"Twitter":            7,
				"Hacker News":        7,
			},
		},
		Correlation: CorrelationConfig{
			Cadence:     5 * time.Minute,
			Window:      30 * 24 * time.Hour,
			MinOverlap:  12,
			MinSamples:  8,
			MaxLag:      7 * 24 * time.Hour,
			MaxLagSteps: 8,
			MinBucket:   5 * time.Minute,
			MaxBucket:   24 * time.Hour,
			MaxSignals:  200,
		},
		Prediction: PredictionConfig{
			Cadence:         5 * time.Minute,
			SpikeThreshold:  90,
			MinHorizon:      7 * 24 * time.Hour,
			MaxHorizon:      180 * 24 * time.Hour,
			ConfidenceFloor: 50,
			FitWindow:       14 * 24 * time.Hour,
			FitFloor:        0.6,
			ActionableCap:   60,
			VelocityRef:     5,
			AccelerationCap: 2,
		},
		Rules: RulesConfig{
			Cadence:       time.Minute,
			Cooldown:      6 * time.Hour,
			Path:          "configs/workflows/default.yaml",
			AlertCapacity: 1024,
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "signals.observations.>",
			Name:    "signal-engine",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIGNAL_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SIGNAL_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SIGNAL_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIGNAL_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SIGNAL_ENGINE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.Retention = d
		}
	}
	if v := os.Getenv("SIGNAL_ENGINE_INGEST_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.QueueSize = n
		}
	}
	if v := os.Getenv("SIGNAL_ENGINE_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Workers = n
		}
	}
	if v := os.Getenv("SIGNAL_ENGINE_CORRELATION_CADENCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Cadence = d
		}
	}
	if v := os.Getenv("SIGNAL_ENGINE_PREDICTION_CADENCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Prediction.Cadence = d
		}
	}
	if v := os.Getenv("SIGNAL_ENGINE_RULES_CADENCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rules.Cadence = d
		}
	}
	if v := os.Getenv("SIGNAL_ENGINE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("SIGNAL_ENGINE_NATS_ENABLED"); v != "" {
		cfg.NATS.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SIGNAL_ENGINE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SIGNAL_ENGINE_NATS_SUBJECT"); v != "" {
		cfg.NATS.Subject = v
	}
}
