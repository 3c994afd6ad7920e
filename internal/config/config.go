// Package config loads controller settings from YAML with environment
// overrides.
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

// Config captures the settings required to boot the rollout controller.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Router   RouterConfig   `yaml:"router"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Rollout  RolloutConfig  `yaml:"rollout"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StorageConfig locates the session database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// WorkflowConfig selects and configures the workflow engine.
// Engine is one of "sync", "goworkflows", "dbos".
type WorkflowConfig struct {
	Engine string `yaml:"engine"`
	// StatePath is the go-workflows SQLite state database.
	StatePath string `yaml:"statePath"`
	// DatabaseURL is the DBOS Postgres system database.
	DatabaseURL string `yaml:"databaseURL"`
}

// RouterConfig configures access to the traffic router API.
type RouterConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig configures access to the metrics aggregator API.
type MetricsConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RolloutConfig carries the default control-loop parameters applied when a
// request does not override them.
type RolloutConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	CheckInterval    time.Duration `yaml:"checkInterval"`
	WarmupPeriod     time.Duration `yaml:"warmupPeriod"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CANARYGATE_CONFIG")
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

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Path: "canarygate.db"},
		Workflow: WorkflowConfig{
			Engine:    "sync",
			StatePath: "canarygate-workflows.db",
		},
		Router:  RouterConfig{Timeout: 30 * time.Second},
		Metrics: MetricsConfig{Timeout: 10 * time.Second},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rollout: RolloutConfig{
			FailureThreshold: 3,
			CheckInterval:    30 * time.Second,
			WarmupPeriod:     60 * time.Second,
		},
	}
}

func validate(cfg *Config) error {
	switch cfg.Workflow.Engine {
	case "sync", "goworkflows", "dbos":
	default:
		return fmt.Errorf("unknown workflow engine %q", cfg.Workflow.Engine)
	}
	if cfg.Workflow.Engine == "dbos" && cfg.Workflow.DatabaseURL == "" {
		return errors.New("workflow.databaseURL is required for the dbos engine")
	}
	if cfg.Router.BaseURL == "" {
		return errors.New("router.baseURL is required")
	}
	if cfg.Metrics.BaseURL == "" {
		return errors.New("metrics.baseURL is required")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CANARYGATE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CANARYGATE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("CANARYGATE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("CANARYGATE_WORKFLOW_ENGINE"); v != "" {
		cfg.Workflow.Engine = v
	}
	if v := os.Getenv("CANARYGATE_WORKFLOW_STATE_PATH"); v != "" {
		cfg.Workflow.StatePath = v
	}
	if v := os.Getenv("CANARYGATE_WORKFLOW_DATABASE_URL"); v != "" {
		cfg.Workflow.DatabaseURL = v
	}
	if v := os.Getenv("CANARYGATE_ROUTER_BASE_URL"); v != "" {
		cfg.Router.BaseURL = v
	}
	if v := os.Getenv("CANARYGATE_ROUTER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Router.Timeout = d
		}
	}
	if v := os.Getenv("CANARYGATE_METRICS_BASE_URL"); v != "" {
		cfg.Metrics.BaseURL = v
	}
	if v := os.Getenv("CANARYGATE_METRICS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Metrics.Timeout = d
		}
	}
	if v := os.Getenv("CANARYGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CANARYGATE_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("CANARYGATE_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rollout.FailureThreshold = n
		}
	}
	if v := os.Getenv("CANARYGATE_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rollout.CheckInterval = d
		}
	}
	if v := os.Getenv("CANARYGATE_WARMUP_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rollout.WarmupPeriod = d
		}
	}
}
