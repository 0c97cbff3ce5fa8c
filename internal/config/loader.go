package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "overhearops.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator flags
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "OVERHEAROPS_PORT")
	setString(&cfg.Server.CORSOrigin, "OVERHEAROPS_CORS_ORIGIN")
	setFloat64(&cfg.Server.RunRateLimit, "OVERHEAROPS_RUN_RATE_LIMIT")
	setInt(&cfg.Server.RunBurst, "OVERHEAROPS_RUN_BURST")
	setString(&cfg.Logging.Level, "OVERHEAROPS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "OVERHEAROPS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "OVERHEAROPS_LOG_ASYNC")
	setInt(&cfg.Logging.BufferSize, "OVERHEAROPS_LOG_BUFFER")
	setInt(&cfg.Logging.Workers, "OVERHEAROPS_LOG_WORKERS")

	// Storage
	setString(&cfg.Store.Driver, "OVERHEAROPS_STORE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "OVERHEAROPS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "OVERHEAROPS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "OVERHEAROPS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "OVERHEAROPS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "OVERHEAROPS_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "OVERHEAROPS_SQLITE_PATH")

	// Messaging and cache
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "OVERHEAROPS_NATS_STREAM")
	setInt64(&cfg.Cache.MaxSizeMB, "OVERHEAROPS_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "OVERHEAROPS_CACHE_TTL")

	// Telemetry
	setBool(&cfg.OTEL.Enabled, "OVERHEAROPS_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OVERHEAROPS_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OVERHEAROPS_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "OVERHEAROPS_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "OVERHEAROPS_OTEL_SAMPLE_RATE")

	setInt(&cfg.Breaker.MaxFailures, "OVERHEAROPS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "OVERHEAROPS_BREAKER_TIMEOUT")

	// Pipeline
	setFloat64(&cfg.Pipeline.IntentThreshold, "OVERHEAROPS_INTENT_THRESHOLD")
	setInt(&cfg.Pipeline.BranchWidth, "OVERHEAROPS_BRANCH_WIDTH")
	setInt(&cfg.Pipeline.MaxParallel, "OVERHEAROPS_MAX_PARALLEL")
	setInt(&cfg.Pipeline.MaxRuns, "OVERHEAROPS_MAX_RUNS")
	setString(&cfg.Pipeline.Mode, "OVERHEAROPS_LLM_MODE")
	setString(&cfg.Pipeline.Provider, "OVERHEAROPS_LLM_PROVIDER")
	setString(&cfg.Pipeline.OfflineDir, "OVERHEAROPS_OFFLINE_DIR")
	setString(&cfg.Pipeline.DataDir, "OVERHEAROPS_DATA_DIR")

	// Replay
	setFloat64(&cfg.Replay.Speed, "OVERHEAROPS_REPLAY_SPEED")
	setFloat64(&cfg.Replay.Jitter, "OVERHEAROPS_REPLAY_JITTER")
	setInt64Ptr(&cfg.Replay.Seed, "OVERHEAROPS_REPLAY_SEED")

	setBool(&cfg.MCP.Enabled, "OVERHEAROPS_MCP_ENABLED")
	setString(&cfg.MCP.Port, "OVERHEAROPS_MCP_PORT")
	setString(&cfg.Secrets.File, "OVERHEAROPS_SECRETS_FILE")
}

// Validate re-checks cfg after callers such as CLI flags changed it.
func (c *Config) Validate() error {
	return validate(c)
}

// validate checks that required fields are set and clamps soft limits.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("store.driver %q must be sqlite or postgres", cfg.Store.Driver)
	}
	switch cfg.Pipeline.Mode {
	case ModeHeuristic, ModeOffline:
	default:
		return fmt.Errorf("pipeline.mode %q must be %s or %s", cfg.Pipeline.Mode, ModeHeuristic, ModeOffline)
	}
	if cfg.Pipeline.Mode == ModeOffline && cfg.Pipeline.OfflineDir == "" {
		return errors.New("pipeline.offline_dir is required in offline mode")
	}
	if cfg.Pipeline.IntentThreshold < 0 || cfg.Pipeline.IntentThreshold > 1 {
		return errors.New("pipeline.intent_threshold must be within [0, 1]")
	}
	if cfg.Pipeline.BranchWidth < 1 {
		cfg.Pipeline.BranchWidth = 1
	}
	if cfg.Pipeline.MaxRuns < 1 {
		cfg.Pipeline.MaxRuns = 1
	}
	if cfg.Pipeline.MaxParallel < 0 {
		return errors.New("pipeline.max_parallel must be >= 0")
	}
	if cfg.Replay.Jitter < 0 {
		return errors.New("replay.jitter must be >= 0")
	}
	if cfg.Server.RunRateLimit <= 0 {
		return errors.New("server.run_rate_limit must be > 0")
	}
	if cfg.Server.RunBurst < 1 {
		cfg.Server.RunBurst = 1
	}
	if cfg.Logging.BufferSize < 1 {
		cfg.Logging.BufferSize = 1
	}
	if cfg.Logging.Workers < 1 {
		cfg.Logging.Workers = 1
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setInt64Ptr(dst **int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = &n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
