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
const DefaultConfigFile = "forgeflow.yaml"

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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
	setString(&cfg.Server.Port, "FORGEFLOW_PORT")
	setString(&cfg.Server.CORSOrigin, "FORGEFLOW_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FORGEFLOW_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FORGEFLOW_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FORGEFLOW_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FORGEFLOW_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FORGEFLOW_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "FORGEFLOW_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORGEFLOW_LOG_SERVICE")
	setInt(&cfg.Git.MaxConcurrent, "FORGEFLOW_GIT_MAX_CONCURRENT")
	setString(&cfg.Agent.Command, "FORGEFLOW_AGENT_COMMAND")
	setDuration(&cfg.Health.GracePeriod, "FORGEFLOW_HEALTH_GRACE_PERIOD")
	setDuration(&cfg.Health.CheckInterval, "FORGEFLOW_HEALTH_CHECK_INTERVAL")
	setString(&cfg.Worktree.RepoDir, "FORGEFLOW_REPO_DIR")
	setString(&cfg.Worktree.Dir, "FORGEFLOW_WORKTREE_DIR")
	setString(&cfg.Worktree.BaseBranch, "FORGEFLOW_BASE_BRANCH")
	setInt(&cfg.Worktree.StaleDays, "FORGEFLOW_WORKTREE_STALE_DAYS")
	setInt(&cfg.Worktree.MaxWarning, "FORGEFLOW_WORKTREE_MAX_WARNING")
	setDuration(&cfg.Worktree.StatsCacheTTL, "FORGEFLOW_WORKTREE_STATS_TTL")
	setBool(&cfg.Staging.AutoCleanupAfterStage, "FORGEFLOW_STAGING_AUTO_CLEANUP")
	setBool(&cfg.Failover.AutoSwitch, "FORGEFLOW_FAILOVER_AUTO_SWITCH")
	setString(&cfg.Failover.TokenSecret, "FORGEFLOW_TOKEN_SECRET")
	setInt64(&cfg.Cache.L1MaxSizeMB, "FORGEFLOW_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "FORGEFLOW_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "FORGEFLOW_CACHE_TTL")
	setInt(&cfg.Breaker.MaxFailures, "FORGEFLOW_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORGEFLOW_BREAKER_TIMEOUT")
	setString(&cfg.Otel.Endpoint, "FORGEFLOW_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Health.GracePeriod <= 0 {
		return errors.New("health.grace_period must be positive")
	}
	if cfg.Health.CheckInterval <= 0 {
		return errors.New("health.check_interval must be positive")
	}
	if cfg.Worktree.StaleDays < 1 {
		return errors.New("worktree.stale_days must be >= 1")
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
