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
const DefaultConfigFile = "reviewforge.yaml"

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
	setString(&cfg.Server.Port, "REVIEWFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "REVIEWFORGE_CORS_ORIGIN")
	setString(&cfg.Server.BaseURL, "REVIEWFORGE_BASE_URL")
	setDuration(&cfg.Server.ShutdownTimeout, "REVIEWFORGE_SHUTDOWN_TIMEOUT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REVIEWFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REVIEWFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REVIEWFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REVIEWFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REVIEWFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "REVIEWFORGE_LLM_MODEL")
	setDuration(&cfg.LiteLLM.Timeout, "REVIEWFORGE_LLM_TIMEOUT")
	setString(&cfg.Logging.Level, "REVIEWFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REVIEWFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "REVIEWFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "REVIEWFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REVIEWFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "REVIEWFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "REVIEWFORGE_RATE_BURST")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "REVIEWFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "REVIEWFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "REVIEWFORGE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.DiffTTL, "REVIEWFORGE_CACHE_DIFF_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "REVIEWFORGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "REVIEWFORGE_IDEMPOTENCY_TTL")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "REVIEWFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "REVIEWFORGE_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "REVIEWFORGE_OTEL_SAMPLE_RATE")

	// MCP
	setBool(&cfg.MCP.Enabled, "REVIEWFORGE_MCP_ENABLED")
	setString(&cfg.MCP.Port, "REVIEWFORGE_MCP_PORT")
	setString(&cfg.MCP.APIKey, "REVIEWFORGE_MCP_API_KEY")

	// Notify
	setString(&cfg.Notify.SlackWebhookURL, "REVIEWFORGE_SLACK_WEBHOOK_URL")

	// Dispatcher
	setInt(&cfg.Dispatcher.RouteAttempts, "REVIEWFORGE_ROUTE_ATTEMPTS")
	setDuration(&cfg.Dispatcher.GracePeriod, "REVIEWFORGE_GRACE_PERIOD")

	// Review policy
	setFloat64(&cfg.Review.AcceptThreshold, "REVIEWFORGE_ACCEPT_THRESHOLD")
	setFloat64(&cfg.Review.RejectThreshold, "REVIEWFORGE_REJECT_THRESHOLD")
	setInt(&cfg.Review.MinQuorum, "REVIEWFORGE_MIN_QUORUM")
	setInt(&cfg.Review.PoolSize, "REVIEWFORGE_POOL_SIZE")
	setDuration(&cfg.Review.Timeout, "REVIEWFORGE_REVIEW_TIMEOUT")
	setBool(&cfg.Review.EarlyQuorum, "REVIEWFORGE_EARLY_QUORUM")
	setInt(&cfg.Review.MaxParallel, "REVIEWFORGE_REVIEW_MAX_PARALLEL")
	setInt(&cfg.Review.MaxRevisionCycles, "REVIEWFORGE_MAX_REVISION_CYCLES")
	setInt(&cfg.Review.ScorePrecision, "REVIEWFORGE_SCORE_PRECISION")

	// Diff
	setString(&cfg.Diff.Granularity, "REVIEWFORGE_DIFF_GRANULARITY")
	setInt(&cfg.Diff.MaxUnits, "REVIEWFORGE_DIFF_MAX_UNITS")
	setFloat64(&cfg.Diff.ModifyThreshold, "REVIEWFORGE_DIFF_MODIFY_THRESHOLD")
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
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.RequestsPerSecond <= 0 || cfg.Rate.Burst < 1 {
		return errors.New("rate.requests_per_second must be > 0 and rate.burst >= 1")
	}
	if cfg.Dispatcher.RouteAttempts < 1 {
		return errors.New("dispatcher.route_attempts must be >= 1")
	}
	if cfg.Dispatcher.GracePeriod <= 0 {
		return errors.New("dispatcher.grace_period must be > 0")
	}
	if cfg.Review.MinQuorum < 1 {
		return errors.New("review.min_quorum must be >= 1")
	}
	if cfg.Review.PoolSize < cfg.Review.MinQuorum {
		return errors.New("review.pool_size must be >= review.min_quorum")
	}
	if cfg.Review.RejectThreshold > cfg.Review.AcceptThreshold {
		return errors.New("review.reject_threshold must not exceed review.accept_threshold")
	}
	if cfg.Review.Timeout <= 0 {
		return errors.New("review.timeout must be > 0")
	}
	if cfg.Review.MaxRevisionCycles < 1 {
		return errors.New("review.max_revision_cycles must be >= 1")
	}
	switch cfg.Diff.Granularity {
	case "sentence", "line":
	default:
		return fmt.Errorf("diff.granularity %q must be sentence or line", cfg.Diff.Granularity)
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	names := make(map[string]bool, len(cfg.Roster))
	for i, e := range cfg.Roster {
		if e.Name == "" {
			return fmt.Errorf("roster[%d].name is required", i)
		}
		if names[e.Name] {
			return fmt.Errorf("roster entry %q is declared twice", e.Name)
		}
		names[e.Name] = true
	}
	for _, e := range cfg.Roster {
		if e.Parent != "" && !names[e.Parent] {
			return fmt.Errorf("roster entry %q names unknown parent %q", e.Name, e.Parent)
		}
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
