// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Remote progress store backends.
const (
	RemoteNone     = "none"
	RemotePostgres = "postgres"
	RemoteConsul   = "consul"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address of the onboarding HTTP API.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseURL is the Postgres DSN used for the remote store, submissions and the analytics table.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RemoteStore selects the remote progress store: none, postgres or consul.
	RemoteStore    string `mapstructure:"REMOTE_STORE"`
	ConsulAddr     string `mapstructure:"CONSUL_ADDR"`
	ConsulKVPrefix string `mapstructure:"CONSUL_KV_PREFIX"`
	// LocalCachePath is the SQLite file of the device-scoped cache; empty keeps it in memory.
	LocalCachePath string `mapstructure:"LOCAL_CACHE_PATH"`
	// SaveDebounce is the remote write coalescing window (e.g. "1500ms").
	SaveDebounce string `mapstructure:"SAVE_DEBOUNCE"`
	// SessionIdleTimeout closes wizard sessions nobody touched for this long (e.g. "30m").
	SessionIdleTimeout string `mapstructure:"SESSION_IDLE_TIMEOUT"`

	StepRegistryFile     string `mapstructure:"STEP_REGISTRY_FILE"`
	NavigationPolicyFile string `mapstructure:"NAVIGATION_POLICY_FILE"`

	// JWTPublicKey is the PEM-encoded public key or a path to it; required unless AuthDisabled.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is only needed to mint tokens (onboardctl token).
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	// AuthDisabled trusts X-User-ID / X-User-Role headers. Rejected when APP_ENV=production.
	AuthDisabled bool `mapstructure:"AUTH_DISABLED"`

	// KafkaBrokers is a comma-separated broker list; empty disables the Kafka analytics sink.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"ANALYTICS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the analytics worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the analytics worker also pushes events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REMOTE_STORE", RemoteNone)
	v.SetDefault("CONSUL_ADDR", "")
	v.SetDefault("CONSUL_KV_PREFIX", "onboarding/progress/")
	v.SetDefault("LOCAL_CACHE_PATH", "")
	v.SetDefault("SAVE_DEBOUNCE", "1500ms")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("STEP_REGISTRY_FILE", "")
	v.SetDefault("NAVIGATION_POLICY_FILE", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "nutri-auth")
	v.SetDefault("JWT_AUDIENCE", "nutri-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("AUTH_DISABLED", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("ANALYTICS_KAFKA_TOPIC", "onboarding-analytics")
	v.SetDefault("KAFKA_GROUP_ID", "onboarding-analytics-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "onboarding-api")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.RemoteStore = strings.ToLower(strings.TrimSpace(cfg.RemoteStore))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.RemoteStore {
	case RemoteNone, "":
		c.RemoteStore = RemoteNone
	case RemotePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: REMOTE_STORE=postgres requires DATABASE_URL")
		}
	case RemoteConsul:
		if c.ConsulAddr == "" {
			return errors.New("config: REMOTE_STORE=consul requires CONSUL_ADDR")
		}
	default:
		return fmt.Errorf("config: REMOTE_STORE must be one of none, postgres, consul (got %q)", c.RemoteStore)
	}
	if c.AuthDisabled && c.IsProduction() {
		return errors.New("config: AUTH_DISABLED must not be true when APP_ENV=production")
	}
	if _, err := parsePositive(c.SaveDebounce, true); err != nil {
		return fmt.Errorf("config: SAVE_DEBOUNCE: %w", err)
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Debounce parses SaveDebounce. Returns 1500ms if unset or invalid.
func (c *Config) Debounce() time.Duration {
	d, err := parsePositive(c.SaveDebounce, true)
	if err != nil || c.SaveDebounce == "" {
		return 1500 * time.Millisecond
	}
	return d
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := parsePositive(c.JWTAccessTTL, false)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// IdleTimeout parses SessionIdleTimeout. Returns 30m if unset or invalid.
func (c *Config) IdleTimeout() time.Duration {
	d, err := parsePositive(c.SessionIdleTimeout, false)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// KafkaBrokersList returns the broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parsePositive(s string, allowZero bool) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("duration %s out of range", s)
	}
	return d, nil
}
