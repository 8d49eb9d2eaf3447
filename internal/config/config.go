// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN for the audit log and migrations.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SecurityDatabaseURL is the Postgres DSN of the credential store. Defaults to DatabaseURL.
	SecurityDatabaseURL string `mapstructure:"SECURITY_DATABASE_URL"`
	// SecurityStoredProcedure is the credential procedure, optionally schema-qualified.
	SecurityStoredProcedure string `mapstructure:"SECURITY_STORED_PROCEDURE"`
	// SecurityUserParam is the procedure's username parameter name.
	SecurityUserParam string `mapstructure:"SECURITY_USER_PARAM"`
	// SecurityPasswordParam is the procedure's password parameter name.
	SecurityPasswordParam string `mapstructure:"SECURITY_PASSWORD_PARAM"`
	// DBMaxOpenConns caps open connections per pool (0 = unlimited).
	DBMaxOpenConns int `mapstructure:"DB_MAX_OPEN_CONNS"`
	// DBConnMaxLifetime is the max connection lifetime (e.g. "30m").
	DBConnMaxLifetime string `mapstructure:"DB_CONN_MAX_LIFETIME"`
	// AuditReaderRole is the role required to list audit logs.
	AuditReaderRole string `mapstructure:"AUDIT_READER_ROLE"`
	// BcryptCost is the bcrypt cost factor (4–31) used by the seed command; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Telemetry (optional). When Kafka brokers are set, the gRPC server emits per-RPC events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events (default csla-telemetry).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SECURITY_DATABASE_URL", "")
	v.SetDefault("SECURITY_STORED_PROCEDURE", "security_login")
	v.SetDefault("SECURITY_USER_PARAM", "p_username")
	v.SetDefault("SECURITY_PASSWORD_PARAM", "p_password")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("AUDIT_READER_ROLE", "Admin")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "csla-identity")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "csla-telemetry")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "csla-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.SecurityDatabaseURL == "" {
		cfg.SecurityDatabaseURL = cfg.DatabaseURL
	}
	cfg.SecurityStoredProcedure = strings.TrimSpace(cfg.SecurityStoredProcedure)
	cfg.SecurityUserParam = strings.TrimSpace(cfg.SecurityUserParam)
	cfg.SecurityPasswordParam = strings.TrimSpace(cfg.SecurityPasswordParam)
	if cfg.SecurityStoredProcedure == "" || cfg.SecurityUserParam == "" || cfg.SecurityPasswordParam == "" {
		return nil, errors.New("config: SECURITY_STORED_PROCEDURE, SECURITY_USER_PARAM and SECURITY_PASSWORD_PARAM must be set")
	}
	if cfg.SecurityUserParam == cfg.SecurityPasswordParam {
		return nil, errors.New("config: SECURITY_USER_PARAM and SECURITY_PASSWORD_PARAM must differ")
	}
	if cfg.DBMaxOpenConns < 0 {
		return nil, errors.New("config: DB_MAX_OPEN_CONNS must not be negative")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// ConnMaxLifetime parses DBConnMaxLifetime as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) ConnMaxLifetime() time.Duration {
	d, err := time.ParseDuration(c.DBConnMaxLifetime)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
