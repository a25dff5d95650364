package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment overrides for secrets that should not live in the config file.
const (
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvOperatorKey      = "HEDERA_OPERATOR_KEY"
)

// Config represents the mass payout service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Hedera     HederaConfig     `yaml:"hedera"`
	MirrorNode MirrorNodeConfig `yaml:"mirror_node"`
	Payout     PayoutConfig     `yaml:"payout"`
	Listener   ListenerConfig   `yaml:"listener"`
	Auth       JWKSConfig       `yaml:"auth"`
	CORS       CORSConfig       `yaml:"cors"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost" validate:"required"`
	Port     int    `yaml:"port" default:"5432" validate:"min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"mass_payout" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable" validate:"oneof=disable require verify-ca verify-full"`
}

// HederaConfig contains the JSON-RPC relay and operator account settings
type HederaConfig struct {
	RPCURL  string `yaml:"rpc_url" validate:"required,url"`
	ChainID int64  `yaml:"chain_id" default:"296" validate:"gt=0"`
	// OperatorKey is the AES-GCM encrypted operator private key (base64).
	OperatorKey          string        `yaml:"operator_key"`
	MasterKeyEnv         string        `yaml:"master_key_env" default:"MASS_PAYOUT_MASTER_KEY"`
	GasLimit             uint64        `yaml:"gas_limit" default:"15000000" validate:"gt=0"`
	MaxGasPrice          string        `yaml:"max_gas_price"`
	ReceiptTimeout       time.Duration `yaml:"receipt_timeout" default:"2m"`
	PaymentTokenDecimals int32         `yaml:"payment_token_decimals" default:"6" validate:"min=0,max=36"`
}

// MirrorNodeConfig contains mirror node REST client settings
type MirrorNodeConfig struct {
	URL               string        `yaml:"url" validate:"required,url"`
	RequestTimeout    time.Duration `yaml:"request_timeout" default:"10s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"50" validate:"gt=0"`
	Burst             int           `yaml:"burst" default:"10" validate:"gt=0"`
}

// PayoutConfig contains distribution execution and retry settings
type PayoutConfig struct {
	PageLength       int           `yaml:"page_length" default:"100" validate:"min=1"`
	RetryCeiling     int           `yaml:"retry_ceiling" default:"3" validate:"min=0"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" default:"10m"`
	RetryConcurrency int           `yaml:"retry_concurrency" default:"4" validate:"min=1"`
	SchedulerEnabled bool          `yaml:"scheduler_enabled" default:"true"`
	ExecuteSchedule  string        `yaml:"execute_schedule" default:"0 0 * * *" validate:"required"`
	RetrySchedule    string        `yaml:"retry_schedule" default:"*/15 * * * *" validate:"required"`
	SyncSchedule     string        `yaml:"sync_schedule" default:"30 * * * *" validate:"required"`
	JobTimeout       time.Duration `yaml:"job_timeout" default:"30m"`
}

// ListenerConfig contains blockchain event poller settings
type ListenerConfig struct {
	Enabled        bool          `yaml:"enabled" default:"true"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"30s"`
	ContractID     string        `yaml:"contract_id"`
	StartTimestamp string        `yaml:"start_timestamp" default:"0.0"`
	PageLimit      int           `yaml:"page_limit" default:"100" validate:"min=1,max=100"`
	CycleTimeout   time.Duration `yaml:"cycle_timeout" default:"2m"`
}

// JWKSConfig contains JWKS configuration for JWT validation of command endpoints
type JWKSConfig struct {
	URL    string `yaml:"url"`
	Issuer string `yaml:"issuer"`
}

// CORSConfig contains allowed origins for the REST surface
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// Load loads configuration from a YAML file, applies defaults, environment overrides and validation.
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse builds a Config from raw YAML.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDatabasePassword); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv(EnvOperatorKey); v != "" {
		cfg.Hedera.OperatorKey = v
	}
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.Listener.Enabled && cfg.Listener.ContractID == "" {
		return fmt.Errorf("listener.contract_id is required when the listener is enabled")
	}
	if cfg.Listener.Enabled && cfg.Listener.PollInterval <= 0 {
		return fmt.Errorf("listener.poll_interval must be positive")
	}
	return nil
}
