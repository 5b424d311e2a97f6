// Package config loads and validates the paymaster service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" validate:"required"`
	Chains     []ChainConfig    `yaml:"chains" validate:"min=1,dive"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Rebalancer RebalancerConfig `yaml:"rebalancer"`
	Fees       FeesConfig       `yaml:"fees"`
	Policy     PolicyConfig     `yaml:"policy"`
	Vault      VaultConfig      `yaml:"vault"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
}

// DatabaseConfig contains registry database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost" validate:"required"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"paymaster" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// ChainConfig describes one sponsored chain and seeds its registry record and
// pool on first start. Monetary thresholds are human-readable native-unit
// decimals; they are converted to smallest-unit integers at load time.
type ChainConfig struct {
	ChainID            uint64 `yaml:"chain_id" validate:"required"`
	Name               string `yaml:"name" validate:"required"`
	Symbol             string `yaml:"symbol" validate:"required"`
	RPCURL             string `yaml:"rpc_url" validate:"required,url"`
	ExplorerURL        string `yaml:"explorer_url"`
	Status             string `yaml:"status" default:"TESTING" validate:"oneof=TESTING ACTIVE PAUSED"`
	GasAccountAddress  string `yaml:"gas_account_address" validate:"required"`
	VaultAddress       string `yaml:"vault_address" validate:"required"`
	MinBalance         string `yaml:"min_balance" default:"1"`
	TargetBalance      string `yaml:"target_balance" default:"5"`
	DefaultGasPriceWei string `yaml:"default_gas_price_wei" default:"1000000000"`
}

// MonitorConfig contains pool health monitor settings.
type MonitorConfig struct {
	CheckInterval      time.Duration `yaml:"check_interval" default:"30s"`
	GasSampleWindow    int           `yaml:"gas_sample_window" default:"8"`
	MaxGasDeviationPct int64         `yaml:"max_gas_deviation_pct" default:"50"`
}

// RebalancerConfig contains rebalancing orchestrator settings.
type RebalancerConfig struct {
	Interval time.Duration `yaml:"interval" default:"5m"`
}

// FeesConfig contains fee quoting engine settings.
type FeesConfig struct {
	BufferPercent    int64         `yaml:"buffer_percent" default:"5"`
	SurchargePercent int64         `yaml:"surcharge_percent" default:"20"`
	QuoteTTL         time.Duration `yaml:"quote_ttl" default:"60s"`
	LatencySLO       time.Duration `yaml:"latency_slo" default:"800ms"`
}

// PolicyConfig contains gatekeeper defaults for new dapp instances.
type PolicyConfig struct {
	DailyGasCap     string `yaml:"daily_gas_cap" default:"1"`
	PerUserDailyCap string `yaml:"per_user_daily_cap" default:"0.05"`
	APIKeySecret    string `yaml:"api_key_secret" validate:"required"`
}

// VaultConfig contains transfer executor settings.
type VaultConfig struct {
	OperatorPrivateKey string        `yaml:"operator_private_key" validate:"required"`
	TransferTimeout    time.Duration `yaml:"transfer_timeout" default:"90s"`
}

// ServerConfig contains the ops HTTP server settings (health, metrics).
type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port int    `yaml:"port" default:"8080"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// ShutdownConfig contains graceful shutdown settings.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// Load reads, defaults, and validates a YAML configuration file.
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// GetConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
