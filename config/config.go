package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	CORS      CORSConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
	Export    ExportConfig
	Ledger    LedgerConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port string
	Host string
	Addr string // Combined host:port for convenience
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Path string
}

// CORSConfig holds CORS-specific configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// BillingConfig describes the flat monthly charge.
type BillingConfig struct {
	ChargeAmount decimal.Decimal
	ChargeLabel  string
}

// SchedulerConfig controls the monthly deduction run.
type SchedulerConfig struct {
	Enabled  bool
	Schedule string // cron expression, minute resolution
}

// ExportConfig is where published batches are written.
type ExportConfig struct {
	Dir string
}

// LedgerConfig bounds each dues query.
type LedgerConfig struct {
	Timeout time.Duration
}

// fileConfig is the optional YAML overlay; empty fields keep the env value.
type fileConfig struct {
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	Billing struct {
		ChargeAmount string `yaml:"charge_amount"`
		ChargeLabel  string `yaml:"charge_label"`
	} `yaml:"billing"`
	Scheduler struct {
		Enabled  *bool  `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
	} `yaml:"scheduler"`
	Export struct {
		Dir string `yaml:"dir"`
	} `yaml:"export"`
	Ledger struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"ledger"`
}

// Load reads configuration from environment variables and .env file, then
// applies the YAML file named by QUARTER_DUES_CONFIG if set.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	amount, err := decimal.NewFromString(getEnv("CHARGE_AMOUNT", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHARGE_AMOUNT: %w", err)
	}
	timeout, err := time.ParseDuration(getEnv("LEDGER_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_TIMEOUT: %w", err)
	}
	enabled, err := strconv.ParseBool(getEnv("SCHEDULER_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_ENABLED: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "localhost"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/quarter_dues.db"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost")),
		},
		Billing: BillingConfig{
			ChargeAmount: amount,
			ChargeLabel:  getEnv("CHARGE_LABEL", "Water Charges"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  enabled,
			Schedule: getEnv("DEDUCTION_SCHEDULE", "0 2 1 * *"),
		},
		Export: ExportConfig{
			Dir: getEnv("EXPORT_DIR", "./data/outbox"),
		},
		Ledger: LedgerConfig{
			Timeout: timeout,
		},
	}

	if path := os.Getenv("QUARTER_DUES_CONFIG"); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}

	if config.Billing.ChargeAmount.IsNegative() {
		return nil, fmt.Errorf("charge amount must not be negative, got %s", config.Billing.ChargeAmount)
	}

	// Combine host and port
	config.Server.Addr = fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)

	return config, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	override(&c.Server.Host, f.Server.Host)
	override(&c.Server.Port, f.Server.Port)
	override(&c.Database.Path, f.Database.Path)
	override(&c.Billing.ChargeLabel, f.Billing.ChargeLabel)
	override(&c.Scheduler.Schedule, f.Scheduler.Schedule)
	override(&c.Export.Dir, f.Export.Dir)
	if len(f.CORS.AllowedOrigins) > 0 {
		c.CORS.AllowedOrigins = f.CORS.AllowedOrigins
	}
	if f.Scheduler.Enabled != nil {
		c.Scheduler.Enabled = *f.Scheduler.Enabled
	}
	if f.Billing.ChargeAmount != "" {
		amount, err := decimal.NewFromString(f.Billing.ChargeAmount)
		if err != nil {
			return fmt.Errorf("invalid billing.charge_amount: %w", err)
		}
		c.Billing.ChargeAmount = amount
	}
	if f.Ledger.Timeout != "" {
		d, err := time.ParseDuration(f.Ledger.Timeout)
		if err != nil {
			return fmt.Errorf("invalid ledger.timeout: %w", err)
		}
		c.Ledger.Timeout = d
	}
	return nil
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
