package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "BILLING"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App         AppConfig
	AWS         AWSConfig
	Tables      TablesConfig
	Idempotency IdempotencyConfig
	Queue       QueueConfig
	Redis       RedisConfig
	Billing     BillingConfig
	Metrics     MetricsConfig
}

// Load reads an optional .env file (or the given files) and then the process
// environment. Values already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLING_APP_ENV" default:"dev"`
	Port         string `envconfig:"BILLING_PORT" default:"8080"`
	LogLevel     string `envconfig:"BILLING_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BILLING_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BILLING_LOG_WARN_STACK" default:"false"`
	RunLocal     bool   `envconfig:"BILLING_RUN_LOCAL" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type AWSConfig struct {
	Region   string `envconfig:"AWS_REGION" default:"us-east-1"`
	Endpoint string `envconfig:"AWS_ENDPOINT_OVERRIDE"`
}

type TablesConfig struct {
	Orders      string `envconfig:"BILLING_ORDERS_TABLE" default:"orders"`
	Inventory   string `envconfig:"BILLING_INVENTORY_TABLE" default:"inventory"`
	Users       string `envconfig:"BILLING_USERS_TABLE" default:"users"`
	Idempotency string `envconfig:"BILLING_IDEMPOTENCY_TABLE" default:"idempotency"`
}

type IdempotencyConfig struct {
	TTL time.Duration `envconfig:"BILLING_IDEMPOTENCY_TTL" default:"48h"`
}

type QueueConfig struct {
	// AdjustmentQueueURL receives inventory deltas that failed during a save.
	// Empty disables queueing; failures are then only reported.
	AdjustmentQueueURL string `envconfig:"BILLING_ADJUSTMENT_QUEUE_URL"`
}

type RedisConfig struct {
	// URL is optional; without it view state is kept in memory.
	URL          string        `envconfig:"BILLING_REDIS_URL"`
	ViewStateTTL time.Duration `envconfig:"BILLING_VIEWSTATE_TTL" default:"720h"`
}

type BillingConfig struct {
	SizeRequired      bool `envconfig:"BILLING_SIZE_REQUIRED" default:"false"`
	DefaultRentalDays int  `envconfig:"BILLING_DEFAULT_RENTAL_DAYS" default:"1"`
}

type MetricsConfig struct {
	Namespace  string `envconfig:"BILLING_METRICS_NAMESPACE" default:"RentalBilling"`
	CloudWatch bool   `envconfig:"BILLING_METRICS_CLOUDWATCH" default:"false"`
}

func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.App.Port); err != nil {
		return fmt.Errorf("invalid BILLING_PORT %q: %w", c.App.Port, err)
	}
	if c.Redis.URL != "" {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			return fmt.Errorf("invalid BILLING_REDIS_URL: %w", err)
		}
	}
	if c.Billing.DefaultRentalDays < 0 {
		return fmt.Errorf("BILLING_DEFAULT_RENTAL_DAYS must not be negative")
	}
	return nil
}
