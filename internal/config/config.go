package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/subsync/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Stripe     StripeConfig     `validate:"required"`
	Webhook    WebhookConfig
	Reconciler ReconcilerConfig
	Locks      LockConfig
	Catalog    CatalogConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// StripeConfig carries the provider credentials. WebhookSecret is used to
// verify inbound notification signatures before any payload is trusted.
type StripeConfig struct {
	SecretKey     string `validate:"required"`
	WebhookSecret string `validate:"required"`
}

// WebhookConfig configures the outbound notification channel used to surface
// drift findings to operators.
type WebhookConfig struct {
	Svix SvixConfig
}

type SvixConfig struct {
	Enabled   bool
	AuthToken string
	AppID     string
}

// ReconcilerConfig controls the periodic drift sweep
type ReconcilerConfig struct {
	SweepEnabled  bool
	SweepInterval time.Duration
	BatchSize     int
}

// CatalogConfig locates the plan catalog definition file
type CatalogConfig struct {
	Path string
}

// LockConfig bounds how long a user-initiated transition waits for the
// per-subscription lock before failing with a busy error
type LockConfig struct {
	AcquireTimeout time.Duration
}

func NewConfig() (*Configuration, error) {
	// Load .env for local development; missing file is fine
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/subsync")

	// Set up environment variables support
	v.SetEnvPrefix("SUBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Configuration) applyDefaults() {
	if c.Reconciler.SweepInterval <= 0 {
		c.Reconciler.SweepInterval = 15 * time.Minute
	}
	if c.Reconciler.BatchSize <= 0 {
		c.Reconciler.BatchSize = 100
	}
	if c.Locks.AcquireTimeout <= 0 {
		c.Locks.AcquireTimeout = 5 * time.Second
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = "./config/plans.json"
	}
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	cfg := &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
	}
	cfg.applyDefaults()
	return cfg
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
