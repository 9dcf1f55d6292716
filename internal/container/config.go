// Package container provides dependency injection and lifecycle management
// for the billing engine.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Scheduler SchedulerConfig
	Fanout    FanoutConfig
	Delivery  DeliveryConfig
	Gateway   GatewayConfig
	Auth      AuthConfig
	Invoice   InvoiceConfig
	Metrics   MetricsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file, or ":memory:"
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// SchedulerConfig holds recurring invoice runner settings.
type SchedulerConfig struct {
	// Interval between due scans
	Interval time.Duration

	// RunTimeout bounds one scan
	RunTimeout time.Duration

	// BatchSize is the maximum number of schedules claimed per scan
	BatchSize int

	// Lease is how long a claim keeps other runners away
	Lease time.Duration

	// RunnerID names this process in claims; random when empty
	RunnerID string
}

// FanoutConfig holds event stream settings.
type FanoutConfig struct {
	QueueSize     int
	Heartbeat     time.Duration
	MaxPerSession int
}

// DeliveryConfig holds invoice delivery worker settings.
type DeliveryConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	From         string
}

// GatewayConfig holds payment gateway webhook settings.
type GatewayConfig struct {
	// WebhookSecret signs gateway callbacks; empty rejects them all
	WebhookSecret string
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// Tokens maps bearer tokens to session ids
	Tokens map[string]string
}

// InvoiceConfig holds invoice defaults.
type InvoiceConfig struct {
	NumberPrefix    string
	DefaultCurrency string
	DefaultDueDays  int
	PublicBaseURL   string
}

// MetricsConfig holds prometheus labels.
type MetricsConfig struct {
	ServiceName string
	Environment string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/billing.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:   time.Minute,
			RunTimeout: 2 * time.Minute,
			BatchSize:  50,
			Lease:      5 * time.Minute,
		},
		Fanout: FanoutConfig{
			QueueSize:     64,
			Heartbeat:     15 * time.Second,
			MaxPerSession: 16,
		},
		Delivery: DeliveryConfig{
			PollInterval: 10 * time.Second,
			BatchSize:    20,
			MaxAttempts:  5,
			BaseBackoff:  30 * time.Second,
			MaxBackoff:   time.Hour,
			From:         "billing@localhost",
		},
		Invoice: InvoiceConfig{
			NumberPrefix:    "INV-",
			DefaultCurrency: "USD",
			DefaultDueDays:  30,
		},
		Metrics: MetricsConfig{
			ServiceName: "billingd",
			Environment: "development",
		},
	}
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.Lease <= 0 {
		return fmt.Errorf("scheduler.lease must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if c.Fanout.QueueSize <= 0 {
		return fmt.Errorf("fanout.queue_size must be positive")
	}
	if c.Fanout.Heartbeat <= 0 {
		return fmt.Errorf("fanout.heartbeat must be positive")
	}
	if c.Fanout.MaxPerSession <= 0 {
		return fmt.Errorf("fanout.max_per_session must be positive")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be positive")
	}
	if c.Invoice.DefaultDueDays < 0 {
		return fmt.Errorf("invoice.default_due_days must not be negative")
	}
	for token, session := range c.Auth.Tokens {
		if token == "" || session == "" {
			return fmt.Errorf("auth.tokens entries need a token and a session id")
		}
	}
	return nil
}
