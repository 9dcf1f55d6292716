package config

import (
	"github.com/garyjia/invoice-engine/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
		Scheduler: container.SchedulerConfig{
			Interval:   c.Scheduler.Interval,
			RunTimeout: c.Scheduler.RunTimeout,
			BatchSize:  c.Scheduler.BatchSize,
			Lease:      c.Scheduler.Lease,
			RunnerID:   c.Scheduler.RunnerID,
		},
		Fanout: container.FanoutConfig{
			QueueSize:     c.Fanout.QueueSize,
			Heartbeat:     c.Fanout.Heartbeat,
			MaxPerSession: c.Fanout.MaxPerSession,
		},
		Delivery: container.DeliveryConfig{
			PollInterval: c.Delivery.PollInterval,
			BatchSize:    c.Delivery.BatchSize,
			MaxAttempts:  c.Delivery.MaxAttempts,
			BaseBackoff:  c.Delivery.BaseBackoff,
			MaxBackoff:   c.Delivery.MaxBackoff,
			From:         c.Delivery.From,
		},
		Gateway: container.GatewayConfig{
			WebhookSecret: c.Gateway.WebhookSecret,
		},
		Auth: container.AuthConfig{
			Tokens: c.Auth.Tokens,
		},
		Invoice: container.InvoiceConfig{
			NumberPrefix:    c.Invoice.NumberPrefix,
			DefaultCurrency: c.Invoice.DefaultCurrency,
			DefaultDueDays:  c.Invoice.DefaultDueDays,
			PublicBaseURL:   c.Invoice.PublicBaseURL,
		},
		Metrics: container.MetricsConfig{
			ServiceName: c.Metrics.ServiceName,
			Environment: c.Metrics.Environment,
		},
	}
}
