package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. BILLING_SERVER_PORT
const EnvPrefix = "BILLING"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Invoice   InvoiceConfig   `mapstructure:"invoice"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// SchedulerConfig holds recurring invoice runner configuration
type SchedulerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	BatchSize  int           `mapstructure:"batch_size"`
	Lease      time.Duration `mapstructure:"lease"`
	RunnerID   string        `mapstructure:"runner_id"`
}

// FanoutConfig holds event stream configuration
type FanoutConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
	MaxPerSession int           `mapstructure:"max_per_session"`
}

// DeliveryConfig holds invoice delivery configuration
type DeliveryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	From         string        `mapstructure:"from"`
}

// GatewayConfig holds payment gateway configuration
type GatewayConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// AuthConfig maps static bearer tokens to session ids. Viper lower-cases
// map keys read from files; tokens with upper-case letters must come from
// BILLING_AUTH_TOKENS.
type AuthConfig struct {
	Tokens map[string]string `mapstructure:"tokens"`
}

// InvoiceConfig holds invoice defaults
type InvoiceConfig struct {
	NumberPrefix    string `mapstructure:"number_prefix"`
	DefaultCurrency string `mapstructure:"default_currency"`
	DefaultDueDays  int    `mapstructure:"default_due_days"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// MetricsConfig holds prometheus label values
type MetricsConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Options selects the sources Load reads
type Options struct {
	// ConfigPath is a YAML file; empty means defaults and environment only
	ConfigPath string
	// EnvFile is loaded into the process environment when it exists
	EnvFile string
}

// Load loads configuration from the env file, the config file and
// environment variables, in increasing precedence
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := gotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// BILLING_AUTH_TOKENS arrives as "token=session,token=session"
	if raw, ok := v.Get("auth.tokens").(string); ok {
		tokens, err := parseTokens(raw)
		if err != nil {
			return nil, err
		}
		v.Set("auth.tokens", tokens)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. AutomaticEnv only sees keys
// viper knows about, so every key gets a default here.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/billing.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Scheduler defaults
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.run_timeout", 2*time.Minute)
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.lease", 5*time.Minute)
	v.SetDefault("scheduler.runner_id", "")

	// Fan-out defaults
	v.SetDefault("fanout.queue_size", 64)
	v.SetDefault("fanout.heartbeat", 15*time.Second)
	v.SetDefault("fanout.max_per_session", 16)

	// Delivery defaults
	v.SetDefault("delivery.poll_interval", 10*time.Second)
	v.SetDefault("delivery.batch_size", 20)
	v.SetDefault("delivery.max_attempts", 5)
	v.SetDefault("delivery.base_backoff", 30*time.Second)
	v.SetDefault("delivery.max_backoff", time.Hour)
	v.SetDefault("delivery.from", "billing@localhost")

	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("auth.tokens", map[string]string{})

	// Invoice defaults
	v.SetDefault("invoice.number_prefix", "INV-")
	v.SetDefault("invoice.default_currency", "USD")
	v.SetDefault("invoice.default_due_days", 30)
	v.SetDefault("invoice.public_base_url", "")

	v.SetDefault("metrics.service_name", "billingd")
	v.SetDefault("metrics.environment", "development")
}

func parseTokens(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, session, ok := strings.Cut(pair, "=")
		if !ok || token == "" || session == "" {
			return nil, fmt.Errorf("auth.tokens: malformed entry %q", pair)
		}
		tokens[token] = session
	}
	return tokens, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.Lease <= c.Scheduler.RunTimeout {
		return fmt.Errorf("scheduler.lease must exceed scheduler.run_timeout")
	}
	if c.Fanout.QueueSize <= 0 {
		return fmt.Errorf("fanout.queue_size must be positive")
	}
	if c.Fanout.MaxPerSession <= 0 {
		return fmt.Errorf("fanout.max_per_session must be positive")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be positive")
	}
	if len(c.Invoice.DefaultCurrency) != 3 {
		return fmt.Errorf("invoice.default_currency must be a three-letter code")
	}

	return nil
}
