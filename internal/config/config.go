package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jogardn/roast-orders/internal/orders"
	"github.com/jogardn/roast-orders/internal/postgres"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	defaultTimezone = "America/Argentina/Buenos_Aires"
)

type Config struct {
	Environment string          `yaml:"environment"`
	LogLevel    string          `yaml:"log_level"`
	Server      ServerConfig    `yaml:"server"`
	StoreDriver string          `yaml:"store_driver"`
	Database    postgres.Config `yaml:"database"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	Orders      OrdersConfig    `yaml:"orders"`

	// Resolved from Orders.Timezone and Orders.InitialStock by Load.
	Location     *time.Location  `yaml:"-"`
	InitialStock decimal.Decimal `yaml:"-"`
}

type ServerConfig struct {
	OrderServicePort string   `yaml:"order_service_port"`
	BoardPort        string   `yaml:"board_port"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
}

type KafkaConfig struct {
	// Empty disables event publishing.
	Brokers string `yaml:"brokers"`
	GroupID string `yaml:"group_id"`
}

type OrdersConfig struct {
	Timezone               string        `yaml:"timezone"`
	Product                string        `yaml:"product"`
	InitialStock           string        `yaml:"initial_stock"`
	TxMaxRetries           uint64        `yaml:"tx_max_retries"`
	TxRetryMaxElapsed      time.Duration `yaml:"tx_retry_max_elapsed"`
	TxRetryInitialInterval time.Duration `yaml:"tx_retry_initial_interval"`
}

type options struct {
	lookup func(string) (string, bool)
}

type Option func(*options)

// WithEnvMap reads variables from env instead of the process environment.
func WithEnvMap(env map[string]string) Option {
	return func(o *options) {
		o.lookup = func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}
	}
}

func defaults() Config {
	retry := orders.DefaultRetryPolicy()
	return Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			OrderServicePort: "8081",
			BoardPort:        "8082",
		},
		StoreDriver: DriverPostgres,
		Database: postgres.Config{
			Host:     "localhost",
			Port:     "5432",
			User:     "orderservice",
			Password: "orderservice",
			Name:     "orders",
		},
		Kafka: KafkaConfig{
			Brokers: "localhost:9092",
			GroupID: "order-board",
		},
		Orders: OrdersConfig{
			Timezone:               defaultTimezone,
			Product:                "chicken",
			InitialStock:           "0",
			TxMaxRetries:           retry.MaxRetries,
			TxRetryMaxElapsed:      retry.MaxElapsedTime,
			TxRetryInitialInterval: retry.InitialInterval,
		},
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE, then
// environment variables.
func Load(opts ...Option) (*Config, error) {
	o := options{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}
	getEnv := func(key, defaultValue string) string {
		if value, ok := o.lookup(key); ok && value != "" {
			return value
		}
		return defaultValue
	}

	cfg := defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Server.OrderServicePort = getEnv("ORDER_SERVICE_PORT", cfg.Server.OrderServicePort)
	cfg.Server.BoardPort = getEnv("BOARD_PORT", cfg.Server.BoardPort)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	if brokers, ok := o.lookup("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	cfg.Orders.Timezone = getEnv("OPERATION_TIMEZONE", cfg.Orders.Timezone)
	cfg.Orders.Product = getEnv("PRODUCT_KEY", cfg.Orders.Product)
	cfg.Orders.InitialStock = getEnv("INITIAL_STOCK", cfg.Orders.InitialStock)

	if v := getEnv("TX_MAX_RETRIES", ""); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TX_MAX_RETRIES %q: %w", v, err)
		}
		cfg.Orders.TxMaxRetries = n
	}
	if v := getEnv("TX_RETRY_MAX_ELAPSED", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TX_RETRY_MAX_ELAPSED %q: %w", v, err)
		}
		cfg.Orders.TxRetryMaxElapsed = d
	}
	if v := getEnv("TX_RETRY_INITIAL_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TX_RETRY_INITIAL_INTERVAL %q: %w", v, err)
		}
		cfg.Orders.TxRetryInitialInterval = d
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	loc, err := time.LoadLocation(c.Orders.Timezone)
	if err != nil {
		return fmt.Errorf("invalid operation timezone %q: %w", c.Orders.Timezone, err)
	}
	c.Location = loc

	stock, err := decimal.NewFromString(c.Orders.InitialStock)
	if err != nil {
		return fmt.Errorf("invalid initial stock %q: %w", c.Orders.InitialStock, err)
	}
	if stock.IsNegative() {
		return fmt.Errorf("initial stock cannot be negative, got %s", stock)
	}
	c.InitialStock = stock

	if c.Orders.TxRetryInitialInterval <= 0 {
		return fmt.Errorf("transaction retry interval must be positive")
	}
	if c.Orders.TxRetryMaxElapsed < 0 {
		return fmt.Errorf("transaction retry budget cannot be negative")
	}
	if c.Orders.TxMaxRetries == 0 && c.Orders.TxRetryMaxElapsed == 0 {
		return fmt.Errorf("transaction retries need a count or an elapsed-time bound")
	}
	return nil
}

// RetryPolicy is the conflict retry budget for the lifecycle manager.
func (c *Config) RetryPolicy() orders.RetryPolicy {
	return orders.RetryPolicy{
		MaxRetries:      c.Orders.TxMaxRetries,
		MaxElapsedTime:  c.Orders.TxRetryMaxElapsed,
		InitialInterval: c.Orders.TxRetryInitialInterval,
		MaxInterval:     orders.DefaultRetryPolicy().MaxInterval,
	}
}

// ExposeErrorDetails reports whether raw store errors may reach callers.
func (c *Config) ExposeErrorDetails() bool {
	return c.Environment != "production"
}

// NewLogger builds the JSON logger every binary uses.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.WithField("log_level", c.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
