package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cuongbtq/jobqueue/shared/logger"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
	"github.com/cuongbtq/jobqueue/shared/rabbitmq"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" env:"APP_NAME"`
	Version     string `yaml:"version" env:"APP_VERSION"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DATABASE_HOST"`
	Port            int           `yaml:"port" env:"DATABASE_PORT"`
	User            string        `yaml:"user" env:"DATABASE_USER"`
	Password        string        `yaml:"password" env:"DATABASE_PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectRetries  int           `yaml:"connect_retries"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// The broker is optional: without it producers skip wake-up nudges and
// workers rely on polling alone.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled" env:"RABBITMQ_ENABLED"`
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost" env:"RABBITMQ_VHOST"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds the worker wake-up queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output" env:"LOG_OUTPUT"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Instances             int           `yaml:"instances" env:"WORKER_INSTANCES"`
	PollInterval          time.Duration `yaml:"poll_interval" env:"WORKER_POLL_INTERVAL"`
	MaxPollInterval       time.Duration `yaml:"max_poll_interval" env:"WORKER_MAX_POLL_INTERVAL"`
	PollBackoffMultiplier float64       `yaml:"poll_backoff_multiplier"`
	LeaseTimeout          time.Duration `yaml:"lease_timeout" env:"WORKER_LEASE_TIMEOUT"`
	SweepInterval         time.Duration `yaml:"sweep_interval"`
	JobTimeout            time.Duration `yaml:"job_timeout" env:"WORKER_JOB_TIMEOUT"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout" env:"WORKER_SHUTDOWN_TIMEOUT"`
	MaxAttempts           int           `yaml:"max_attempts"`
	MetricsPort           int           `yaml:"metrics_port" env:"WORKER_METRICS_PORT"`
}

// RateLimitConfig holds the per-client token bucket of the HTTP API
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads the configuration file, applies environment overrides and fills
// in defaults for anything left unset.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults sets every zero-valued tunable to its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.ReadTimeout, 15*time.Second)
	setDefault(&c.Server.WriteTimeout, 15*time.Second)
	setDefault(&c.Server.IdleTimeout, 60*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 30*time.Second)

	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.Database.MaxOpenConns, 25)
	setDefault(&c.Database.MaxIdleConns, 5)
	setDefault(&c.Database.ConnMaxLifetime, 5*time.Minute)
	setDefault(&c.Database.ConnMaxIdleTime, time.Minute)
	setDefault(&c.Database.ConnectRetries, 5)
	setDefault(&c.Database.ConnectBackoff, 2*time.Second)

	setDefault(&c.RabbitMQ.VHost, "/")
	setDefault(&c.RabbitMQ.Exchange.Type, "topic")
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDefault(&c.RabbitMQ.Connection.RetryInterval, 5*time.Second)
	setDefault(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDefault(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDefault(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)
	setDefault(&c.RabbitMQ.Publish.BackoffMultiplier, 2.0)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "json")
	setDefault(&c.Logging.Output, "stdout")

	setDefault(&c.Worker.Instances, 1)
	setDefault(&c.Worker.PollInterval, time.Second)
	setDefault(&c.Worker.MaxPollInterval, 30*time.Second)
	setDefault(&c.Worker.PollBackoffMultiplier, 2.0)
	setDefault(&c.Worker.LeaseTimeout, 5*time.Minute)
	setDefault(&c.Worker.SweepInterval, time.Minute)
	setDefault(&c.Worker.JobTimeout, 4*time.Minute)
	setDefault(&c.Worker.ShutdownTimeout, 30*time.Second)
	setDefault(&c.Worker.MaxAttempts, 3)
	setDefault(&c.Worker.MetricsPort, 9091)

	setDefault(&c.RateLimit.RequestsPerSecond, 10.0)
	setDefault(&c.RateLimit.Burst, 20)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks the sections shared by every service
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}

	if err := validatePort("database", c.Database.Port); err != nil {
		return err
	}

	if c.Database.Database == "" {
		return errors.New("database name is required")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return errors.New("rabbitmq host is required")
		}

		if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
			return err
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}
	}

	return nil
}

// ValidateAPIConfig checks the configuration of the api service
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return errors.New("rate_limit requests_per_second must be greater than 0")
		}
		if c.RateLimit.Burst <= 0 {
			return errors.New("rate_limit burst must be greater than 0")
		}
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the configuration of the worker service
func (c *Config) ValidateWorkerConfig() error {
	w := c.Worker

	if w.Instances <= 0 {
		return errors.New("worker instances must be greater than 0")
	}

	if w.PollInterval <= 0 {
		return errors.New("worker poll_interval must be greater than 0")
	}

	if w.MaxPollInterval < w.PollInterval {
		return errors.New("worker max_poll_interval must not be less than poll_interval")
	}

	if w.PollBackoffMultiplier < 1 {
		return errors.New("worker poll_backoff_multiplier must be at least 1")
	}

	if w.JobTimeout <= 0 {
		return errors.New("worker job_timeout must be greater than 0")
	}

	if w.LeaseTimeout <= w.JobTimeout {
		return fmt.Errorf("worker lease_timeout (%s) must be greater than job_timeout (%s)", w.LeaseTimeout, w.JobTimeout)
	}

	if w.SweepInterval <= 0 {
		return errors.New("worker sweep_interval must be greater than 0")
	}

	if w.ShutdownTimeout <= 0 {
		return errors.New("worker shutdown_timeout must be greater than 0")
	}

	if w.MaxAttempts <= 0 {
		return errors.New("worker max_attempts must be greater than 0")
	}

	if err := validatePort("worker metrics", w.MetricsPort); err != nil {
		return err
	}

	return c.Validate()
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

// PostgresConfig converts the database section for shared/postgresql.
func (c *Config) PostgresConfig() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		ConnectRetries:  c.Database.ConnectRetries,
		ConnectBackoff:  c.Database.ConnectBackoff,
	}
}

// RabbitMQClientConfig converts the rabbitmq section for shared/rabbitmq.
func (c *Config) RabbitMQClientConfig() *rabbitmq.Config {
	r := c.RabbitMQ
	return &rabbitmq.Config{
		Host:               r.Host,
		Port:               r.Port,
		User:               r.User,
		Password:           r.Password,
		VHost:              r.VHost,
		ExchangeName:       r.Exchange.Name,
		ExchangeType:       r.Exchange.Type,
		ExchangeDurable:    r.Exchange.Durable,
		ExchangeAutoDelete: r.Exchange.AutoDelete,
		QueueName:          r.Queue.Name,
		QueueDurable:       r.Queue.Durable,
		QueueAutoDelete:    r.Queue.AutoDelete,
		QueueExclusive:     r.Queue.Exclusive,
		RetryAttempts:      r.Connection.RetryAttempts,
		RetryInterval:      r.Connection.RetryInterval,
		Heartbeat:          r.Connection.Heartbeat,
		PublishRetries:     r.Publish.RetryAttempts,
		PublishRetryDelay:  r.Publish.RetryInterval,
		PublishBackoffMult: r.Publish.BackoffMultiplier,
	}
}

// LoggerConfig converts the logging section for shared/logger.
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:        c.Logging.Level,
		Format:       c.Logging.Format,
		Output:       c.Logging.Output,
		EnableSource: c.Logging.EnableCaller,
	}
}
