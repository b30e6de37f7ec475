package config

import (
	"fmt"
	"time"
)

// Config represents the main application configuration
type Config struct {
	Database Database `json:"database" mapstructure:"database"`
	Redis    Redis    `json:"redis" mapstructure:"redis"`
	Shopify  Shopify  `json:"shopify" mapstructure:"shopify"`
	Queue    Queue    `json:"queue" mapstructure:"queue"`
	Server   Server   `json:"server" mapstructure:"server"`
	HTTP     HTTP     `json:"http" mapstructure:"http"`
}

// Database represents database configuration
type Database struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	User            string        `json:"user" mapstructure:"user"`
	Password        string        `json:"password" mapstructure:"password"`
	DBName          string        `json:"dbname" mapstructure:"dbname"`
	SSLMode         string        `json:"sslmode" mapstructure:"sslmode"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// Redis represents the redis connection used for the job queue and
// the event fan-out
type Redis struct {
	URL string `json:"url" mapstructure:"url"`
}

// RateLimit describes one token-bucket regime of the Shopify client
type RateLimit struct {
	Capacity   int           `json:"capacity" mapstructure:"capacity"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	MinSpacing time.Duration `json:"min_spacing" mapstructure:"min_spacing"`
}

// Shopify represents external API client configuration
type Shopify struct {
	APIVersion        string        `json:"api_version" mapstructure:"api_version"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`
	DefaultRetryAfter time.Duration `json:"default_retry_after" mapstructure:"default_retry_after"`
	CostThreshold     int           `json:"cost_threshold" mapstructure:"cost_threshold"`
	Rest              RateLimit     `json:"rest" mapstructure:"rest"`
	GraphQL           RateLimit     `json:"graphql" mapstructure:"graphql"`
}

// Queue represents job queue and worker pool configuration
type Queue struct {
	Key         string        `json:"key" mapstructure:"key"`
	Concurrency int           `json:"concurrency" mapstructure:"concurrency"`
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
}

// Server represents server configuration
type Server struct {
	LogLevel string `json:"log_level" mapstructure:"log_level"`
	Debug    bool   `json:"debug" mapstructure:"debug"`
}

// HTTP represents HTTP server configuration
type HTTP struct {
	Port         int      `json:"port" mapstructure:"port"`
	AllowOrigins []string `json:"allow_origins" mapstructure:"allow_origins"`
}

// NewDefault returns a Config instance with default values
func NewDefault() *Config {
	return &Config{
		Database: Database{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "",
			DBName:          "storesync",
			SSLMode:         "disable",
			MaxConnections:  25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 1 * time.Minute,
		},
		Redis: Redis{
			URL: "redis://localhost:6379/0",
		},
		Shopify: Shopify{
			APIVersion:        "2024-01",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			DefaultRetryAfter: 2 * time.Second,
			CostThreshold:     10,
			Rest: RateLimit{
				Capacity:   40,
				Interval:   time.Second,
				MinSpacing: 500 * time.Millisecond,
			},
			GraphQL: RateLimit{
				Capacity:   50,
				Interval:   time.Second,
				MinSpacing: 100 * time.Millisecond,
			},
		},
		Queue: Queue{
			Key:         "migration:jobs",
			Concurrency: 3,
			MaxAttempts: 3,
			BackoffBase: 5 * time.Second,
		},
		Server: Server{
			LogLevel: "info",
			Debug:    false,
		},
		HTTP: HTTP{
			Port:         8082,
			AllowOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be greater than 0")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("max idle connections cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxConnections {
		return fmt.Errorf("max idle connections cannot exceed max connections")
	}

	// Redis validation
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	// Shopify client validation
	if c.Shopify.APIVersion == "" {
		return fmt.Errorf("shopify API version is required")
	}
	if c.Shopify.Timeout <= 0 {
		return fmt.Errorf("shopify timeout must be positive")
	}
	if c.Shopify.MaxRetries < 0 {
		return fmt.Errorf("shopify max retries cannot be negative")
	}
	if err := c.Shopify.Rest.validate("rest"); err != nil {
		return err
	}
	if err := c.Shopify.GraphQL.validate("graphql"); err != nil {
		return err
	}

	// Queue validation
	if c.Queue.Key == "" {
		return fmt.Errorf("queue key is required")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be greater than 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max attempts must be greater than 0")
	}

	// Server validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}

	// HTTP validation
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	return nil
}

func (r RateLimit) validate(name string) error {
	if r.Capacity <= 0 {
		return fmt.Errorf("shopify %s limiter capacity must be greater than 0", name)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("shopify %s limiter interval must be positive", name)
	}
	if r.MinSpacing < 0 {
		return fmt.Errorf("shopify %s limiter min spacing cannot be negative", name)
	}
	return nil
}

// DSN constructs a PostgreSQL connection string for gorm
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
		c.Database.DBName, c.Database.SSLMode)
}
