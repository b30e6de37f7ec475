package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigName("config")

	if configPath != "" {
		// Use explicit path if provided
		v.SetConfigFile(configPath)
	} else {
		// Search in multiple locations
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/storesync")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".storesync"))
		}
	}

	// Defaults are overridden by config file and env vars
	setDefaults(v)

	v.SetEnvPrefix("STORESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file doesn't exist, we have defaults and env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	def := NewDefault()

	// Database defaults
	v.SetDefault("database.host", def.Database.Host)
	v.SetDefault("database.port", def.Database.Port)
	v.SetDefault("database.user", def.Database.User)
	v.SetDefault("database.password", def.Database.Password)
	v.SetDefault("database.dbname", def.Database.DBName)
	v.SetDefault("database.sslmode", def.Database.SSLMode)
	v.SetDefault("database.max_connections", def.Database.MaxConnections)
	v.SetDefault("database.max_idle_conns", def.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")

	// Redis defaults
	v.SetDefault("redis.url", def.Redis.URL)

	// Shopify client defaults
	v.SetDefault("shopify.api_version", def.Shopify.APIVersion)
	v.SetDefault("shopify.timeout", def.Shopify.Timeout)
	v.SetDefault("shopify.max_retries", def.Shopify.MaxRetries)
	v.SetDefault("shopify.default_retry_after", def.Shopify.DefaultRetryAfter)
	v.SetDefault("shopify.cost_threshold", def.Shopify.CostThreshold)
	v.SetDefault("shopify.rest.capacity", def.Shopify.Rest.Capacity)
	v.SetDefault("shopify.rest.interval", def.Shopify.Rest.Interval)
	v.SetDefault("shopify.rest.min_spacing", def.Shopify.Rest.MinSpacing)
	v.SetDefault("shopify.graphql.capacity", def.Shopify.GraphQL.Capacity)
	v.SetDefault("shopify.graphql.interval", def.Shopify.GraphQL.Interval)
	v.SetDefault("shopify.graphql.min_spacing", def.Shopify.GraphQL.MinSpacing)

	// Queue defaults
	v.SetDefault("queue.key", def.Queue.Key)
	v.SetDefault("queue.concurrency", def.Queue.Concurrency)
	v.SetDefault("queue.max_attempts", def.Queue.MaxAttempts)
	v.SetDefault("queue.backoff_base", def.Queue.BackoffBase)

	// Server defaults
	v.SetDefault("server.log_level", def.Server.LogLevel)
	v.SetDefault("server.debug", def.Server.Debug)

	// HTTP defaults
	v.SetDefault("http.port", def.HTTP.Port)
	v.SetDefault("http.allow_origins", def.HTTP.AllowOrigins)
}

// bindEnvVars binds specific environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Redis URL can be set via REDIS_URL or STORESYNC_REDIS_URL
	v.BindEnv("redis.url", "REDIS_URL", "STORESYNC_REDIS_URL")

	// Log level can be set via LOG_LEVEL or STORESYNC_SERVER_LOG_LEVEL
	v.BindEnv("server.log_level", "LOG_LEVEL", "STORESYNC_SERVER_LOG_LEVEL")

	// Worker concurrency
	v.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY", "STORESYNC_QUEUE_CONCURRENCY")

	// Debug mode
	v.BindEnv("server.debug", "DEBUG", "STORESYNC_SERVER_DEBUG")
}

// LoadConfigOrDefault loads configuration or returns default if loading fails
func LoadConfigOrDefault(configPath string) *Config {
	config, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config: %v. Using defaults.\n", err)
		return NewDefault()
	}
	return config
}
