package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "Valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:    "Missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: true,
			errMsg:  "database host is required",
		},
		{
			name:    "Invalid database port",
			mutate:  func(c *Config) { c.Database.Port = 70000 },
			wantErr: true,
			errMsg:  "database port must be between 1 and 65535",
		},
		{
			name:    "Idle connections exceed max",
			mutate:  func(c *Config) { c.Database.MaxIdleConns = c.Database.MaxConnections + 1 },
			wantErr: true,
			errMsg:  "max idle connections cannot exceed max connections",
		},
		{
			name:    "Missing redis URL",
			mutate:  func(c *Config) { c.Redis.URL = "" },
			wantErr: true,
			errMsg:  "redis URL is required",
		},
		{
			name:    "Missing API version",
			mutate:  func(c *Config) { c.Shopify.APIVersion = "" },
			wantErr: true,
			errMsg:  "shopify API version is required",
		},
		{
			name:    "Negative max retries",
			mutate:  func(c *Config) { c.Shopify.MaxRetries = -1 },
			wantErr: true,
			errMsg:  "shopify max retries cannot be negative",
		},
		{
			name:    "Zero rest capacity",
			mutate:  func(c *Config) { c.Shopify.Rest.Capacity = 0 },
			wantErr: true,
		},
		{
			name:    "Missing queue key",
			mutate:  func(c *Config) { c.Queue.Key = "" },
			wantErr: true,
			errMsg:  "queue key is required",
		},
		{
			name:    "Zero concurrency",
			mutate:  func(c *Config) { c.Queue.Concurrency = 0 },
			wantErr: true,
			errMsg:  "queue concurrency must be greater than 0",
		},
		{
			name:    "Invalid log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name:    "Invalid HTTP port",
			mutate:  func(c *Config) { c.HTTP.Port = 0 },
			wantErr: true,
			errMsg:  "HTTP port must be between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	// The two rate-limit regimes carry the documented API quotas.
	assert.Equal(t, 40, cfg.Shopify.Rest.Capacity)
	assert.Equal(t, time.Second, cfg.Shopify.Rest.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Shopify.Rest.MinSpacing)
	assert.Equal(t, 50, cfg.Shopify.GraphQL.Capacity)
	assert.Equal(t, 100*time.Millisecond, cfg.Shopify.GraphQL.MinSpacing)

	assert.Equal(t, 3, cfg.Shopify.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Shopify.DefaultRetryAfter)
	assert.Equal(t, 10, cfg.Shopify.CostThreshold)

	assert.Equal(t, "migration:jobs", cfg.Queue.Key)
	assert.Equal(t, 3, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Queue.BackoffBase)
}

func TestConfig_DSN(t *testing.T) {
	cfg := NewDefault()
	cfg.Database.Host = "db.internal"
	cfg.Database.Port = 5433
	cfg.Database.User = "app"
	cfg.Database.Password = "secret"
	cfg.Database.DBName = "storesync"
	cfg.Database.SSLMode = "require"

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "port=5433")
	assert.Contains(t, dsn, "user=app")
	assert.Contains(t, dsn, "dbname=storesync")
	assert.Contains(t, dsn, "sslmode=require")
}
