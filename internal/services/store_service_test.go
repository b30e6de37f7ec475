package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/utils"
)

func setupStoreService(t *testing.T) (*StoreService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	cfg := config.NewDefault()
	cfg.Shopify.DefaultRetryAfter = 0
	return NewStoreService(db, cfg, zerolog.New(nil).Level(zerolog.Disabled)), db
}

func TestStoreService_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("saves the store after a live credential check", func(t *testing.T) {
		service, db := setupStoreService(t)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"shop":{"name":"demo"}}`))
		}))
		t.Cleanup(srv.Close)

		store, err := service.Connect(ctx, 1, &ConnectRequest{
			Name:        "demo",
			StoreURL:    srv.URL,
			AccessToken: "token",
		})
		require.NoError(t, err)
		assert.NotZero(t, store.ID)
		assert.Equal(t, uint(1), store.UserID)

		var count int64
		db.Model(&models.Store{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("rejects missing fields before touching the API", func(t *testing.T) {
		service, _ := setupStoreService(t)

		cases := []ConnectRequest{
			{StoreURL: "demo.example.com", AccessToken: "token"},
			{Name: "demo", AccessToken: "token"},
			{Name: "demo", StoreURL: "demo.example.com"},
		}
		for _, req := range cases {
			_, err := service.Connect(ctx, 1, &req)
			require.Error(t, err)
			assert.True(t, utils.IsValidationError(err))
			assert.Contains(t, err.Error(), "required")
		}
	})

	t.Run("invalid credentials fail validation", func(t *testing.T) {
		service, _ := setupStoreService(t)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"errors":"invalid token"}`))
		}))
		t.Cleanup(srv.Close)

		_, err := service.Connect(ctx, 1, &ConnectRequest{
			Name:        "demo",
			StoreURL:    srv.URL,
			AccessToken: "bad",
		})
		require.Error(t, err)
		assert.True(t, utils.IsValidationError(err))
	})

	t.Run("throttled credential check is not a validation failure", func(t *testing.T) {
		service, db := setupStoreService(t)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		t.Cleanup(srv.Close)

		_, err := service.Connect(ctx, 1, &ConnectRequest{
			Name:        "demo",
			StoreURL:    srv.URL,
			AccessToken: "token",
		})
		require.Error(t, err)
		assert.True(t, utils.IsThrottledError(err))
		assert.False(t, utils.IsValidationError(err))

		var count int64
		db.Model(&models.Store{}).Count(&count)
		assert.Equal(t, int64(0), count)
	})
}
