package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/shopify"
	"github.com/storesync/storesync/internal/utils"
)

// StoreService manages the store connections migrations run between.
// A store is only saved once its credentials survive a live API check.
type StoreService struct {
	db     *gorm.DB
	cfg    *config.Config
	logger zerolog.Logger
}

// NewStoreService creates a new store service
func NewStoreService(db *gorm.DB, cfg *config.Config, logger zerolog.Logger) *StoreService {
	return &StoreService{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "store_service").Logger(),
	}
}

// ConnectRequest describes a store to connect
type ConnectRequest struct {
	Name        string `json:"name" binding:"required"`
	StoreURL    string `json:"store_url" binding:"required"`
	AccessToken string `json:"access_token" binding:"required"`
}

// Connect verifies the credentials against the store's API and saves
// the connection
func (s *StoreService) Connect(ctx context.Context, userID uint, req *ConnectRequest) (*models.Store, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, utils.RequiredFieldError("name")
	}
	if strings.TrimSpace(req.StoreURL) == "" {
		return nil, utils.RequiredFieldError("store_url")
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		return nil, utils.RequiredFieldError("access_token")
	}

	client := shopify.NewClient(req.StoreURL, req.AccessToken, s.cfg.Shopify, s.logger)
	if err := client.TestConnection(ctx); err != nil {
		// A throttled check says nothing about the credentials, so it
		// surfaces as-is instead of failing validation.
		if utils.IsThrottledError(err) {
			return nil, err
		}
		return nil, utils.WrapValidationError("store", fmt.Sprintf("connection test failed: %v", err))
	}

	store := &models.Store{
		UserID:      userID,
		Name:        req.Name,
		StoreURL:    req.StoreURL,
		AccessToken: req.AccessToken,
	}

	if err := s.db.WithContext(ctx).Create(store).Error; err != nil {
		return nil, utils.WrapDatabaseError("create store", err)
	}

	s.logger.Info().
		Uint("store_id", store.ID).
		Str("store_url", store.StoreURL).
		Msg("Store connected")

	return store, nil
}

// List returns the user's connected stores
func (s *StoreService) List(ctx context.Context, userID uint) ([]models.Store, error) {
	var stores []models.Store
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&stores).Error
	if err != nil {
		return nil, utils.WrapDatabaseError("list stores", err)
	}
	return stores, nil
}

// Delete removes a store connection. Stores referenced by migrations
// keep their ids in the migration rows; only the connection goes away.
func (s *StoreService) Delete(ctx context.Context, userID, storeID uint) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", storeID, userID).
		Delete(&models.Store{})
	if result.Error != nil {
		return utils.WrapDatabaseError("delete store", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.WrapNotFoundError("store", fmt.Sprintf("%d", storeID))
	}
	return nil
}

// Get loads one store owned by the user
func (s *StoreService) Get(ctx context.Context, userID, storeID uint) (*models.Store, error) {
	var store models.Store
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", storeID, userID).
		First(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.WrapNotFoundError("store", fmt.Sprintf("%d", storeID))
	}
	if err != nil {
		return nil, utils.WrapDatabaseError("get store", err)
	}
	return &store, nil
}
