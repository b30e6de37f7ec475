package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Store represents one connected e-commerce store account. The access
// token is consumed to build authenticated API clients and must never
// appear in logs or API responses.
type Store struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Name        string    `gorm:"not null" json:"name"`
	StoreURL    string    `gorm:"not null" json:"store_url"`
	AccessToken string    `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName ensures consistent table naming
func (Store) TableName() string {
	return "stores"
}

// Validate checks required store fields
func (s *Store) Validate() error {
	if s.Name == "" {
		return errors.New("store name cannot be empty")
	}
	if s.StoreURL == "" {
		return errors.New("store URL cannot be empty")
	}
	if s.AccessToken == "" {
		return errors.New("store access token cannot be empty")
	}
	return nil
}

// BeforeCreate runs validation before saving a new store
func (s *Store) BeforeCreate(tx *gorm.DB) error {
	s.StoreURL = NormalizeStoreURL(s.StoreURL)
	return s.Validate()
}

// NormalizeStoreURL strips the scheme and any trailing slash so the
// value can be embedded into API URLs directly
func NormalizeStoreURL(raw string) string {
	url := strings.TrimPrefix(raw, "https://")
	url = strings.TrimPrefix(url, "http://")
	return strings.TrimSuffix(url, "/")
}
