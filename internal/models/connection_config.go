package models

import (
	"time"

	"gorm.io/gorm"
)

// ConnectionConfig holds a user's credentials for the external issue tracker.
// It is written by the credential management screens and only read here.
type ConnectionConfig struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	UserID              uint           `gorm:"index;not null" json:"user_id"`
	Name                string         `gorm:"size:100" json:"name"`
	ServerURL           string         `gorm:"size:500;not null" json:"server_url"` // e.g., https://yourcompany.atlassian.net
	Username            string         `gorm:"size:200;not null" json:"username"`
	EncryptedToken      string         `gorm:"type:text" json:"-"`
	IsActive            bool           `gorm:"default:false;index" json:"is_active"`
	IsShared            bool           `gorm:"default:false" json:"is_shared"` // designated system identity
	ConnectionVerified  bool           `gorm:"default:false" json:"connection_verified"`
	LastConnectionTest  *time.Time     `json:"last_connection_test"`
	LastConnectionError string         `gorm:"type:text" json:"last_connection_error"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ConnectionConfig) TableName() string { return "connection_configs" }
