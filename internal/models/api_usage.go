package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APIUsage is an append-only record of every proxied provider request.
// It does NOT use BaseModel because usage rows are never updated or
// soft-deleted.
type APIUsage struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index"`
	APIKeyID   uuid.UUID  `json:"apiKeyID" gorm:"type:uuid;not null;index"`
	AccountID  *uuid.UUID `json:"accountID,omitempty" gorm:"type:uuid;index"`
	Provider   string     `json:"provider" gorm:"type:varchar(30);not null;index"`
	Method     string     `json:"method" gorm:"type:varchar(10);not null"`
	Path       string     `json:"path" gorm:"type:text;not null"`
	StatusCode int        `json:"statusCode" gorm:"not null"`
	DurationMS int64      `json:"durationMS" gorm:"not null"`
	CreatedAt  time.Time  `json:"createdAt" gorm:"not null;index"`
}

func (u *APIUsage) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (APIUsage) TableName() string {
	return "api_usage"
}

// UsageExportCursor tracks the last successful export timestamp so the
// periodic object-storage export only ships new rows.
type UsageExportCursor struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	LastExportAt  time.Time `json:"lastExportAt" gorm:"not null"`
	ExportedCount int64     `json:"exportedCount" gorm:"not null;default:0"`
}

func (u *UsageExportCursor) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (UsageExportCursor) TableName() string {
	return "usage_export_cursors"
}
