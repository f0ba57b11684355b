package models

import (
	"time"

	"github.com/google/uuid"
)

type DeviceAuthorizationStatus string

const (
	DeviceAuthorizationPending   DeviceAuthorizationStatus = "pending"
	DeviceAuthorizationCompleted DeviceAuthorizationStatus = "completed"
	DeviceAuthorizationExpired   DeviceAuthorizationStatus = "expired"
)

// DeviceAuthorization is one CLI login attempt. The device code is stored
// hashed, and after completion the freshly minted API key sits encrypted
// in APIKeyEncrypted until the device polls it exactly once.
type DeviceAuthorization struct {
	BaseModel
	DeviceCodeHash   string                    `json:"-" gorm:"type:text;not null;uniqueIndex"`
	DeviceCodePrefix string                    `json:"deviceCodePrefix" gorm:"type:varchar(10);not null"`
	Status           DeviceAuthorizationStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	UserID           *uuid.UUID                `json:"userID,omitempty" gorm:"type:uuid;index"`
	APIKeyID         *uuid.UUID                `json:"apiKeyID,omitempty" gorm:"type:uuid"`
	APIKeyEncrypted  *string                   `json:"-" gorm:"type:text"`
	ExpiresAt        time.Time                 `json:"expiresAt" gorm:"not null;index"`
	User             *User                     `json:"-" gorm:"foreignKey:UserID"`
}
