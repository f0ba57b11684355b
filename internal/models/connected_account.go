package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectedAccount holds the OAuth grant for one provider account.
// Token material is stored encrypted and never serialized.
type ConnectedAccount struct {
	BaseModel
	UserID                uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index:idx_accounts_user_provider"`
	Provider              string     `json:"provider" gorm:"type:varchar(30);not null;index:idx_accounts_user_provider"`
	ProviderAccountID     string     `json:"providerAccountID" gorm:"type:varchar(255);not null"`
	ProviderEmail         string     `json:"providerEmail" gorm:"type:varchar(255)"`
	AccessTokenEncrypted  string     `json:"-" gorm:"type:text;not null"`
	RefreshTokenEncrypted *string    `json:"-" gorm:"type:text"`
	AccessTokenExpiresAt  *time.Time `json:"accessTokenExpiresAt,omitempty"`
	Scope                 string     `json:"scope" gorm:"type:text"`
	IsDefault             bool       `json:"isDefault" gorm:"not null;default:false"`
	User                  User       `json:"-" gorm:"foreignKey:UserID"`
}
