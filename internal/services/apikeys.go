package services

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/pkg/logger"
	"github.com/patchin/backend/pkg/utils"
)

// APIKeyService mints and authenticates the opaque keys CLI clients use
// against the proxy. Only a SHA-256 hash and a display prefix are
// stored; the plaintext is shown exactly once.
type APIKeyService struct {
	DB *gorm.DB
}

func NewAPIKeyService(db *gorm.DB) *APIKeyService {
	return &APIKeyService{DB: db}
}

// CreatedKey pairs the stored record with its one-time plaintext.
type CreatedKey struct {
	Key       *models.APIKey
	Plaintext string
}

func (s *APIKeyService) Create(userID uuid.UUID, name string, expiresAt *time.Time) (*CreatedKey, error) {
	secret, err := utils.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	key := &models.APIKey{
		UserID:    userID,
		Name:      name,
		KeyHash:   secret.Hash,
		KeyPrefix: secret.Prefix,
		ExpiresAt: expiresAt,
	}
	if err := s.DB.Create(key).Error; err != nil {
		return nil, err
	}

	logger.InfoWithUser(userID.String(), "api_key_created", map[string]interface{}{
		"key_id": key.ID.String(),
		"name":   name,
	})
	return &CreatedKey{Key: key, Plaintext: secret.Plaintext}, nil
}

func (s *APIKeyService) ListForUser(userID uuid.UUID) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := s.DB.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

func (s *APIKeyService) Delete(userID, keyID uuid.UUID) error {
	result := s.DB.Unscoped().
		Where("id = ? AND user_id = ?", keyID, userID).
		Delete(&models.APIKey{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	logger.InfoWithUser(userID.String(), "api_key_deleted", map[string]interface{}{
		"key_id": keyID.String(),
	})
	return nil
}

// Authenticate resolves a bearer credential to its key record. The
// last-used timestamp is updated best effort.
func (s *APIKeyService) Authenticate(bearer string) (*models.APIKey, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, ErrMissingCredential
	}

	var key models.APIKey
	err := s.DB.Where("key_hash = ?", utils.HashOpaqueSecret(bearer)).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrCredentialExpired
	}

	// The touch is bookkeeping; the request must not wait on it.
	go s.touchLastUsed(key.ID, time.Now())
	return &key, nil
}

func (s *APIKeyService) touchLastUsed(id uuid.UUID, at time.Time) {
	err := s.DB.Model(&models.APIKey{}).Where("id = ?", id).Update("last_used_at", at).Error
	if err != nil {
		logger.Warn("api_key_touch_failed", map[string]interface{}{
			"key_id": id.String(),
			"error":  err.Error(),
		})
	}
}
