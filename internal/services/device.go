package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/pkg/logger"
	"github.com/patchin/backend/pkg/utils"
)

// DeviceService runs the CLI login flow: a device requests a code, the
// user claims and completes it in the browser, and the device polls the
// minted API key out exactly once.
type DeviceService struct {
	DB       *gorm.DB
	Accounts *AccountService
	APIKeys  *APIKeyService

	BaseURL      string
	CodeTTL      time.Duration
	PollInterval time.Duration
}

func NewDeviceService(db *gorm.DB, accounts *AccountService, apiKeys *APIKeyService, baseURL string, codeTTL, pollInterval time.Duration) *DeviceService {
	return &DeviceService{
		DB:           db,
		Accounts:     accounts,
		APIKeys:      apiKeys,
		BaseURL:      baseURL,
		CodeTTL:      codeTTL,
		PollInterval: pollInterval,
	}
}

// Initiation is what a device needs to start polling.
type Initiation struct {
	DeviceCode      string
	VerificationURL string
	ExpiresIn       int
	Interval        int
}

func (s *DeviceService) Initiate() (*Initiation, error) {
	secret, err := utils.GenerateDeviceCode()
	if err != nil {
		return nil, err
	}

	row := &models.DeviceAuthorization{
		DeviceCodeHash:   secret.Hash,
		DeviceCodePrefix: secret.Prefix,
		Status:           models.DeviceAuthorizationPending,
		ExpiresAt:        time.Now().Add(s.CodeTTL),
	}
	if err := s.DB.Create(row).Error; err != nil {
		return nil, err
	}

	logger.Info("device_auth_initiated", map[string]interface{}{
		"device_code_prefix": secret.Prefix,
	})
	return &Initiation{
		DeviceCode:      secret.Plaintext,
		VerificationURL: fmt.Sprintf("%s/setup/%s", s.BaseURL, secret.Plaintext),
		ExpiresIn:       int(s.CodeTTL.Seconds()),
		Interval:        int(s.PollInterval.Seconds()),
	}, nil
}

// Claim ties a pending code to the signed-in user. Claiming your own
// claim again is a no-op; someone else's claim is rejected.
func (s *DeviceService) Claim(deviceCode string, userID uuid.UUID) error {
	row, err := s.find(deviceCode)
	if err != nil {
		return err
	}
	if err := s.checkExpiry(row); err != nil {
		return err
	}
	if row.Status != models.DeviceAuthorizationPending {
		return ErrDeviceCodeUsed
	}
	if row.UserID != nil {
		if *row.UserID == userID {
			return nil
		}
		return ErrDeviceClaimedByOther
	}

	if err := s.DB.Model(row).Update("user_id", userID).Error; err != nil {
		return err
	}
	logger.InfoWithUser(userID.String(), "device_auth_claimed", map[string]interface{}{
		"device_code_prefix": row.DeviceCodePrefix,
	})
	return nil
}

// Complete mints the API key for a claimed code and parks it encrypted
// on the row for the device to collect.
func (s *DeviceService) Complete(deviceCode string, userID uuid.UUID, keyName string) error {
	row, err := s.find(deviceCode)
	if err != nil {
		return err
	}
	if err := s.checkExpiry(row); err != nil {
		return err
	}
	if row.Status == models.DeviceAuthorizationCompleted {
		return ErrDeviceCodeUsed
	}
	if row.UserID == nil || *row.UserID != userID {
		return ErrDeviceNotClaimed
	}

	connected, err := s.Accounts.CountForUser(userID)
	if err != nil {
		return err
	}
	if connected == 0 {
		return ErrNoAccountsConnected
	}

	if keyName == "" {
		keyName = "CLI (" + time.Now().Format("2006-01-02") + ")"
	}
	created, err := s.APIKeys.Create(userID, keyName, nil)
	if err != nil {
		return err
	}

	encrypted, err := utils.EncryptToken(created.Plaintext)
	if err != nil {
		return err
	}

	err = s.DB.Model(row).Updates(map[string]interface{}{
		"status":            models.DeviceAuthorizationCompleted,
		"api_key_id":        created.Key.ID,
		"api_key_encrypted": encrypted,
	}).Error
	if err != nil {
		return err
	}

	logger.InfoWithUser(userID.String(), "device_auth_completed", map[string]interface{}{
		"device_code_prefix": row.DeviceCodePrefix,
		"key_id":             created.Key.ID.String(),
	})
	return nil
}

// PollResult is the device's view of its authorization.
// AlreadyRetrieved marks a completed authorization whose key was
// delivered on an earlier poll.
type PollResult struct {
	Status           models.DeviceAuthorizationStatus
	APIKey           string
	AlreadyRetrieved bool
}

// Poll returns the pending/completed/expired state and, exactly once,
// the minted API key. The single-use guarantee rides on a conditional
// update that only one poller can win.
func (s *DeviceService) Poll(deviceCode string) (*PollResult, error) {
	row, err := s.find(deviceCode)
	if err != nil {
		return nil, err
	}
	if err := s.checkExpiry(row); err != nil {
		if errors.Is(err, ErrDeviceCodeExpired) {
			return &PollResult{Status: models.DeviceAuthorizationExpired}, nil
		}
		return nil, err
	}

	if row.Status != models.DeviceAuthorizationCompleted {
		return &PollResult{Status: models.DeviceAuthorizationPending}, nil
	}
	if row.APIKeyEncrypted == nil {
		return &PollResult{Status: models.DeviceAuthorizationCompleted, AlreadyRetrieved: true}, nil
	}

	result := s.DB.Model(&models.DeviceAuthorization{}).
		Where("id = ? AND api_key_encrypted IS NOT NULL", row.ID).
		Update("api_key_encrypted", nil)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return &PollResult{Status: models.DeviceAuthorizationCompleted, AlreadyRetrieved: true}, nil
	}

	apiKey, err := utils.DecryptToken(*row.APIKeyEncrypted)
	if err != nil {
		return nil, ErrDecryption
	}

	logger.Info("device_auth_key_delivered", map[string]interface{}{
		"device_code_prefix": row.DeviceCodePrefix,
	})
	return &PollResult{Status: models.DeviceAuthorizationCompleted, APIKey: apiKey}, nil
}

// Status is the read-only view used by the claim page.
type Status struct {
	Valid   bool
	Expired bool
	Claimed bool
}

func (s *DeviceService) CheckStatus(deviceCode string) *Status {
	row, err := s.find(deviceCode)
	if err != nil {
		return &Status{}
	}

	expired := row.Status == models.DeviceAuthorizationExpired || time.Now().After(row.ExpiresAt)
	return &Status{
		Valid:   !expired,
		Expired: expired,
		Claimed: row.UserID != nil,
	}
}

// CleanupExpired drops device rows whose codes expired over an hour
// ago.
func (s *DeviceService) CleanupExpired() (int64, error) {
	cutoff := time.Now().Add(-time.Hour)
	result := s.DB.Unscoped().
		Where("expires_at < ?", cutoff).
		Delete(&models.DeviceAuthorization{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		logger.Info("device_auth_cleanup", map[string]interface{}{
			"removed": result.RowsAffected,
		})
	}
	return result.RowsAffected, nil
}

func (s *DeviceService) find(deviceCode string) (*models.DeviceAuthorization, error) {
	var row models.DeviceAuthorization
	err := s.DB.Where("device_code_hash = ?", utils.HashOpaqueSecret(deviceCode)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// checkExpiry lazily flips a timed-out row to expired.
func (s *DeviceService) checkExpiry(row *models.DeviceAuthorization) error {
	if row.Status == models.DeviceAuthorizationExpired {
		return ErrDeviceCodeExpired
	}
	if time.Now().After(row.ExpiresAt) {
		if err := s.DB.Model(row).Update("status", models.DeviceAuthorizationExpired).Error; err != nil {
			return err
		}
		return ErrDeviceCodeExpired
	}
	return nil
}
