package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/pkg/logger"
	"github.com/patchin/backend/pkg/utils"
)

// AccountService manages connected provider accounts and their
// default-account bookkeeping.
type AccountService struct {
	DB *gorm.DB
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{DB: db}
}

// UpsertParams carries the result of a completed OAuth connection.
type UpsertParams struct {
	UserID            uuid.UUID
	Provider          string
	ProviderAccountID string
	ProviderEmail     string
	Tokens            *TokenSet
	NonExpiring       bool
}

// Upsert stores or refreshes the grant for (user, provider, provider
// account). The first account a user connects for a provider becomes
// the default.
func (s *AccountService) Upsert(params UpsertParams) (*models.ConnectedAccount, error) {
	accessEncrypted, err := utils.EncryptToken(params.Tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	var refreshEncrypted *string
	if params.Tokens.RefreshToken != "" {
		enc, err := utils.EncryptToken(params.Tokens.RefreshToken)
		if err != nil {
			return nil, err
		}
		refreshEncrypted = &enc
	}

	var expiresAt *time.Time
	if !params.NonExpiring && params.Tokens.ExpiresIn > 0 {
		t := time.Now().Add(time.Duration(params.Tokens.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	var account models.ConnectedAccount
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		findErr := tx.
			Where("user_id = ? AND provider = ? AND provider_account_id = ?",
				params.UserID, params.Provider, params.ProviderAccountID).
			First(&account).Error

		if findErr == nil {
			account.ProviderEmail = params.ProviderEmail
			account.AccessTokenEncrypted = accessEncrypted
			account.AccessTokenExpiresAt = expiresAt
			account.Scope = params.Tokens.Scope
			if refreshEncrypted != nil {
				account.RefreshTokenEncrypted = refreshEncrypted
			}
			return tx.Save(&account).Error
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}

		var siblings int64
		if err := tx.Model(&models.ConnectedAccount{}).
			Where("user_id = ? AND provider = ?", params.UserID, params.Provider).
			Count(&siblings).Error; err != nil {
			return err
		}

		account = models.ConnectedAccount{
			UserID:                params.UserID,
			Provider:              params.Provider,
			ProviderAccountID:     params.ProviderAccountID,
			ProviderEmail:         params.ProviderEmail,
			AccessTokenEncrypted:  accessEncrypted,
			RefreshTokenEncrypted: refreshEncrypted,
			AccessTokenExpiresAt:  expiresAt,
			Scope:                 params.Tokens.Scope,
			IsDefault:             siblings == 0,
		}
		return tx.Create(&account).Error
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(params.UserID.String(), "account_connected", map[string]interface{}{
		"provider":   params.Provider,
		"account_id": account.ID.String(),
		"is_default": account.IsDefault,
	})
	return &account, nil
}

// ListForUser returns every connected account of the user.
func (s *AccountService) ListForUser(userID uuid.UUID) ([]models.ConnectedAccount, error) {
	var accounts []models.ConnectedAccount
	err := s.DB.
		Where("user_id = ?", userID).
		Order("provider ASC, created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

// CountForUser reports how many accounts the user has connected.
func (s *AccountService) CountForUser(userID uuid.UUID) (int64, error) {
	var count int64
	err := s.DB.Model(&models.ConnectedAccount{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// FindForProxy resolves the account a forwarded request should use. The
// hint may be an account id or the provider-side email; without a hint
// the provider's default account wins.
func (s *AccountService) FindForProxy(userID uuid.UUID, provider, hint string) (*models.ConnectedAccount, error) {
	query := s.DB.Where("user_id = ? AND provider = ?", userID, provider)

	var account models.ConnectedAccount
	var err error
	if hint != "" {
		if id, parseErr := uuid.Parse(hint); parseErr == nil {
			err = query.Where("id = ?", id).First(&account).Error
		} else {
			err = query.Where("provider_email = ?", hint).First(&account).Error
		}
	} else {
		err = query.Order("is_default DESC, created_at ASC").First(&account).Error
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoAccountConnected
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SetDefault makes the account the provider default for its user. The
// previous default is cleared in the same transaction.
func (s *AccountService) SetDefault(userID, accountID uuid.UUID) (*models.ConnectedAccount, error) {
	var account models.ConnectedAccount
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", accountID, userID).First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := tx.Model(&models.ConnectedAccount{}).
			Where("user_id = ? AND provider = ?", userID, account.Provider).
			Update("is_default", false).Error; err != nil {
			return err
		}

		account.IsDefault = true
		return tx.Model(&account).Update("is_default", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Delete removes the account. When the deleted account was the provider
// default, the oldest remaining sibling is promoted.
func (s *AccountService) Delete(userID, accountID uuid.UUID) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var account models.ConnectedAccount
		if err := tx.Where("id = ? AND user_id = ?", accountID, userID).First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := tx.Unscoped().Delete(&account).Error; err != nil {
			return err
		}

		if !account.IsDefault {
			return nil
		}

		var successor models.ConnectedAccount
		err := tx.
			Where("user_id = ? AND provider = ?", userID, account.Provider).
			Order("created_at ASC").
			First(&successor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Model(&successor).Update("is_default", true).Error
	})
}

// PersistRefreshedTokens writes the outcome of a successful refresh in
// one update so the access token, refresh token and expiry never drift
// apart.
func (s *AccountService) PersistRefreshedTokens(accountID uuid.UUID, tokens *TokenSet) error {
	accessEncrypted, err := utils.EncryptToken(tokens.AccessToken)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"access_token_encrypted": accessEncrypted,
	}
	if tokens.ExpiresIn > 0 {
		updates["access_token_expires_at"] = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}
	if tokens.RefreshToken != "" {
		refreshEncrypted, err := utils.EncryptToken(tokens.RefreshToken)
		if err != nil {
			return err
		}
		updates["refresh_token_encrypted"] = refreshEncrypted
	}

	return s.DB.Model(&models.ConnectedAccount{}).
		Where("id = ?", accountID).
		Updates(updates).Error
}
