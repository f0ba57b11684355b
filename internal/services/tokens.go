package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/internal/providers"
	"github.com/patchin/backend/pkg/logger"
	"github.com/patchin/backend/pkg/utils"
)

// refreshMargin is how long before expiry a token is refreshed rather
// than served.
const refreshMargin = 5 * time.Minute

// TokenService resolves a currently valid plaintext access token for
// (user, provider), refreshing and persisting when needed. Concurrent
// refreshes of the same account are collapsed into one upstream call.
type TokenService struct {
	DB       *gorm.DB
	Accounts *AccountService
	Exchange *ExchangeService

	refreshGroup singleflight.Group
}

func NewTokenService(db *gorm.DB, accounts *AccountService, exchange *ExchangeService) *TokenService {
	return &TokenService{
		DB:       db,
		Accounts: accounts,
		Exchange: exchange,
	}
}

// Resolve returns a valid access token for the user's account on the
// provider. The hint selects a non-default account by id or provider
// email.
func (s *TokenService) Resolve(ctx context.Context, userID uuid.UUID, p *providers.Provider, hint string) (string, error) {
	account, err := s.Accounts.FindForProxy(userID, p.Name, hint)
	if err != nil {
		return "", err
	}
	return s.ResolveForAccount(ctx, account, p)
}

// ResolveForAccount returns a valid access token for a specific account.
func (s *TokenService) ResolveForAccount(ctx context.Context, account *models.ConnectedAccount, p *providers.Provider) (string, error) {
	if !needsRefresh(account) {
		return s.decryptAccessToken(account)
	}

	token, err, _ := s.refreshGroup.Do(account.ID.String(), func() (interface{}, error) {
		return s.refreshAccount(ctx, account.ID, p)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refreshAccount re-reads the account before refreshing so a flight
// that queued behind a finished one serves the already-renewed token.
func (s *TokenService) refreshAccount(ctx context.Context, accountID uuid.UUID, p *providers.Provider) (string, error) {
	var account models.ConnectedAccount
	if err := s.DB.First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoAccountConnected
		}
		return "", err
	}

	if !needsRefresh(&account) {
		return s.decryptAccessToken(&account)
	}

	if account.RefreshTokenEncrypted == nil {
		logger.WarnWithUser(account.UserID.String(), "token_refresh_impossible", map[string]interface{}{
			"provider":   account.Provider,
			"account_id": account.ID.String(),
		})
		return "", ErrReconnectRequired
	}

	refreshToken, err := utils.DecryptToken(*account.RefreshTokenEncrypted)
	if err != nil {
		return "", ErrDecryption
	}

	tokens, err := s.Exchange.RefreshToken(ctx, p, refreshToken)
	if err != nil {
		var refreshErr *TokenRefreshError
		if errors.As(err, &refreshErr) {
			logger.WarnWithUser(account.UserID.String(), "token_refresh_rejected", map[string]interface{}{
				"provider":   account.Provider,
				"account_id": account.ID.String(),
				"status":     refreshErr.StatusCode,
			})
			return "", ErrReconnectRequired
		}
		return "", err
	}

	if err := s.Accounts.PersistRefreshedTokens(account.ID, tokens); err != nil {
		return "", err
	}

	logger.InfoWithUser(account.UserID.String(), "token_refreshed", map[string]interface{}{
		"provider":   account.Provider,
		"account_id": account.ID.String(),
		"rotated":    tokens.RefreshToken != "",
	})
	return tokens.AccessToken, nil
}

func (s *TokenService) decryptAccessToken(account *models.ConnectedAccount) (string, error) {
	token, err := utils.DecryptToken(account.AccessTokenEncrypted)
	if err != nil {
		return "", ErrDecryption
	}
	return token, nil
}

// needsRefresh reports whether the stored access token is expired or
// inside the refresh margin. Accounts without an expiry never refresh.
func needsRefresh(account *models.ConnectedAccount) bool {
	if account.AccessTokenExpiresAt == nil {
		return false
	}
	return time.Until(*account.AccessTokenExpiresAt) < refreshMargin
}
