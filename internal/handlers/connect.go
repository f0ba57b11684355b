package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/patchin/backend/internal/middleware"
	"github.com/patchin/backend/internal/providers"
	"github.com/patchin/backend/internal/services"
	"github.com/patchin/backend/pkg/logger"
	"github.com/patchin/backend/pkg/utils"
)

// ConnectHandler runs the browser OAuth flow that links a provider
// account to the signed-in user.
type ConnectHandler struct {
	Registry *providers.Registry
	Exchange *services.ExchangeService
	Accounts *services.AccountService

	BaseURL     string
	FrontendURL string
}

func NewConnectHandler(registry *providers.Registry, exchange *services.ExchangeService, accounts *services.AccountService, baseURL, frontendURL string) *ConnectHandler {
	return &ConnectHandler{
		Registry:    registry,
		Exchange:    exchange,
		Accounts:    accounts,
		BaseURL:     baseURL,
		FrontendURL: frontendURL,
	}
}

// Connect hands the frontend the provider authorize URL and parks the
// CSRF state in a short-lived cookie.
func (h *ConnectHandler) Connect(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	name := c.Params("provider")
	provider, ok := h.Registry.Get(name)
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, "unknown provider")
	}
	if !provider.Configured() {
		return utils.Error(c, fiber.StatusBadRequest, "provider is not configured")
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating state")
	}
	state := currentUser.ID.String() + ":" + base64.RawURLEncoding.EncodeToString(nonceBytes)

	c.Cookie(&fiber.Cookie{
		Name:     stateCookieName(name),
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HTTPOnly: true,
		SameSite: "Lax",
		Path:     "/",
	})

	authURL := h.Exchange.BuildAuthURL(provider, state, h.redirectURI(name))
	return utils.Success(c, fiber.StatusOK, fiber.Map{"url": authURL})
}

// Callback receives the provider redirect, finishes the exchange and
// sends the browser back to the dashboard.
func (h *ConnectHandler) Callback(c *fiber.Ctx) error {
	name := c.Params("provider")

	if oauthErr := c.Query("error"); oauthErr != "" {
		return h.redirectError(c, oauthErr)
	}

	provider, ok := h.Registry.Get(name)
	if !ok {
		return h.redirectError(c, "invalid_provider")
	}

	code := c.Query("code")
	if code == "" {
		return h.redirectError(c, "missing_code")
	}

	state := c.Query("state")
	storedState := c.Cookies(stateCookieName(name))
	if storedState == "" || storedState != state {
		return h.redirectError(c, "invalid_state")
	}

	userIDPart, _, found := strings.Cut(state, ":")
	if !found {
		return h.redirectError(c, "invalid_state")
	}
	userID, err := parseUUID(userIDPart)
	if err != nil {
		return h.redirectError(c, "invalid_state")
	}

	tokens, err := h.Exchange.ExchangeCode(c.Context(), provider, code, h.redirectURI(name))
	if err != nil {
		logger.ErrorWithUser(userID.String(), "oauth_callback_exchange_failed", err, map[string]interface{}{
			"provider": name,
		})
		return h.redirectError(c, "token_exchange_failed")
	}

	identity, err := h.Exchange.FetchIdentity(c.Context(), provider, tokens.AccessToken)
	if err != nil {
		logger.ErrorWithUser(userID.String(), "oauth_callback_identity_failed", err, map[string]interface{}{
			"provider": name,
		})
		return h.redirectError(c, "identity_fetch_failed")
	}

	_, err = h.Accounts.Upsert(services.UpsertParams{
		UserID:            userID,
		Provider:          name,
		ProviderAccountID: identity.ID,
		ProviderEmail:     identity.Email,
		Tokens:            tokens,
		NonExpiring:       provider.NonExpiring,
	})
	if err != nil {
		logger.ErrorWithUser(userID.String(), "oauth_callback_store_failed", err, map[string]interface{}{
			"provider": name,
		})
		return h.redirectError(c, "account_store_failed")
	}

	c.Cookie(&fiber.Cookie{
		Name:    stateCookieName(name),
		Value:   "",
		Expires: time.Now().Add(-time.Hour),
		Path:    "/",
	})
	return c.Redirect(fmt.Sprintf("%s/dashboard?connected=%s", h.FrontendURL, name), fiber.StatusFound)
}

func (h *ConnectHandler) redirectURI(provider string) string {
	return fmt.Sprintf("%s/api/connect/%s/callback", h.BaseURL, provider)
}

func (h *ConnectHandler) redirectError(c *fiber.Ctx, code string) error {
	return c.Redirect(fmt.Sprintf("%s/dashboard?error=%s", h.FrontendURL, code), fiber.StatusFound)
}

func stateCookieName(provider string) string {
	return "oauth_state_" + provider
}
