package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/patchin/backend/internal/middleware"
	"github.com/patchin/backend/internal/providers"
	"github.com/patchin/backend/internal/services"
	"github.com/patchin/backend/pkg/logger"
)

// ProxyHandler forwards authenticated requests to the upstream provider
// API with the caller's OAuth access token attached. The client never
// sees the token; it only holds its own API key.
type ProxyHandler struct {
	Registry *providers.Registry
	Accounts *services.AccountService
	Tokens   *services.TokenService
	Usage    *services.UsageService

	HTTPClient *http.Client
}

func NewProxyHandler(registry *providers.Registry, accounts *services.AccountService, tokens *services.TokenService, usage *services.UsageService) *ProxyHandler {
	return &ProxyHandler{
		Registry:   registry,
		Accounts:   accounts,
		Tokens:     tokens,
		Usage:      usage,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// RequireKnownProvider rejects unknown provider segments before key
// authentication runs, so a bad path is a 400 regardless of the key.
func (h *ProxyHandler) RequireKnownProvider(c *fiber.Ctx) error {
	providerName := strings.ToLower(c.Params("provider"))
	if _, ok := h.Registry.Get(providerName); !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown provider: " + providerName,
		})
	}
	return c.Next()
}

// Forward handles /api/v1/:provider/* for any HTTP method.
func (h *ProxyHandler) Forward(c *fiber.Ctx) error {
	providerName := strings.ToLower(c.Params("provider"))
	p, ok := h.Registry.Get(providerName)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown provider: " + providerName,
		})
	}

	apiKey := middleware.GetCurrentAPIKey(c)
	if apiKey == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	account, err := h.Accounts.FindForProxy(apiKey.UserID, p.Name, c.Get("X-Account-Hint"))
	if err != nil {
		if errors.Is(err, services.ErrNoAccountConnected) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "No " + p.DisplayName + " account connected",
			})
		}
		logError(c, "proxy_account_lookup_failed", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}

	token, err := h.Tokens.ResolveForAccount(c.Context(), account, p)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrReconnectRequired):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Token expired, please reconnect your " + p.DisplayName + " account",
			})
		case errors.Is(err, services.ErrDecryption):
			logError(c, "proxy_token_decrypt_failed", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
		default:
			logError(c, "proxy_token_resolve_failed", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
		}
	}

	upstreamURL := p.ProxyBaseURL + "/" + c.Params("*")
	if query := string(c.Request().URI().QueryString()); query != "" {
		upstreamURL += "?" + query
	}

	method := c.Method()
	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead && len(c.Body()) > 0 {
		body = bytes.NewReader(c.Body())
	}

	req, err := http.NewRequestWithContext(c.Context(), method, upstreamURL, body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request path"})
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if ct := c.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range p.ProxyHeaders {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		h.record(c, apiKey.UserID, apiKey.ID, account.ID, p.Name, fiber.StatusBadGateway, time.Since(start))
		logger.ErrorWithUser(apiKey.UserID.String(), "proxy_upstream_unreachable", err, map[string]interface{}{
			"provider": p.Name,
		})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to reach provider API",
		})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		h.record(c, apiKey.UserID, apiKey.ID, account.ID, p.Name, fiber.StatusBadGateway, time.Since(start))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to reach provider API",
		})
	}

	h.record(c, apiKey.UserID, apiKey.ID, account.ID, p.Name, resp.StatusCode, time.Since(start))

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Set("Content-Type", ct)
	}
	return c.Status(resp.StatusCode).Send(respBody)
}

func (h *ProxyHandler) record(c *fiber.Ctx, userID, keyID, accountID uuid.UUID, provider string, status int, duration time.Duration) {
	if h.Usage == nil {
		return
	}
	acct := accountID
	h.Usage.Record(services.UsageRecord{
		UserID:     userID,
		APIKeyID:   keyID,
		AccountID:  &acct,
		Provider:   provider,
		Method:     c.Method(),
		Path:       c.Params("*"),
		StatusCode: status,
		Duration:   duration,
	})
}
