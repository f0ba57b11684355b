package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/patchin/backend/internal/middleware"
	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/internal/services"
	"github.com/patchin/backend/pkg/utils"
)

type APIKeysHandler struct {
	APIKeys *services.APIKeyService
}

func NewAPIKeysHandler(apiKeys *services.APIKeyService) *APIKeysHandler {
	return &APIKeysHandler{APIKeys: apiKeys}
}

type createKeyRequest struct {
	Name      string `json:"name"`
	ExpiresIn string `json:"expiresIn"` // "30d", "90d", "365d" or empty for never
}

type createKeyResponse struct {
	Key    string        `json:"key"`
	APIKey models.APIKey `json:"apiKey"`
}

func (h *APIKeysHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}
	if len(req.Name) > 255 {
		return utils.Error(c, fiber.StatusBadRequest, "name must be 255 characters or less")
	}

	var expiresAt *time.Time
	switch req.ExpiresIn {
	case "", "never":
	case "30d":
		t := time.Now().Add(30 * 24 * time.Hour)
		expiresAt = &t
	case "90d":
		t := time.Now().Add(90 * 24 * time.Hour)
		expiresAt = &t
	case "365d":
		t := time.Now().Add(365 * 24 * time.Hour)
		expiresAt = &t
	default:
		return utils.Error(c, fiber.StatusBadRequest, "expiresIn must be 30d, 90d, 365d, or never")
	}

	created, err := h.APIKeys.Create(currentUser.ID, req.Name, expiresAt)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating API key")
	}

	// The plaintext key appears in this response and nowhere else.
	return utils.Success(c, fiber.StatusCreated, createKeyResponse{
		Key:    created.Plaintext,
		APIKey: *created.Key,
	})
}

func (h *APIKeysHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	keys, err := h.APIKeys.ListForUser(currentUser.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing API keys")
	}
	return utils.Success(c, fiber.StatusOK, keys)
}

func (h *APIKeysHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	keyID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid key id")
	}

	if err := h.APIKeys.Delete(currentUser.ID, keyID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "API key not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting API key")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}
