package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/patchin/backend/internal/middleware"
	"github.com/patchin/backend/internal/services"
)

// DeviceAuthHandler exposes the CLI login flow. The device-facing
// endpoints (initiate, status, token) speak flat JSON because the CLI
// consumes them directly; claim and complete ride the browser session.
type DeviceAuthHandler struct {
	Devices *services.DeviceService
}

func NewDeviceAuthHandler(devices *services.DeviceService) *DeviceAuthHandler {
	return &DeviceAuthHandler{Devices: devices}
}

type deviceCodeRequest struct {
	DeviceCode string `json:"device_code"`
}

// Initiate hands a new device code to an unauthenticated device.
func (h *DeviceAuthHandler) Initiate(c *fiber.Ctx) error {
	init, err := h.Devices.Initiate()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create device authorization",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"device_code":      init.DeviceCode,
		"verification_url": init.VerificationURL,
		"expires_in":       init.ExpiresIn,
		"interval":         init.Interval,
	})
}

// Status reports validity for the browser claim page. Unknown codes
// come back invalid rather than erroring.
func (h *DeviceAuthHandler) Status(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing code",
		})
	}
	status := h.Devices.CheckStatus(code)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"valid":   status.Valid,
		"expired": status.Expired,
		"claimed": status.Claimed,
	})
}

// Claim ties the device code to the signed-in user.
func (h *DeviceAuthHandler) Claim(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req deviceCodeRequest
	if err := c.BodyParser(&req); err != nil || req.DeviceCode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing device code"})
	}

	err := h.Devices.Claim(req.DeviceCode, currentUser.ID)
	if err != nil {
		return deviceError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

// Complete mints the API key for a code the caller claimed.
func (h *DeviceAuthHandler) Complete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req struct {
		DeviceCode string `json:"device_code"`
		KeyName    string `json:"key_name"`
	}
	if err := c.BodyParser(&req); err != nil || req.DeviceCode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing device code"})
	}

	err := h.Devices.Complete(req.DeviceCode, currentUser.ID, req.KeyName)
	if err != nil {
		return deviceError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": "API key created. Return to your terminal.",
	})
}

// Token is the device's poll endpoint. Pending and expired are normal
// states, not errors; the key itself is delivered exactly once.
func (h *DeviceAuthHandler) Token(c *fiber.Ctx) error {
	var req deviceCodeRequest
	if err := c.BodyParser(&req); err != nil || req.DeviceCode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing device code"})
	}

	result, err := h.Devices.Poll(req.DeviceCode)
	if err != nil {
		return deviceError(c, err)
	}

	resp := fiber.Map{"status": string(result.Status)}
	if result.APIKey != "" {
		resp["api_key"] = result.APIKey
	}
	if result.AlreadyRetrieved {
		resp["error"] = "API key already retrieved"
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func deviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Device code not found"})
	case errors.Is(err, services.ErrDeviceCodeExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "Device code expired"})
	case errors.Is(err, services.ErrDeviceCodeUsed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Device code already used"})
	case errors.Is(err, services.ErrDeviceClaimedByOther):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Device code claimed by another user"})
	case errors.Is(err, services.ErrDeviceNotClaimed):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Device code not claimed by this user"})
	case errors.Is(err, services.ErrNoAccountsConnected):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Connect at least one account first"})
	case errors.Is(err, services.ErrDecryption):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	default:
		logError(c, "device_auth_error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}
