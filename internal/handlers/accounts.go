package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/patchin/backend/internal/middleware"
	"github.com/patchin/backend/internal/services"
	"github.com/patchin/backend/pkg/utils"
)

type AccountsHandler struct {
	Accounts *services.AccountService
}

func NewAccountsHandler(accounts *services.AccountService) *AccountsHandler {
	return &AccountsHandler{Accounts: accounts}
}

func (h *AccountsHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	accounts, err := h.Accounts.ListForUser(currentUser.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing accounts")
	}
	return utils.Success(c, fiber.StatusOK, accounts)
}

func (h *AccountsHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	accountID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid account id")
	}

	if err := h.Accounts.Delete(currentUser.ID, accountID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "account not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting account")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

func (h *AccountsHandler) SetDefault(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	accountID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid account id")
	}

	account, err := h.Accounts.SetDefault(currentUser.ID, accountID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "account not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed setting default account")
	}
	return utils.Success(c, fiber.StatusOK, account)
}

// ListForProxy is the API-key-authenticated view a CLI uses to see
// which accounts its key can reach.
func (h *AccountsHandler) ListForProxy(c *fiber.Ctx) error {
	key := middleware.GetCurrentAPIKey(c)
	if key == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid API key"})
	}

	accounts, err := h.Accounts.ListForUser(key.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed listing accounts"})
	}

	out := make([]fiber.Map, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, fiber.Map{
			"id":         account.ID,
			"provider":   account.Provider,
			"email":      account.ProviderEmail,
			"is_default": account.IsDefault,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"accounts": out})
}
