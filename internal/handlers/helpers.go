package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/patchin/backend/pkg/logger"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

func logError(c *fiber.Ctx, event string, err error) {
	logger.Error(event, err, map[string]interface{}{
		"request_id": getRequestID(c),
		"path":       c.Path(),
	})
}
