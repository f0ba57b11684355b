package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/patchin/backend/pkg/logger"
)

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := logger.GenerateRequestID()
		c.Locals("requestID", requestID)

		err := c.Next()

		details := map[string]interface{}{
			"method":         c.Method(),
			"path":           c.Path(),
			"status_code":    c.Response().StatusCode(),
			"latency_ms":     time.Since(start).Milliseconds(),
			"user_agent":     c.Get("User-Agent"),
			"ip":             c.IP(),
			"request_body":   logger.GetRequestBodySummary(c),
			"response_bytes": len(c.Response().Body()),
			"request_id":     requestID,
		}

		userID := logger.GetUserIDFromContext(c)
		statusCode := c.Response().StatusCode()
		if userID != nil {
			if statusCode >= 400 {
				logger.ErrorWithUser(*userID, "http_request", err, details)
			} else {
				logger.InfoWithUser(*userID, "http_request", details)
			}
		} else {
			if statusCode >= 400 {
				logger.Error("http_request", err, details)
			} else {
				logger.Info("http_request", details)
			}
		}

		return err
	}
}

// SecurityLogger flags denied requests so repeated probing stands out
// in the logs.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		statusCode := c.Response().StatusCode()
		if statusCode != fiber.StatusForbidden && statusCode != fiber.StatusUnauthorized {
			return err
		}

		details := map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
			"ip":     c.IP(),
			"status": statusCode,
		}

		if userID := logger.GetUserIDFromContext(c); userID != nil {
			logger.WarnWithUser(*userID, "access_denied", details)
		} else {
			logger.Warn("access_denied", details)
		}
		return err
	}
}
