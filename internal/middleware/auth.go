package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/gorm"

	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/internal/services"
	"github.com/patchin/backend/pkg/logger"
	"github.com/patchin/backend/pkg/utils"
)

const (
	currentUserKey = "currentUser"
	currentKeyKey  = "currentAPIKey"
)

type AuthMiddleware struct {
	DB      *gorm.DB
	APIKeys *services.APIKeyService
}

func NewAuthMiddleware(db *gorm.DB, apiKeys *services.APIKeyService) *AuthMiddleware {
	return &AuthMiddleware{DB: db, APIKeys: apiKeys}
}

func CORS(frontendURL string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     frontendURL,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Account-Hint",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
	})
}

// RequireSession authenticates the management API with a JWT session
// token.
func (a *AuthMiddleware) RequireSession(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil {
		logger.Warn("session_auth_missing", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, err.Error())
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		logger.Warn("session_token_invalid", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		logger.Warn("session_user_not_found", map[string]interface{}{
			"ip":      c.IP(),
			"path":    c.Path(),
			"user_id": claims.UserID.String(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}

	c.Locals(currentUserKey, &user)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

// RequireAPIKey authenticates proxy requests with an opaque API key.
// Its failures use the flat {error} shape the proxy contract promises.
func (a *AuthMiddleware) RequireAPIKey(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	key, err := a.APIKeys.Authenticate(tokenString)
	if err != nil {
		status := fiber.StatusUnauthorized
		message := "invalid API key"
		switch {
		case errors.Is(err, services.ErrCredentialExpired):
			message = "API key has expired"
		case errors.Is(err, services.ErrMissingCredential):
			message = "missing API key"
		case errors.Is(err, services.ErrInvalidCredential):
		default:
			status = fiber.StatusInternalServerError
			message = "authentication failed"
		}
		logger.Warn("api_key_auth_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return c.Status(status).JSON(fiber.Map{"error": message})
	}

	c.Locals(currentKeyKey, key)
	c.Locals("userID", key.UserID.String())
	return c.Next()
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		return "", errors.New("invalid authorization format")
	}
	return tokenString, nil
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

func GetCurrentAPIKey(c *fiber.Ctx) *models.APIKey {
	value := c.Locals(currentKeyKey)
	if value == nil {
		return nil
	}
	key, ok := value.(*models.APIKey)
	if !ok {
		return nil
	}
	return key
}
