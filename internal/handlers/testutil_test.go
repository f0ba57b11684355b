package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/patchin/backend/internal/config"
	"github.com/patchin/backend/internal/middleware"
	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/internal/providers"
	"github.com/patchin/backend/internal/services"
	"github.com/patchin/backend/pkg/logger"
	"github.com/patchin/backend/pkg/utils"
)

const (
	testBaseURL     = "http://localhost:8080"
	testFrontendURL = "http://localhost:3000"
)

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	registry *providers.Registry
	accounts *services.AccountService
	apiKeys  *services.APIKeyService
	devices  *services.DeviceService
	proxy    *ProxyHandler
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		if err := utils.ConfigureJWT("test-secret"); err != nil {
			panic(err)
		}
		if err := utils.ConfigureTokenEncryption("handler-test-encryption-key"); err != nil {
			panic(err)
		}
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.ConnectedAccount{},
		&models.APIKey{},
		&models.DeviceAuthorization{},
		&models.APIUsage{},
		&models.UsageExportCursor{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	registry := providers.NewRegistry(map[string]config.ProviderCredentials{
		"google": {ClientID: "test-google-id", ClientSecret: "test-google-secret"},
		"github": {ClientID: "test-github-id", ClientSecret: "test-github-secret"},
		"slack":  {ClientID: "test-slack-id", ClientSecret: "test-slack-secret"},
	})

	accountService := services.NewAccountService(db)
	apiKeyService := services.NewAPIKeyService(db)
	exchangeService := services.NewExchangeService()
	tokenService := services.NewTokenService(db, accountService, exchangeService)
	usageService := services.NewUsageService(db, nil)
	deviceService := services.NewDeviceService(db, accountService, apiKeyService, testBaseURL, 15*time.Minute, 5*time.Second)

	authHandler := NewAuthHandler(db)
	connectHandler := NewConnectHandler(registry, exchangeService, accountService, testBaseURL, testFrontendURL)
	providersHandler := NewProvidersHandler(registry)
	accountsHandler := NewAccountsHandler(accountService)
	apiKeysHandler := NewAPIKeysHandler(apiKeyService)
	deviceAuthHandler := NewDeviceAuthHandler(deviceService)
	proxyHandler := NewProxyHandler(registry, accountService, tokenService, usageService)
	authMiddleware := middleware.NewAuthMiddleware(db, apiKeyService)

	app := fiber.New()
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(testFrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireSession, authHandler.Me)

	deviceRoutes := api.Group("/auth/device")
	deviceRoutes.Post("/", deviceAuthHandler.Initiate)
	deviceRoutes.Get("/status", deviceAuthHandler.Status)
	deviceRoutes.Post("/claim", authMiddleware.RequireSession, deviceAuthHandler.Claim)
	deviceRoutes.Post("/complete", authMiddleware.RequireSession, deviceAuthHandler.Complete)
	deviceRoutes.Post("/token", deviceAuthHandler.Token)

	api.Get("/providers", providersHandler.List)

	connectRoutes := api.Group("/connect")
	connectRoutes.Get("/:provider", authMiddleware.RequireSession, connectHandler.Connect)
	connectRoutes.Get("/:provider/callback", connectHandler.Callback)

	accountRoutes := api.Group("/accounts", authMiddleware.RequireSession)
	accountRoutes.Get("/", accountsHandler.List)
	accountRoutes.Delete("/:id", accountsHandler.Delete)
	accountRoutes.Put("/:id/default", accountsHandler.SetDefault)

	keyRoutes := api.Group("/keys", authMiddleware.RequireSession)
	keyRoutes.Post("/", apiKeysHandler.Create)
	keyRoutes.Get("/", apiKeysHandler.List)
	keyRoutes.Delete("/:id", apiKeysHandler.Delete)

	v1 := api.Group("/v1")
	v1.Get("/accounts", authMiddleware.RequireAPIKey, accountsHandler.ListForProxy)
	v1.All("/:provider/*", proxyHandler.RequireKnownProvider, authMiddleware.RequireAPIKey, proxyHandler.Forward)

	return &testEnv{
		app:      app,
		db:       db,
		registry: registry,
		accounts: accountService,
		apiKeys:  apiKeyService,
		devices:  deviceService,
		proxy:    proxyHandler,
	}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user.ID, user.Email)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func connectTestAccount(t *testing.T, env *testEnv, user *models.User, provider, accountID, email string) *models.ConnectedAccount {
	t.Helper()

	account, err := env.accounts.Upsert(services.UpsertParams{
		UserID:            user.ID,
		Provider:          provider,
		ProviderAccountID: accountID,
		ProviderEmail:     email,
		Tokens: &services.TokenSet{
			AccessToken:  "access-" + accountID,
			RefreshToken: "refresh-" + accountID,
			ExpiresIn:    3600,
		},
	})
	if err != nil {
		t.Fatalf("failed connecting test account: %v", err)
	}
	return account
}

func createTestKey(t *testing.T, env *testEnv, user *models.User) string {
	t.Helper()

	created, err := env.apiKeys.Create(user.ID, "test key", nil)
	if err != nil {
		t.Fatalf("failed creating API key: %v", err)
	}
	return created.Plaintext
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
