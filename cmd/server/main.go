package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/patchin/backend/internal/config"
	"github.com/patchin/backend/internal/database"
	"github.com/patchin/backend/internal/handlers"
	"github.com/patchin/backend/internal/middleware"
	"github.com/patchin/backend/internal/providers"
	"github.com/patchin/backend/internal/services"
	"github.com/patchin/backend/internal/storage"
	"github.com/patchin/backend/pkg/logger"
	"github.com/patchin/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	if cfg.Crypto.TokenEncryptionKey == "" {
		log.Fatal("TOKEN_ENCRYPTION_KEY must be set")
	}
	if err := utils.ConfigureTokenEncryption(cfg.Crypto.TokenEncryptionKey); err != nil {
		log.Fatalf("token encryption setup failed: %v", err)
	}
	if err := utils.ConfigureJWT(cfg.JWT.Secret); err != nil {
		log.Fatalf("jwt setup failed: %v", err)
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	// Usage export is optional; without object storage the rows just
	// stay in postgres.
	var storageClient services.ObjectUploader
	if cfg.MinIO.Endpoint != "" {
		minioClient, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("minio initialization failed: %v", err)
		}
		if err := minioClient.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("failed ensuring minio bucket: %v", err)
		}
		storageClient = minioClient
	}

	registry := providers.NewRegistry(cfg.Providers)

	accountService := services.NewAccountService(db)
	apiKeyService := services.NewAPIKeyService(db)
	exchangeService := services.NewExchangeService()
	tokenService := services.NewTokenService(db, accountService, exchangeService)
	usageService := services.NewUsageService(db, storageClient)
	deviceService := services.NewDeviceService(db, accountService, apiKeyService,
		cfg.Server.BaseURL, cfg.Device.CodeTTL, cfg.Device.PollInterval)

	usageService.StartExporter(cfg.Usage.ExportInterval)
	startDeviceCleanup(deviceService)

	authHandler := handlers.NewAuthHandler(db)
	connectHandler := handlers.NewConnectHandler(registry, exchangeService, accountService,
		cfg.Server.BaseURL, cfg.Server.FrontendURL)
	providersHandler := handlers.NewProvidersHandler(registry)
	accountsHandler := handlers.NewAccountsHandler(accountService)
	apiKeysHandler := handlers.NewAPIKeysHandler(apiKeyService)
	deviceAuthHandler := handlers.NewDeviceAuthHandler(deviceService)
	proxyHandler := handlers.NewProxyHandler(registry, accountService, tokenService, usageService)

	authMiddleware := middleware.NewAuthMiddleware(db, apiKeyService)

	app := fiber.New(fiber.Config{BodyLimit: 10 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
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

	// The /accounts route must come before the provider wildcard.
	v1 := api.Group("/v1")
	v1.Get("/accounts", authMiddleware.RequireAPIKey, accountsHandler.ListForProxy)
	v1.All("/:provider/*", proxyHandler.RequireKnownProvider, authMiddleware.RequireAPIKey, proxyHandler.Forward)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":      cfg.Server.Port,
		"address":   listenAddr,
		"providers": registry.Names(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}

func startDeviceCleanup(devices *services.DeviceService) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := devices.CleanupExpired(); err != nil {
				logger.Error("device_cleanup_failed", err, nil)
			}
		}
	}()
}
