package services

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/pkg/utils"
)

func init() {
	if err := utils.ConfigureTokenEncryption("service-test-encryption-key"); err != nil {
		panic(err)
	}
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	// Each in-memory sqlite connection sees its own database, so pin
	// the pool to one connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

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

	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		PasswordHash: "hash",
		Name:         "Test User",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user: %v", err)
	}
	return user
}

func createTestAccount(t *testing.T, svc *AccountService, userID uuid.UUID, provider, accountID, email string, tokens *TokenSet, nonExpiring bool) *models.ConnectedAccount {
	t.Helper()
	account, err := svc.Upsert(UpsertParams{
		UserID:            userID,
		Provider:          provider,
		ProviderAccountID: accountID,
		ProviderEmail:     email,
		Tokens:            tokens,
		NonExpiring:       nonExpiring,
	})
	if err != nil {
		t.Fatalf("failed upserting account: %v", err)
	}
	return account
}
