package services

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAPIKeyCreateAndAuthenticate(t *testing.T) {
	db := setupServiceTestDB(t)
	svc := NewAPIKeyService(db)
	user := createTestUser(t, db, "keys@test.com")

	created, err := svc.Create(user.ID, "laptop", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.HasPrefix(created.Plaintext, "pk_") {
		t.Fatalf("unexpected key shape %q", created.Plaintext)
	}
	if created.Key.KeyPrefix != created.Plaintext[:10] {
		t.Fatal("expected stored prefix to match plaintext")
	}
	if created.Key.KeyHash == created.Plaintext {
		t.Fatal("plaintext must not be stored")
	}

	t.Run("authenticates the plaintext key", func(t *testing.T) {
		key, err := svc.Authenticate(created.Plaintext)
		if err != nil {
			t.Fatalf("authenticate failed: %v", err)
		}
		if key.ID != created.Key.ID {
			t.Fatal("authenticated a different key")
		}
		if key.UserID != user.ID {
			t.Fatal("unexpected key owner")
		}
	})

	t.Run("touches last used", func(t *testing.T) {
		// The touch runs off the request path, so give it a moment.
		deadline := time.Now().Add(2 * time.Second)
		for {
			keys, err := svc.ListForUser(user.ID)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(keys) != 1 {
				t.Fatalf("expected one key, got %d", len(keys))
			}
			if keys[0].LastUsedAt != nil {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("expected last_used_at to be set after authentication")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("rejects an unknown key", func(t *testing.T) {
		if _, err := svc.Authenticate("pk_definitely-not-issued"); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("expected ErrInvalidCredential, got %v", err)
		}
	})

	t.Run("rejects an empty credential", func(t *testing.T) {
		if _, err := svc.Authenticate("   "); !errors.Is(err, ErrMissingCredential) {
			t.Fatalf("expected ErrMissingCredential, got %v", err)
		}
	})
}

func TestAPIKeyExpiry(t *testing.T) {
	db := setupServiceTestDB(t)
	svc := NewAPIKeyService(db)
	user := createTestUser(t, db, "expiry@test.com")

	past := time.Now().Add(-time.Hour)
	created, err := svc.Create(user.ID, "stale", &past)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.Authenticate(created.Plaintext); !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("expected ErrCredentialExpired, got %v", err)
	}
}

func TestAPIKeyDelete(t *testing.T) {
	db := setupServiceTestDB(t)
	svc := NewAPIKeyService(db)
	user := createTestUser(t, db, "del-keys@test.com")
	other := createTestUser(t, db, "del-keys-other@test.com")

	created, err := svc.Create(user.ID, "doomed", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	t.Run("foreign delete yields not found", func(t *testing.T) {
		if err := svc.Delete(other.ID, created.Key.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("owner delete revokes the key", func(t *testing.T) {
		if err := svc.Delete(user.ID, created.Key.ID); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := svc.Authenticate(created.Plaintext); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("expected revoked key to fail auth, got %v", err)
		}
	})
}
