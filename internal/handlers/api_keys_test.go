package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestCreateAPIKeyReturnsPlaintextOnce(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "keys@example.com", "password123")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/keys/", map[string]string{
		"name": "laptop",
	}, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	body := decodeJSONMap(t, resp)

	data := body["data"].(map[string]any)
	plaintext, _ := data["key"].(string)
	if !strings.HasPrefix(plaintext, "pk_") {
		t.Fatalf("expected pk_ key, got %q", plaintext)
	}

	keyMeta, _ := data["apiKey"].(map[string]any)
	if got, _ := keyMeta["name"].(string); got != "laptop" {
		t.Fatalf("expected name laptop, got %q", got)
	}
	if _, present := keyMeta["key_hash"]; present {
		t.Fatal("key hash must not be serialized")
	}
	if prefix, _ := keyMeta["keyPrefix"].(string); !strings.HasPrefix(plaintext, prefix) {
		t.Fatalf("prefix %q does not match key", prefix)
	}

	// The list never repeats the plaintext.
	resp = performRequest(t, env.app, http.MethodGet, "/api/keys/", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	body = decodeJSONMap(t, resp)
	keys, _ := body["data"].([]any)
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	first := keys[0].(map[string]any)
	if _, present := first["key"]; present {
		t.Fatal("plaintext key must not appear in listings")
	}
}

func TestCreateAPIKeyValidation(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "keys2@example.com", "password123")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/keys/", map[string]string{}, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/keys/", map[string]string{
		"name":      "weird",
		"expiresIn": "7w",
	}, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCreateAPIKeyWithExpiry(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "keys3@example.com", "password123")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/keys/", map[string]string{
		"name":      "short lived",
		"expiresIn": "30d",
	}, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	body := decodeJSONMap(t, resp)
	keyMeta := body["data"].(map[string]any)["apiKey"].(map[string]any)
	if keyMeta["expiresAt"] == nil {
		t.Fatal("expected expiresAt to be set")
	}
}

func TestDeleteAPIKey(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "keys4@example.com", "password123")
	_, otherToken := createTestUser(t, env.db, "other@example.com", "password123")

	created, err := env.apiKeys.Create(user.ID, "doomed", nil)
	if err != nil {
		t.Fatalf("failed creating key: %v", err)
	}
	keyID := created.Key.ID.String()

	// Another user cannot delete it.
	resp := performRequest(t, env.app, http.MethodDelete, "/api/keys/"+keyID, nil, authHeaders(otherToken))
	assertStatus(t, resp, http.StatusNotFound)

	resp = performRequest(t, env.app, http.MethodDelete, "/api/keys/"+keyID, nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	// The revoked key no longer authenticates.
	resp = performRequest(t, env.app, http.MethodGet, "/api/v1/accounts", nil, authHeaders(created.Plaintext))
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = performRequest(t, env.app, http.MethodDelete, "/api/keys/"+uuid.NewString(), nil, authHeaders(token))
	assertStatus(t, resp, http.StatusNotFound)
}
