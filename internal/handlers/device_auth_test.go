package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/patchin/backend/internal/models"
)

func initiateDevice(t *testing.T, env *testEnv) (code string, verificationURL string) {
	t.Helper()

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	body := decodeJSONMap(t, resp)

	code, _ = body["device_code"].(string)
	verificationURL, _ = body["verification_url"].(string)
	if code == "" {
		t.Fatalf("expected a device code, got %+v", body)
	}
	if interval, _ := body["interval"].(float64); interval != 5 {
		t.Fatalf("expected interval 5, got %v", interval)
	}
	if expiresIn, _ := body["expires_in"].(float64); expiresIn != 900 {
		t.Fatalf("expected expires_in 900, got %v", expiresIn)
	}
	return code, verificationURL
}

func TestDeviceAuthorizationFlow(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "device@example.com", "password123")
	connectTestAccount(t, env, user, "google", "g-1", "device@gmail.com")

	code, verificationURL := initiateDevice(t, env)
	if !strings.HasPrefix(code, "dc_") {
		t.Fatalf("expected dc_ code, got %q", code)
	}
	if verificationURL != testBaseURL+"/setup/"+code {
		t.Fatalf("unexpected verification url %q", verificationURL)
	}

	// Before the claim the device sees pending.
	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/token", map[string]string{"device_code": code}, nil)
	assertStatus(t, resp, http.StatusOK)
	body := decodeJSONMap(t, resp)
	if got, _ := body["status"].(string); got != "pending" {
		t.Fatalf("expected pending, got %q", got)
	}

	// The claim page sees an unclaimed valid code.
	resp = performRequest(t, env.app, http.MethodGet, "/api/auth/device/status?code="+code, nil, nil)
	assertStatus(t, resp, http.StatusOK)
	body = decodeJSONMap(t, resp)
	if valid, _ := body["valid"].(bool); !valid {
		t.Fatal("expected the code to be valid")
	}
	if claimed, _ := body["claimed"].(bool); claimed {
		t.Fatal("expected the code to be unclaimed")
	}

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/claim", map[string]string{"device_code": code}, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/complete", map[string]string{"device_code": code}, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	// First poll delivers the key.
	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/token", map[string]string{"device_code": code}, nil)
	assertStatus(t, resp, http.StatusOK)
	body = decodeJSONMap(t, resp)
	if got, _ := body["status"].(string); got != "completed" {
		t.Fatalf("expected completed, got %q", got)
	}
	apiKey, _ := body["api_key"].(string)
	if !strings.HasPrefix(apiKey, "pk_") {
		t.Fatalf("expected a pk_ key, got %q", apiKey)
	}

	// The delivered key works against the proxy surface.
	resp = performRequest(t, env.app, http.MethodGet, "/api/v1/accounts", nil, authHeaders(apiKey))
	assertStatus(t, resp, http.StatusOK)

	// A second poll still reports completion but never the key.
	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/token", map[string]string{"device_code": code}, nil)
	assertStatus(t, resp, http.StatusOK)
	body = decodeJSONMap(t, resp)
	if got, _ := body["status"].(string); got != "completed" {
		t.Fatalf("expected completed on second poll, got %q", got)
	}
	if _, present := body["api_key"]; present {
		t.Fatalf("second poll must not redeliver the key: %v", body)
	}
	if got, _ := body["error"].(string); got != "API key already retrieved" {
		t.Fatalf("expected already-retrieved error, got %q", got)
	}
}

func TestDeviceClaimRequiresSession(t *testing.T) {
	env := setupTestEnv(t)
	code, _ := initiateDevice(t, env)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/claim", map[string]string{"device_code": code}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestDeviceClaimConflicts(t *testing.T) {
	env := setupTestEnv(t)
	_, firstToken := createTestUser(t, env.db, "first@example.com", "password123")
	_, secondToken := createTestUser(t, env.db, "second@example.com", "password123")
	code, _ := initiateDevice(t, env)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/claim", map[string]string{"device_code": code}, authHeaders(firstToken))
	assertStatus(t, resp, http.StatusOK)

	// Reclaiming your own code is a no-op.
	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/claim", map[string]string{"device_code": code}, authHeaders(firstToken))
	assertStatus(t, resp, http.StatusOK)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/claim", map[string]string{"device_code": code}, authHeaders(secondToken))
	assertStatus(t, resp, http.StatusForbidden)

	// Completing someone else's claim fails too.
	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/complete", map[string]string{"device_code": code}, authHeaders(secondToken))
	assertStatus(t, resp, http.StatusForbidden)
}

func TestDeviceCompleteWithoutAccounts(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "bare@example.com", "password123")
	code, _ := initiateDevice(t, env)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/claim", map[string]string{"device_code": code}, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/complete", map[string]string{"device_code": code}, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestDeviceCodeExpiry(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "late@example.com", "password123")
	code, _ := initiateDevice(t, env)

	err := env.db.Model(&models.DeviceAuthorization{}).
		Where("device_code_prefix = ?", code[:10]).
		Update("expires_at", time.Now().Add(-time.Minute)).Error
	if err != nil {
		t.Fatalf("failed backdating code: %v", err)
	}

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/claim", map[string]string{"device_code": code}, authHeaders(token))
	assertStatus(t, resp, http.StatusGone)

	// The device poll reports expiry as a state, not an error.
	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/token", map[string]string{"device_code": code}, nil)
	assertStatus(t, resp, http.StatusOK)
	body := decodeJSONMap(t, resp)
	if got, _ := body["status"].(string); got != "expired" {
		t.Fatalf("expected expired, got %q", got)
	}
}

func TestDeviceEndpointsRejectMissingCode(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "strict@example.com", "password123")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/token", map[string]string{}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/claim", map[string]string{}, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performRequest(t, env.app, http.MethodGet, "/api/auth/device/status", nil, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/device/token", map[string]string{"device_code": "dc_nonexistent"}, nil)
	assertStatus(t, resp, http.StatusNotFound)
}
