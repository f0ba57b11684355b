package providers

import (
	"strings"
	"testing"

	"github.com/patchin/backend/internal/config"
)

func testCredentials() map[string]config.ProviderCredentials {
	return map[string]config.ProviderCredentials{
		"google": {ClientID: "google-id", ClientSecret: "google-secret"},
		"slack":  {ClientID: "slack-id", ClientSecret: "slack-secret"},
	}
}

func TestRegistryKnownProviders(t *testing.T) {
	registry := NewRegistry(testCredentials())

	expected := []string{
		"github", "google", "linear", "microsoft", "notion",
		"slack", "spotify", "strava", "youtube",
	}

	names := registry.Names()
	if len(names) != len(expected) {
		t.Fatalf("expected %d providers, got %d: %v", len(expected), len(names), names)
	}
	for i, name := range expected {
		if names[i] != name {
			t.Fatalf("expected %q at position %d, got %q", name, i, names[i])
		}
	}

	if registry.IsKnown("dropbox") {
		t.Fatal("expected unknown provider to be rejected")
	}
}

func TestRegistryConfiguredFlag(t *testing.T) {
	registry := NewRegistry(testCredentials())

	google, ok := registry.Get("google")
	if !ok {
		t.Fatal("expected google to be known")
	}
	if !google.Configured() {
		t.Fatal("expected google to be configured")
	}

	notion, ok := registry.Get("notion")
	if !ok {
		t.Fatal("expected notion to be known")
	}
	if notion.Configured() {
		t.Fatal("expected notion to be unconfigured without credentials")
	}
}

func TestRegistryProviderQuirks(t *testing.T) {
	registry := NewRegistry(testCredentials())

	slack, _ := registry.Get("slack")
	if slack.AuthParams != AuthParamsUserScope {
		t.Fatal("expected slack to request user_scope")
	}
	if slack.TokenShape != TokenAuthedUser {
		t.Fatal("expected slack tokens to come from authed_user")
	}
	if slack.DefaultExpiresIn != 43200 {
		t.Fatalf("expected slack 12h default expiry, got %d", slack.DefaultExpiresIn)
	}

	notion, _ := registry.Get("notion")
	if notion.AuthParams != AuthParamsOwnerUser {
		t.Fatal("expected notion to send owner=user")
	}
	if notion.Exchange != ExchangeBasicJSON {
		t.Fatal("expected notion to exchange with basic auth and a json body")
	}
	if !notion.NonExpiring {
		t.Fatal("expected notion tokens to be non-expiring")
	}
	if notion.ProxyHeaders["Notion-Version"] != "2022-06-28" {
		t.Fatal("expected notion proxy requests to pin an api version")
	}

	github, _ := registry.Get("github")
	if !github.NonExpiring {
		t.Fatal("expected github tokens to be non-expiring")
	}

	linear, _ := registry.Get("linear")
	if linear.Identity.Style != IdentityGraphQL {
		t.Fatal("expected linear identity via graphql")
	}
}

func TestRegistryProxyBases(t *testing.T) {
	registry := NewRegistry(nil)

	bases := map[string]string{
		"google":    "https://www.googleapis.com",
		"youtube":   "https://www.googleapis.com",
		"microsoft": "https://graph.microsoft.com",
		"spotify":   "https://api.spotify.com",
		"slack":     "https://slack.com/api",
		"notion":    "https://api.notion.com",
		"linear":    "https://api.linear.app",
		"github":    "https://api.github.com",
		"strava":    "https://www.strava.com",
	}

	for name, base := range bases {
		p, ok := registry.Get(name)
		if !ok {
			t.Fatalf("expected %s to be known", name)
		}
		if p.ProxyBaseURL != base {
			t.Fatalf("%s: expected proxy base %q, got %q", name, base, p.ProxyBaseURL)
		}
	}
}

func TestOAuthConfigShape(t *testing.T) {
	registry := NewRegistry(testCredentials())
	google, _ := registry.Get("google")

	cfg := google.OAuthConfig("http://localhost:8080/api/connect/google/callback")
	if cfg.ClientID != "google-id" {
		t.Fatalf("unexpected client id %q", cfg.ClientID)
	}
	if cfg.Endpoint.TokenURL != google.TokenURL {
		t.Fatalf("unexpected token url %q", cfg.Endpoint.TokenURL)
	}
	if !strings.HasSuffix(cfg.RedirectURL, "/api/connect/google/callback") {
		t.Fatalf("unexpected redirect url %q", cfg.RedirectURL)
	}
}
