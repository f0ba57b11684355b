package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/patchin/backend/internal/providers"
	"github.com/patchin/backend/pkg/logger"
)

// TokenSet is the provider-neutral result of a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Scope        string
}

// AccountIdentity identifies the provider-side account behind a token.
type AccountIdentity struct {
	ID    string
	Email string
}

// ExchangeService talks to provider OAuth and identity endpoints. It
// normalizes the per-provider quirks into TokenSet and AccountIdentity.
type ExchangeService struct {
	HTTPClient *http.Client
}

func NewExchangeService() *ExchangeService {
	return &ExchangeService{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BuildAuthURL returns the provider authorize URL for the given state.
func (s *ExchangeService) BuildAuthURL(p *providers.Provider, state, redirectURI string) string {
	switch p.AuthParams {
	case providers.AuthParamsUserScope:
		params := url.Values{}
		params.Set("client_id", p.ClientID)
		params.Set("redirect_uri", redirectURI)
		params.Set("user_scope", strings.Join(p.Scopes, " "))
		params.Set("state", state)
		return p.AuthURL + "?" + params.Encode()

	case providers.AuthParamsOwnerUser:
		params := url.Values{}
		params.Set("client_id", p.ClientID)
		params.Set("redirect_uri", redirectURI)
		params.Set("response_type", "code")
		params.Set("owner", "user")
		params.Set("state", state)
		return p.AuthURL + "?" + params.Encode()

	default:
		cfg := p.OAuthConfig(redirectURI)
		return cfg.AuthCodeURL(state,
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		)
	}
}

// ExchangeCode trades an authorization code for tokens.
func (s *ExchangeService) ExchangeCode(ctx context.Context, p *providers.Provider, code, redirectURI string) (*TokenSet, error) {
	switch {
	case p.Exchange == providers.ExchangeBasicJSON:
		return s.exchangeBasicJSON(ctx, p, code, redirectURI)
	case p.TokenShape == providers.TokenAuthedUser:
		return s.exchangeAuthedUser(ctx, p, code, redirectURI)
	default:
		return s.exchangeStandard(ctx, p, code, redirectURI)
	}
}

func (s *ExchangeService) exchangeStandard(ctx context.Context, p *providers.Provider, code, redirectURI string) (*TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.HTTPClient)

	token, err := p.OAuthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			logger.Warn("oauth_exchange_failed", map[string]interface{}{
				"provider": p.Name,
				"status":   retrieveErr.Response.StatusCode,
			})
			return nil, &TokenExchangeError{
				Provider:   p.Name,
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       string(retrieveErr.Body),
			}
		}
		return nil, fmt.Errorf("exchanging %s code: %w", p.Name, err)
	}

	set := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		set.Scope = scope
	}
	set.ExpiresIn = expiresInFromToken(p, token)
	return set, nil
}

// exchangeAuthedUser handles Slack, which returns the user token inside
// a nested authed_user object.
func (s *ExchangeService) exchangeAuthedUser(ctx context.Context, p *providers.Provider, code, redirectURI string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")

	body, status, err := s.postForm(ctx, p.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("exchanging %s code: %w", p.Name, err)
	}
	if status < 200 || status >= 300 {
		return nil, &TokenExchangeError{Provider: p.Name, StatusCode: status, Body: string(body)}
	}

	var payload struct {
		OK         bool   `json:"ok"`
		Error      string `json:"error"`
		AuthedUser struct {
			ID           string `json:"id"`
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int    `json:"expires_in"`
			Scope        string `json:"scope"`
		} `json:"authed_user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding %s exchange response: %w", p.Name, err)
	}
	if !payload.OK || payload.AuthedUser.AccessToken == "" {
		return nil, &TokenExchangeError{Provider: p.Name, StatusCode: status, Body: string(body)}
	}

	expiresIn := payload.AuthedUser.ExpiresIn
	if expiresIn == 0 {
		expiresIn = p.DefaultExpiresIn
	}
	return &TokenSet{
		AccessToken:  payload.AuthedUser.AccessToken,
		RefreshToken: payload.AuthedUser.RefreshToken,
		ExpiresIn:    expiresIn,
		Scope:        payload.AuthedUser.Scope,
	}, nil
}

// exchangeBasicJSON handles Notion, which wants HTTP Basic client
// credentials and a JSON body.
func (s *ExchangeService) exchangeBasicJSON(ctx context.Context, p *providers.Provider, code, redirectURI string) (*TokenSet, error) {
	payload, err := json.Marshal(map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": redirectURI,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.ClientID, p.ClientSecret)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchanging %s code: %w", p.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenExchangeError{Provider: p.Name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decoding %s exchange response: %w", p.Name, err)
	}
	if data.AccessToken == "" {
		return nil, &TokenExchangeError{Provider: p.Name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return &TokenSet{AccessToken: data.AccessToken}, nil
}

// RefreshToken runs a refresh-token grant. Some providers rotate the
// refresh token; the caller persists the new one when present.
func (s *ExchangeService) RefreshToken(ctx context.Context, p *providers.Provider, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	body, status, err := s.postForm(ctx, p.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("refreshing %s token: %w", p.Name, err)
	}
	if status < 200 || status >= 300 {
		logger.Warn("oauth_refresh_failed", map[string]interface{}{
			"provider": p.Name,
			"status":   status,
		})
		return nil, &TokenRefreshError{Provider: p.Name, StatusCode: status, Body: string(body)}
	}

	var data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decoding %s refresh response: %w", p.Name, err)
	}
	if data.AccessToken == "" {
		return nil, &TokenRefreshError{Provider: p.Name, StatusCode: status, Body: string(body)}
	}

	return &TokenSet{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		ExpiresIn:    data.ExpiresIn,
		Scope:        data.Scope,
	}, nil
}

// FetchIdentity resolves the provider-side account id and email for a
// freshly issued access token.
func (s *ExchangeService) FetchIdentity(ctx context.Context, p *providers.Provider, accessToken string) (*AccountIdentity, error) {
	switch p.Identity.Style {
	case providers.IdentityGraphQL:
		return s.fetchGraphQLIdentity(ctx, p, accessToken)
	case providers.IdentitySlackAuthTest:
		return s.fetchSlackIdentity(ctx, p, accessToken)
	case providers.IdentityNotionBot:
		return s.fetchNotionIdentity(ctx, p, accessToken)
	default:
		return s.fetchBearerIdentity(ctx, p, accessToken)
	}
}

func (s *ExchangeService) fetchBearerIdentity(ctx context.Context, p *providers.Provider, accessToken string) (*AccountIdentity, error) {
	data, err := s.getJSON(ctx, p, p.Identity.URL, accessToken, nil)
	if err != nil {
		return nil, err
	}

	id := stringifyField(data[p.Identity.IDField])
	if id == "" {
		return nil, fmt.Errorf("%s identity response missing %s", p.Name, p.Identity.IDField)
	}

	identity := &AccountIdentity{ID: id}
	for _, field := range p.Identity.EmailFields {
		if email := stringifyField(data[field]); email != "" {
			identity.Email = email
			break
		}
	}
	return identity, nil
}

func (s *ExchangeService) fetchGraphQLIdentity(ctx context.Context, p *providers.Provider, accessToken string) (*AccountIdentity, error) {
	query, err := json.Marshal(map[string]string{"query": "{ viewer { id email } }"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Identity.URL, bytes.NewReader(query))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s identity: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s identity returned status %d: %s", p.Name, resp.StatusCode, string(body))
	}

	var payload struct {
		Data struct {
			Viewer struct {
				ID    string `json:"id"`
				Email string `json:"email"`
			} `json:"viewer"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding %s identity response: %w", p.Name, err)
	}
	if payload.Data.Viewer.ID == "" {
		return nil, fmt.Errorf("%s identity response missing viewer id", p.Name)
	}
	return &AccountIdentity{ID: payload.Data.Viewer.ID, Email: payload.Data.Viewer.Email}, nil
}

func (s *ExchangeService) fetchSlackIdentity(ctx context.Context, p *providers.Provider, accessToken string) (*AccountIdentity, error) {
	data, err := s.getJSON(ctx, p, p.Identity.URL, accessToken, nil)
	if err != nil {
		return nil, err
	}

	if ok, _ := data["ok"].(bool); !ok {
		return nil, fmt.Errorf("%s identity check failed: %v", p.Name, data["error"])
	}
	userID := stringifyField(data["user_id"])
	if userID == "" {
		return nil, fmt.Errorf("%s identity response missing user_id", p.Name)
	}
	return &AccountIdentity{ID: userID}, nil
}

func (s *ExchangeService) fetchNotionIdentity(ctx context.Context, p *providers.Provider, accessToken string) (*AccountIdentity, error) {
	data, err := s.getJSON(ctx, p, p.Identity.URL, accessToken, p.ProxyHeaders)
	if err != nil {
		return nil, err
	}

	identity := &AccountIdentity{ID: stringifyField(data["id"])}
	if bot, ok := data["bot"].(map[string]interface{}); ok {
		if owner, ok := bot["owner"].(map[string]interface{}); ok {
			if user, ok := owner["user"].(map[string]interface{}); ok {
				if id := stringifyField(user["id"]); id != "" {
					identity.ID = id
				}
				if person, ok := user["person"].(map[string]interface{}); ok {
					identity.Email = stringifyField(person["email"])
				}
			}
		}
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("%s identity response missing id", p.Name)
	}
	return identity, nil
}

func (s *ExchangeService) getJSON(ctx context.Context, p *providers.Provider, rawURL, accessToken string, headers map[string]string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s identity: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s identity returned status %d: %s", p.Name, resp.StatusCode, string(body))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()

	var data map[string]interface{}
	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding %s identity response: %w", p.Name, err)
	}
	return data, nil
}

func (s *ExchangeService) postForm(ctx context.Context, rawURL string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func expiresInFromToken(p *providers.Provider, token *oauth2.Token) int {
	if p.NonExpiring {
		return 0
	}
	if n, ok := token.Extra("expires_in").(float64); ok && n > 0 {
		return int(n)
	}
	if !token.Expiry.IsZero() {
		if d := int(time.Until(token.Expiry).Seconds()); d > 0 {
			return d
		}
	}
	if p.DefaultExpiresIn > 0 {
		return p.DefaultExpiresIn
	}
	return 3600
}

// stringifyField renders a JSON field as a string, covering providers
// that return numeric account ids.
func stringifyField(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		return fmt.Sprintf("%.0f", value)
	default:
		return ""
	}
}
