package providers

import (
	"sort"

	"golang.org/x/oauth2"

	"github.com/patchin/backend/internal/config"
)

// AuthParamStyle selects which extra query parameters the authorize
// redirect carries.
type AuthParamStyle int

const (
	// AuthParamsOffline sends scope plus access_type=offline and
	// prompt=consent so the provider issues a refresh token.
	AuthParamsOffline AuthParamStyle = iota
	// AuthParamsUserScope sends the scopes as user_scope (Slack user
	// tokens).
	AuthParamsUserScope
	// AuthParamsOwnerUser sends owner=user and no scopes (Notion grants
	// permissions per page, not per scope).
	AuthParamsOwnerUser
)

// ExchangeStyle selects how the authorization code is traded for tokens.
type ExchangeStyle int

const (
	// ExchangeForm posts application/x-www-form-urlencoded credentials.
	ExchangeForm ExchangeStyle = iota
	// ExchangeBasicJSON posts a JSON body with HTTP Basic client
	// credentials (Notion).
	ExchangeBasicJSON
)

// TokenShape selects where the user token lives in the exchange response.
type TokenShape int

const (
	// TokenTopLevel reads access_token and friends at the top level.
	TokenTopLevel TokenShape = iota
	// TokenAuthedUser reads them from the nested authed_user object
	// (Slack user tokens).
	TokenAuthedUser
)

// IdentityStyle selects how the provider account id and email are fetched
// after a successful exchange.
type IdentityStyle int

const (
	// IdentityBearerGET issues a GET with the bearer token and reads
	// flat id and email fields.
	IdentityBearerGET IdentityStyle = iota
	// IdentityGraphQL posts a viewer query (Linear).
	IdentityGraphQL
	// IdentitySlackAuthTest calls auth.test and reads user_id.
	IdentitySlackAuthTest
	// IdentityNotionBot reads the bot owner user out of users/me.
	IdentityNotionBot
)

// Identity describes the post-exchange account identification call.
type Identity struct {
	Style       IdentityStyle
	URL         string
	IDField     string
	EmailFields []string
}

// Provider is one upstream service the broker can connect and proxy to.
type Provider struct {
	Name        string
	DisplayName string
	AuthURL     string
	TokenURL    string
	Scopes      []string
	AuthParams  AuthParamStyle
	Exchange    ExchangeStyle
	TokenShape  TokenShape
	Identity    Identity

	// ProxyBaseURL is the upstream host all /api/v1/{name}/... requests
	// are forwarded to.
	ProxyBaseURL string
	// ProxyHeaders are set on every forwarded request.
	ProxyHeaders map[string]string

	// NonExpiring marks tokens that never expire and have no refresh
	// token. DefaultExpiresIn fills in when the provider omits
	// expires_in.
	NonExpiring      bool
	DefaultExpiresIn int

	ClientID     string
	ClientSecret string
}

// Configured reports whether OAuth app credentials are present.
func (p *Provider) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// OAuthConfig builds the x/oauth2 configuration used for authorize URLs
// and form-style exchanges.
func (p *Provider) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes:      p.Scopes,
		RedirectURL: redirectURL,
	}
}

// Registry holds the supported providers keyed by name.
type Registry struct {
	providers map[string]*Provider
}

func NewRegistry(creds map[string]config.ProviderCredentials) *Registry {
	entries := []*Provider{
		{
			Name:        "google",
			DisplayName: "Google",
			AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:    "https://oauth2.googleapis.com/token",
			Scopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/gmail.send",
				"https://www.googleapis.com/auth/calendar",
				"https://www.googleapis.com/auth/drive.readonly",
			},
			Identity: Identity{
				Style:       IdentityBearerGET,
				URL:         "https://www.googleapis.com/oauth2/v2/userinfo",
				IDField:     "id",
				EmailFields: []string{"email"},
			},
			ProxyBaseURL: "https://www.googleapis.com",
		},
		{
			Name:        "youtube",
			DisplayName: "YouTube",
			AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:    "https://oauth2.googleapis.com/token",
			Scopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/youtube.readonly",
				"https://www.googleapis.com/auth/youtube.force-ssl",
			},
			Identity: Identity{
				Style:       IdentityBearerGET,
				URL:         "https://www.googleapis.com/oauth2/v2/userinfo",
				IDField:     "id",
				EmailFields: []string{"email"},
			},
			ProxyBaseURL: "https://www.googleapis.com",
		},
		{
			Name:        "microsoft",
			DisplayName: "Microsoft",
			AuthURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL:    "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			Scopes: []string{
				"offline_access",
				"https://graph.microsoft.com/Mail.Read",
				"https://graph.microsoft.com/Mail.Send",
				"https://graph.microsoft.com/Calendars.ReadWrite",
			},
			Identity: Identity{
				Style:       IdentityBearerGET,
				URL:         "https://graph.microsoft.com/v1.0/me",
				IDField:     "id",
				EmailFields: []string{"mail", "userPrincipalName"},
			},
			ProxyBaseURL: "https://graph.microsoft.com",
		},
		{
			Name:        "spotify",
			DisplayName: "Spotify",
			AuthURL:     "https://accounts.spotify.com/authorize",
			TokenURL:    "https://accounts.spotify.com/api/token",
			Scopes: []string{
				"user-read-private",
				"user-read-email",
				"playlist-read-private",
				"playlist-modify-public",
				"playlist-modify-private",
				"user-library-read",
				"user-read-playback-state",
				"user-modify-playback-state",
			},
			Identity: Identity{
				Style:       IdentityBearerGET,
				URL:         "https://api.spotify.com/v1/me",
				IDField:     "id",
				EmailFields: []string{"email"},
			},
			ProxyBaseURL: "https://api.spotify.com",
		},
		{
			Name:        "slack",
			DisplayName: "Slack",
			AuthURL:     "https://slack.com/oauth/v2/authorize",
			TokenURL:    "https://slack.com/api/oauth.v2.access",
			Scopes: []string{
				"channels:history",
				"channels:read",
				"chat:write",
				"groups:history",
				"groups:read",
				"im:history",
				"im:read",
				"mpim:history",
				"mpim:read",
				"users:read",
				"users:read.email",
			},
			AuthParams: AuthParamsUserScope,
			TokenShape: TokenAuthedUser,
			Identity: Identity{
				Style: IdentitySlackAuthTest,
				URL:   "https://slack.com/api/auth.test",
			},
			ProxyBaseURL:     "https://slack.com/api",
			DefaultExpiresIn: 43200,
		},
		{
			Name:        "notion",
			DisplayName: "Notion",
			AuthURL:     "https://api.notion.com/v1/oauth/authorize",
			TokenURL:    "https://api.notion.com/v1/oauth/token",
			AuthParams:  AuthParamsOwnerUser,
			Exchange:    ExchangeBasicJSON,
			Identity: Identity{
				Style: IdentityNotionBot,
				URL:   "https://api.notion.com/v1/users/me",
			},
			ProxyBaseURL: "https://api.notion.com",
			ProxyHeaders: map[string]string{"Notion-Version": "2022-06-28"},
			NonExpiring:  true,
		},
		{
			Name:        "linear",
			DisplayName: "Linear",
			AuthURL:     "https://linear.app/oauth/authorize",
			TokenURL:    "https://api.linear.app/oauth/token",
			Scopes: []string{
				"read",
				"write",
				"issues:create",
				"comments:create",
			},
			Identity: Identity{
				Style: IdentityGraphQL,
				URL:   "https://api.linear.app/graphql",
			},
			ProxyBaseURL: "https://api.linear.app",
		},
		{
			Name:        "github",
			DisplayName: "GitHub",
			AuthURL:     "https://github.com/login/oauth/authorize",
			TokenURL:    "https://github.com/login/oauth/access_token",
			Scopes: []string{
				"repo",
				"read:user",
				"user:email",
			},
			Identity: Identity{
				Style:       IdentityBearerGET,
				URL:         "https://api.github.com/user",
				IDField:     "id",
				EmailFields: []string{"email"},
			},
			ProxyBaseURL: "https://api.github.com",
			NonExpiring:  true,
		},
		{
			Name:        "strava",
			DisplayName: "Strava",
			AuthURL:     "https://www.strava.com/oauth/authorize",
			TokenURL:    "https://www.strava.com/oauth/token",
			Scopes: []string{
				"read",
				"activity:read_all",
				"profile:read_all",
			},
			Identity: Identity{
				Style:   IdentityBearerGET,
				URL:     "https://www.strava.com/api/v3/athlete",
				IDField: "id",
			},
			ProxyBaseURL: "https://www.strava.com",
		},
	}

	byName := make(map[string]*Provider, len(entries))
	for _, p := range entries {
		if c, ok := creds[p.Name]; ok {
			p.ClientID = c.ClientID
			p.ClientSecret = c.ClientSecret
		}
		byName[p.Name] = p
	}
	return &Registry{providers: byName}
}

// Get returns the provider and whether it is known.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// IsKnown reports whether the name is a supported provider.
func (r *Registry) IsKnown(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Names returns the supported provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
