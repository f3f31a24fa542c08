package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Public Gemini CLI OAuth client. These are the published CLI credentials,
// not secrets owned by this service.
const (
	DefaultClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	DefaultClientSecret = "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"

	AuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL = "https://oauth2.googleapis.com/token"

	DefaultRedirectURI       = "https://codeassist.google.com/authcode"
	DefaultUserInfoEndpoint  = "https://www.googleapis.com/oauth2/v2/userinfo"
	DefaultTokenInfoEndpoint = "https://www.googleapis.com/oauth2/v1/tokeninfo"

	// Refresh responses without expires_in fall back to one hour.
	defaultTokenTTL = time.Hour

	sessionTTL = 10 * time.Minute
)

// DefaultScopes is the scope set the Gemini CLI requests.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
}

// ManagerOption customizes Manager creation.
type ManagerOption func(*Manager)

// Manager handles the Google OAuth 2.0 + PKCE flow for Antigravity
// credentials: authorization URL generation, code exchange, token refresh,
// and token validation.
type Manager struct {
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string
	sessions     map[string]*AuthSession
	sessionMu    sync.RWMutex
	httpClient   *http.Client

	oauthEndpoint       oauth2.Endpoint
	tokenURL            string
	userInfoEndpoint    string
	tokenInfoEndpoint   string
	codeAssistEndpoint  string
	onboardPollInterval time.Duration
	now                 func() time.Time
}

// NewManager creates an OAuth manager with the public Gemini CLI client.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clientID:     DefaultClientID,
		clientSecret: DefaultClientSecret,
		redirectURI:  DefaultRedirectURI,
		scopes:       append([]string(nil), DefaultScopes...),
		sessions:     make(map[string]*AuthSession),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		oauthEndpoint: oauth2.Endpoint{
			AuthURL:  AuthURL,
			TokenURL: TokenURL,
		},
		tokenURL:            TokenURL,
		userInfoEndpoint:    DefaultUserInfoEndpoint,
		tokenInfoEndpoint:   DefaultTokenInfoEndpoint,
		codeAssistEndpoint:  DefaultCodeAssistEndpoint,
		onboardPollInterval: onboardPollInterval,
		now:                 time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// WithClient overrides the OAuth client credentials.
func WithClient(clientID, clientSecret string) ManagerOption {
	return func(m *Manager) {
		if clientID != "" {
			m.clientID = clientID
		}
		if clientSecret != "" {
			m.clientSecret = clientSecret
		}
	}
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithRedirectURI overrides the redirect URI used in auth flows.
func WithRedirectURI(uri string) ManagerOption {
	return func(m *Manager) {
		if uri != "" {
			m.redirectURI = uri
		}
	}
}

// WithEndpoints overrides the auth, token, userinfo and tokeninfo endpoints.
func WithEndpoints(authURL, tokenURL, userInfo, tokenInfo string) ManagerOption {
	return func(m *Manager) {
		if authURL != "" && tokenURL != "" {
			m.oauthEndpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
		}
		if tokenURL != "" {
			m.tokenURL = tokenURL
		}
		if userInfo != "" {
			m.userInfoEndpoint = userInfo
		}
		if tokenInfo != "" {
			m.tokenInfoEndpoint = tokenInfo
		}
	}
}

// WithCodeAssistEndpoint overrides the Code Assist API base URL.
func WithCodeAssistEndpoint(endpoint string) ManagerOption {
	return func(m *Manager) {
		if endpoint != "" {
			m.codeAssistEndpoint = endpoint
		}
	}
}

// WithNowFunc overrides the clock used for time calculations (testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// StartAuthFlow generates a PKCE-protected authorization URL and stores the
// session keyed by state.
func (m *Manager) StartAuthFlow(projectID string) (authURL, state string, err error) {
	state = uuid.New().String()

	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate code verifier: %w", err)
	}

	m.sessionMu.Lock()
	m.sessions[state] = &AuthSession{
		State:        state,
		CodeVerifier: codeVerifier,
		ProjectID:    projectID,
		CreatedAt:    m.now(),
	}
	m.sessionMu.Unlock()

	config := m.getOAuthConfig()
	authURL = config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
		oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(codeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	log.Infof("OAuth flow started, state: %s", state)
	return authURL, state, nil
}

// HandleCallback exchanges the authorization code from the redirect for a
// token set, consuming the stored session.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (*TokenResult, error) {
	m.sessionMu.RLock()
	session, exists := m.sessions[state]
	m.sessionMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("invalid state or session expired")
	}

	config := m.getOAuthConfig()
	httpClientCtx := ctx
	if m.httpClient != nil {
		httpClientCtx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	token, err := config.Exchange(httpClientCtx, code,
		oauth2.SetAuthURLParam("code_verifier", session.CodeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	m.sessionMu.Lock()
	delete(m.sessions, state)
	m.sessionMu.Unlock()

	log.Info("OAuth code exchange successful")
	return &TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}, nil
}

// RefreshToken exchanges a refresh token for a fresh access token. When the
// endpoint returns no new refresh token the old one is kept, and a missing
// expires_in falls back to the default TTL.
func (m *Manager) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	data := url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	result := &TokenResult{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
	}
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	if tokenResp.ExpiresIn > 0 {
		result.ExpiresAt = m.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else {
		result.ExpiresAt = m.now().Add(defaultTokenTTL)
	}

	log.Infof("Token refreshed, new expiry: %s", result.ExpiresAt.Format(time.RFC3339))
	return result, nil
}

// ValidateToken checks whether an access token is still accepted by the
// tokeninfo endpoint.
func (m *Manager) ValidateToken(ctx context.Context, accessToken string) (bool, error) {
	if accessToken == "" {
		return false, fmt.Errorf("access token is required")
	}

	u, err := url.Parse(m.tokenInfoEndpoint)
	if err != nil {
		return false, fmt.Errorf("failed to parse token info endpoint: %w", err)
	}
	query := u.Query()
	query.Set("access_token", accessToken)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to validate token: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// GetUserProfile retrieves the userinfo document for an access token.
func (m *Manager) GetUserProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get user profile: %d %s", resp.StatusCode, string(body))
	}

	var profile UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}

	return &profile, nil
}

// GetUserEmail retrieves just the email from the userinfo endpoint.
func (m *Manager) GetUserEmail(ctx context.Context, accessToken string) (string, error) {
	profile, err := m.GetUserProfile(ctx, accessToken)
	if err != nil {
		return "", err
	}
	return profile.Email, nil
}

// CleanupExpiredSessions removes auth sessions older than the session TTL.
func (m *Manager) CleanupExpiredSessions() {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	expiry := m.now().Add(-sessionTTL)
	for state, session := range m.sessions {
		if session.CreatedAt.Before(expiry) {
			delete(m.sessions, state)
		}
	}
}

func (m *Manager) getOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		RedirectURL:  m.redirectURI,
		Scopes:       m.scopes,
		Endpoint:     m.oauthEndpoint,
	}
}

// PKCE helpers (S256).
func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateCodeChallenge(verifier string) string {
	sha := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sha[:])
}
