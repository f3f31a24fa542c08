package credential

import (
	"strings"
	"sync"
	"time"
)

// Credential types. OAuth variants all carry the "oauth" substring so the
// card layer can detect them without knowing every provider name.
const (
	TypeGoogleOAuth = "google_oauth"
	TypeAPIKey      = "api_key"
)

// Credential represents one stored authorization artifact for the Antigravity
// provider: a Gemini CLI OAuth grant or a plain API key.
type Credential struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Type          string    `json:"type"`
	Source        string    `json:"-"`
	Email         string    `json:"email,omitempty"`
	ProjectID     string    `json:"project_id,omitempty"`
	TempProjectID string    `json:"temp_project_id,omitempty"`
	Scope         string    `json:"scope,omitempty"`
	AccessToken   string    `json:"access_token,omitempty"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	APIKey        string    `json:"api_key,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`

	// Runtime state, persisted separately via StateStore.
	Disabled      bool      `json:"disabled"`
	Healthy       bool      `json:"is_healthy"`
	LastError     string    `json:"last_error,omitempty"`
	LastRefresh   time.Time `json:"last_refresh,omitempty"`
	RateLimitedAt time.Time `json:"rate_limited_at,omitempty"`
	UsageCount    int64     `json:"usage_count"`
	ErrorCount    int64     `json:"error_count"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	mu sync.RWMutex
}

// CredentialState captures the mutable runtime fields persisted across
// restarts. Token material stays in the credential record itself.
type CredentialState struct {
	Disabled      bool      `json:"disabled"`
	Healthy       bool      `json:"is_healthy"`
	LastError     string    `json:"last_error,omitempty"`
	LastRefresh   time.Time `json:"last_refresh,omitempty"`
	RateLimitedAt time.Time `json:"rate_limited_at,omitempty"`
	UsageCount    int64     `json:"usage_count"`
	ErrorCount    int64     `json:"error_count"`
}

// IsOAuth reports whether this credential is OAuth-based. The check is a
// substring match so provider-prefixed types ("google_oauth") qualify.
func (c *Credential) IsOAuth() bool {
	return strings.Contains(c.Type, "oauth")
}

// IsExpired checks whether the OAuth access token has expired. API key
// credentials never expire.
func (c *Credential) IsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !strings.Contains(c.Type, "oauth") || c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(c.ExpiresAt)
}

// MarkSuccess records a successful use of the credential.
func (c *Credential) MarkSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UsageCount++
	c.Healthy = true
	c.LastError = ""
	c.UpdatedAt = time.Now().UTC()
}

// MarkFailure records a failed use with the upstream error text.
func (c *Credential) MarkFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ErrorCount++
	c.Healthy = false
	c.LastError = reason
	c.UpdatedAt = time.Now().UTC()
}

// SetHealth records a health check outcome without touching the usage
// counters.
func (c *Credential) SetHealth(healthy bool, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Healthy = healthy
	if healthy {
		c.LastError = ""
	} else {
		c.ErrorCount++
		c.LastError = errMsg
	}
	c.UpdatedAt = time.Now().UTC()
}

// MarkRateLimited flags the credential as rate limited right now.
func (c *Credential) MarkRateLimited() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RateLimitedAt = time.Now().UTC()
	c.Healthy = false
	c.UpdatedAt = time.Now().UTC()
}

// ApplyRefresh installs a freshly refreshed token set. A successful refresh
// clears the error state, mirroring the provider's behaviour.
func (c *Credential) ApplyRefresh(accessToken, refreshToken string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessToken = accessToken
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	if !expiresAt.IsZero() {
		c.ExpiresAt = expiresAt
	}
	c.LastRefresh = time.Now().UTC()
	c.Healthy = true
	c.LastError = ""
	c.UpdatedAt = time.Now().UTC()
}

// ResetStats clears runtime counters and error state.
func (c *Credential) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetStatsLocked()
}

// resetStatsLocked requires c.mu to be held by the caller.
func (c *Credential) resetStatsLocked() {
	c.UsageCount = 0
	c.ErrorCount = 0
	c.LastError = ""
	c.RateLimitedAt = time.Time{}
	c.Healthy = true
	c.UpdatedAt = time.Now().UTC()
}

// Clone creates a deep copy safe to hand out of the manager.
func (c *Credential) Clone() *Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Credential{
		ID:            c.ID,
		Name:          c.Name,
		Type:          c.Type,
		Source:        c.Source,
		Email:         c.Email,
		ProjectID:     c.ProjectID,
		TempProjectID: c.TempProjectID,
		Scope:         c.Scope,
		AccessToken:   c.AccessToken,
		RefreshToken:  c.RefreshToken,
		APIKey:        c.APIKey,
		ExpiresAt:     c.ExpiresAt,
		Disabled:      c.Disabled,
		Healthy:       c.Healthy,
		LastError:     c.LastError,
		LastRefresh:   c.LastRefresh,
		RateLimitedAt: c.RateLimitedAt,
		UsageCount:    c.UsageCount,
		ErrorCount:    c.ErrorCount,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// SnapshotState captures mutable runtime data for persistence.
func (c *Credential) SnapshotState() *CredentialState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &CredentialState{
		Disabled:      c.Disabled,
		Healthy:       c.Healthy,
		LastError:     c.LastError,
		LastRefresh:   c.LastRefresh,
		RateLimitedAt: c.RateLimitedAt,
		UsageCount:    c.UsageCount,
		ErrorCount:    c.ErrorCount,
	}
}

// RestoreState applies persisted runtime data onto the credential.
func (c *Credential) RestoreState(state *CredentialState) {
	if state == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Disabled = state.Disabled
	c.Healthy = state.Healthy
	c.LastError = state.LastError
	c.LastRefresh = state.LastRefresh
	c.RateLimitedAt = state.RateLimitedAt
	c.UsageCount = state.UsageCount
	c.ErrorCount = state.ErrorCount
}

// ProjectOrTemp returns the effective project id, preferring the permanent one.
func (c *Credential) ProjectOrTemp() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ProjectID != "" {
		return c.ProjectID
	}
	return c.TempProjectID
}
