package oauth

import "time"

// AuthSession tracks one in-progress authorization flow keyed by state.
type AuthSession struct {
	State        string
	CodeVerifier string
	ProjectID    string
	CreatedAt    time.Time
}

// TokenResponse mirrors the token endpoint's JSON body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenResult is the normalized outcome of a code exchange or refresh.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// UserProfile holds the subset of the userinfo response we keep.
type UserProfile struct {
	ID      string `json:"id,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}
