package credential

import (
	"context"
	"fmt"
	"time"

	"antigravity2api-go/internal/oauth"

	log "github.com/sirupsen/logrus"
)

// TokenRefresher is the slice of the OAuth manager the credential pool needs.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth.TokenResult, error)
}

// refreshCall tracks one in-flight refresh. The leader stores its outcome in
// err before closing done, so coalesced callers see the real result.
type refreshCall struct {
	done chan struct{}
	err  error
}

// RefreshCredential refreshes the OAuth token for the given credential ID,
// retrying with exponential backoff. Concurrent calls for the same credential
// coalesce into one refresh and share its outcome.
func (m *Manager) RefreshCredential(ctx context.Context, credID string) error {
	call, leader := m.joinRefresh(credID)
	if !leader {
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := m.refreshCredentialCore(ctx, credID)
	m.leaveRefresh(credID, err)
	return err
}

func (m *Manager) joinRefresh(credID string) (*refreshCall, bool) {
	m.refreshGroupMu.Lock()
	defer m.refreshGroupMu.Unlock()
	if call, ok := m.refreshGroup[credID]; ok {
		return call, false
	}
	call := &refreshCall{done: make(chan struct{})}
	m.refreshGroup[credID] = call
	return call, true
}

func (m *Manager) leaveRefresh(credID string, err error) {
	m.refreshGroupMu.Lock()
	defer m.refreshGroupMu.Unlock()
	if call, ok := m.refreshGroup[credID]; ok {
		call.err = err
		close(call.done)
		delete(m.refreshGroup, credID)
	}
}

func (m *Manager) refreshCredentialCore(ctx context.Context, credID string) error {
	m.mu.RLock()
	var target *Credential
	for _, cred := range m.credentials {
		if cred != nil && cred.ID == credID {
			target = cred
			break
		}
	}
	m.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("credential %s not found", credID)
	}
	if !target.IsOAuth() {
		return fmt.Errorf("credential %s is not OAuth type", credID)
	}

	target.mu.RLock()
	refreshToken := target.RefreshToken
	target.mu.RUnlock()
	if refreshToken == "" {
		return fmt.Errorf("credential %s has no refresh token", credID)
	}

	result, err := m.refreshWithRetry(ctx, refreshToken)
	if err != nil {
		target.MarkFailure(fmt.Sprintf("token refresh failed: %v", err))
		m.persistCredentialState(target, true)
		m.emitCredentialEvent("refresh_failed", target.Clone())
		return fmt.Errorf("refresh failed: %w", err)
	}

	target.ApplyRefresh(result.AccessToken, result.RefreshToken, result.ExpiresAt)

	if err := m.saveCredential(target.Clone()); err != nil {
		log.Warnf("Failed to persist refreshed token for %s: %v", credID, err)
	}
	m.persistCredentialState(target, true)
	log.Infof("Refreshed OAuth token for %s", credID)
	m.emitCredentialEvent("refreshed", target.Clone())
	return nil
}

// refreshWithRetry retries the token endpoint with exponential backoff
// (1s, 2s, 4s, ...) up to the configured attempt count.
func (m *Manager) refreshWithRetry(ctx context.Context, refreshToken string) (*oauth.TokenResult, error) {
	var lastErr error
	for attempt := 0; attempt < m.refreshMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		result, err := m.refresher.RefreshToken(ctx, refreshToken)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Warnf("Token refresh failed (attempt %d/%d): %v", attempt+1, m.refreshMaxRetries, err)
	}
	return nil, lastErr
}

// StartPeriodicRefresh proactively refreshes OAuth tokens that are expired or
// inside the refresh-ahead window. Blocks until ctx is cancelled.
func (m *Manager) StartPeriodicRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.refreshExpiringTokens(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) refreshExpiringTokens(ctx context.Context) {
	for _, cred := range m.GetAllCredentials() {
		if !m.shouldRefresh(cred) {
			continue
		}
		if err := m.RefreshCredential(ctx, cred.ID); err != nil {
			log.Errorf("Failed to refresh credential %s: %v", cred.ID, err)
		}
	}
}

// shouldRefresh reports whether the credential's token is expired or will
// expire within the refresh-ahead window.
func (m *Manager) shouldRefresh(cred *Credential) bool {
	if cred == nil || !cred.IsOAuth() || cred.Disabled {
		return false
	}
	if cred.RefreshToken == "" {
		return false
	}
	if cred.AccessToken == "" || cred.ExpiresAt.IsZero() {
		return true
	}
	ahead := time.Duration(m.refreshAheadSec) * time.Second
	return time.Until(cred.ExpiresAt) <= ahead
}
