package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"antigravity2api-go/internal/events"
	"antigravity2api-go/internal/oauth"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tokenValidator is the slice of the OAuth manager the health checker needs.
type tokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (bool, error)
}

// HealthChecker probes credentials against the token endpoints and caches the
// results.
type HealthChecker struct {
	validator  tokenValidator
	timeout    time.Duration
	tracer     trace.Tracer
	mu         sync.RWMutex
	lastCheck  map[string]time.Time
	checkCache map[string]HealthResult
}

// HealthResult represents the result of a credential health check.
type HealthResult struct {
	CredentialID string        `json:"credential_id"`
	Healthy      bool          `json:"healthy"`
	LastChecked  time.Time     `json:"last_checked"`
	ResponseTime time.Duration `json:"response_time"`
	ErrorMessage string        `json:"error_message,omitempty"`
	TokenValid   bool          `json:"token_valid"`
}

// NewHealthChecker creates a credential health checker.
func NewHealthChecker(validator tokenValidator, timeout time.Duration) *HealthChecker {
	if validator == nil {
		validator = oauth.NewManager()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HealthChecker{
		validator:  validator,
		timeout:    timeout,
		tracer:     otel.Tracer("antigravity2api-go/credential"),
		lastCheck:  make(map[string]time.Time),
		checkCache: make(map[string]HealthResult),
	}
}

// CheckCredential probes a single credential. OAuth credentials are validated
// against the tokeninfo endpoint; API key credentials only get a shape check
// since the key cannot be validated without spending quota.
func (hc *HealthChecker) CheckCredential(ctx context.Context, cred *Credential) HealthResult {
	if cred == nil {
		return HealthResult{
			Healthy:      false,
			LastChecked:  time.Now(),
			ErrorMessage: "credential is nil",
		}
	}

	ctx, span := hc.tracer.Start(ctx, "credential.health_check",
		trace.WithAttributes(
			attribute.String("credential.id", cred.ID),
			attribute.String("credential.type", cred.Type),
		))
	defer span.End()

	result := HealthResult{
		CredentialID: cred.ID,
		LastChecked:  time.Now(),
	}

	start := time.Now()
	defer func() {
		result.ResponseTime = time.Since(start)
		span.SetAttributes(attribute.Bool("credential.healthy", result.Healthy))
		hc.mu.Lock()
		hc.lastCheck[cred.ID] = result.LastChecked
		hc.checkCache[cred.ID] = result
		hc.mu.Unlock()
	}()

	checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	if !cred.IsOAuth() {
		if cred.APIKey == "" {
			result.ErrorMessage = "api key credential has no key material"
			return result
		}
		result.Healthy = true
		return result
	}

	if cred.AccessToken == "" {
		result.ErrorMessage = "oauth credential has no access token"
		return result
	}
	if cred.IsExpired() && cred.RefreshToken == "" {
		result.ErrorMessage = "access token expired and no refresh token available"
		return result
	}

	valid, err := hc.validator.ValidateToken(checkCtx, cred.AccessToken)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("token validation failed: %v", err)
		return result
	}
	result.TokenValid = valid
	if !valid {
		result.ErrorMessage = "access token rejected by token endpoint"
		return result
	}

	result.Healthy = true
	return result
}

// BatchCheckCredentials checks multiple credentials with bounded concurrency.
func (hc *HealthChecker) BatchCheckCredentials(ctx context.Context, creds []*Credential) map[string]HealthResult {
	results := make(map[string]HealthResult)
	var mu sync.Mutex
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, 5)

	for _, cred := range creds {
		if cred == nil {
			continue
		}

		wg.Add(1)
		go func(c *Credential) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			result := hc.CheckCredential(ctx, c)
			mu.Lock()
			results[c.ID] = result
			mu.Unlock()
		}(cred)
	}

	wg.Wait()
	return results
}

// GetCachedResult returns a cached health check result.
func (hc *HealthChecker) GetCachedResult(credID string) (HealthResult, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result, exists := hc.checkCache[credID]
	return result, exists
}

// GetLastCheckTime returns the last check time for a credential.
func (hc *HealthChecker) GetLastCheckTime(credID string) time.Time {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	return hc.lastCheck[credID]
}

// ClearCache drops all cached results.
func (hc *HealthChecker) ClearCache() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.lastCheck = make(map[string]time.Time)
	hc.checkCache = make(map[string]HealthResult)
}

// CheckCredentialHealth runs a health check on the live credential, applies
// the outcome to its health flag and error text, persists the state, and
// broadcasts the result.
func (m *Manager) CheckCredentialHealth(ctx context.Context, hc *HealthChecker, credID string) (HealthResult, error) {
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
		return HealthResult{}, fmt.Errorf("credential %s not found", credID)
	}

	result := hc.CheckCredential(ctx, target.Clone())

	target.SetHealth(result.Healthy, result.ErrorMessage)
	m.persistCredentialState(target, true)

	if publisher := m.getPublisher(); publisher != nil {
		publisher.Publish(ctx, events.TopicHealthChecked, result,
			map[string]string{"credential_id": credID})
	}
	return result, nil
}
