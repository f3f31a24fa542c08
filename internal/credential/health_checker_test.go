package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	valid bool
	err   error
	calls int
}

func (f *fakeValidator) ValidateToken(_ context.Context, _ string) (bool, error) {
	f.calls++
	return f.valid, f.err
}

func TestHealthCheckerOAuthPaths(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		hc := NewHealthChecker(&fakeValidator{valid: true}, time.Second)
		cred := &Credential{ID: "c1", Type: TypeGoogleOAuth, AccessToken: "tok"}

		result := hc.CheckCredential(context.Background(), cred)
		assert.True(t, result.Healthy)
		assert.True(t, result.TokenValid)
		assert.Empty(t, result.ErrorMessage)
	})

	t.Run("rejected token", func(t *testing.T) {
		hc := NewHealthChecker(&fakeValidator{valid: false}, time.Second)
		cred := &Credential{ID: "c1", Type: TypeGoogleOAuth, AccessToken: "tok"}

		result := hc.CheckCredential(context.Background(), cred)
		assert.False(t, result.Healthy)
		assert.Contains(t, result.ErrorMessage, "rejected")
	})

	t.Run("validation error", func(t *testing.T) {
		hc := NewHealthChecker(&fakeValidator{err: errors.New("network down")}, time.Second)
		cred := &Credential{ID: "c1", Type: TypeGoogleOAuth, AccessToken: "tok"}

		result := hc.CheckCredential(context.Background(), cred)
		assert.False(t, result.Healthy)
		assert.Contains(t, result.ErrorMessage, "network down")
	})

	t.Run("missing access token", func(t *testing.T) {
		v := &fakeValidator{valid: true}
		hc := NewHealthChecker(v, time.Second)
		cred := &Credential{ID: "c1", Type: TypeGoogleOAuth}

		result := hc.CheckCredential(context.Background(), cred)
		assert.False(t, result.Healthy)
		assert.Zero(t, v.calls, "no endpoint call without a token")
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		v := &fakeValidator{valid: true}
		hc := NewHealthChecker(v, time.Second)
		cred := &Credential{
			ID: "c1", Type: TypeGoogleOAuth,
			AccessToken: "tok",
			ExpiresAt:   time.Now().Add(-time.Hour),
		}

		result := hc.CheckCredential(context.Background(), cred)
		assert.False(t, result.Healthy)
		assert.Contains(t, result.ErrorMessage, "expired")
		assert.Zero(t, v.calls)
	})
}

func TestHealthCheckerAPIKeyShapeCheck(t *testing.T) {
	v := &fakeValidator{valid: true}
	hc := NewHealthChecker(v, time.Second)

	result := hc.CheckCredential(context.Background(), &Credential{ID: "k1", Type: TypeAPIKey, APIKey: "sk"})
	assert.True(t, result.Healthy)
	assert.Zero(t, v.calls, "api keys are never sent to the token endpoint")

	result = hc.CheckCredential(context.Background(), &Credential{ID: "k2", Type: TypeAPIKey})
	assert.False(t, result.Healthy)
	assert.Contains(t, result.ErrorMessage, "no key material")
}

func TestHealthCheckerCache(t *testing.T) {
	hc := NewHealthChecker(&fakeValidator{valid: true}, time.Second)
	cred := &Credential{ID: "c1", Type: TypeGoogleOAuth, AccessToken: "tok"}

	_, ok := hc.GetCachedResult("c1")
	assert.False(t, ok)

	hc.CheckCredential(context.Background(), cred)

	cached, ok := hc.GetCachedResult("c1")
	require.True(t, ok)
	assert.True(t, cached.Healthy)
	assert.False(t, hc.GetLastCheckTime("c1").IsZero())

	hc.ClearCache()
	_, ok = hc.GetCachedResult("c1")
	assert.False(t, ok)
}

func TestHealthCheckerBatch(t *testing.T) {
	hc := NewHealthChecker(&fakeValidator{valid: true}, time.Second)

	creds := []*Credential{
		{ID: "a", Type: TypeGoogleOAuth, AccessToken: "tok"},
		{ID: "b", Type: TypeAPIKey, APIKey: "sk"},
		nil,
		{ID: "c", Type: TypeGoogleOAuth},
	}

	results := hc.BatchCheckCredentials(context.Background(), creds)
	require.Len(t, results, 3)
	assert.True(t, results["a"].Healthy)
	assert.True(t, results["b"].Healthy)
	assert.False(t, results["c"].Healthy)
}

func TestManagerCheckCredentialHealth(t *testing.T) {
	mgr, dir := newTestManager(t)
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"tok"}`)
	require.NoError(t, mgr.LoadCredentials())

	hc := NewHealthChecker(&fakeValidator{valid: false}, time.Second)

	result, err := mgr.CheckCredentialHealth(context.Background(), hc, "alpha")
	require.NoError(t, err)
	assert.False(t, result.Healthy)

	got, _ := mgr.GetCredentialByID("alpha")
	assert.False(t, got.Healthy)
	assert.NotEmpty(t, got.LastError)
	// Health checks do not count as usage.
	assert.Zero(t, got.UsageCount)

	_, err = mgr.CheckCredentialHealth(context.Background(), hc, "missing")
	assert.Error(t, err)
}
