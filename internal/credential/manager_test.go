package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"antigravity2api-go/internal/oauth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentialFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	mgr := NewManager(Options{AuthDir: dir})
	return mgr, dir
}

func TestManagerLoadCredentials(t *testing.T) {
	mgr, dir := newTestManager(t)

	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"tok-a","refresh_token":"ref-a"}`)
	writeCredentialFile(t, dir, "beta.json", `{"api_key":"key-b"}`)
	writeCredentialFile(t, dir, "broken.json", `{not json`)
	writeCredentialFile(t, dir, "notes.txt", "ignore me")

	require.NoError(t, mgr.LoadCredentials())

	creds := mgr.GetAllCredentials()
	require.Len(t, creds, 2)
	// Sorted by ID.
	assert.Equal(t, "alpha", creds[0].ID)
	assert.Equal(t, TypeGoogleOAuth, creds[0].Type)
	assert.Equal(t, "beta", creds[1].ID)
	assert.Equal(t, TypeAPIKey, creds[1].Type)
	assert.True(t, creds[0].Healthy, "legacy files start healthy")
}

func TestManagerLoadSkipsStateFiles(t *testing.T) {
	mgr, dir := newTestManager(t)

	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"tok"}`)
	writeCredentialFile(t, dir, "alpha.state.json", `{"disabled":true,"is_healthy":false}`)

	require.NoError(t, mgr.LoadCredentials())

	creds := mgr.GetAllCredentials()
	require.Len(t, creds, 1)
	assert.Equal(t, "alpha", creds[0].ID)
	// The state file is applied to the credential, not loaded as one.
	assert.True(t, creds[0].Disabled)
	assert.False(t, creds[0].Healthy)
}

func TestManagerAddCredential(t *testing.T) {
	mgr, dir := newTestManager(t)
	require.NoError(t, mgr.LoadCredentials())

	cred := &Credential{APIKey: "sk-test"}
	require.NoError(t, mgr.AddCredential(context.Background(), cred))

	assert.NotEmpty(t, cred.ID)
	assert.Equal(t, TypeAPIKey, cred.Type)
	assert.True(t, cred.Healthy)

	_, err := os.Stat(filepath.Join(dir, cred.ID+".json"))
	assert.NoError(t, err)

	got, ok := mgr.GetCredentialByID(cred.ID)
	require.True(t, ok)
	assert.Equal(t, "sk-test", got.APIKey)

	err = mgr.AddCredential(context.Background(), &Credential{ID: cred.ID})
	assert.Error(t, err, "duplicate id must be rejected")
}

func TestManagerEnableDisable(t *testing.T) {
	mgr, dir := newTestManager(t)
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"tok"}`)
	require.NoError(t, mgr.LoadCredentials())

	require.NoError(t, mgr.DisableCredential("alpha"))
	got, _ := mgr.GetCredentialByID("alpha")
	assert.True(t, got.Disabled)

	// Disable writes the state file through the stateful source.
	_, err := os.Stat(filepath.Join(dir, "alpha.state.json"))
	assert.NoError(t, err)

	require.NoError(t, mgr.EnableCredential("alpha"))
	got, _ = mgr.GetCredentialByID("alpha")
	assert.False(t, got.Disabled)

	assert.Error(t, mgr.DisableCredential("missing"))
}

func TestManagerDeleteCredential(t *testing.T) {
	mgr, dir := newTestManager(t)
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"tok"}`)
	require.NoError(t, mgr.LoadCredentials())
	require.NoError(t, mgr.DisableCredential("alpha"))

	require.NoError(t, mgr.DeleteCredential("alpha"))

	_, ok := mgr.GetCredentialByID("alpha")
	assert.False(t, ok)
	_, err := os.Stat(filepath.Join(dir, "alpha.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "alpha.state.json"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, mgr.DeleteCredential("alpha"))
}

func TestManagerResetCredential(t *testing.T) {
	mgr, dir := newTestManager(t)
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"tok"}`)
	require.NoError(t, mgr.LoadCredentials())

	got, _ := mgr.GetCredentialByID("alpha")
	require.NotNil(t, got)

	_, err := mgr.mutateCredential("alpha", func(c *Credential) error {
		c.Healthy = false
		c.LastError = "boom"
		c.ErrorCount++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, mgr.ResetCredential("alpha"))
	got, _ = mgr.GetCredentialByID("alpha")
	assert.True(t, got.Healthy)
	assert.Empty(t, got.LastError)
	assert.Zero(t, got.ErrorCount)
}

func TestManagerInFlightGuards(t *testing.T) {
	mgr, _ := newTestManager(t)

	assert.True(t, mgr.TryBeginOp("c1", OpDelete))
	assert.False(t, mgr.TryBeginOp("c1", OpDelete), "duplicate op must be rejected")
	assert.True(t, mgr.TryBeginOp("c1", OpCheck), "different op on same credential is fine")
	assert.True(t, mgr.TryBeginOp("c2", OpDelete), "same op on another credential is fine")

	flags := mgr.InFlight("c1")
	assert.True(t, flags[OpDelete])
	assert.True(t, flags[OpCheck])
	assert.False(t, flags[OpRefresh])

	mgr.EndOp("c1", OpDelete)
	assert.True(t, mgr.TryBeginOp("c1", OpDelete))

	mgr.EndOp("c1", OpDelete)
	mgr.EndOp("c1", OpCheck)
	assert.Empty(t, mgr.InFlight("c1"))
}

type fakeRefresher struct {
	result   *oauth.TokenResult
	err      error
	failures int
	calls    int
}

func (f *fakeRefresher) RefreshToken(_ context.Context, _ string) (*oauth.TokenResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient refresh error")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newRefreshTestManager(t *testing.T, f *fakeRefresher, retries int) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	mgr := NewManager(Options{AuthDir: dir, Refresher: f, RefreshMaxRetries: retries})
	return mgr, dir
}

func TestManagerRefreshCredential(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	fake := &fakeRefresher{result: &oauth.TokenResult{
		AccessToken: "fresh",
		ExpiresAt:   expiry,
	}}
	mgr, dir := newRefreshTestManager(t, fake, 3)
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"old","refresh_token":"ref"}`)
	require.NoError(t, mgr.LoadCredentials())

	require.NoError(t, mgr.RefreshCredential(context.Background(), "alpha"))
	assert.Equal(t, 1, fake.calls, "pool uses the injected refresher")

	got, _ := mgr.GetCredentialByID("alpha")
	assert.Equal(t, "fresh", got.AccessToken)
	assert.Equal(t, "ref", got.RefreshToken, "old refresh token is kept when none is returned")
	assert.True(t, got.Healthy)
	assert.False(t, got.LastRefresh.IsZero())
}

func TestManagerRefreshFailureMarksCredential(t *testing.T) {
	mgr, dir := newRefreshTestManager(t, &fakeRefresher{err: errors.New("invalid_grant")}, 1)
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"old","refresh_token":"ref"}`)
	require.NoError(t, mgr.LoadCredentials())

	err := mgr.RefreshCredential(context.Background(), "alpha")
	require.Error(t, err)

	got, _ := mgr.GetCredentialByID("alpha")
	assert.False(t, got.Healthy)
	assert.Contains(t, got.LastError, "invalid_grant")
}

func TestManagerRefreshRejectsNonOAuth(t *testing.T) {
	mgr, dir := newTestManager(t)
	writeCredentialFile(t, dir, "key.json", `{"api_key":"sk"}`)
	require.NoError(t, mgr.LoadCredentials())

	err := mgr.RefreshCredential(context.Background(), "key")
	assert.Error(t, err)

	err = mgr.RefreshCredential(context.Background(), "missing")
	assert.Error(t, err)
}

func TestManagerRefreshRetries(t *testing.T) {
	fake := &fakeRefresher{
		failures: 1,
		result:   &oauth.TokenResult{AccessToken: "fresh"},
	}
	mgr, dir := newRefreshTestManager(t, fake, 3)
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"old","refresh_token":"ref"}`)
	require.NoError(t, mgr.LoadCredentials())

	require.NoError(t, mgr.RefreshCredential(context.Background(), "alpha"))
	assert.Equal(t, 2, fake.calls, "first attempt fails, second succeeds")
}

// blockingRefresher holds its first call open until released so a second
// caller can pile onto the in-flight refresh.
type blockingRefresher struct {
	started chan struct{}
	release chan struct{}
	err     error

	mu    sync.Mutex
	calls int
}

func (b *blockingRefresher) RefreshToken(_ context.Context, _ string) (*oauth.TokenResult, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.started)
		<-b.release
	}
	return nil, b.err
}

func TestManagerRefreshCoalescedCallersShareError(t *testing.T) {
	fake := &blockingRefresher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		err:     errors.New("stale grant"),
	}
	dir := t.TempDir()
	mgr := NewManager(Options{AuthDir: dir, Refresher: fake, RefreshMaxRetries: 1})
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"old","refresh_token":"ref"}`)
	require.NoError(t, mgr.LoadCredentials())

	leaderErr := make(chan error, 1)
	go func() { leaderErr <- mgr.RefreshCredential(context.Background(), "alpha") }()
	<-fake.started

	followerErr := make(chan error, 1)
	go func() { followerErr <- mgr.RefreshCredential(context.Background(), "alpha") }()

	time.Sleep(50 * time.Millisecond)
	close(fake.release)

	require.Error(t, <-leaderErr)
	err := <-followerErr
	require.Error(t, err, "coalesced caller must not report success for a failed refresh")
	assert.ErrorContains(t, err, "stale grant")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.calls, "second caller joins the in-flight refresh")
}

func TestManagerConcurrentToggleAndList(t *testing.T) {
	mgr, dir := newTestManager(t)
	writeCredentialFile(t, dir, "alpha.json", `{"access_token":"tok"}`)
	require.NoError(t, mgr.LoadCredentials())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(stop)
		for i := 0; i < 100; i++ {
			assert.NoError(t, mgr.DisableCredential("alpha"))
			assert.NoError(t, mgr.EnableCredential("alpha"))
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, cred := range mgr.GetAllCredentials() {
				_ = cred.Disabled
			}
		}
	}()

	wg.Wait()

	got, ok := mgr.GetCredentialByID("alpha")
	require.True(t, ok)
	assert.False(t, got.Disabled)
}

func TestManagerShouldRefresh(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.refreshAheadSec = 300

	tests := []struct {
		name string
		cred *Credential
		want bool
	}{
		{"nil", nil, false},
		{"api key", &Credential{Type: TypeAPIKey}, false},
		{"disabled", &Credential{Type: TypeGoogleOAuth, Disabled: true, RefreshToken: "r"}, false},
		{"no refresh token", &Credential{Type: TypeGoogleOAuth}, false},
		{"no access token", &Credential{Type: TypeGoogleOAuth, RefreshToken: "r"}, true},
		{"inside ahead window", &Credential{
			Type: TypeGoogleOAuth, RefreshToken: "r", AccessToken: "a",
			ExpiresAt: time.Now().Add(2 * time.Minute),
		}, true},
		{"plenty of time left", &Credential{
			Type: TypeGoogleOAuth, RefreshToken: "r", AccessToken: "a",
			ExpiresAt: time.Now().Add(time.Hour),
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mgr.shouldRefresh(tt.cred))
		})
	}
}
