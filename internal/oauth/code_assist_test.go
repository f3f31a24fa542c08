package oauth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// codeAssistServer fakes the Cloud AI Companion API plus the token/user info
// endpoints the onboarding flow primes for personal accounts.
type codeAssistServer struct {
	srv *httptest.Server

	mu           sync.Mutex
	loadBody     string
	onboardBody  string
	onboardCalls int
	loadResp     string
	onboardResps []string
}

func newCodeAssistServer(t *testing.T, loadResp string, onboardResps ...string) *codeAssistServer {
	t.Helper()
	cas := &codeAssistServer{loadResp: loadResp, onboardResps: onboardResps}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1internal:loadCodeAssist", func(w http.ResponseWriter, r *http.Request) {
		cas.mu.Lock()
		cas.loadBody = string(readBody(r))
		cas.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cas.loadResp))
	})
	mux.HandleFunc("/v1internal:onboardUser", func(w http.ResponseWriter, r *http.Request) {
		cas.mu.Lock()
		cas.onboardBody = string(readBody(r))
		idx := cas.onboardCalls
		cas.onboardCalls++
		cas.mu.Unlock()
		if idx >= len(cas.onboardResps) {
			idx = len(cas.onboardResps) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cas.onboardResps[idx]))
	})
	mux.HandleFunc("/tokeninfo", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"aud":"x"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"email":"dev@example.com"}`))
	})

	cas.srv = httptest.NewServer(mux)
	t.Cleanup(cas.srv.Close)
	return cas
}

func readBody(r *http.Request) []byte {
	defer r.Body.Close()
	body, _ := io.ReadAll(r.Body)
	return body
}

func (cas *codeAssistServer) manager() *Manager {
	return NewManager(
		WithCodeAssistEndpoint(cas.srv.URL),
		WithEndpoints("", "", cas.srv.URL+"/userinfo", cas.srv.URL+"/tokeninfo"),
	)
}

func TestSetupUserMintsProjectForPersonalAccount(t *testing.T) {
	cas := newCodeAssistServer(t,
		`{"cloudaicompanionProject":"temp-proj","allowedTiers":[{"id":"FREE","isDefault":true}]}`,
		`{"done":true,"response":{"cloudaicompanionProject":{"id":"minted-proj"}}}`,
	)

	result, err := cas.manager().SetupUser(context.Background(), "tok", "")
	require.NoError(t, err)

	assert.Equal(t, "minted-proj", result.ProjectID)
	assert.Equal(t, TierFree, result.Tier)

	cas.mu.Lock()
	defer cas.mu.Unlock()
	assert.Equal(t, "FREE", gjson.Get(cas.onboardBody, "tierId").String())
	assert.Equal(t, "temp-proj", gjson.Get(cas.onboardBody, "cloudaicompanionProject").String())
}

func TestSetupUserKeepsSuppliedProject(t *testing.T) {
	cas := newCodeAssistServer(t,
		`{"currentTier":{"id":"PRO"}}`,
		`{"done":true}`,
	)

	result, err := cas.manager().SetupUser(context.Background(), "tok", "my-proj")
	require.NoError(t, err)

	assert.Equal(t, "my-proj", result.ProjectID)
	assert.Equal(t, TierPro, result.Tier)

	cas.mu.Lock()
	defer cas.mu.Unlock()
	assert.Equal(t, "my-proj", gjson.Get(cas.loadBody, "cloudaicompanionProject").String())
	assert.Equal(t, "my-proj", gjson.Get(cas.loadBody, "metadata.duetProject").String())
}

func TestOnboardUserPollsUntilDone(t *testing.T) {
	cas := newCodeAssistServer(t,
		`{}`,
		`{"done":false}`,
		`{"done":true,"response":{"cloudaicompanionProject":{"id":"p"}}}`,
	)

	m := cas.manager()
	m.onboardPollInterval = time.Millisecond

	resp, err := m.OnboardUser(context.Background(), "tok", TierLegacy, "")
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Equal(t, "p", resp.Response.CloudAICompanionProject.ID)

	cas.mu.Lock()
	defer cas.mu.Unlock()
	assert.Equal(t, 2, cas.onboardCalls)
}

func TestLoadCodeAssistUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer srv.Close()

	m := NewManager(
		WithCodeAssistEndpoint(srv.URL),
		WithEndpoints("", "", srv.URL+"/userinfo", srv.URL+"/tokeninfo"),
	)

	_, err := m.LoadCodeAssist(context.Background(), "tok", "proj")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestOnboardTierSelection(t *testing.T) {
	tests := []struct {
		name string
		resp LoadCodeAssistResponse
		want string
	}{
		{"current tier wins", LoadCodeAssistResponse{
			CurrentTier:  &TierInfo{ID: "PRO"},
			AllowedTiers: []TierInfo{{ID: "FREE", IsDefault: true}},
		}, TierPro},
		{"default tier from catalog", LoadCodeAssistResponse{
			AllowedTiers: []TierInfo{{ID: "LEGACY"}, {ID: "FREE", IsDefault: true}},
		}, TierFree},
		{"unknown tier falls back to legacy", LoadCodeAssistResponse{
			CurrentTier: &TierInfo{ID: "ULTRA"},
		}, TierLegacy},
		{"empty response", LoadCodeAssistResponse{}, TierLegacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.OnboardTier())
		})
	}
}
