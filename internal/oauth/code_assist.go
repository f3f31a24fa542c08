package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Code Assist (Cloud AI Companion) API. Personal Google accounts have no
// Cloud project of their own; onboarding through this API mints a temporary
// one the Gemini CLI quota is billed against.
const (
	DefaultCodeAssistEndpoint = "https://cloudcode-pa.googleapis.com"
	codeAssistAPIVersion      = "v1internal"

	onboardMaxAttempts  = 12
	onboardPollInterval = 5 * time.Second
)

// Tier identifiers returned by loadCodeAssist.
const (
	TierLegacy = "LEGACY"
	TierFree   = "FREE"
	TierPro    = "PRO"
)

// TierInfo is one entry of the tier catalog in a loadCodeAssist response.
type TierInfo struct {
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault"`
}

// LoadCodeAssistResponse is the subset of the loadCodeAssist response the
// onboarding flow consumes.
type LoadCodeAssistResponse struct {
	CloudAICompanionProject string     `json:"cloudaicompanionProject"`
	CurrentTier             *TierInfo  `json:"currentTier"`
	AllowedTiers            []TierInfo `json:"allowedTiers"`
}

// OnboardTier picks the tier to onboard with: the account's current tier when
// set, else the catalog default, else legacy.
func (r *LoadCodeAssistResponse) OnboardTier() string {
	if r.CurrentTier != nil {
		return normalizeTier(r.CurrentTier.ID)
	}
	for _, tier := range r.AllowedTiers {
		if tier.IsDefault {
			return normalizeTier(tier.ID)
		}
	}
	return TierLegacy
}

func normalizeTier(id string) string {
	switch id {
	case TierPro, TierFree:
		return id
	default:
		return TierLegacy
	}
}

// OnboardResponse is the long-running-operation envelope onboardUser returns.
type OnboardResponse struct {
	Done     bool `json:"done"`
	Response struct {
		CloudAICompanionProject struct {
			ID string `json:"id"`
		} `json:"cloudaicompanionProject"`
	} `json:"response"`
}

// OnboardResult is the outcome of SetupUser: the project the account ended up
// provisioned under and the tier it was onboarded with.
type OnboardResult struct {
	ProjectID string
	Tier      string
}

// SetupUser runs the full Code Assist onboarding for a freshly authorized
// account: load the current configuration, pick the tier, and drive the
// onboardUser operation to completion. The returned project id is the one the
// credential should use when none was supplied by the operator.
func (m *Manager) SetupUser(ctx context.Context, accessToken, projectID string) (*OnboardResult, error) {
	loadRes, err := m.LoadCodeAssist(ctx, accessToken, projectID)
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		projectID = loadRes.CloudAICompanionProject
	}

	tier := loadRes.OnboardTier()
	onboardRes, err := m.OnboardUser(ctx, accessToken, tier, projectID)
	if err != nil {
		return nil, err
	}

	finalProject := onboardRes.Response.CloudAICompanionProject.ID
	if finalProject == "" {
		finalProject = projectID
	}

	log.Infof("Code Assist onboarding complete (tier %s, project %s)", tier, finalProject)
	return &OnboardResult{ProjectID: finalProject, Tier: tier}, nil
}

// LoadCodeAssist fetches the account's Code Assist configuration. Personal
// accounts without a project get a temporary one minted server-side; priming
// tokeninfo and userinfo first makes that reliable.
func (m *Manager) LoadCodeAssist(ctx context.Context, accessToken, projectID string) (*LoadCodeAssistResponse, error) {
	if projectID == "" {
		_, _ = m.ValidateToken(ctx, accessToken)
		_, _ = m.GetUserProfile(ctx, accessToken)
	}

	metadata := map[string]string{
		"ideType":    "IDE_UNSPECIFIED",
		"platform":   "PLATFORM_UNSPECIFIED",
		"pluginType": "GEMINI",
	}
	payload := map[string]any{"metadata": metadata}
	if projectID != "" {
		payload["cloudaicompanionProject"] = projectID
		metadata["duetProject"] = projectID
	}

	var out LoadCodeAssistResponse
	if err := m.postCodeAssist(ctx, "loadCodeAssist", accessToken, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OnboardUser starts the onboardUser long-running operation and polls it
// until done.
func (m *Manager) OnboardUser(ctx context.Context, accessToken, tierID, projectID string) (*OnboardResponse, error) {
	payload := map[string]any{
		"tierId": tierID,
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	if projectID != "" {
		payload["cloudaicompanionProject"] = projectID
	}

	for attempt := 0; attempt < onboardMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.onboardPollInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var out OnboardResponse
		if err := m.postCodeAssist(ctx, "onboardUser", accessToken, payload, &out); err != nil {
			return nil, err
		}
		if out.Done {
			return &out, nil
		}
		log.Debugf("Waiting for onboardUser to complete (%d/%d)", attempt+1, onboardMaxAttempts)
	}
	return nil, fmt.Errorf("onboardUser did not complete in time")
}

func (m *Manager) postCodeAssist(ctx context.Context, method, accessToken string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/%s:%s", m.codeAssistEndpoint, codeAssistAPIVersion, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed with status %d: %s", method, resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}
