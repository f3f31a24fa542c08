package management

import (
	"net/http"
	"strings"

	"antigravity2api-go/internal/credential"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// StartOAuthFlow begins the Gemini CLI OAuth flow and returns the
// authorization URL the operator opens in a browser.
func (h *AdminAPIHandler) StartOAuthFlow(c *gin.Context) {
	projectID := strings.TrimSpace(c.Query("project_id"))

	authURL, state, err := h.oauthMgr.StartAuthFlow(projectID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	h.audit(c, "oauth.start", log.Fields{"state": state})
	c.JSON(http.StatusOK, gin.H{"auth_url": authURL, "state": state})
}

type oauthCallbackRequest struct {
	Code      string `json:"code" binding:"required"`
	State     string `json:"state" binding:"required"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
}

// CompleteOAuthFlow exchanges the pasted authorization code for tokens and
// registers the resulting credential in the pool.
func (h *AdminAPIHandler) CompleteOAuthFlow(c *gin.Context) {
	var req oauthCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	result, err := h.oauthMgr.HandleCallback(ctx, req.Code, req.State)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	cred := &credential.Credential{
		Name:         req.Name,
		Type:         credential.TypeGoogleOAuth,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.ExpiresAt,
		ProjectID:    req.ProjectID,
		Scope:        result.Scope,
	}

	// Best effort: resolve the account email so the card has a display name.
	if email, err := h.oauthMgr.GetUserEmail(ctx, result.AccessToken); err == nil {
		cred.Email = email
		if cred.Name == "" {
			cred.Name = email
		}
	} else {
		log.WithError(err).Warn("could not resolve account email for new credential")
	}

	// Personal accounts carry no project of their own; Code Assist onboarding
	// mints a temporary one the credential can bill against.
	if cred.ProjectID == "" {
		if setup, err := h.oauthMgr.SetupUser(ctx, result.AccessToken, ""); err == nil {
			cred.TempProjectID = setup.ProjectID
		} else {
			log.WithError(err).Warn("code assist onboarding failed; credential has no project id")
		}
	}

	if err := h.credMgr.AddCredential(ctx, cred); err != nil {
		respondError(c, http.StatusConflict, err.Error())
		return
	}

	h.audit(c, "oauth.complete", log.Fields{"id": cred.ID, "email": cred.Email})
	c.JSON(http.StatusCreated, h.credentialPayload(cred))
}
