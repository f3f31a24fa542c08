package management

import (
	"encoding/json"
	"net/http"
	"strings"

	"antigravity2api-go/internal/cardview"
	"antigravity2api-go/internal/credential"
	"antigravity2api-go/internal/monitoring"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// cardFor derives the render-ready card for one credential, folding the
// manager's in-flight operations into the busy flags.
func (h *AdminAPIHandler) cardFor(cred *credential.Credential) cardview.CardView {
	flags := h.credMgr.InFlight(cred.ID)
	busy := cardview.BusyFlags{
		Deleting:        flags[credential.OpDelete],
		CheckingHealth:  flags[credential.OpCheck],
		RefreshingToken: flags[credential.OpRefresh],
	}
	return cardview.Derive(cardview.Subject{
		ID:         cred.ID,
		Name:       cred.Name,
		Type:       cred.Type,
		Disabled:   cred.Disabled,
		Healthy:    cred.Healthy,
		LastError:  cred.LastError,
		UsageCount: cred.UsageCount,
		ErrorCount: cred.ErrorCount,
	}, busy)
}

// credentialPayload is the sanitized representation returned by list/get.
// Token material never leaves the server through these endpoints.
func (h *AdminAPIHandler) credentialPayload(cred *credential.Credential) gin.H {
	return gin.H{
		"card":         h.cardFor(cred),
		"type":         cred.Type,
		"source":       cred.Source,
		"email":        cred.Email,
		"project_id":   cred.ProjectOrTemp(),
		"expires_at":   cred.ExpiresAt,
		"last_refresh": cred.LastRefresh,
		"created_at":   cred.CreatedAt,
		"updated_at":   cred.UpdatedAt,
	}
}

// ListCredentials returns all credentials as render-ready cards.
func (h *AdminAPIHandler) ListCredentials(c *gin.Context) {
	creds := h.credMgr.GetAllCredentials()

	out := make([]gin.H, len(creds))
	for i, cred := range creds {
		out[i] = h.credentialPayload(cred)
	}
	monitoring.CredentialPoolSize.Set(float64(len(creds)))

	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

// GetCredential returns a single credential card.
func (h *AdminAPIHandler) GetCredential(c *gin.Context) {
	cred, ok := h.credMgr.GetCredentialByID(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "Credential not found")
		return
	}
	c.JSON(http.StatusOK, h.credentialPayload(cred))
}

type addCredentialRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	APIKey       string `json:"api_key"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ProjectID    string `json:"project_id"`
	Email        string `json:"email"`
}

// AddCredential registers a new credential in the pool.
func (h *AdminAPIHandler) AddCredential(c *gin.Context) {
	var req addCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.APIKey == "" && req.AccessToken == "" && req.RefreshToken == "" {
		respondError(c, http.StatusBadRequest, "credential needs an api_key or oauth tokens")
		return
	}

	cred := &credential.Credential{
		Name:         req.Name,
		Type:         req.Type,
		APIKey:       req.APIKey,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ProjectID:    req.ProjectID,
		Email:        req.Email,
	}
	if err := h.credMgr.AddCredential(c.Request.Context(), cred); err != nil {
		respondError(c, http.StatusConflict, err.Error())
		return
	}

	h.audit(c, "credential.add", log.Fields{"id": cred.ID, "type": cred.Type})
	c.JSON(http.StatusCreated, h.credentialPayload(cred))
}

type updateCredentialRequest struct {
	Name      *string `json:"name"`
	ProjectID *string `json:"project_id"`
	Email     *string `json:"email"`
}

// UpdateCredential edits the mutable display fields of a credential.
func (h *AdminAPIHandler) UpdateCredential(c *gin.Context) {
	id := c.Param("id")

	var req updateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cred, err := h.credMgr.UpdateCredential(id, func(cr *credential.Credential) {
		if req.Name != nil {
			cr.Name = strings.TrimSpace(*req.Name)
		}
		if req.ProjectID != nil {
			cr.ProjectID = strings.TrimSpace(*req.ProjectID)
		}
		if req.Email != nil {
			cr.Email = strings.TrimSpace(*req.Email)
		}
	})
	if err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}

	h.audit(c, "credential.update", log.Fields{"id": id})
	c.JSON(http.StatusOK, h.credentialPayload(cred))
}

// EnableCredential enables a credential.
func (h *AdminAPIHandler) EnableCredential(c *gin.Context) {
	id := c.Param("id")

	if err := h.credMgr.EnableCredential(id); err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}

	h.audit(c, "credential.enable", log.Fields{"id": id})
	h.respondWithCard(c, id, "Credential enabled")
}

// DisableCredential disables a credential.
func (h *AdminAPIHandler) DisableCredential(c *gin.Context) {
	id := c.Param("id")

	if err := h.credMgr.DisableCredential(id); err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}

	h.audit(c, "credential.disable", log.Fields{"id": id})
	h.respondWithCard(c, id, "Credential disabled")
}

// ToggleCredential flips the disabled flag, which is what the card's toggle
// control maps to.
func (h *AdminAPIHandler) ToggleCredential(c *gin.Context) {
	id := c.Param("id")

	cred, ok := h.credMgr.GetCredentialByID(id)
	if !ok {
		respondError(c, http.StatusNotFound, "Credential not found")
		return
	}

	var err error
	action := "credential.disable"
	if cred.Disabled {
		err = h.credMgr.EnableCredential(id)
		action = "credential.enable"
	} else {
		err = h.credMgr.DisableCredential(id)
	}
	if err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}

	h.audit(c, action, log.Fields{"id": id, "via": "toggle"})
	h.respondWithCard(c, id, "Credential toggled")
}

// ResetCredential clears runtime counters and error state.
func (h *AdminAPIHandler) ResetCredential(c *gin.Context) {
	id := c.Param("id")

	if err := h.credMgr.ResetCredential(id); err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}

	h.audit(c, "credential.reset", log.Fields{"id": id})
	h.respondWithCard(c, id, "Credential stats reset")
}

// CheckCredential runs a health check. A check already in flight for the same
// credential is answered with 409 instead of starting a duplicate probe.
func (h *AdminAPIHandler) CheckCredential(c *gin.Context) {
	id := c.Param("id")

	if !h.credMgr.TryBeginOp(id, credential.OpCheck) {
		respondError(c, http.StatusConflict, "health check already in progress")
		return
	}
	defer h.credMgr.EndOp(id, credential.OpCheck)

	result, err := h.credMgr.CheckCredentialHealth(c.Request.Context(), h.healthChecker, id)
	if err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}

	outcome := "unhealthy"
	if result.Healthy {
		outcome = "healthy"
	}
	monitoring.CredentialHealthChecks.WithLabelValues(id, outcome).Inc()

	h.audit(c, "credential.check", log.Fields{"id": id, "healthy": result.Healthy})

	cred, _ := h.credMgr.GetCredentialByID(id)
	payload := gin.H{"result": result}
	if cred != nil {
		payload["card"] = h.cardFor(cred)
	}
	c.JSON(http.StatusOK, payload)
}

// RefreshCredential forces an OAuth token refresh. Duplicate requests while a
// refresh is running are answered with 409.
func (h *AdminAPIHandler) RefreshCredential(c *gin.Context) {
	id := c.Param("id")

	if !h.credMgr.TryBeginOp(id, credential.OpRefresh) {
		respondError(c, http.StatusConflict, "token refresh already in progress")
		return
	}
	defer h.credMgr.EndOp(id, credential.OpRefresh)

	if cred, ok := h.credMgr.GetCredentialByID(id); !ok {
		respondError(c, http.StatusNotFound, "Credential not found")
		return
	} else if !cred.IsOAuth() {
		respondError(c, http.StatusBadRequest, "credential is not OAuth type")
		return
	}

	if err := h.credMgr.RefreshCredential(c.Request.Context(), id); err != nil {
		monitoring.CredentialRefreshes.WithLabelValues(id, "error").Inc()
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	monitoring.CredentialRefreshes.WithLabelValues(id, "ok").Inc()

	h.audit(c, "credential.refresh", log.Fields{"id": id})
	h.respondWithCard(c, id, "Token refreshed")
}

// DeleteCredential removes a credential. A delete already in flight is
// answered with 409.
func (h *AdminAPIHandler) DeleteCredential(c *gin.Context) {
	id := c.Param("id")

	if !h.credMgr.TryBeginOp(id, credential.OpDelete) {
		respondError(c, http.StatusConflict, "delete already in progress")
		return
	}
	defer h.credMgr.EndOp(id, credential.OpDelete)

	if err := h.credMgr.DeleteCredential(id); err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}

	h.audit(c, "credential.delete", log.Fields{"id": id})
	c.JSON(http.StatusOK, gin.H{"message": "Credential deleted", "id": id})
}

// ExportCredential returns the raw credential record with secret fields
// stripped out.
func (h *AdminAPIHandler) ExportCredential(c *gin.Context) {
	cred, ok := h.credMgr.GetCredentialByID(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "Credential not found")
		return
	}

	raw, err := json.Marshal(cred)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	for _, secret := range []string{"access_token", "refresh_token", "api_key"} {
		if raw, err = sjson.DeleteBytes(raw, secret); err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
	}

	h.audit(c, "credential.export", log.Fields{"id": cred.ID})
	c.Data(http.StatusOK, "application/json", raw)
}

// ReloadCredentials reloads the pool from its sources.
func (h *AdminAPIHandler) ReloadCredentials(c *gin.Context) {
	if err := h.credMgr.LoadCredentials(); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	creds := h.credMgr.GetAllCredentials()
	monitoring.CredentialPoolSize.Set(float64(len(creds)))

	h.audit(c, "credential.reload", log.Fields{"count": len(creds)})
	c.JSON(http.StatusOK, gin.H{"message": "Credentials reloaded", "count": len(creds)})
}

// SupportedModels lists the models the Antigravity provider serves.
func (h *AdminAPIHandler) SupportedModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": cardview.SupportedModels})
}

func (h *AdminAPIHandler) respondWithCard(c *gin.Context, id, message string) {
	cred, ok := h.credMgr.GetCredentialByID(id)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"message": message, "id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "card": h.cardFor(cred)})
}
