package management

import (
	"net/http"
	"strings"
	"time"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/credential"
	"antigravity2api-go/internal/events"
	"antigravity2api-go/internal/oauth"
	"antigravity2api-go/internal/version"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AdminAPIHandler provides the management API for the credential pool.
type AdminAPIHandler struct {
	cfg           *config.Config
	credMgr       *credential.Manager
	healthChecker *credential.HealthChecker
	oauthMgr      *oauth.Manager
	hub           *events.Hub
	startTime     time.Time
}

// NewAdminAPIHandler wires the handler with its collaborators.
func NewAdminAPIHandler(
	cfg *config.Config,
	credMgr *credential.Manager,
	healthChecker *credential.HealthChecker,
	oauthMgr *oauth.Manager,
	hub *events.Hub,
) *AdminAPIHandler {
	return &AdminAPIHandler{
		cfg:           cfg,
		credMgr:       credMgr,
		healthChecker: healthChecker,
		oauthMgr:      oauthMgr,
		hub:           hub,
		startTime:     time.Now(),
	}
}

// Status reports service liveness and pool size.
func (h *AdminAPIHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        version.Version,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"credentials":    len(h.credMgr.GetAllCredentials()),
	})
}

// respondError is the single management error response shape.
func respondError(c *gin.Context, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "error"
	}
	code := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	if code == "" {
		code = "unknown_error"
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"message":   message,
			"type":      "management_error",
			"code":      code,
			"http_code": status,
		},
	})
}

func (h *AdminAPIHandler) audit(c *gin.Context, action string, fields log.Fields) {
	if fields == nil {
		fields = log.Fields{}
	}
	fields["component"] = "audit"
	fields["action"] = action
	fields["remote_ip"] = c.ClientIP()
	if ua := c.Request.UserAgent(); ua != "" {
		fields["user_agent"] = ua
	}
	log.WithFields(fields).Info("management audit")
}
