package server

import (
	"net/http"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/handlers/management"
	"antigravity2api-go/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Build assembles the gin engine: ambient middleware, public probes, and the
// key-protected management API.
func Build(cfg *config.Config, admin *management.AdminAPIHandler) *gin.Engine {
	if cfg.Logging.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.Metrics(),
		middleware.RateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerManagementRoutes(r, cfg, admin)
	return r
}

func registerManagementRoutes(r *gin.Engine, cfg *config.Config, admin *management.AdminAPIHandler) {
	api := r.Group("/v0/management", middleware.ManagementAuth(middleware.ManagementAuthConfig{
		Key:     cfg.Auth.ManagementKey,
		KeyHash: cfg.Auth.ManagementKeyHash,
	}))

	api.GET("/status", admin.Status)
	api.GET("/models", admin.SupportedModels)
	api.GET("/events/ws", admin.EventsWebSocket)

	creds := api.Group("/credentials")
	creds.GET("", admin.ListCredentials)
	creds.POST("", admin.AddCredential)
	creds.POST("/reload", admin.ReloadCredentials)
	creds.GET("/:id", admin.GetCredential)
	creds.PATCH("/:id", admin.UpdateCredential)
	creds.DELETE("/:id", admin.DeleteCredential)
	creds.POST("/:id/enable", admin.EnableCredential)
	creds.POST("/:id/disable", admin.DisableCredential)
	creds.POST("/:id/toggle", admin.ToggleCredential)
	creds.POST("/:id/reset", admin.ResetCredential)
	creds.POST("/:id/check", admin.CheckCredential)
	creds.POST("/:id/refresh", admin.RefreshCredential)
	creds.GET("/:id/export", admin.ExportCredential)

	oauthGroup := api.Group("/oauth")
	oauthGroup.GET("/start", admin.StartOAuthFlow)
	oauthGroup.POST("/callback", admin.CompleteOAuthFlow)
}
