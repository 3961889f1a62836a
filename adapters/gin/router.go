// Package whitelistgin exposes the whitelist service over HTTP with gin:
// the public combined whitelist for game servers and the admin API.
package whitelistgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fernandezvara/whitelistkit"
)

// Config configures the routes.
type Config struct {
	Middleware *whitelistkit.Middleware
	Health     whitelistkit.HealthMonitor
	Logger     logrus.FieldLogger
}

type api struct {
	svc    *whitelistkit.Service
	mw     *whitelistkit.Middleware
	health whitelistkit.HealthMonitor
	logger logrus.FieldLogger
}

// Register mounts every route on r. The combined whitelist and the health
// check are public, everything under /api requires the admin token.
func Register(r gin.IRouter, svc *whitelistkit.Service, cfg Config) {
	if cfg.Middleware == nil {
		cfg.Middleware = whitelistkit.NewMiddleware("")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	a := &api{svc: svc, mw: cfg.Middleware, health: cfg.Health, logger: cfg.Logger.WithField("component", "http")}

	r.GET("/healthz", a.handleHealthGET)
	r.GET("/whitelist.txt", a.handleExportTextGET)
	r.GET("/whitelist.json", a.handleExportJSONGET)

	admin := r.Group("/api", a.requireAdmin(), a.auditContext())
	{
		admin.GET("/entitlements", a.handleEntitlementsGET)

		admin.POST("/grants", a.handleGrantPOST)
		admin.GET("/grants", a.handleGrantsGET)
		admin.GET("/grants/:grant_id", a.handleGrantGET)
		admin.DELETE("/grants/:grant_id", a.handleGrantRevokeDELETE)
		admin.DELETE("/grants/:grant_id/purge", a.handleGrantPurgeDELETE)
		admin.PATCH("/grants/:grant_id/role", a.handleGrantRolePATCH)

		admin.GET("/subjects/:steam_id/status", a.handleSubjectStatusGET)
		admin.POST("/subjects/:steam_id/revoke", a.handleSubjectRevokePOST)

		admin.GET("/roles", a.handleRoleConfigsGET)
		admin.POST("/roles", a.handleRoleConfigPOST)
		admin.GET("/roles/:role_id", a.handleRoleConfigGET)
		admin.PUT("/roles/:role_id", a.handleRoleConfigPUT)
		admin.DELETE("/roles/:role_id", a.handleRoleConfigDELETE)

		admin.GET("/links/:discord_user_id", a.handleLinksGET)
		admin.POST("/links/potential", a.handlePotentialLinkPOST)
		admin.POST("/links/verify", a.handleVerifyLinkPOST)
		admin.POST("/links/:discord_user_id/force-verify", a.handleForceVerifyPOST)

		admin.POST("/sync", a.handleSyncAllPOST)
		admin.POST("/sync/:discord_user_id", a.handleSyncUserPOST)
		admin.POST("/sync/:discord_user_id/upgrade", a.handleUpgradePOST)

		admin.GET("/audit", a.handleAuditGET)
	}
}

func (a *api) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.mw.CheckAdminToken(c.Request); err != nil {
			a.fail(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *api) auditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(a.mw.RequestContext(c.Request))
		c.Next()
	}
}

// fail writes err with the status it maps to. Server errors are logged and
// not echoed.
func (a *api) fail(c *gin.Context, err error) {
	code := whitelistkit.HTTPStatus(err)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		a.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(code, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (a *api) handleHealthGET(c *gin.Context) {
	if a.health == nil {
		c.JSON(http.StatusOK, gin.H{"healthy": true})
		return
	}
	status := a.health.Health(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"healthy": status.Healthy, "error": status.Error, "pool": a.health.GetPoolStats()})
}
