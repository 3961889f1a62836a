package whitelistgin

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fernandezvara/whitelistkit"
)

func (a *api) handleExportTextGET(c *gin.Context) {
	var buf bytes.Buffer
	if err := a.svc.ExportCombined(c.Request.Context(), &buf); err != nil {
		a.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

func (a *api) handleExportJSONGET(c *gin.Context) {
	groups, err := a.svc.CombinedWhitelist(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (a *api) handleEntitlementsGET(c *gin.Context) {
	kind := whitelistkit.GrantKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		badRequest(c, "invalid kind")
		return
	}
	items, err := a.svc.ActiveEntitlements(c.Request.Context(), kind)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}
