package whitelistgin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fernandezvara/whitelistkit"
)

func (a *api) handleSyncAllPOST(c *gin.Context) {
	summary, err := a.svc.SyncAll(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleSyncUserPOST syncs one user. With ?group= the member is reconciled
// against that group directly instead of its live roles.
func (a *api) handleSyncUserPOST(c *gin.Context) {
	uid := c.Param("discord_user_id")
	var (
		res whitelistkit.SyncResult
		err error
	)
	if group, ok := c.GetQuery("group"); ok {
		res, err = a.svc.SyncMember(c.Request.Context(), uid, &group)
	} else {
		res, err = a.svc.SyncUser(c.Request.Context(), uid)
	}
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *api) handleUpgradePOST(c *gin.Context) {
	res, err := a.svc.UpgradeSecurityBlocked(c.Request.Context(), c.Param("discord_user_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, upgradeJSON(res))
}

func (a *api) handleAuditGET(c *gin.Context) {
	filter := whitelistkit.NewAuditLogFilter().
		WithActor(c.Query("actor_id")).
		WithTarget(c.Query("target_id")).
		WithAction(whitelistkit.AuditAction(c.Query("action"))).
		WithSeverity(whitelistkit.AuditSeverity(c.Query("severity")))

	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "since must be RFC3339")
			return
		}
		filter = filter.WithSince(t)
	}
	if v := c.Query("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "until must be RFC3339")
			return
		}
		filter = filter.WithUntil(t)
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter = filter.WithPagination(limit, offset)

	items, err := a.svc.GetAuditLog(c.Request.Context(), filter)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "limit": limit, "offset": offset})
}
