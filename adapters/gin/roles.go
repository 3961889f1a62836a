package whitelistgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fernandezvara/whitelistkit"
)

type roleConfigBody struct {
	DiscordRoleID   string   `json:"discord_role_id"`
	GroupName       string   `json:"group_name"`
	PermissionSet   []string `json:"permission_set"`
	DiscordPosition int      `json:"discord_position"`
}

func (b roleConfigBody) config() whitelistkit.RoleConfig {
	return whitelistkit.RoleConfig{
		DiscordRoleID:   b.DiscordRoleID,
		GroupName:       b.GroupName,
		PermissionSet:   b.PermissionSet,
		DiscordPosition: b.DiscordPosition,
	}
}

func changeJSON(ch whitelistkit.RoleConfigChange) gin.H {
	return gin.H{"config": ch.Config, "sync": ch.Sync, "sync_error": errString(ch.SyncErr)}
}

func (a *api) handleRoleConfigsGET(c *gin.Context) {
	items, err := a.svc.ListRoleConfigs(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (a *api) handleRoleConfigGET(c *gin.Context) {
	rc, err := a.svc.GetRoleConfig(c.Request.Context(), c.Param("role_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

func (a *api) handleRoleConfigPOST(c *gin.Context) {
	var body roleConfigBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	ch, err := a.svc.CreateRoleConfig(c.Request.Context(), body.config())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, changeJSON(ch))
}

func (a *api) handleRoleConfigPUT(c *gin.Context) {
	var body roleConfigBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	body.DiscordRoleID = c.Param("role_id")
	ch, err := a.svc.UpdateRoleConfig(c.Request.Context(), body.config())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, changeJSON(ch))
}

func (a *api) handleRoleConfigDELETE(c *gin.Context) {
	ch, err := a.svc.DeleteRoleConfig(c.Request.Context(), c.Param("role_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, changeJSON(ch))
}
