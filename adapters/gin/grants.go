package whitelistgin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fernandezvara/whitelistkit"
)

type grantBody struct {
	SteamID       string                    `json:"steam_id"`
	DiscordUserID string                    `json:"discord_user_id"`
	EOSID         string                    `json:"eos_id"`
	Username      string                    `json:"username"`
	Source        whitelistkit.GrantSource  `json:"source"`
	Kind          whitelistkit.GrantKind    `json:"kind"`
	DurationValue *int                      `json:"duration_value"`
	DurationType  whitelistkit.DurationType `json:"duration_type"`
	GrantedAt     *time.Time                `json:"granted_at"`
	Metadata      whitelistkit.Metadata     `json:"metadata"`
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (a *api) handleGrantPOST(c *gin.Context) {
	var body grantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	req := whitelistkit.GrantRequest{
		SteamID:       body.SteamID,
		DiscordUserID: body.DiscordUserID,
		EOSID:         body.EOSID,
		Username:      body.Username,
		Source:        body.Source,
		Kind:          body.Kind,
		DurationValue: body.DurationValue,
		DurationType:  body.DurationType,
		Metadata:      body.Metadata,
	}
	if body.GrantedAt != nil {
		req.GrantedAt = *body.GrantedAt
	}
	grant, err := a.svc.Grant(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

func (a *api) handleGrantsGET(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter := whitelistkit.GrantFilter{
		SteamID:        c.Query("steam_id"),
		DiscordUserID:  c.Query("discord_user_id"),
		Source:         whitelistkit.GrantSource(c.Query("source")),
		Kind:           whitelistkit.GrantKind(c.Query("kind")),
		IncludeRevoked: c.Query("include_revoked") == "true",
		Limit:          limit,
		Offset:         offset,
	}
	items, err := a.svc.ListGrants(c.Request.Context(), filter)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "limit": limit, "offset": offset})
}

func (a *api) handleGrantGET(c *gin.Context) {
	grant, err := a.svc.GetGrant(c.Request.Context(), c.Param("grant_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (a *api) handleGrantRevokeDELETE(c *gin.Context) {
	var body reasonBody
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = c.Query("reason")
	}
	if err := a.svc.Revoke(c.Request.Context(), c.Param("grant_id"), body.Reason); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) handleGrantPurgeDELETE(c *gin.Context) {
	if err := a.svc.Purge(c.Request.Context(), c.Param("grant_id")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) handleGrantRolePATCH(c *gin.Context) {
	var body struct {
		RoleName string `json:"role_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.RoleName == "" {
		badRequest(c, "role_name is required")
		return
	}
	if err := a.svc.CorrectRoleName(c.Request.Context(), c.Param("grant_id"), body.RoleName); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) handleSubjectStatusGET(c *gin.Context) {
	status, err := a.svc.SubjectStatus(c.Request.Context(), c.Param("steam_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (a *api) handleSubjectRevokePOST(c *gin.Context) {
	var body reasonBody
	_ = c.ShouldBindJSON(&body)
	n, err := a.svc.RevokeSubject(c.Request.Context(), c.Param("steam_id"), body.Reason)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}
