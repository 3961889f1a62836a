package whitelistgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fernandezvara/whitelistkit"
)

type linkBody struct {
	DiscordUserID string                  `json:"discord_user_id"`
	SteamID       string                  `json:"steam_id"`
	EOSID         string                  `json:"eos_id"`
	Username      string                  `json:"username"`
	Source        whitelistkit.LinkSource `json:"source"`
	Confidence    float64                 `json:"confidence"`
}

func (b linkBody) request() whitelistkit.LinkRequest {
	return whitelistkit.LinkRequest{
		DiscordUserID: b.DiscordUserID,
		SteamID:       b.SteamID,
		EOSID:         b.EOSID,
		Username:      b.Username,
		Source:        b.Source,
		Confidence:    b.Confidence,
	}
}

func upgradeJSON(res whitelistkit.UpgradeResult) gin.H {
	return gin.H{
		"discord_user_id": res.DiscordUserID,
		"confidence":      res.Confidence,
		"upgraded":        res.Upgraded,
		"skipped":         res.Skipped,
		"sync":            res.Sync,
		"sync_error":      errString(res.SyncErr),
		"sync_scheduled":  res.SyncScheduled,
	}
}

func (a *api) handleLinksGET(c *gin.Context) {
	set, err := a.svc.GetLinks(c.Request.Context(), c.Param("discord_user_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

func (a *api) handlePotentialLinkPOST(c *gin.Context) {
	var body linkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	link, err := a.svc.RecordPotentialLink(c.Request.Context(), body.request())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (a *api) handleVerifyLinkPOST(c *gin.Context) {
	var body linkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	res, err := a.svc.VerifyLink(c.Request.Context(), body.request())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, upgradeJSON(res))
}

func (a *api) handleForceVerifyPOST(c *gin.Context) {
	var body struct {
		SteamID string `json:"steam_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.SteamID == "" {
		badRequest(c, "steam_id is required")
		return
	}
	res, err := a.svc.ForceVerify(c.Request.Context(), c.Param("discord_user_id"), body.SteamID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, upgradeJSON(res))
}
