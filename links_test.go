package whitelistkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPotentialLink(t *testing.T) {
	env := newTestEnv(t)

	link, err := env.svc.RecordPotentialLink(env.ctx, LinkRequest{
		DiscordUserID: "u1", SteamID: "765", Source: LinkTicket, Confidence: 0.4,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, link.ID)

	for _, bad := range []LinkRequest{
		{DiscordUserID: "u1", SteamID: "765", Source: LinkTicket, Confidence: 1},
		{DiscordUserID: "u1", SteamID: "765", Source: LinkTicket, Confidence: -0.1},
		{DiscordUserID: "u1", SteamID: "765", Source: "carrier-pigeon", Confidence: 0.5},
		{DiscordUserID: " ", SteamID: "765", Source: LinkTicket, Confidence: 0.5},
		{DiscordUserID: "u1", Source: LinkTicket, Confidence: 0.5},
	} {
		_, err := env.svc.RecordPotentialLink(env.ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidLink, "%+v", bad)
	}

	logs, err := env.svc.GetAuditLog(env.ctx, NewAuditLogFilter().WithAction(AuditPotentialLinkAdded))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestHighestConfidence(t *testing.T) {
	env := newTestEnv(t)

	conf, err := env.svc.HighestConfidence(env.ctx, "u1")
	require.NoError(t, err)
	assert.False(t, conf.Linked())
	assert.Zero(t, conf.Score)

	env.potential(t, "u1", "765", 0.4)
	env.potential(t, "u1", "766", 0.8)
	conf, err = env.svc.HighestConfidence(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, conf.Score)
	assert.Equal(t, "766", conf.SteamID)
	assert.False(t, conf.Verified)

	env.verify(t, "u1", "765")
	conf, err = env.svc.HighestConfidence(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, VerifiedConfidence, conf.Score)
	assert.Equal(t, "765", conf.SteamID)
	assert.True(t, conf.Verified)
}

func TestVerifyLinkUpgrades(t *testing.T) {
	env, guild := newSyncEnv(t)
	grantID := blockedMember(t, env, guild, "u1", "765")

	res, err := env.svc.VerifyLink(env.ctx, LinkRequest{DiscordUserID: "u1", SteamID: "765", Source: LinkSelfVerified})
	require.NoError(t, err)
	assert.Equal(t, []string{grantID}, res.Upgraded)

	set, err := env.svc.GetLinks(env.ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, set.Verified)
	assert.Equal(t, VerifiedConfidence, set.Verified.ConfidenceScore)
	assert.Len(t, set.Potential, 1)

	logs, err := env.svc.GetAuditLog(env.ctx, NewAuditLogFilter().WithAction(AuditLinkVerified))
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = env.svc.VerifyLink(env.ctx, LinkRequest{DiscordUserID: "u1", SteamID: "765"})
	assert.ErrorIs(t, err, ErrInvalidLink)
}

func TestForceVerifyCarriesPotentialIdentity(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.CreatePotentialLink(env.ctx, &PotentialLink{
		DiscordUserID: "u1", SteamID: "765", EOSID: "eos-1", Username: "Sniper",
		ConfidenceScore: 0.5, LinkSource: LinkWhitelist,
	}))

	_, err := env.svc.ForceVerify(env.ctx, "u1", "765")
	require.NoError(t, err)

	set, err := env.svc.GetLinks(env.ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, set.Verified)
	assert.Equal(t, LinkAdmin, set.Verified.LinkSource)
	assert.Equal(t, "eos-1", set.Verified.EOSID)
	assert.Equal(t, "Sniper", set.Verified.Username)
}
