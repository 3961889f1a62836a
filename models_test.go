package whitelistkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestGrantDurationHelpers tests permanent and zero-duration classification
func TestGrantDurationHelpers(t *testing.T) {
	t.Run("Permanent", func(t *testing.T) {
		g := Grant{}
		assert.True(t, g.IsPermanent())
		assert.False(t, g.IsZeroDuration())
		_, ok := g.IndividualExpiration()
		assert.False(t, ok)
	})

	t.Run("Zero duration", func(t *testing.T) {
		g := Grant{DurationValue: intPtr(0), DurationType: DurationDays, GrantedAt: testEpoch}
		assert.False(t, g.IsPermanent())
		assert.True(t, g.IsZeroDuration())
		exp, ok := g.IndividualExpiration()
		assert.True(t, ok)
		assert.Equal(t, testEpoch, exp)
	})

	t.Run("Months", func(t *testing.T) {
		g := Grant{DurationValue: intPtr(2), DurationType: DurationMonths, GrantedAt: testEpoch}
		exp, ok := g.IndividualExpiration()
		assert.True(t, ok)
		assert.Equal(t, time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC), exp)
	})

	t.Run("Days", func(t *testing.T) {
		g := Grant{DurationValue: intPtr(10), DurationType: DurationDays, GrantedAt: testEpoch}
		exp, _ := g.IndividualExpiration()
		assert.Equal(t, time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC), exp)
	})
}

func TestGrantUsable(t *testing.T) {
	assert.True(t, (&Grant{Approved: true}).Usable())
	assert.False(t, (&Grant{Approved: true, Revoked: true}).Usable())
	assert.False(t, (&Grant{Approved: false}).Usable())
}

// TestGrantIsSecurityBlocked tests the security block classification
func TestGrantIsSecurityBlocked(t *testing.T) {
	blocked := Grant{
		Source:        SourceRole,
		Revoked:       true,
		RevokedReason: SecurityBlockReason(0.7),
	}
	assert.True(t, blocked.IsSecurityBlocked())

	t.Run("Approved is not blocked", func(t *testing.T) {
		g := blocked
		g.Approved = true
		assert.False(t, g.IsSecurityBlocked())
	})

	t.Run("Plain revocation is not blocked", func(t *testing.T) {
		g := blocked
		g.RevokedReason = "left guild"
		assert.False(t, g.IsSecurityBlocked())
	})

	t.Run("Only role grants can be blocked", func(t *testing.T) {
		g := blocked
		g.Source = SourceManual
		assert.False(t, g.IsSecurityBlocked())
	})
}

func TestGrantSubjectKey(t *testing.T) {
	assert.Equal(t, "765", (&Grant{SteamID: "765", DiscordUserID: "u1"}).SubjectKey())
	assert.Equal(t, "discord:u1", (&Grant{DiscordUserID: "u1"}).SubjectKey())
}

func TestEnumValidation(t *testing.T) {
	for _, s := range []GrantSource{SourceRole, SourceManual, SourceDonation, SourceImport} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, GrantSource("patreon").Valid())

	assert.True(t, KindStaff.Valid())
	assert.True(t, KindWhitelist.Valid())
	assert.False(t, GrantKind("vip").Valid())

	assert.True(t, DurationDays.Valid())
	assert.True(t, DurationMonths.Valid())
	assert.False(t, DurationType("weeks").Valid())

	for _, s := range []LinkSource{LinkSelfVerified, LinkAdmin, LinkWhitelist, LinkTicket} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, LinkSource("guess").Valid())
}

// TestRoleConfigKind tests that anything beyond a reserved slot is staff
func TestRoleConfigKind(t *testing.T) {
	tests := []struct {
		name  string
		perms []string
		kind  GrantKind
	}{
		{"empty", nil, KindWhitelist},
		{"reserve only", []string{"reserve"}, KindWhitelist},
		{"staff", []string{"kick", "reserve"}, KindStaff},
		{"single staff permission", []string{"ban"}, KindStaff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := RoleConfig{PermissionSet: tt.perms}
			assert.Equal(t, tt.kind, rc.Kind())
		})
	}
}

func TestConfidenceLinked(t *testing.T) {
	assert.False(t, Confidence{}.Linked())
	assert.True(t, Confidence{SteamID: "765", Score: 0.3}.Linked())
}

// TestAuditEntryToModel tests conversion from AuditEntry to AuditLog
func TestAuditEntryToModel(t *testing.T) {
	t.Run("Complete entry", func(t *testing.T) {
		entry := &AuditEntry{
			Action:      AuditGrantRevoked,
			ActorID:     "admin-1",
			TargetID:    "765",
			Description: "refund",
			Details:     map[string]any{"grant_id": "g1"},
			Severity:    SeverityWarning,
			IPAddress:   "10.0.0.1",
			UserAgent:   "curl",
			RequestID:   "r1",
		}

		model := entry.ToModel()
		assert.Equal(t, AuditGrantRevoked, model.ActionType)
		assert.Equal(t, "admin-1", model.ActorID)
		assert.Equal(t, "765", model.TargetID)
		assert.Equal(t, "refund", model.Description)
		assert.Equal(t, "g1", model.Details["grant_id"])
		assert.Equal(t, SeverityWarning, model.Severity)
		assert.Equal(t, "10.0.0.1", model.IPAddress)
		assert.Equal(t, "curl", model.UserAgent)
		assert.Equal(t, "r1", model.RequestID)
		assert.False(t, model.Timestamp.IsZero())
	})

	t.Run("Severity defaults to info", func(t *testing.T) {
		model := (&AuditEntry{Action: AuditLinkVerified}).ToModel()
		assert.Equal(t, SeverityInfo, model.Severity)
	})
}
