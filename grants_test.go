package whitelistkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  GrantRequest
		want error
	}{
		{"role source is reserved", GrantRequest{SteamID: "765", Source: SourceRole}, ErrRoleSourceReserved},
		{"unknown source", GrantRequest{SteamID: "765", Source: "gift"}, ErrInvalidGrant},
		{"unknown kind", GrantRequest{SteamID: "765", Source: SourceManual, Kind: "owner"}, ErrInvalidGrant},
		{"missing steam id", GrantRequest{Source: SourceManual}, ErrInvalidGrant},
		{"negative duration", GrantRequest{SteamID: "765", Source: SourceDonation, DurationValue: intPtr(-1), DurationType: DurationDays}, ErrInvalidDuration},
		{"unknown unit", GrantRequest{SteamID: "765", Source: SourceDonation, DurationValue: intPtr(1), DurationType: "weeks"}, ErrInvalidDuration},
		{"unit without value", GrantRequest{SteamID: "765", Source: SourceDonation, DurationType: DurationDays}, ErrInvalidDuration},
		{"value without unit", GrantRequest{SteamID: "765", Source: SourceDonation, DurationValue: intPtr(3)}, ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Grant(env.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
		})
	}

	all, err := env.store.ListGrants(env.ctx, GrantFilter{IncludeRevoked: true})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGrantRecordsLedgerEntry(t *testing.T) {
	env := newTestEnv(t)

	g, err := env.svc.Grant(env.ctx, GrantRequest{
		SteamID: "765", Username: "donor", Source: SourceDonation,
		DurationValue: intPtr(2), DurationType: DurationMonths,
		Metadata: Metadata{Donation: &DonationMetadata{Provider: "kofi", Amount: "5.00", Currency: "EUR"}},
	})
	require.NoError(t, err)
	assert.True(t, g.Approved)
	assert.Equal(t, KindWhitelist, g.Kind)
	assert.Equal(t, "admin-1", g.GrantedBy)
	assert.Equal(t, testEpoch, g.GrantedAt)
	require.NotNil(t, g.Expiration)
	assert.Equal(t, testEpoch.AddDate(0, 2, 0), *g.Expiration)
	assert.Equal(t, MetadataVersion, g.Metadata.Version)
	assert.Equal(t, SourceDonation, g.Metadata.Source)

	stored, err := env.svc.GetGrant(env.ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "kofi", stored.Metadata.Donation.Provider)

	logs, err := env.svc.GetAuditLog(env.ctx, NewAuditLogFilter().WithTarget("765"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, AuditGrantCreated, logs[0].ActionType)
	assert.Equal(t, "donation whitelist grant created (2 months)", logs[0].Description)
}

func TestRevoke(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.svc.Grant(env.ctx, GrantRequest{SteamID: "765", Source: SourceManual})
	require.NoError(t, err)

	require.NoError(t, env.svc.Revoke(env.ctx, g.ID, "left the community"))
	stored, err := env.svc.GetGrant(env.ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, stored.Revoked)
	assert.Equal(t, "admin-1", stored.RevokedBy)
	assert.Equal(t, "left the community", stored.RevokedReason)
	require.NotNil(t, stored.RevokedAt)
	assert.Equal(t, testEpoch, *stored.RevokedAt)

	err = env.svc.Revoke(env.ctx, g.ID, "again")
	assert.ErrorIs(t, err, ErrGrantAlreadyRevoked)
	err = env.svc.Revoke(env.ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrGrantNotFound)

	logs, err := env.svc.GetAuditLog(env.ctx, NewAuditLogFilter().WithAction(AuditGrantRevoked))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, SeverityWarning, logs[0].Severity)
}

func TestRevokeSubject(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		_, err := env.svc.Grant(env.ctx, GrantRequest{
			SteamID: "765", Source: SourceDonation,
			DurationValue: intPtr(1), DurationType: DurationMonths,
		})
		require.NoError(t, err)
	}
	_, err := env.svc.Grant(env.ctx, GrantRequest{SteamID: "999", Source: SourceManual})
	require.NoError(t, err)

	n, err := env.svc.RevokeSubject(env.ctx, "765", "chargeback")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	st, err := env.svc.SubjectStatus(env.ctx, "765")
	require.NoError(t, err)
	assert.False(t, st.Active)
	st, err = env.svc.SubjectStatus(env.ctx, "999")
	require.NoError(t, err)
	assert.True(t, st.Active)

	n, err = env.svc.RevokeSubject(env.ctx, "765", "chargeback")
	require.NoError(t, err)
	assert.Zero(t, n)

	logs, err := env.svc.GetAuditLog(env.ctx, NewAuditLogFilter().WithAction(AuditGrantRevoked))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestCorrectRoleName(t *testing.T) {
	env := newTestEnv(t)
	rg := roleGrant("u1", "765", "VIP")
	require.NoError(t, env.store.CreateGrant(env.ctx, rg))

	require.NoError(t, env.svc.CorrectRoleName(env.ctx, rg.ID, "Supporter"))
	stored, err := env.svc.GetGrant(env.ctx, rg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Supporter", stored.RoleName)

	// Unchanged name writes nothing.
	require.NoError(t, env.svc.CorrectRoleName(env.ctx, rg.ID, "Supporter"))
	logs, err := env.svc.GetAuditLog(env.ctx, NewAuditLogFilter().WithAction(AuditGrantRoleChanged))
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	manual, err := env.svc.Grant(env.ctx, GrantRequest{SteamID: "765", Source: SourceManual})
	require.NoError(t, err)
	assert.ErrorIs(t, env.svc.CorrectRoleName(env.ctx, manual.ID, "VIP"), ErrInvalidGrant)
	assert.ErrorIs(t, env.svc.CorrectRoleName(env.ctx, rg.ID, "  "), ErrInvalidGrant)
}

func TestPurge(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.svc.Grant(env.ctx, GrantRequest{SteamID: "765", Source: SourceManual})
	require.NoError(t, err)
	require.NoError(t, env.svc.Revoke(env.ctx, g.ID, "mistake"))

	require.NoError(t, env.svc.Purge(env.ctx, g.ID))
	_, err = env.svc.GetGrant(env.ctx, g.ID)
	assert.ErrorIs(t, err, ErrGrantNotFound)
	assert.ErrorIs(t, env.svc.Purge(env.ctx, g.ID), ErrGrantNotFound)

	logs, err := env.svc.GetAuditLog(env.ctx, NewAuditLogFilter().WithAction(AuditGrantPurged))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, SeverityCritical, logs[0].Severity)
	assert.Equal(t, true, logs[0].Details["revoked"])
}

// Donations stack across the subject while an import keeps its original date.
func TestSubjectStatusAcrossSources(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Grant(env.ctx, GrantRequest{
		SteamID: "765", Source: SourceImport,
		DurationValue: intPtr(30), DurationType: DurationDays,
		GrantedAt: testEpoch.AddDate(0, 0, -10),
	})
	require.NoError(t, err)
	_, err = env.svc.Grant(env.ctx, GrantRequest{
		SteamID: "765", Source: SourceDonation,
		DurationValue: intPtr(1), DurationType: DurationMonths,
	})
	require.NoError(t, err)

	st, err := env.svc.SubjectStatus(env.ctx, "765")
	require.NoError(t, err)
	assert.True(t, st.Active)
	require.NotNil(t, st.ExpiresAt)
	assert.Equal(t, testEpoch.AddDate(0, 0, 20).AddDate(0, 1, 0), *st.ExpiresAt)

	env.clock.AddDate(0, 3, 0)
	st, err = env.svc.SubjectStatus(env.ctx, "765")
	require.NoError(t, err)
	assert.False(t, st.Active)
}
