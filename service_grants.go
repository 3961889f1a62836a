package whitelistkit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// GrantRequest creates a manual, donation or import grant. Role grants are
// written by the sync engine only.
type GrantRequest struct {
	SteamID       string
	DiscordUserID string
	EOSID         string
	Username      string
	Source        GrantSource
	Kind          GrantKind

	// A nil DurationValue grants permanent access.
	DurationValue *int
	DurationType  DurationType

	// GrantedAt defaults to now. Imports use it to keep the original date.
	GrantedAt time.Time
	Metadata  Metadata
}

// validateDuration rejects negative values, unknown units and half-set pairs.
func validateDuration(value *int, unit DurationType) error {
	if value == nil {
		if unit != "" {
			return NewError(ErrInvalidDuration, "duration type given without a value")
		}
		return nil
	}
	if *value < 0 {
		return NewError(ErrInvalidDuration, fmt.Sprintf("negative duration %d", *value))
	}
	if !unit.Valid() {
		return NewError(ErrInvalidDuration, fmt.Sprintf("unknown duration type %q", unit))
	}
	return nil
}

func (r *GrantRequest) validate() error {
	if r.Source == SourceRole {
		return NewError(ErrRoleSourceReserved, "").WithSteam(r.SteamID)
	}
	if !r.Source.Valid() {
		return NewError(ErrInvalidGrant, fmt.Sprintf("unknown source %q", r.Source))
	}
	if r.Kind == "" {
		r.Kind = KindWhitelist
	}
	if !r.Kind.Valid() {
		return NewError(ErrInvalidGrant, fmt.Sprintf("unknown kind %q", r.Kind))
	}
	if strings.TrimSpace(r.SteamID) == "" {
		return NewError(ErrInvalidGrant, "steam id is required")
	}
	if err := validateDuration(r.DurationValue, r.DurationType); err != nil {
		return err
	}
	if r.Metadata.Source == "" {
		r.Metadata.Source = r.Source
	}
	if r.Metadata.Version == 0 {
		r.Metadata.Version = MetadataVersion
	}
	return r.Metadata.Validate(r.Source)
}

// Grant records a new manual, donation or import grant.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*Grant, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	grantedAt := req.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = s.now()
	}
	g := &Grant{
		SteamID:       req.SteamID,
		DiscordUserID: req.DiscordUserID,
		EOSID:         req.EOSID,
		Username:      req.Username,
		Source:        req.Source,
		Kind:          req.Kind,
		DurationValue: req.DurationValue,
		DurationType:  req.DurationType,
		GrantedAt:     grantedAt,
		GrantedBy:     actorOrSystem(ctx),
		Approved:      true,
		Metadata:      req.Metadata,
	}
	if exp, ok := g.IndividualExpiration(); ok {
		g.Expiration = &exp
	}

	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateGrant(ctx, g); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditGrantCreated,
			TargetID:    g.SteamID,
			Description: fmt.Sprintf("%s %s grant created (%s)", g.Source, g.Kind, describeDuration(g)),
			Details: map[string]any{
				"grant_id":        g.ID,
				"source":          g.Source,
				"kind":            g.Kind,
				"discord_user_id": g.DiscordUserID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	return g, nil
}

// Revoke revokes one grant.
func (s *Service) Revoke(ctx context.Context, grantID, reason string) error {
	actor := actorOrSystem(ctx)
	err := s.Transaction(ctx, func(tx Store) error {
		g, err := tx.GetGrant(ctx, grantID)
		if err != nil {
			return err
		}
		if err := tx.RevokeGrant(ctx, grantID, actor, reason, s.now()); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditGrantRevoked,
			TargetID:    g.SteamID,
			Description: fmt.Sprintf("%s grant revoked: %s", g.Source, reason),
			Details:     map[string]any{"grant_id": g.ID, "source": g.Source, "reason": reason},
			Severity:    SeverityWarning,
		})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	return nil
}

// RevokeSubject revokes every active grant of a Steam subject and returns
// how many were revoked.
func (s *Service) RevokeSubject(ctx context.Context, steamID, reason string) (int, error) {
	actor := actorOrSystem(ctx)
	revoked := 0
	err := s.Transaction(ctx, func(tx Store) error {
		revoked = 0
		grants, err := tx.ListGrants(ctx, GrantFilter{SteamID: steamID})
		if err != nil {
			return err
		}
		for _, g := range grants {
			if err := tx.RevokeGrant(ctx, g.ID, actor, reason, s.now()); err != nil {
				return err
			}
			revoked++
		}
		if revoked == 0 {
			return nil
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditGrantRevoked,
			TargetID:    steamID,
			Description: fmt.Sprintf("%d grants revoked: %s", revoked, reason),
			Details:     map[string]any{"count": revoked, "reason": reason},
			Severity:    SeverityWarning,
		})
	})
	if err != nil {
		return 0, err
	}

	if revoked > 0 {
		s.invalidate(ctx)
	}
	return revoked, nil
}

// CorrectRoleName fixes the group recorded on a role grant.
func (s *Service) CorrectRoleName(ctx context.Context, grantID, roleName string) error {
	if strings.TrimSpace(roleName) == "" {
		return NewError(ErrInvalidGrant, "role name is required").WithGrant(grantID)
	}
	err := s.Transaction(ctx, func(tx Store) error {
		g, err := tx.GetGrant(ctx, grantID)
		if err != nil {
			return err
		}
		if g.Source != SourceRole {
			return NewError(ErrInvalidGrant, "only role grants carry a role name").WithGrant(grantID)
		}
		if g.RoleName == roleName {
			return nil
		}
		if err := tx.UpdateGrant(ctx, grantID, GrantUpdate{RoleName: &roleName}); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditGrantRoleChanged,
			TargetID:    g.DiscordUserID,
			Description: fmt.Sprintf("role name corrected from %q to %q", g.RoleName, roleName),
			Details:     map[string]any{"grant_id": g.ID, "previous_role": g.RoleName, "role": roleName},
		})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	return nil
}

// Purge deletes a grant row. This is the only way rows leave the ledger.
func (s *Service) Purge(ctx context.Context, grantID string) error {
	err := s.Transaction(ctx, func(tx Store) error {
		g, err := tx.GetGrant(ctx, grantID)
		if err != nil {
			return err
		}
		if err := tx.DeleteGrant(ctx, grantID); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditGrantPurged,
			TargetID:    g.SteamID,
			Description: fmt.Sprintf("%s grant purged", g.Source),
			Details:     map[string]any{"grant_id": g.ID, "source": g.Source, "revoked": g.Revoked},
			Severity:    SeverityCritical,
		})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	return nil
}

// GetGrant returns one grant.
func (s *Service) GetGrant(ctx context.Context, grantID string) (*Grant, error) {
	return s.store.GetGrant(ctx, grantID)
}

// ListGrants returns grants matching filter, oldest first.
func (s *Service) ListGrants(ctx context.Context, filter GrantFilter) ([]Grant, error) {
	return s.store.ListGrants(ctx, filter)
}

// SubjectStatus resolves the access of one Steam subject across all its grants.
func (s *Service) SubjectStatus(ctx context.Context, steamID string) (Status, error) {
	grants, err := s.store.ListGrants(ctx, GrantFilter{SteamID: steamID})
	if err != nil {
		return Status{}, err
	}
	return ResolveStatus(grants, s.now()), nil
}

func describeDuration(g *Grant) string {
	switch {
	case g.IsPermanent():
		return "permanent"
	case g.IsZeroDuration():
		return "expired"
	default:
		return fmt.Sprintf("%d %s", *g.DurationValue, g.DurationType)
	}
}
