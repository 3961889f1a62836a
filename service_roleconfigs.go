package whitelistkit

import (
	"context"
	"fmt"
	"strings"
)

// RoleConfigChange is the result of a role config write and the sync of the
// members holding that role.
type RoleConfigChange struct {
	Config *RoleConfig `json:"config,omitempty"`
	Sync   SyncSummary `json:"sync"`

	// SyncErr is set when the follow-up sync could not run. The config
	// write is committed regardless.
	SyncErr error `json:"-"`
}

func validateRoleConfig(rc *RoleConfig) error {
	rc.DiscordRoleID = strings.TrimSpace(rc.DiscordRoleID)
	rc.GroupName = strings.TrimSpace(rc.GroupName)
	if rc.DiscordRoleID == "" {
		return NewError(ErrInvalidRoleConfig, "discord role id is required")
	}
	if err := ValidateGroupName(rc.GroupName); err != nil {
		return err
	}
	if rc.DiscordPosition < 0 {
		return NewError(ErrInvalidRoleConfig, "discord position cannot be negative").WithRole(rc.DiscordRoleID)
	}
	perms, err := NormalizePermissions(rc.PermissionSet)
	if err != nil {
		return err
	}
	rc.PermissionSet = perms
	return nil
}

// CreateRoleConfig starts tracking a Discord role.
func (s *Service) CreateRoleConfig(ctx context.Context, rc RoleConfig) (RoleConfigChange, error) {
	if err := validateRoleConfig(&rc); err != nil {
		return RoleConfigChange{}, err
	}
	rc.CreatedBy = actorOrSystem(ctx)
	rc.CreatedAt = s.now()
	rc.UpdatedBy = ""

	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateRoleConfig(ctx, &rc); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditRoleConfigCreated,
			TargetID:    rc.DiscordRoleID,
			Description: fmt.Sprintf("role %s mapped to group %q", rc.DiscordRoleID, rc.GroupName),
			Details: map[string]any{
				"group":       rc.GroupName,
				"permissions": rc.PermissionSet,
				"position":    rc.DiscordPosition,
			},
		})
	})
	if err != nil {
		return RoleConfigChange{}, err
	}
	return s.afterRoleConfigWrite(ctx, &rc), nil
}

// UpdateRoleConfig changes the group, permissions or position of a tracked role.
func (s *Service) UpdateRoleConfig(ctx context.Context, rc RoleConfig) (RoleConfigChange, error) {
	if err := validateRoleConfig(&rc); err != nil {
		return RoleConfigChange{}, err
	}

	var previous *RoleConfig
	err := s.Transaction(ctx, func(tx Store) error {
		var err error
		previous, err = tx.GetRoleConfig(ctx, rc.DiscordRoleID)
		if err != nil {
			return err
		}
		rc.CreatedBy = previous.CreatedBy
		rc.CreatedAt = previous.CreatedAt
		rc.UpdatedBy = actorOrSystem(ctx)
		if err := tx.UpdateRoleConfig(ctx, &rc); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditRoleConfigUpdated,
			TargetID:    rc.DiscordRoleID,
			Description: fmt.Sprintf("role %s now maps to group %q", rc.DiscordRoleID, rc.GroupName),
			Details: map[string]any{
				"previous_group":       previous.GroupName,
				"group":                rc.GroupName,
				"previous_permissions": previous.PermissionSet,
				"permissions":          rc.PermissionSet,
				"position":             rc.DiscordPosition,
			},
		})
	})
	if err != nil {
		return RoleConfigChange{}, err
	}
	return s.afterRoleConfigWrite(ctx, &rc), nil
}

// DeleteRoleConfig stops tracking a Discord role. Existing role grants are
// moved to the member's next tracked role by the follow-up sync.
func (s *Service) DeleteRoleConfig(ctx context.Context, discordRoleID string) (RoleConfigChange, error) {
	err := s.Transaction(ctx, func(tx Store) error {
		previous, err := tx.GetRoleConfig(ctx, discordRoleID)
		if err != nil {
			return err
		}
		if err := tx.DeleteRoleConfig(ctx, discordRoleID); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditRoleConfigDeleted,
			TargetID:    discordRoleID,
			Description: fmt.Sprintf("role %s no longer mapped to group %q", discordRoleID, previous.GroupName),
			Details:     map[string]any{"group": previous.GroupName},
			Severity:    SeverityWarning,
		})
	})
	if err != nil {
		return RoleConfigChange{}, err
	}
	return s.afterRoleConfigWrite(ctx, &RoleConfig{DiscordRoleID: discordRoleID}), nil
}

// GetRoleConfig returns one tracked role.
func (s *Service) GetRoleConfig(ctx context.Context, discordRoleID string) (*RoleConfig, error) {
	return s.store.GetRoleConfig(ctx, discordRoleID)
}

// ListRoleConfigs returns the tracked roles, highest priority first.
func (s *Service) ListRoleConfigs(ctx context.Context) ([]RoleConfig, error) {
	return s.store.ListRoleConfigs(ctx)
}

// afterRoleConfigWrite invalidates the export, since group permissions may
// have changed, and syncs the members holding the role.
func (s *Service) afterRoleConfigWrite(ctx context.Context, rc *RoleConfig) RoleConfigChange {
	s.invalidate(ctx)

	change := RoleConfigChange{Config: rc}
	if rc.GroupName == "" {
		change.Config = nil
	}
	if s.guilds == nil {
		return change
	}
	summary, err := s.SyncRole(ctx, rc.DiscordRoleID)
	if err != nil {
		change.SyncErr = err
		s.logger.WithError(err).WithField("role_id", rc.DiscordRoleID).Warn("role config sync failed")
		return change
	}
	change.Sync = summary
	return change
}
