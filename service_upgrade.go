package whitelistkit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// UpgradeResult reports a security-block upgrade.
type UpgradeResult struct {
	DiscordUserID string  `json:"discord_user_id"`
	Confidence    float64 `json:"confidence"`

	// Upgraded lists the grants flipped to approved.
	Upgraded []string `json:"upgraded"`

	// Skipped lists blocked grants left alone because the user already
	// holds an active role grant.
	Skipped []string `json:"skipped,omitempty"`

	// Sync is the post-upgrade sync, nil when it did not run or failed.
	Sync *SyncResult `json:"sync,omitempty"`

	// SyncErr is the post-upgrade sync failure. The upgrade itself is
	// committed regardless.
	SyncErr       error `json:"-"`
	SyncScheduled bool  `json:"sync_scheduled"`
}

// UpgradeSecurityBlocked approves the security-blocked role grant of a user
// whose confidence reached 1.0, then syncs the user so the group reflects
// the roles held now. Running it again is a no-op.
//
// The flip and its audit record commit together. The sync afterwards is
// best effort: a failure is returned in SyncErr and handed to the
// SyncScheduler when one is configured.
func (s *Service) UpgradeSecurityBlocked(ctx context.Context, discordUserID string) (UpgradeResult, error) {
	res := UpgradeResult{DiscordUserID: discordUserID}

	conf, err := s.HighestConfidence(ctx, discordUserID)
	if err != nil {
		return res, err
	}
	res.Confidence = conf.Score
	if conf.Score < VerifiedConfidence {
		return res, nil
	}

	now := s.now()
	err = s.Transaction(ctx, func(tx Store) error {
		res.Upgraded, res.Skipped = nil, nil

		blocked, err := tx.SecurityBlockedRoleGrants(ctx, discordUserID)
		if err != nil || len(blocked) == 0 {
			return err
		}
		active, err := tx.ActiveRoleGrant(ctx, discordUserID)
		if err != nil {
			return err
		}

		for i := range blocked {
			g := &blocked[i]
			// Only one role grant may be active, the newest blocked one wins.
			if active != nil || len(res.Upgraded) > 0 {
				res.Skipped = append(res.Skipped, g.ID)
				continue
			}

			meta := g.Metadata
			rm := *meta.RoleSection()
			rm.Upgraded = true
			rm.UpgradedFrom = UpgradedFromSecurityBlock
			rm.UpgradedAt = &now
			rm.ConfidenceScore = conf.Score
			// The row was blocked against a potential link; access goes to
			// the verified account only.
			rebind := identityUpdate(g, conf, &rm)
			meta.Role = &rm

			ok, err := tx.ApproveBlockedGrant(ctx, g.ID, meta)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			res.Upgraded = append(res.Upgraded, g.ID)

			if !rebind.empty() {
				if err := tx.UpdateGrant(ctx, g.ID, rebind); err != nil {
					return err
				}
				if err := s.logAudit(ctx, tx, reboundAudit(g, conf)); err != nil {
					return err
				}
			}

			if err := s.logAudit(ctx, tx, &AuditEntry{
				Action:      AuditGrantUpgraded,
				TargetID:    discordUserID,
				Description: fmt.Sprintf("security-blocked role grant for group %q approved", g.RoleName),
				Details: map[string]any{
					"grant_id":      g.ID,
					"steam_id":      conf.SteamID,
					"upgraded_from": UpgradedFromSecurityBlock,
					"confidence":    conf.Score,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"discord_user_id": discordUserID,
		"upgraded":        len(res.Upgraded),
		"skipped":         len(res.Skipped),
	})
	if len(res.Upgraded) > 0 {
		s.invalidate(ctx)
		log.Info("security-blocked role grants upgraded")
	}

	if s.guilds == nil {
		return res, nil
	}
	syncRes, err := s.SyncUser(ctx, discordUserID)
	if err != nil {
		res.SyncErr = err
		log.WithError(err).Warn("post-upgrade sync failed")
		if s.scheduler != nil {
			if schedErr := s.scheduler.ScheduleUserSync(ctx, discordUserID); schedErr != nil {
				log.WithError(schedErr).Error("failed to schedule post-upgrade sync")
			} else {
				res.SyncScheduled = true
				s.auditBestEffort(ctx, &AuditEntry{
					Action:      AuditSyncDeferred,
					TargetID:    discordUserID,
					Description: "post-upgrade sync failed and was queued",
					Details:     map[string]any{"error": err.Error()},
				})
			}
		}
		return res, nil
	}
	res.Sync = &syncRes
	return res, nil
}
