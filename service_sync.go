package whitelistkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SyncAction describes what a member sync did to the role grant.
type SyncAction string

const (
	SyncCreated   SyncAction = "created"
	SyncUpdated   SyncAction = "updated"
	SyncApproved  SyncAction = "approved"
	SyncUnchanged SyncAction = "unchanged"
	SyncSkipped   SyncAction = "skipped"
)

// SyncResult is the outcome of syncing one member.
type SyncResult struct {
	DiscordUserID string     `json:"discord_user_id"`
	Changed       bool       `json:"changed"`
	Action        SyncAction `json:"action"`
	GrantID       string     `json:"grant_id,omitempty"`
	Group         string     `json:"group,omitempty"`
	Blocked       bool       `json:"security_blocked"`
}

// MemberFailure records a member whose sync failed during a batch.
type MemberFailure struct {
	DiscordUserID string `json:"discord_user_id"`
	Err           error  `json:"-"`
	Error         string `json:"error"`
}

// SyncSummary aggregates a batch sync. Per-member failures are collected
// here instead of aborting the batch.
type SyncSummary struct {
	Checked  int             `json:"checked"`
	Updated  int             `json:"updated"`
	Errors   int             `json:"errors"`
	Failures []MemberFailure `json:"failures,omitempty"`
}

// maxSyncAttempts bounds the re-read after losing a role grant race.
const maxSyncAttempts = 2

// maxTransientAttempts bounds retries of a reconcile pass that hit a
// deadlock or a dropped connection.
const maxTransientAttempts = 3

// SyncMember reconciles the role grant of one user with targetGroup. A nil
// target leaves any existing role grant untouched.
func (s *Service) SyncMember(ctx context.Context, discordUserID string, targetGroup *string) (SyncResult, error) {
	var target *RoleConfig
	if targetGroup != nil {
		configs, err := s.store.ListRoleConfigs(ctx)
		if err != nil {
			return SyncResult{}, err
		}
		for i := range configs {
			if configs[i].GroupName == *targetGroup {
				target = &configs[i]
				break
			}
		}
		if target == nil {
			return SyncResult{}, NewError(ErrRoleConfigNotFound, fmt.Sprintf("no role is mapped to group %q", *targetGroup)).
				WithUser(discordUserID)
		}
	}

	res, err := s.syncMember(ctx, discordUserID, "", target)
	if err != nil {
		return res, err
	}
	if res.Changed {
		s.invalidate(ctx)
	}
	return res, nil
}

// SyncUser fetches the member from the guild, resolves its group and syncs it.
func (s *Service) SyncUser(ctx context.Context, discordUserID string) (SyncResult, error) {
	guild, configs, err := s.syncInputs(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	member, err := guild.FetchMember(ctx, discordUserID)
	if err != nil {
		return SyncResult{}, err
	}

	res, err := s.syncMember(ctx, discordUserID, member.Username, ResolveGroup(member.RoleIDs, configs))
	if err != nil {
		return res, err
	}
	if res.Changed {
		s.invalidate(ctx)
	}
	return res, nil
}

// SyncAll syncs every guild member holding any tracked role.
func (s *Service) SyncAll(ctx context.Context) (SyncSummary, error) {
	return s.syncMembers(ctx, func(m Member, configs []RoleConfig) bool {
		return IsTracked(m.RoleIDs, configs)
	})
}

// SyncRole syncs the members holding one Discord role.
func (s *Service) SyncRole(ctx context.Context, discordRoleID string) (SyncSummary, error) {
	return s.syncMembers(ctx, func(m Member, _ []RoleConfig) bool {
		for _, id := range m.RoleIDs {
			if id == discordRoleID {
				return true
			}
		}
		return false
	})
}

func (s *Service) syncMembers(ctx context.Context, include func(Member, []RoleConfig) bool) (SyncSummary, error) {
	guild, configs, err := s.syncInputs(ctx)
	if err != nil {
		return SyncSummary{}, err
	}
	members, err := guild.FetchMembers(ctx)
	if err != nil {
		return SyncSummary{}, NewError(ErrGuildUnavailable, "failed to list guild members").WithCause(err)
	}

	selected := members[:0:0]
	for _, m := range members {
		if include(m, configs) {
			selected = append(selected, m)
		}
	}
	return s.runBatch(ctx, selected, configs), nil
}

// runBatch syncs members on a bounded worker pool. Each member gets its own
// timeout and a failure is recorded without stopping the others. The cache
// is invalidated once at the end when anything changed.
func (s *Service) runBatch(ctx context.Context, members []Member, configs []RoleConfig) SyncSummary {
	var (
		mu      sync.Mutex
		summary SyncSummary
		g       errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, m := range members {
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(ctx, s.memberTimeout)
			defer cancel()

			res, err := s.syncMember(mctx, m.UserID, m.Username, ResolveGroup(m.RoleIDs, configs))

			mu.Lock()
			defer mu.Unlock()
			summary.Checked++
			if err != nil {
				summary.Errors++
				summary.Failures = append(summary.Failures, MemberFailure{
					DiscordUserID: m.UserID,
					Err:           err,
					Error:         err.Error(),
				})
				s.logger.WithError(err).WithField("discord_user_id", m.UserID).Warn("member sync failed")
				return nil
			}
			if res.Changed {
				summary.Updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary.Updated > 0 {
		s.invalidate(ctx)
	}
	s.logger.WithFields(logrus.Fields{
		"checked": summary.Checked,
		"updated": summary.Updated,
		"errors":  summary.Errors,
	}).Info("role sync finished")
	return summary
}

// syncInputs fetches the guild and the role configs with live positions.
func (s *Service) syncInputs(ctx context.Context) (Guild, []RoleConfig, error) {
	if s.guilds == nil {
		return nil, nil, NewError(ErrNoGuild, "")
	}
	guild, err := s.guilds.FetchGuild(ctx, s.guildID)
	if err != nil {
		return nil, nil, NewError(ErrGuildUnavailable, "failed to fetch guild "+s.guildID).WithCause(err)
	}
	configs, err := s.store.ListRoleConfigs(ctx)
	if err != nil {
		return nil, nil, err
	}
	positions, err := guild.RolePositions(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("using stored role positions, live hierarchy unavailable")
		return guild, configs, nil
	}
	return guild, withLivePositions(configs, positions), nil
}

// syncMember is SyncMember without cache invalidation.
func (s *Service) syncMember(ctx context.Context, discordUserID, username string, target *RoleConfig) (SyncResult, error) {
	res := SyncResult{DiscordUserID: discordUserID}
	if target == nil {
		active, err := s.store.ActiveRoleGrant(ctx, discordUserID)
		if err != nil {
			return res, err
		}
		if active == nil {
			res.Action = SyncSkipped
			return res, nil
		}
		res.Action = SyncUnchanged
		res.GrantID = active.ID
		res.Group = active.RoleName
		return res, nil
	}

	var err error
	for attempt := 0; attempt < maxSyncAttempts; attempt++ {
		err = withRetry(ctx, maxTransientAttempts, func() error {
			var rerr error
			res, rerr = s.reconcile(ctx, discordUserID, username, target)
			return rerr
		})
		if !IsConflict(err) {
			break
		}
		s.logger.WithField("discord_user_id", discordUserID).Debug("role grant written concurrently, re-reading")
	}
	if IsConflict(err) {
		// Another writer still holds the row; it is re-read on the next sync.
		return SyncResult{DiscordUserID: discordUserID, Action: SyncUnchanged, Group: target.GroupName}, nil
	}
	if err != nil {
		return res, err
	}

	if res.Changed {
		s.logger.WithFields(logrus.Fields{
			"discord_user_id": discordUserID,
			"grant_id":        res.GrantID,
			"action":          res.Action,
			"group":           res.Group,
		}).Info("role grant synced")
	}
	return res, nil
}

// reconcile performs one read-compare-write pass for a member with a target group.
func (s *Service) reconcile(ctx context.Context, discordUserID, username string, target *RoleConfig) (SyncResult, error) {
	res := SyncResult{DiscordUserID: discordUserID, Group: target.GroupName}
	kind := target.Kind()
	now := s.now()

	active, err := s.store.ActiveRoleGrant(ctx, discordUserID)
	if err != nil {
		return res, err
	}
	conf, err := s.HighestConfidence(ctx, discordUserID)
	if err != nil {
		return res, err
	}
	if active != nil {
		res.GrantID = active.ID
		rebind := conf.Verified && !sameIdentity(active, conf)
		if active.RoleName == target.GroupName && active.Kind == kind && !rebind {
			res.Action = SyncUnchanged
			return res, nil
		}
		if !rebind {
			conf = Confidence{}
		}
		return s.updateActive(ctx, res, active, target, conf, now)
	}

	if !conf.Linked() {
		res.Action = SyncSkipped
		return res, nil
	}
	decision := decide(conf, target.GroupName)

	blocked, err := s.store.SecurityBlockedRoleGrants(ctx, discordUserID)
	if err != nil {
		return res, err
	}
	if len(blocked) > 0 {
		return s.syncBlocked(ctx, res, &blocked[0], target, conf, decision, now)
	}

	if username == "" {
		username = conf.Username
	}
	g := &Grant{
		SteamID:       conf.SteamID,
		DiscordUserID: discordUserID,
		EOSID:         conf.EOSID,
		Username:      username,
		Source:        SourceRole,
		Kind:          kind,
		GrantedAt:     now,
		GrantedBy:     actorOrSystem(ctx),
		RoleName:      target.GroupName,
		Metadata: NewRoleMetadata(RoleMetadata{
			DiscordRoleID:   target.DiscordRoleID,
			ConfidenceScore: conf.Score,
		}),
	}
	entry := &AuditEntry{
		Action:      AuditGrantCreated,
		TargetID:    discordUserID,
		Description: fmt.Sprintf("role grant created for group %q", target.GroupName),
		Details: map[string]any{
			"steam_id":   conf.SteamID,
			"group":      target.GroupName,
			"role_id":    target.DiscordRoleID,
			"confidence": conf.Score,
		},
	}
	if decision.Approved() {
		g.Approved = true
	} else {
		g.Revoked = true
		g.RevokedBy = SystemActor
		g.RevokedReason = decision.Reason
		g.RevokedAt = &now
		g.Metadata.Role.SecurityBlockedAt = &now
		entry.Action = AuditGrantBlocked
		entry.Description = fmt.Sprintf("role grant for group %q security blocked: %s", target.GroupName, decision.Reason)
		entry.Severity = SeverityWarning
	}

	err = s.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateGrant(ctx, g); err != nil {
			return err
		}
		entry.Details["grant_id"] = g.ID
		return s.logAudit(ctx, tx, entry)
	})
	if err != nil {
		return res, err
	}

	res.Changed = true
	res.Action = SyncCreated
	res.GrantID = g.ID
	res.Blocked = !decision.Approved()
	return res, nil
}

// sameIdentity reports whether g is bound to the account of conf.
func sameIdentity(g *Grant, conf Confidence) bool {
	return g.SteamID == conf.SteamID && (conf.EOSID == "" || g.EOSID == conf.EOSID)
}

// identityUpdate rebinds g to the account of conf. It stamps the previous
// Steam ID into rm.
func identityUpdate(g *Grant, conf Confidence, rm *RoleMetadata) GrantUpdate {
	if sameIdentity(g, conf) {
		return GrantUpdate{}
	}
	rm.PreviousSteamID = g.SteamID
	u := GrantUpdate{SteamID: &conf.SteamID, EOSID: &conf.EOSID}
	if conf.Username != "" {
		u.Username = &conf.Username
	}
	return u
}

// reboundAudit describes a role grant moved to another Steam account.
func reboundAudit(g *Grant, conf Confidence) *AuditEntry {
	return &AuditEntry{
		Action:      AuditGrantRebound,
		TargetID:    g.DiscordUserID,
		Description: fmt.Sprintf("role grant moved from steam %s to verified steam %s", g.SteamID, conf.SteamID),
		Details: map[string]any{
			"grant_id":          g.ID,
			"previous_steam_id": g.SteamID,
			"steam_id":          conf.SteamID,
		},
		Severity: SeverityWarning,
	}
}

// updateActive moves an active role grant to another group in place and,
// when rebind carries a verified link, to the verified account.
func (s *Service) updateActive(ctx context.Context, res SyncResult, active *Grant, target *RoleConfig, rebind Confidence, now time.Time) (SyncResult, error) {
	kind := target.Kind()
	meta := active.Metadata
	rm := *meta.RoleSection()

	update := GrantUpdate{}
	if rebind.Linked() {
		update = identityUpdate(active, rebind, &rm)
	}
	roleChanged := active.RoleName != target.GroupName || active.Kind != kind
	if roleChanged {
		rm.PreviousRole = active.RoleName
		rm.RoleChangedAt = &now
		rm.DiscordRoleID = target.DiscordRoleID
		update.RoleName = &target.GroupName
		update.Kind = &kind
	}
	meta.Role = &rm
	update.Metadata = &meta

	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.UpdateGrant(ctx, active.ID, update); err != nil {
			return err
		}
		if update.SteamID != nil {
			if err := s.logAudit(ctx, tx, reboundAudit(active, rebind)); err != nil {
				return err
			}
		}
		if !roleChanged {
			return nil
		}
		return s.logAudit(ctx, tx, &AuditEntry{
			Action:      AuditGrantRoleChanged,
			TargetID:    active.DiscordUserID,
			Description: fmt.Sprintf("role grant moved from %q to %q", active.RoleName, target.GroupName),
			Details: map[string]any{
				"grant_id":      active.ID,
				"previous_role": active.RoleName,
				"role":          target.GroupName,
			},
		})
	})
	if err != nil {
		return res, err
	}
	res.Changed = true
	res.Action = SyncUpdated
	return res, nil
}

// syncBlocked keeps a single security-blocked row per user: it is approved
// when the gate now passes, otherwise refreshed in place. Either way the row
// follows the account of the best current link.
func (s *Service) syncBlocked(ctx context.Context, res SyncResult, blocked *Grant, target *RoleConfig, conf Confidence, decision GateDecision, now time.Time) (SyncResult, error) {
	kind := target.Kind()
	res.GrantID = blocked.ID
	meta := blocked.Metadata
	rm := *meta.RoleSection()
	rm.ConfidenceScore = decision.Confidence
	rm.DiscordRoleID = target.DiscordRoleID
	if blocked.RoleName != target.GroupName {
		rm.PreviousRole = blocked.RoleName
		rm.RoleChangedAt = &now
	}
	update := identityUpdate(blocked, conf, &rm)
	update.RoleName = &target.GroupName
	update.Kind = &kind

	if decision.Approved() {
		rm.Upgraded = true
		rm.UpgradedFrom = UpgradedFromSecurityBlock
		rm.UpgradedAt = &now
		meta.Role = &rm

		approved := false
		err := s.Transaction(ctx, func(tx Store) error {
			ok, err := tx.ApproveBlockedGrant(ctx, blocked.ID, meta)
			if err != nil {
				return err
			}
			if approved = ok; !ok {
				return nil
			}
			if err := tx.UpdateGrant(ctx, blocked.ID, update); err != nil {
				return err
			}
			if update.SteamID != nil {
				if err := s.logAudit(ctx, tx, reboundAudit(blocked, conf)); err != nil {
					return err
				}
			}
			return s.logAudit(ctx, tx, &AuditEntry{
				Action:      AuditGrantUpgraded,
				TargetID:    blocked.DiscordUserID,
				Description: fmt.Sprintf("security-blocked role grant approved for group %q", target.GroupName),
				Details: map[string]any{
					"grant_id":      blocked.ID,
					"steam_id":      conf.SteamID,
					"upgraded_from": UpgradedFromSecurityBlock,
					"confidence":    decision.Confidence,
				},
			})
		})
		if err != nil {
			return res, err
		}
		if !approved {
			// Someone else flipped or revoked it in between.
			res.Action = SyncUnchanged
			return res, nil
		}
		res.Changed = true
		res.Action = SyncApproved
		return res, nil
	}

	res.Blocked = true
	if blocked.RoleName == target.GroupName && blocked.Kind == kind &&
		blocked.RevokedReason == decision.Reason && update.SteamID == nil {
		res.Action = SyncUnchanged
		return res, nil
	}
	meta.Role = &rm
	update.RevokedReason = &decision.Reason
	update.Metadata = &meta
	err := s.Transaction(ctx, func(tx Store) error {
		return tx.UpdateGrant(ctx, blocked.ID, update)
	})
	if err != nil {
		return res, err
	}
	res.Changed = true
	res.Action = SyncUpdated
	return res, nil
}
