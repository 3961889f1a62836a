package whitelistkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/google/uuid"
)

// BunStore is the Postgres Store backed by dbkit.
//
// The one-active-role-grant invariant is the partial unique index
// whitelist_grants_active_role_uidx created by the migrations; a violation
// surfaces as ErrRoleGrantConflict.
type BunStore struct {
	db dbkit.IDB
}

// NewBunStore creates a store over a dbkit connection or transaction.
func NewBunStore(db dbkit.IDB) *BunStore {
	return &BunStore{db: db}
}

// DB exposes the underlying connection.
func (s *BunStore) DB() dbkit.IDB {
	return s.db
}

// WithTx runs fn inside a transaction, or inside a savepoint when the store
// is already transactional.
func (s *BunStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if tx, ok := s.db.(*dbkit.Tx); ok {
		return tx.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(&BunStore{db: tx})
		})
	}
	if db, ok := s.db.(*dbkit.DBKit); ok {
		return db.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(&BunStore{db: tx})
		})
	}
	return fmt.Errorf("transaction support requires a dbkit.DBKit or dbkit.Tx instance")
}

// Ping runs a trivial query.
func (s *BunStore) Ping(ctx context.Context) error {
	var one int
	return dbkit.WithErr1(s.db.NewRaw("SELECT 1").Scan(ctx, &one), "Ping").Err()
}

// ============================================================================
// GRANTS
// ============================================================================

func (s *BunStore) CreateGrant(ctx context.Context, g *Grant) error {
	if err := g.Metadata.Validate(g.Source); err != nil {
		return err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now()
	if g.GrantedAt.IsZero() {
		g.GrantedAt = now
	}
	g.UpdatedAt = now

	result, err := s.db.NewInsert().Model(g).Exec(ctx)
	err = dbkit.WithErr(result, err, "CreateGrant").Err()
	if err != nil {
		if dbkit.IsDuplicate(err) && g.Source == SourceRole {
			return NewError(ErrRoleGrantConflict, "another writer created the role grant first").
				WithUser(g.DiscordUserID).
				WithCause(err)
		}
		return NewError(ErrDatabaseError, "failed to create grant").
			WithSteam(g.SteamID).
			WithCause(err)
	}
	return nil
}

func (s *BunStore) GetGrant(ctx context.Context, id string) (*Grant, error) {
	var g Grant
	err := dbkit.WithErr1(s.db.NewSelect().Model(&g).Where("id = ?", id).Limit(1).Scan(ctx), "GetGrant").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, NewError(ErrGrantNotFound, "").WithGrant(id)
		}
		return nil, err
	}
	return &g, nil
}

func (s *BunStore) ListGrants(ctx context.Context, filter GrantFilter) ([]Grant, error) {
	var grants []Grant
	q := s.db.NewSelect().Model(&grants)
	if filter.SteamID != "" {
		q = q.Where("steam_id = ?", filter.SteamID)
	}
	if filter.DiscordUserID != "" {
		q = q.Where("discord_user_id = ?", filter.DiscordUserID)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if !filter.IncludeRevoked {
		q = q.Where("revoked = false")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	q = q.Order("granted_at ASC", "id ASC")

	if err := dbkit.WithErr1(q.Scan(ctx), "ListGrants").Err(); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return grants, nil
}

func (s *BunStore) ActiveRoleGrant(ctx context.Context, discordUserID string) (*Grant, error) {
	var g Grant
	err := dbkit.WithErr1(s.db.NewSelect().Model(&g).
		Where("discord_user_id = ? AND source = ? AND revoked = false", discordUserID, SourceRole).
		Limit(1).
		Scan(ctx), "ActiveRoleGrant").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (s *BunStore) SecurityBlockedRoleGrants(ctx context.Context, discordUserID string) ([]Grant, error) {
	var grants []Grant
	err := dbkit.WithErr1(s.db.NewSelect().Model(&grants).
		Where("discord_user_id = ? AND source = ?", discordUserID, SourceRole).
		Where("approved = false AND revoked = true").
		Where("revoked_reason LIKE ?", SecurityBlockPrefix+"%").
		Order("granted_at DESC").
		Scan(ctx), "SecurityBlockedRoleGrants").Err()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return grants, nil
}

func (s *BunStore) UpdateGrant(ctx context.Context, id string, update GrantUpdate) error {
	if update.empty() {
		return nil
	}
	q := s.db.NewUpdate().Model((*Grant)(nil)).Where("id = ?", id)
	if update.RoleName != nil {
		q = q.Set("role_name = ?", *update.RoleName)
	}
	if update.Kind != nil {
		q = q.Set("kind = ?", *update.Kind)
	}
	if update.RevokedReason != nil {
		q = q.Set("revoked_reason = ?", *update.RevokedReason)
	}
	if update.Metadata != nil {
		b, err := update.Metadata.Encode()
		if err != nil {
			return err
		}
		q = q.Set("metadata = ?::jsonb", string(b))
	}
	if update.SteamID != nil {
		q = q.Set("steam_id = ?", *update.SteamID)
	}
	if update.EOSID != nil {
		q = q.Set("eos_id = NULLIF(?, '')", *update.EOSID)
	}
	if update.Username != nil {
		q = q.Set("username = NULLIF(?, '')", *update.Username)
	}
	q = q.Set("updated_at = current_timestamp")

	result, err := q.Exec(ctx)
	if err = dbkit.WithErr(result, err, "UpdateGrant").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to update grant").WithGrant(id).WithCause(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewError(ErrGrantNotFound, "").WithGrant(id)
	}
	return nil
}

func (s *BunStore) ApproveBlockedGrant(ctx context.Context, id string, meta Metadata) (bool, error) {
	b, err := meta.Encode()
	if err != nil {
		return false, err
	}
	result, err := s.db.NewUpdate().Model((*Grant)(nil)).
		Set("approved = true").
		Set("revoked = false").
		Set("revoked_by = NULL").
		Set("revoked_reason = NULL").
		Set("revoked_at = NULL").
		Set("metadata = ?::jsonb", string(b)).
		Set("updated_at = current_timestamp").
		Where("id = ? AND source = ?", id, SourceRole).
		Where("approved = false AND revoked = true").
		Where("revoked_reason LIKE ?", SecurityBlockPrefix+"%").
		Exec(ctx)
	if err = dbkit.WithErr(result, err, "ApproveBlockedGrant").Err(); err != nil {
		if dbkit.IsDuplicate(err) {
			return false, NewError(ErrRoleGrantConflict, "user already holds an active role grant").
				WithGrant(id).
				WithCause(err)
		}
		return false, NewError(ErrDatabaseError, "failed to approve grant").WithGrant(id).WithCause(err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetGrant(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *BunStore) RevokeGrant(ctx context.Context, id string, revokedBy, reason string, at time.Time) error {
	result, err := s.db.NewUpdate().Model((*Grant)(nil)).
		Set("revoked = true").
		Set("revoked_by = ?", revokedBy).
		Set("revoked_reason = ?", reason).
		Set("revoked_at = ?", at).
		Set("updated_at = current_timestamp").
		Where("id = ? AND revoked = false", id).
		Exec(ctx)
	if err = dbkit.WithErr(result, err, "RevokeGrant").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to revoke grant").WithGrant(id).WithCause(err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetGrant(ctx, id); err != nil {
		return err
	}
	return NewError(ErrGrantAlreadyRevoked, "").WithGrant(id)
}

func (s *BunStore) DeleteGrant(ctx context.Context, id string) error {
	result, err := s.db.NewDelete().Model((*Grant)(nil)).Where("id = ?", id).Exec(ctx)
	if err = dbkit.WithErr(result, err, "DeleteGrant").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to delete grant").WithGrant(id).WithCause(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewError(ErrGrantNotFound, "").WithGrant(id)
	}
	return nil
}

// ============================================================================
// ROLE CONFIGS
// ============================================================================

func (s *BunStore) CreateRoleConfig(ctx context.Context, rc *RoleConfig) error {
	now := time.Now()
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = now
	}
	rc.UpdatedAt = now

	result, err := s.db.NewInsert().Model(rc).Exec(ctx)
	if err = dbkit.WithErr(result, err, "CreateRoleConfig").Err(); err != nil {
		if dbkit.IsDuplicate(err) {
			return s.duplicateRoleConfig(ctx, rc, false, err)
		}
		return NewError(ErrDatabaseError, "failed to create role config").WithRole(rc.DiscordRoleID).WithCause(err)
	}
	return nil
}

func (s *BunStore) UpdateRoleConfig(ctx context.Context, rc *RoleConfig) error {
	rc.UpdatedAt = time.Now()
	result, err := s.db.NewUpdate().Model(rc).
		Column("group_name", "permission_set", "discord_position", "updated_by", "updated_at").
		WherePK().
		Exec(ctx)
	if err = dbkit.WithErr(result, err, "UpdateRoleConfig").Err(); err != nil {
		if dbkit.IsDuplicate(err) {
			return s.duplicateRoleConfig(ctx, rc, true, err)
		}
		return NewError(ErrDatabaseError, "failed to update role config").WithRole(rc.DiscordRoleID).WithCause(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewError(ErrRoleConfigNotFound, "").WithRole(rc.DiscordRoleID)
	}
	return nil
}

func (s *BunStore) DeleteRoleConfig(ctx context.Context, discordRoleID string) error {
	result, err := s.db.NewDelete().Model((*RoleConfig)(nil)).Where("discord_role_id = ?", discordRoleID).Exec(ctx)
	if err = dbkit.WithErr(result, err, "DeleteRoleConfig").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to delete role config").WithRole(discordRoleID).WithCause(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewError(ErrRoleConfigNotFound, "").WithRole(discordRoleID)
	}
	return nil
}

func (s *BunStore) GetRoleConfig(ctx context.Context, discordRoleID string) (*RoleConfig, error) {
	var rc RoleConfig
	err := dbkit.WithErr1(s.db.NewSelect().Model(&rc).Where("discord_role_id = ?", discordRoleID).Limit(1).Scan(ctx), "GetRoleConfig").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, NewError(ErrRoleConfigNotFound, "").WithRole(discordRoleID)
		}
		return nil, err
	}
	return &rc, nil
}

func (s *BunStore) ListRoleConfigs(ctx context.Context) ([]RoleConfig, error) {
	var configs []RoleConfig
	err := dbkit.WithErr1(s.db.NewSelect().Model(&configs).
		Order("discord_position DESC", "created_at ASC", "discord_role_id ASC").
		Scan(ctx), "ListRoleConfigs").Err()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return configs, nil
}

// duplicateRoleConfig names the configuration that already owns the role or group.
// An update can only collide on the group, so its own row is excluded.
func (s *BunStore) duplicateRoleConfig(ctx context.Context, rc *RoleConfig, updating bool, cause error) error {
	var existing RoleConfig
	q := s.db.NewSelect().Model(&existing).
		Where("discord_role_id = ? OR group_name = ?", rc.DiscordRoleID, rc.GroupName)
	if updating {
		q = q.Where("discord_role_id != ?", rc.DiscordRoleID)
	}
	err := q.Limit(1).Scan(ctx)
	if err != nil {
		return NewError(ErrDuplicateRoleConfig, fmt.Sprintf("role %s or group %q is already configured", rc.DiscordRoleID, rc.GroupName)).
			WithRole(rc.DiscordRoleID).
			WithCause(cause)
	}
	if existing.DiscordRoleID == rc.DiscordRoleID {
		return NewError(ErrDuplicateRoleConfig,
			fmt.Sprintf("role %s is already mapped to group %q", existing.DiscordRoleID, existing.GroupName)).
			WithRole(rc.DiscordRoleID).
			WithCause(cause)
	}
	return NewError(ErrDuplicateRoleConfig,
		fmt.Sprintf("group %q is already mapped to role %s", existing.GroupName, existing.DiscordRoleID)).
		WithRole(existing.DiscordRoleID).
		WithCause(cause)
}

// ============================================================================
// LINKS
// ============================================================================

func (s *BunStore) UpsertAccountLink(ctx context.Context, link *AccountLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now

	result, err := s.db.NewInsert().Model(link).
		On("CONFLICT (discord_user_id) DO UPDATE").
		Set("steam_id = EXCLUDED.steam_id").
		Set("eos_id = EXCLUDED.eos_id").
		Set("username = EXCLUDED.username").
		Set("confidence_score = EXCLUDED.confidence_score").
		Set("link_source = EXCLUDED.link_source").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id, created_at").
		Exec(ctx)
	if err = dbkit.WithErr(result, err, "UpsertAccountLink").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to store account link").WithUser(link.DiscordUserID).WithCause(err)
	}
	return nil
}

func (s *BunStore) GetAccountLink(ctx context.Context, discordUserID string) (*AccountLink, error) {
	var link AccountLink
	err := dbkit.WithErr1(s.db.NewSelect().Model(&link).Where("discord_user_id = ?", discordUserID).Limit(1).Scan(ctx), "GetAccountLink").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (s *BunStore) CreatePotentialLink(ctx context.Context, link *PotentialLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now

	result, err := s.db.NewInsert().Model(link).Exec(ctx)
	if err = dbkit.WithErr(result, err, "CreatePotentialLink").Err(); err != nil {
		return NewError(ErrDatabaseError, "failed to store potential link").WithUser(link.DiscordUserID).WithCause(err)
	}
	return nil
}

func (s *BunStore) ListPotentialLinks(ctx context.Context, discordUserID string) ([]PotentialLink, error) {
	var links []PotentialLink
	err := dbkit.WithErr1(s.db.NewSelect().Model(&links).
		Where("discord_user_id = ?", discordUserID).
		Order("confidence_score DESC", "updated_at DESC").
		Scan(ctx), "ListPotentialLinks").Err()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return links, nil
}

// ============================================================================
// AUDIT
// ============================================================================

func (s *BunStore) InsertAudit(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return dbkit.WithErr1(err, "InsertAudit").Err()
}

func (s *BunStore) ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	var logs []AuditLog
	q := s.db.NewSelect().Model(&logs)
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.TargetID != "" {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if filter.Action != "" {
		q = q.Where("action_type = ?", filter.Action)
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}
	q = q.Limit(filter.effectiveLimit())
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	q = q.Order("timestamp DESC")

	if err := dbkit.WithErr1(q.Scan(ctx), "ListAudit").Err(); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return logs, nil
}
