package whitelistkit

import (
	"context"
	"time"
)

// Store persists grants, links, role configs and the audit log.
//
// Implementations must enforce the one-active-role-grant invariant themselves
// (a unique index in Postgres, a locked check in memory) and report a lost
// race as ErrRoleGrantConflict. Single-row mutations are applied atomically.
type Store interface {
	GrantStore
	RoleConfigStore
	LinkStore
	AuditStore

	// WithTx runs fn against a transactional view of the store. Returning an
	// error rolls every write made through tx back.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}

// GrantStore is the grant ledger.
type GrantStore interface {
	CreateGrant(ctx context.Context, g *Grant) error
	GetGrant(ctx context.Context, id string) (*Grant, error)
	ListGrants(ctx context.Context, filter GrantFilter) ([]Grant, error)

	// ActiveRoleGrant returns the non-revoked role grant of a user, or nil.
	ActiveRoleGrant(ctx context.Context, discordUserID string) (*Grant, error)

	// SecurityBlockedRoleGrants returns blocked role grants, newest first.
	SecurityBlockedRoleGrants(ctx context.Context, discordUserID string) ([]Grant, error)

	UpdateGrant(ctx context.Context, id string, update GrantUpdate) error

	// ApproveBlockedGrant flips a security-blocked grant to approved and
	// non-revoked. It returns false when the grant is not blocked any more.
	ApproveBlockedGrant(ctx context.Context, id string, meta Metadata) (bool, error)

	RevokeGrant(ctx context.Context, id string, revokedBy, reason string, at time.Time) error
	DeleteGrant(ctx context.Context, id string) error
}

// RoleConfigStore holds the tracked role mapping.
type RoleConfigStore interface {
	CreateRoleConfig(ctx context.Context, rc *RoleConfig) error
	UpdateRoleConfig(ctx context.Context, rc *RoleConfig) error
	DeleteRoleConfig(ctx context.Context, discordRoleID string) error
	GetRoleConfig(ctx context.Context, discordRoleID string) (*RoleConfig, error)
	ListRoleConfigs(ctx context.Context) ([]RoleConfig, error)
}

// LinkStore holds Discord to Steam links.
type LinkStore interface {
	UpsertAccountLink(ctx context.Context, link *AccountLink) error
	GetAccountLink(ctx context.Context, discordUserID string) (*AccountLink, error)
	CreatePotentialLink(ctx context.Context, link *PotentialLink) error
	ListPotentialLinks(ctx context.Context, discordUserID string) ([]PotentialLink, error)
}

// AuditStore is the append-only audit surface.
type AuditStore interface {
	InsertAudit(ctx context.Context, entry *AuditLog) error
	ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error)
}

// GrantFilter narrows ListGrants.
type GrantFilter struct {
	SteamID        string
	DiscordUserID  string
	Source         GrantSource
	Kind           GrantKind
	IncludeRevoked bool
	Limit          int
	Offset         int
}

// GrantUpdate is a partial update applied in a single statement. Nil fields
// are left untouched.
type GrantUpdate struct {
	RoleName      *string
	Kind          *GrantKind
	RevokedReason *string
	Metadata      *Metadata

	// Identity rebinds a role grant to another linked account.
	SteamID  *string
	EOSID    *string
	Username *string
}

func (u GrantUpdate) empty() bool {
	return u.RoleName == nil && u.Kind == nil && u.RevokedReason == nil && u.Metadata == nil &&
		u.SteamID == nil && u.EOSID == nil && u.Username == nil
}
