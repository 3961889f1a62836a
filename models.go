package whitelistkit

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// GrantSource identifies what created a grant.
type GrantSource string

const (
	SourceRole     GrantSource = "role"
	SourceManual   GrantSource = "manual"
	SourceDonation GrantSource = "donation"
	SourceImport   GrantSource = "import"
)

// Valid reports whether s is a known grant source.
func (s GrantSource) Valid() bool {
	switch s {
	case SourceRole, SourceManual, SourceDonation, SourceImport:
		return true
	}
	return false
}

// GrantKind separates staff entitlements from plain whitelist slots.
type GrantKind string

const (
	KindStaff     GrantKind = "staff"
	KindWhitelist GrantKind = "whitelist"
)

// Valid reports whether k is a known grant kind.
func (k GrantKind) Valid() bool {
	return k == KindStaff || k == KindWhitelist
}

// DurationType is the unit of a grant duration.
type DurationType string

const (
	DurationDays   DurationType = "days"
	DurationMonths DurationType = "months"
)

// Valid reports whether d is a known duration unit.
func (d DurationType) Valid() bool {
	return d == DurationDays || d == DurationMonths
}

// SecurityBlockPrefix starts the revocation reason of every security-blocked grant.
const SecurityBlockPrefix = "Security block:"

// Grant is one entitlement ledger row.
// A nil DurationValue means permanent access, a zero DurationValue means the
// grant is already expired and only kept for audit.
type Grant struct {
	bun.BaseModel `bun:"table:whitelist_grants,alias:wg"`

	ID            string       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	SteamID       string       `bun:"steam_id,notnull" json:"steam_id"`
	DiscordUserID string       `bun:"discord_user_id,nullzero" json:"discord_user_id,omitempty"`
	EOSID         string       `bun:"eos_id,nullzero" json:"eos_id,omitempty"`
	Username      string       `bun:"username,nullzero" json:"username,omitempty"`
	Source        GrantSource  `bun:"source,notnull" json:"source"`
	Kind          GrantKind    `bun:"kind,notnull" json:"kind"`
	DurationValue *int         `bun:"duration_value" json:"duration_value"`
	DurationType  DurationType `bun:"duration_type,nullzero" json:"duration_type,omitempty"`
	GrantedAt     time.Time    `bun:"granted_at,notnull,default:current_timestamp" json:"granted_at"`
	GrantedBy     string       `bun:"granted_by,notnull" json:"granted_by"`
	Approved      bool         `bun:"approved,notnull" json:"approved"`
	Revoked       bool         `bun:"revoked,notnull" json:"revoked"`
	RevokedBy     string       `bun:"revoked_by,nullzero" json:"revoked_by,omitempty"`
	RevokedReason string       `bun:"revoked_reason,nullzero" json:"revoked_reason,omitempty"`
	RevokedAt     *time.Time   `bun:"revoked_at" json:"revoked_at,omitempty"`
	RoleName      string       `bun:"role_name,nullzero" json:"role_name,omitempty"`

	// Expiration is informational only. Status is always derived from the
	// duration fields.
	Expiration *time.Time `bun:"expiration" json:"expiration,omitempty"`

	Metadata  Metadata  `bun:"metadata,type:jsonb" json:"metadata"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// IsPermanent reports whether the grant has no duration.
func (g *Grant) IsPermanent() bool {
	return g.DurationValue == nil
}

// IsZeroDuration reports whether the grant was recorded as already expired.
func (g *Grant) IsZeroDuration() bool {
	return g.DurationValue != nil && *g.DurationValue == 0
}

// Usable reports whether the grant may contribute to access at all.
func (g *Grant) Usable() bool {
	return g.Approved && !g.Revoked
}

// IndividualExpiration returns grantedAt plus the grant's own duration.
// ok is false for permanent grants.
func (g *Grant) IndividualExpiration() (t time.Time, ok bool) {
	if g.DurationValue == nil {
		return time.Time{}, false
	}
	return addDuration(g.GrantedAt, *g.DurationValue, g.DurationType), true
}

// IsSecurityBlocked reports whether this is a role grant withheld by the confidence gate.
func (g *Grant) IsSecurityBlocked() bool {
	return g.Source == SourceRole && !g.Approved && g.Revoked &&
		strings.HasPrefix(g.RevokedReason, SecurityBlockPrefix)
}

// SubjectKey groups grants that belong to the same player.
func (g *Grant) SubjectKey() string {
	if g.SteamID != "" {
		return g.SteamID
	}
	return "discord:" + g.DiscordUserID
}

// LinkSource records how an account link was established.
type LinkSource string

const (
	LinkSelfVerified LinkSource = "self-verified"
	LinkAdmin        LinkSource = "admin"
	LinkWhitelist    LinkSource = "whitelist"
	LinkTicket       LinkSource = "ticket"
)

// Valid reports whether s is a known link source.
func (s LinkSource) Valid() bool {
	switch s {
	case LinkSelfVerified, LinkAdmin, LinkWhitelist, LinkTicket:
		return true
	}
	return false
}

// VerifiedConfidence is the only score a verified AccountLink can carry.
const VerifiedConfidence = 1.0

// AccountLink is a verified Discord to Steam mapping.
type AccountLink struct {
	bun.BaseModel `bun:"table:account_links,alias:al"`

	ID              string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DiscordUserID   string     `bun:"discord_user_id,notnull,unique" json:"discord_user_id"`
	SteamID         string     `bun:"steam_id,notnull" json:"steam_id"`
	EOSID           string     `bun:"eos_id,nullzero" json:"eos_id,omitempty"`
	Username        string     `bun:"username,nullzero" json:"username,omitempty"`
	ConfidenceScore float64    `bun:"confidence_score,notnull" json:"confidence_score"`
	LinkSource      LinkSource `bun:"link_source,notnull" json:"link_source"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// PotentialLink is an unverified Discord to Steam mapping. A subject may
// have several of them.
type PotentialLink struct {
	bun.BaseModel `bun:"table:potential_links,alias:pl"`

	ID              string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DiscordUserID   string     `bun:"discord_user_id,notnull" json:"discord_user_id"`
	SteamID         string     `bun:"steam_id,notnull" json:"steam_id"`
	EOSID           string     `bun:"eos_id,nullzero" json:"eos_id,omitempty"`
	Username        string     `bun:"username,nullzero" json:"username,omitempty"`
	ConfidenceScore float64    `bun:"confidence_score,notnull" json:"confidence_score"`
	LinkSource      LinkSource `bun:"link_source,notnull" json:"link_source"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// Confidence is the best link known for a Discord user.
type Confidence struct {
	Score    float64
	Source   LinkSource
	SteamID  string
	EOSID    string
	Username string
	Verified bool
}

// Linked reports whether any link exists.
func (c Confidence) Linked() bool {
	return c.SteamID != ""
}

// RoleConfig maps one tracked Discord role to a game-server group.
type RoleConfig struct {
	bun.BaseModel `bun:"table:role_configs,alias:rc"`

	DiscordRoleID   string    `bun:"discord_role_id,pk" json:"discord_role_id"`
	GroupName       string    `bun:"group_name,notnull,unique" json:"group_name"`
	PermissionSet   []string  `bun:"permission_set,array" json:"permission_set"`
	DiscordPosition int       `bun:"discord_position,notnull" json:"discord_position"`
	CreatedBy       string    `bun:"created_by,notnull" json:"created_by"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedBy       string    `bun:"updated_by,nullzero" json:"updated_by,omitempty"`
	UpdatedAt       time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// PermissionReserve is the capability of a plain whitelist slot.
const PermissionReserve = "reserve"

// Kind classifies the group: anything beyond a reserved slot is staff.
func (rc *RoleConfig) Kind() GrantKind {
	for _, p := range rc.PermissionSet {
		if p != PermissionReserve {
			return KindStaff
		}
	}
	return KindWhitelist
}

// AuditSeverity ranks audit records.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityCritical AuditSeverity = "critical"
)

// AuditAction represents the type of action in the audit log.
type AuditAction string

const (
	AuditGrantCreated       AuditAction = "grant_created"
	AuditGrantRevoked       AuditAction = "grant_revoked"
	AuditGrantPurged        AuditAction = "grant_purged"
	AuditGrantRoleChanged   AuditAction = "grant_role_changed"
	AuditGrantUpgraded      AuditAction = "grant_upgraded"
	AuditGrantBlocked       AuditAction = "grant_security_blocked"
	AuditGrantRebound       AuditAction = "grant_identity_rebound"
	AuditRoleConfigCreated  AuditAction = "role_config_created"
	AuditRoleConfigUpdated  AuditAction = "role_config_updated"
	AuditRoleConfigDeleted  AuditAction = "role_config_deleted"
	AuditLinkVerified       AuditAction = "link_verified"
	AuditPotentialLinkAdded AuditAction = "potential_link_added"
	AuditSyncDeferred       AuditAction = "sync_deferred"
)

// AuditLog records every entitlement and configuration change.
type AuditLog struct {
	bun.BaseModel `bun:"table:whitelist_audit_log,alias:wal"`

	ID          string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Timestamp   time.Time      `bun:"timestamp,notnull,default:current_timestamp" json:"timestamp"`
	ActionType  AuditAction    `bun:"action_type,notnull" json:"action_type"`
	ActorID     string         `bun:"actor_id,notnull" json:"actor_id"`
	TargetID    string         `bun:"target_id,notnull" json:"target_id"`
	Description string         `bun:"description,notnull" json:"description"`
	Details     map[string]any `bun:"details,type:jsonb" json:"details,omitempty"`
	Severity    AuditSeverity  `bun:"severity,notnull" json:"severity"`

	// Request metadata for forensics
	IPAddress string `bun:"ip_address,nullzero" json:"ip_address,omitempty"`
	UserAgent string `bun:"user_agent,nullzero" json:"user_agent,omitempty"`
	RequestID string `bun:"request_id,nullzero" json:"request_id,omitempty"`
}

// AuditEntry is used to create new audit log entries.
type AuditEntry struct {
	Action      AuditAction
	ActorID     string
	TargetID    string
	Description string
	Details     map[string]any
	Severity    AuditSeverity
	IPAddress   string
	UserAgent   string
	RequestID   string
}

// ToModel converts an AuditEntry to an AuditLog model.
func (e *AuditEntry) ToModel() *AuditLog {
	severity := e.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	return &AuditLog{
		ActionType:  e.Action,
		ActorID:     e.ActorID,
		TargetID:    e.TargetID,
		Description: e.Description,
		Details:     e.Details,
		Severity:    severity,
		IPAddress:   e.IPAddress,
		UserAgent:   e.UserAgent,
		RequestID:   e.RequestID,
		Timestamp:   time.Now(),
	}
}
