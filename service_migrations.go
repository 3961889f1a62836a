package whitelistkit

import (
	"context"
	"fmt"

	"github.com/fernandezvara/dbkit"
)

// MigrationService provides migration management functionality as an extension to Service
type MigrationService struct {
	*Service
}

// NewMigrationService creates a new migration service extension
func NewMigrationService(service *Service) *MigrationService {
	return &MigrationService{Service: service}
}

// RunMigrations applies pending migrations and returns how many ran.
func (ms *MigrationService) RunMigrations(ctx context.Context) (int, error) {
	bs, ok := ms.store.(*BunStore)
	if !ok {
		return 0, fmt.Errorf("migrations require a BunStore")
	}
	db, ok := bs.DB().(*dbkit.DBKit)
	if !ok {
		return 0, fmt.Errorf("migrations require a dbkit.DBKit instance")
	}
	result, err := db.Migrate(ctx, Migrations())
	if err != nil {
		return 0, err
	}
	for _, m := range result.Applied {
		ms.logger.WithField("migration", m.ID).Info("applied migration")
	}
	return len(result.Applied), nil
}

// Migrations returns all database migrations required for whitelistkit.
// Use db.Migrate(ctx, whitelistkit.Migrations()) to run them.
func Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "whitelistkit-001",
			Description: "Create whitelist_grants table",
			SQL: `
                CREATE TABLE IF NOT EXISTS whitelist_grants (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    steam_id TEXT NOT NULL,
                    discord_user_id TEXT,
                    eos_id TEXT,
                    username TEXT,
                    source TEXT NOT NULL CHECK (source IN ('role', 'manual', 'donation', 'import')),
                    kind TEXT NOT NULL CHECK (kind IN ('staff', 'whitelist')),
                    duration_value INTEGER CHECK (duration_value IS NULL OR duration_value >= 0),
                    duration_type TEXT CHECK (duration_type IN ('days', 'months')),
                    granted_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    granted_by TEXT NOT NULL,
                    approved BOOLEAN NOT NULL DEFAULT true,
                    revoked BOOLEAN NOT NULL DEFAULT false,
                    revoked_by TEXT,
                    revoked_reason TEXT,
                    revoked_at TIMESTAMPTZ,
                    role_name TEXT,
                    expiration TIMESTAMPTZ,
                    metadata JSONB NOT NULL DEFAULT '{}'::jsonb CHECK (octet_length(metadata::text) <= 10240),
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    CHECK ((duration_value IS NULL) = (duration_type IS NULL)),
                    CHECK (source = 'role' OR role_name IS NULL)
                )`,
		},
		{
			ID:          "whitelistkit-002",
			Description: "Enforce one active role grant per Discord user",
			SQL: `
                CREATE UNIQUE INDEX IF NOT EXISTS whitelist_grants_active_role_uidx
                    ON whitelist_grants (discord_user_id)
                    WHERE source = 'role' AND revoked = false`,
		},
		{
			ID:          "whitelistkit-003",
			Description: "Index grants by subject",
			SQL: `
                CREATE INDEX IF NOT EXISTS whitelist_grants_steam_idx ON whitelist_grants (steam_id);
                CREATE INDEX IF NOT EXISTS whitelist_grants_discord_idx ON whitelist_grants (discord_user_id, source)`,
		},
		{
			ID:          "whitelistkit-004",
			Description: "Create role_configs table",
			SQL: `
                CREATE TABLE IF NOT EXISTS role_configs (
                    discord_role_id TEXT PRIMARY KEY,
                    group_name TEXT NOT NULL UNIQUE,
                    permission_set TEXT[] NOT NULL DEFAULT '{}',
                    discord_position INTEGER NOT NULL DEFAULT 0,
                    created_by TEXT NOT NULL,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_by TEXT,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "whitelistkit-005",
			Description: "Create account link tables",
			SQL: `
                CREATE TABLE IF NOT EXISTS account_links (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    discord_user_id TEXT NOT NULL UNIQUE,
                    steam_id TEXT NOT NULL,
                    eos_id TEXT,
                    username TEXT,
                    confidence_score DOUBLE PRECISION NOT NULL CHECK (confidence_score = 1.0),
                    link_source TEXT NOT NULL,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                );
                CREATE TABLE IF NOT EXISTS potential_links (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    discord_user_id TEXT NOT NULL,
                    steam_id TEXT NOT NULL,
                    eos_id TEXT,
                    username TEXT,
                    confidence_score DOUBLE PRECISION NOT NULL CHECK (confidence_score >= 0 AND confidence_score < 1.0),
                    link_source TEXT NOT NULL,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                );
                CREATE INDEX IF NOT EXISTS potential_links_discord_idx ON potential_links (discord_user_id)`,
		},
		{
			ID:          "whitelistkit-006",
			Description: "Create whitelist_audit_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS whitelist_audit_log (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    timestamp TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    action_type TEXT NOT NULL,
                    actor_id TEXT NOT NULL,
                    target_id TEXT NOT NULL,
                    description TEXT NOT NULL,
                    details JSONB,
                    severity TEXT NOT NULL CHECK (severity IN ('info', 'warning', 'critical')),
                    ip_address TEXT,
                    user_agent TEXT,
                    request_id TEXT
                );
                CREATE INDEX IF NOT EXISTS whitelist_audit_log_target_idx ON whitelist_audit_log (target_id, timestamp DESC)`,
		},
	}
}
