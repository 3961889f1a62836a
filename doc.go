// Package whitelistkit grants and revokes time-bounded game-server access
// ("whitelist") to members of a Discord community.
//
// Access comes from Discord role membership, manual admin action, donations
// or bulk imports, and every source is recorded as a Grant in one ledger.
// Role-derived grants are gated on the confidence of the member's Discord to
// Steam account link.
//
// # Core Concepts
//
// Grant: one ledger row. A nil duration is permanent, a zero duration is
// already expired and kept for audit only.
//
// Stacking: timed grants of a subject add up. Months and days are summed
// separately and applied to the earliest grant of the stack; a grant that
// lapsed before the next one was issued closes its stack.
//
// RoleConfig: maps a tracked Discord role to a game-server group and its
// permissions. When a member holds several tracked roles, the one highest
// in the guild hierarchy wins.
//
// Security block: a role grant for a member whose best link scores below
// 1.0 is stored approved=false, revoked=true with a reason starting with
// "Security block:". Verifying the link upgrades it.
//
// # Key Features
//
//   - One active role grant per Discord user, enforced by a partial unique index
//   - Batch role sync on a bounded worker pool with per-member failure capture
//   - Entitlement cache with explicit invalidation, optionally fanned out over Redis
//   - Combined whitelist export in the game server's admin loader format
//   - Audit record for every grant, upgrade and role config change
//
// # Basic Usage
//
//	// 1. Connect and migrate
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	_, _ = db.Migrate(ctx, whitelistkit.Migrations())
//
//	// 2. Create the service
//	service := whitelistkit.NewService(whitelistkit.NewBunStore(db),
//	    whitelistkit.WithGuild(discord.NewClient(token), guildID),
//	)
//
//	// 3. Track a role
//	service.CreateRoleConfig(ctx, whitelistkit.RoleConfig{
//	    DiscordRoleID:   "1234",
//	    GroupName:       "Moderator",
//	    PermissionSet:   []string{"reserve", "kick"},
//	    DiscordPosition: 10,
//	})
//
//	// 4. Grant a donation slot for one month
//	months := 1
//	service.Grant(ctx, whitelistkit.GrantRequest{
//	    SteamID:       "76561198000000000",
//	    Source:        whitelistkit.SourceDonation,
//	    DurationValue: &months,
//	    DurationType:  whitelistkit.DurationMonths,
//	})
//
//	// 5. Serve the combined whitelist
//	service.ExportCombined(ctx, w)
package whitelistkit
