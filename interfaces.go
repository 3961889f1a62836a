package whitelistkit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// Member is one guild member as seen by the sync engine.
type Member struct {
	UserID   string
	Username string
	RoleIDs  []string
}

// Guild is a fetched Discord guild.
type Guild interface {
	ID() string

	// FetchMembers lists every member of the guild.
	FetchMembers(ctx context.Context) ([]Member, error)

	// FetchMember returns ErrMemberNotFound when the user left the guild.
	FetchMember(ctx context.Context, userID string) (*Member, error)

	// RolePositions returns the live hierarchy position of every guild role.
	RolePositions(ctx context.Context) (map[string]int, error)
}

// GuildSource resolves guilds by ID.
type GuildSource interface {
	FetchGuild(ctx context.Context, guildID string) (Guild, error)
}

// ConfidenceSource reports the best account link of a Discord user.
type ConfidenceSource interface {
	HighestConfidence(ctx context.Context, discordUserID string) (Confidence, error)
}

// SyncScheduler retries single user syncs out of band.
type SyncScheduler interface {
	ScheduleUserSync(ctx context.Context, discordUserID string) error
}

// SyncSchedulerFunc adapts a function to SyncScheduler.
type SyncSchedulerFunc func(ctx context.Context, discordUserID string) error

func (f SyncSchedulerFunc) ScheduleUserSync(ctx context.Context, discordUserID string) error {
	return f(ctx, discordUserID)
}

// InvalidationBus fans cache invalidations out to other processes.
type InvalidationBus interface {
	Publish(ctx context.Context) error
}

// HealthMonitor defines the health monitoring interface
type HealthMonitor interface {
	Health(ctx context.Context) dbkit.HealthStatus
	IsHealthy(ctx context.Context) bool
	Ping(ctx context.Context) error
	GetPoolStats() dbkit.PoolStats
}

// TransactionMonitor defines the transaction monitoring interface
type TransactionMonitor interface {
	GetTransactionMetrics() TransactionMetrics
	ResetTransactionMetrics()
	IsTransactionHealthy() bool
}

// Syncer is the part of Service driven by schedulers and job workers.
type Syncer interface {
	SyncUser(ctx context.Context, discordUserID string) (SyncResult, error)
	SyncAll(ctx context.Context) (SyncSummary, error)
}

var (
	_ ConfidenceSource   = (*Service)(nil)
	_ TransactionMonitor = (*Service)(nil)
	_ Syncer             = (*Service)(nil)
	_ HealthMonitor      = (*HealthService)(nil)
)
