package whitelistkit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// HealthService provides health monitoring functionality as an extension to Service
type HealthService struct {
	*Service
}

// NewHealthService creates a new health service extension
func NewHealthService(service *Service) *HealthService {
	return &HealthService{Service: service}
}

// conn returns the connection behind a BunStore, if any.
func (hs *HealthService) conn() (*dbkit.DBKit, bool) {
	bs, ok := hs.store.(*BunStore)
	if !ok {
		return nil, false
	}
	db, ok := bs.DB().(*dbkit.DBKit)
	return db, ok
}

// Health performs a comprehensive health check of the storage.
// Returns detailed status including latency and connection pool statistics.
func (hs *HealthService) Health(ctx context.Context) dbkit.HealthStatus {
	if db, ok := hs.conn(); ok {
		return db.Health(ctx)
	}

	if err := hs.Ping(ctx); err != nil {
		return dbkit.HealthStatus{Healthy: false, Error: err.Error()}
	}
	return dbkit.HealthStatus{Healthy: true}
}

// IsHealthy performs a simple health check of the storage.
func (hs *HealthService) IsHealthy(ctx context.Context) bool {
	if db, ok := hs.conn(); ok {
		return db.IsHealthy(ctx)
	}
	return hs.Ping(ctx) == nil
}

// GetPoolStats returns connection pool statistics for monitoring.
// Returns zero values if the store has no connection pool.
func (hs *HealthService) GetPoolStats() dbkit.PoolStats {
	if db, ok := hs.conn(); ok {
		return dbkit.PoolStatsFromSQL(db.Stats())
	}
	return dbkit.PoolStats{}
}

// Ping performs a basic connectivity test to the storage.
func (hs *HealthService) Ping(ctx context.Context) error {
	return hs.store.Ping(ctx)
}
