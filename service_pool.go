package whitelistkit

import (
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConnections    int           `json:"max_open_connections"`
	MaxIdleConnections    int           `json:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `json:"connection_max_lifetime"`
	ConnectionMaxIdleTime time.Duration `json:"connection_max_idle_time"`
}

// DefaultPoolConfig returns pool settings sized for one sync worker pool
// plus the HTTP surface.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConnections:    20,
		MaxIdleConnections:    5,
		ConnectionMaxLifetime: time.Hour,
		ConnectionMaxIdleTime: 10 * time.Minute,
	}
}

// ConfigurePool updates the connection pool of the underlying database.
func (s *BunStore) ConfigurePool(config PoolConfig) error {
	db, ok := s.db.(*dbkit.DBKit)
	if !ok {
		return fmt.Errorf("connection pool configuration requires a dbkit.DBKit instance")
	}
	bunDB := db.Bun()
	if bunDB == nil {
		return fmt.Errorf("database instance not available")
	}
	if config.MaxOpenConnections <= 0 {
		return fmt.Errorf("max open connections must be positive, got %d", config.MaxOpenConnections)
	}

	bunDB.SetMaxOpenConns(config.MaxOpenConnections)
	bunDB.SetMaxIdleConns(config.MaxIdleConnections)
	bunDB.SetConnMaxLifetime(config.ConnectionMaxLifetime)
	bunDB.SetConnMaxIdleTime(config.ConnectionMaxIdleTime)
	return nil
}

// PoolConfigForConcurrency grows the default pool so every sync worker can
// hold a transaction while the HTTP surface keeps a few connections.
func PoolConfigForConcurrency(workers int) PoolConfig {
	cfg := DefaultPoolConfig()
	if need := workers*2 + 5; need > cfg.MaxOpenConnections {
		cfg.MaxOpenConnections = need
	}
	if cfg.MaxIdleConnections > cfg.MaxOpenConnections {
		cfg.MaxIdleConnections = cfg.MaxOpenConnections
	}
	return cfg
}
