package whitelistkit

import (
	"context"
	"time"
)

// Transaction executes fn against a transactional view of the store with
// automatic commit/rollback. If fn returns an error, every write made through
// tx is rolled back. Nested calls on a transactional store use savepoints.
//
// Example:
//
//	err := service.Transaction(ctx, func(tx whitelistkit.Store) error {
//	    if err := tx.RevokeGrant(ctx, id, actor, "duplicate", now); err != nil {
//	        return err // This will cause a rollback
//	    }
//	    return tx.InsertAudit(ctx, entry.ToModel())
//	})
func (s *Service) Transaction(ctx context.Context, fn func(tx Store) error) error {
	start := time.Now()
	err := s.store.WithTx(ctx, fn)
	s.txMonitor.recordTransaction(time.Since(start), err == nil)
	return err
}
