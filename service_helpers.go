package whitelistkit

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"
)

// ============================================================================
// INTERNAL HELPERS
// ============================================================================

// logAudit writes an audit record filled with the request metadata of ctx.
func (s *Service) logAudit(ctx context.Context, store Store, entry *AuditEntry) error {
	audit := GetAuditContext(ctx)
	if entry.ActorID == "" {
		entry.ActorID = audit.ActorID
	}
	if entry.ActorID == "" {
		entry.ActorID = SystemActor
	}
	entry.IPAddress = audit.IPAddress
	entry.UserAgent = audit.UserAgent
	entry.RequestID = audit.RequestID

	model := entry.ToModel()
	model.Timestamp = s.now()
	return store.InsertAudit(ctx, model)
}

// auditBestEffort logs instead of failing when the write it describes has
// already been committed.
func (s *Service) auditBestEffort(ctx context.Context, entry *AuditEntry) {
	if err := s.logAudit(ctx, s.store, entry); err != nil {
		s.logger.WithError(err).
			WithField("action", entry.Action).
			WithField("target_id", entry.TargetID).
			Warn("failed to write audit record")
	}
}

// withRetry runs fn up to maxAttempts times while it fails with a transient error.
func withRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientTransactionError(err) || ctx.Err() != nil {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		// Exponential backoff with jitter
		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		jitter := time.Duration(float64(backoff) * 0.1 * (0.5 + rand.Float64()))
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff + jitter):
		}
	}
	return lastErr
}

// isTransientTransactionError checks if an error is transient and can be retried
func isTransientTransactionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// PostgreSQL transient errors
	transientErrors := []string{
		"deadlock",
		"could not serialize",
		"lock wait timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
		"try again",
		"resource temporarily unavailable",
	}
	for _, transientErr := range transientErrors {
		if strings.Contains(errStr, transientErr) {
			return true
		}
	}
	return false
}

// GetTransactionMetrics returns the current transaction performance metrics.
func (s *Service) GetTransactionMetrics() TransactionMetrics {
	return s.txMonitor.getMetrics()
}

// ResetTransactionMetrics resets all transaction metrics.
func (s *Service) ResetTransactionMetrics() {
	s.txMonitor.reset()
}

// IsTransactionHealthy checks if transaction performance is within acceptable thresholds.
func (s *Service) IsTransactionHealthy() bool {
	metrics := s.txMonitor.getMetrics()

	// If we have very few transactions, consider it healthy
	if metrics.TotalTransactions < 10 {
		return true
	}

	// Check failure rate (should be less than 5%)
	failureRate := float64(metrics.FailedTransactions) / float64(metrics.TotalTransactions)
	if failureRate > 0.05 {
		return false
	}

	// Check average duration (should be less than 1 second)
	return metrics.AverageDuration <= time.Second
}
