package whitelistkit

import "context"

// ============================================================================
// AUDIT LOG
// ============================================================================

// GetAuditLog retrieves audit log entries with optional filters, newest first.
func (s *Service) GetAuditLog(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	if filter.Limit <= 0 {
		filter.Limit = filter.effectiveLimit()
	}
	return s.store.ListAudit(ctx, filter)
}
