package whitelistkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServiceLogAudit tests that request metadata is copied onto audit records
func TestServiceLogAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithAuditContext(context.Background(), AuditContext{
		ActorID:   "admin-7",
		IPAddress: "10.0.0.2",
		UserAgent: "curl/8",
		RequestID: "req-9",
	})

	require.NoError(t, env.svc.logAudit(ctx, env.store, &AuditEntry{
		Action:   AuditGrantCreated,
		TargetID: "765",
	}))

	logs, err := env.svc.GetAuditLog(ctx, NewAuditLogFilter())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	l := logs[0]
	assert.Equal(t, "admin-7", l.ActorID)
	assert.Equal(t, "10.0.0.2", l.IPAddress)
	assert.Equal(t, "curl/8", l.UserAgent)
	assert.Equal(t, "req-9", l.RequestID)
	assert.Equal(t, SeverityInfo, l.Severity)
	assert.Equal(t, testEpoch, l.Timestamp)
}

func TestServiceLogAuditSystemActor(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.logAudit(context.Background(), env.store, &AuditEntry{Action: AuditGrantBlocked, TargetID: "u1"}))

	logs, err := env.svc.GetAuditLog(context.Background(), NewAuditLogFilter())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, SystemActor, logs[0].ActorID)
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 3, func() error {
			calls++
			if calls < 2 {
				return errors.New("deadlock detected")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 3, func() error {
			calls++
			return ErrInvalidGrant
		})
		assert.ErrorIs(t, err, ErrInvalidGrant)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 2, func() error {
			calls++
			return errors.New("connection reset by peer")
		})
		assert.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops when the context is done", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		err := withRetry(cctx, 5, func() error {
			calls++
			return errors.New("could not serialize access")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

// TestIsTransientTransactionError tests the transient error detection
func TestIsTransientTransactionError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"deadlock", errors.New("pq: deadlock detected"), true},
		{"serialization", errors.New("ERROR: could not serialize access due to concurrent update"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"upper case", errors.New("DEADLOCK DETECTED"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"validation", NewError(ErrInvalidDuration, "negative"), false},
		{"conflict", NewError(ErrRoleGrantConflict, ""), false},
		{"wrapped", NewError(ErrDatabaseError, "insert").WithCause(errors.New("broken pipe")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, isTransientTransactionError(tt.err))
		})
	}
}

func TestTransactionHealth(t *testing.T) {
	env := newTestEnv(t)
	assert.True(t, env.svc.IsTransactionHealthy())

	for i := 0; i < 10; i++ {
		_ = env.svc.Transaction(context.Background(), func(tx Store) error { return nil })
	}
	assert.True(t, env.svc.IsTransactionHealthy())

	_ = env.svc.Transaction(context.Background(), func(tx Store) error { return errors.New("boom") })
	assert.False(t, env.svc.IsTransactionHealthy(), "one failure in eleven is above the threshold")

	env.svc.ResetTransactionMetrics()
	m := env.svc.GetTransactionMetrics()
	assert.Zero(t, m.TotalTransactions)
	assert.Equal(t, time.Duration(0), m.AverageDuration)
}
