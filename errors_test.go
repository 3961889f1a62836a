package whitelistkit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSentinelErrors tests that all sentinel errors are properly defined
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrInvalidRoleConfig", ErrInvalidRoleConfig, "whitelistkit: invalid role config"},
		{"ErrDuplicateRoleConfig", ErrDuplicateRoleConfig, "whitelistkit: duplicate role config"},
		{"ErrRoleGrantConflict", ErrRoleGrantConflict, "whitelistkit: active role grant already exists"},
		{"ErrGrantNotFound", ErrGrantNotFound, "whitelistkit: grant not found"},
		{"ErrMetadataTooLarge", ErrMetadataTooLarge, "whitelistkit: metadata too large"},
		{"ErrGuildUnavailable", ErrGuildUnavailable, "whitelistkit: guild unavailable"},
		{"ErrDatabaseError", ErrDatabaseError, "whitelistkit: database error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, tt.err.Error())
		})
	}
}

// TestError_Error tests the Error method of Error struct
func TestError_Error(t *testing.T) {
	t.Run("With message", func(t *testing.T) {
		err := &Error{Err: ErrDuplicateRoleConfig, Message: `group "VIP" is already mapped to role r1`}
		assert.Equal(t, `whitelistkit: duplicate role config: group "VIP" is already mapped to role r1`, err.Error())
	})

	t.Run("Without message", func(t *testing.T) {
		err := &Error{Err: ErrGrantNotFound}
		assert.Equal(t, "whitelistkit: grant not found", err.Error())
	})

	t.Run("With cause", func(t *testing.T) {
		err := NewError(ErrGuildUnavailable, "list members").WithCause(errors.New("502 bad gateway"))
		assert.Equal(t, "whitelistkit: guild unavailable: list members: 502 bad gateway", err.Error())
	})
}

// TestError_Unwrap tests that both the sentinel and the cause are reachable
func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrDatabaseError, "insert grant").WithCause(cause)

	assert.True(t, errors.Is(err, ErrDatabaseError))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrGrantNotFound))
	assert.Equal(t, []error{ErrGrantNotFound}, NewError(ErrGrantNotFound, "").Unwrap())
}

// TestError_Chaining tests chaining multiple With methods
func TestError_Chaining(t *testing.T) {
	err := NewError(ErrRoleGrantConflict, "lost race").
		WithUser("u1").
		WithSteam("765").
		WithGrant("g1").
		WithRole("r1")

	assert.Equal(t, ErrRoleGrantConflict, err.Err)
	assert.Equal(t, "u1", err.UserID)
	assert.Equal(t, "765", err.SteamID)
	assert.Equal(t, "g1", err.GrantID)
	assert.Equal(t, "r1", err.RoleID)

	same := err.WithUser("u2")
	assert.Same(t, err, same)
}

func TestErrorClassification(t *testing.T) {
	t.Run("IsConflict", func(t *testing.T) {
		assert.True(t, IsConflict(NewError(ErrRoleGrantConflict, "")))
		assert.False(t, IsConflict(ErrDuplicateRoleConfig))
		assert.False(t, IsConflict(nil))
	})

	t.Run("IsNotFound", func(t *testing.T) {
		for _, err := range []error{ErrGrantNotFound, ErrRoleConfigNotFound, ErrLinkNotFound, ErrMemberNotFound} {
			assert.True(t, IsNotFound(NewError(err, "x")), err.Error())
		}
		assert.False(t, IsNotFound(ErrGuildUnavailable))
	})

	t.Run("IsValidation", func(t *testing.T) {
		for _, err := range []error{
			ErrInvalidRoleConfig, ErrDuplicateRoleConfig, ErrInvalidGrant,
			ErrInvalidDuration, ErrMetadataTooLarge, ErrInvalidLink, ErrRoleSourceReserved,
		} {
			assert.True(t, IsValidation(NewError(err, "x")), err.Error())
		}
		assert.False(t, IsValidation(ErrDatabaseError))
	})
}

// TestError_CompatibilityWithStandardErrors tests compatibility with Go's error handling
func TestError_CompatibilityWithStandardErrors(t *testing.T) {
	err := NewError(ErrInvalidDuration, "negative value")

	var target *Error
	assert.True(t, errors.As(err, &target))
	assert.Same(t, err, target)

	assert.False(t, errors.As(errors.New("custom error"), &target))
}
