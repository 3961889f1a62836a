package whitelistkit

import (
	"errors"
	"fmt"
)

// Sentinel errors for whitelistkit operations.
var (
	// ErrInvalidRoleConfig is returned when a role configuration fails validation.
	ErrInvalidRoleConfig = errors.New("whitelistkit: invalid role config")

	// ErrDuplicateRoleConfig is returned when a role or group is already configured.
	ErrDuplicateRoleConfig = errors.New("whitelistkit: duplicate role config")

	// ErrRoleConfigNotFound is returned when a role configuration does not exist.
	ErrRoleConfigNotFound = errors.New("whitelistkit: role config not found")

	// ErrRoleGrantConflict is returned when another writer already holds the
	// active role grant of a user.
	ErrRoleGrantConflict = errors.New("whitelistkit: active role grant already exists")

	// ErrRoleSourceReserved is returned when a caller other than the sync engine
	// tries to write a role-derived grant.
	ErrRoleSourceReserved = errors.New("whitelistkit: role grants are managed by role sync")

	// ErrGrantNotFound is returned when a grant does not exist.
	ErrGrantNotFound = errors.New("whitelistkit: grant not found")

	// ErrGrantAlreadyRevoked is returned when revoking a revoked grant.
	ErrGrantAlreadyRevoked = errors.New("whitelistkit: grant already revoked")

	// ErrInvalidGrant is returned when a grant request fails validation.
	ErrInvalidGrant = errors.New("whitelistkit: invalid grant")

	// ErrInvalidDuration is returned for negative values or unknown units.
	ErrInvalidDuration = errors.New("whitelistkit: invalid duration")

	// ErrMetadataTooLarge is returned when serialized metadata exceeds MaxMetadataBytes.
	ErrMetadataTooLarge = errors.New("whitelistkit: metadata too large")

	// ErrInvalidLink is returned when an account link fails validation.
	ErrInvalidLink = errors.New("whitelistkit: invalid account link")

	// ErrLinkNotFound is returned when no link exists for a user.
	ErrLinkNotFound = errors.New("whitelistkit: account link not found")

	// ErrGuildUnavailable is returned when the guild cannot be fetched.
	ErrGuildUnavailable = errors.New("whitelistkit: guild unavailable")

	// ErrMemberNotFound is returned when a user is not a guild member.
	ErrMemberNotFound = errors.New("whitelistkit: guild member not found")

	// ErrNoGuild is returned when a sync is requested without a guild source.
	ErrNoGuild = errors.New("whitelistkit: no guild source configured")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("whitelistkit: database error")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err     error  // Underlying sentinel error
	Message string // Additional context
	UserID  string // Discord user involved (if applicable)
	SteamID string // Steam subject involved (if applicable)
	GrantID string // Grant involved (if applicable)
	RoleID  string // Discord role involved (if applicable)
	Cause   error  // Lower level error (database, transport)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the sentinel and the cause for errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithUser adds Discord user information to the error.
func (e *Error) WithUser(discordUserID string) *Error {
	e.UserID = discordUserID
	return e
}

// WithSteam adds Steam subject information to the error.
func (e *Error) WithSteam(steamID string) *Error {
	e.SteamID = steamID
	return e
}

// WithGrant adds grant information to the error.
func (e *Error) WithGrant(grantID string) *Error {
	e.GrantID = grantID
	return e
}

// WithRole adds Discord role information to the error.
func (e *Error) WithRole(roleID string) *Error {
	e.RoleID = roleID
	return e
}

// WithCause attaches the lower level error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// IsConflict reports whether err is a lost race on the active role grant.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRoleGrantConflict)
}

// IsNotFound reports whether err is one of the lookup misses.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGrantNotFound) ||
		errors.Is(err, ErrRoleConfigNotFound) ||
		errors.Is(err, ErrLinkNotFound) ||
		errors.Is(err, ErrMemberNotFound)
}

// IsValidation reports whether err was caused by rejected input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRoleConfig) ||
		errors.Is(err, ErrDuplicateRoleConfig) ||
		errors.Is(err, ErrInvalidGrant) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrMetadataTooLarge) ||
		errors.Is(err, ErrInvalidLink) ||
		errors.Is(err, ErrRoleSourceReserved)
}
