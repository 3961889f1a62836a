package whitelistkit

import (
	"fmt"
	"slices"
	"strings"
)

// ValidatePermission checks a capability token such as "reserve" or "kick".
// Tokens are lowercase identifiers so they can be written to the combined
// whitelist unescaped.
func ValidatePermission(permission string) error {
	if permission == "" {
		return NewError(ErrInvalidRoleConfig, "permission cannot be empty")
	}
	for _, c := range permission {
		if !isValidPermissionChar(c) {
			return NewError(ErrInvalidRoleConfig, fmt.Sprintf("permission %q contains invalid character %q", permission, c))
		}
	}
	return nil
}

func isValidPermissionChar(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '_'
}

// NormalizePermissions lowercases, validates, sorts and dedupes a permission set.
// An empty set means a plain reserved slot.
func NormalizePermissions(perms []string) ([]string, error) {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if err := ValidatePermission(p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{PermissionReserve}, nil
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// ValidateGroupName checks a game-server group name. The combined whitelist
// format reserves '=', ':', ',' and line breaks.
func ValidateGroupName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewError(ErrInvalidRoleConfig, "group name cannot be empty")
	}
	if strings.ContainsAny(name, "=:,\r\n/") {
		return NewError(ErrInvalidRoleConfig, fmt.Sprintf("group name %q contains a reserved character", name))
	}
	return nil
}
