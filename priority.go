package whitelistkit

// ResolveGroup picks the tracked role with the highest Discord position among
// memberRoleIDs. Ties go to the configuration created first, then to the
// lowest role ID. It returns nil when the member holds no tracked role.
func ResolveGroup(memberRoleIDs []string, configs []RoleConfig) *RoleConfig {
	held := make(map[string]struct{}, len(memberRoleIDs))
	for _, id := range memberRoleIDs {
		held[id] = struct{}{}
	}

	var best *RoleConfig
	for i := range configs {
		rc := &configs[i]
		if _, ok := held[rc.DiscordRoleID]; !ok {
			continue
		}
		if best == nil || outranks(rc, best) {
			best = rc
		}
	}
	return best
}

func outranks(a, b *RoleConfig) bool {
	if a.DiscordPosition != b.DiscordPosition {
		return a.DiscordPosition > b.DiscordPosition
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.DiscordRoleID < b.DiscordRoleID
}

// withLivePositions returns a copy of configs whose positions are replaced by
// the live guild hierarchy where the guild reports one.
func withLivePositions(configs []RoleConfig, positions map[string]int) []RoleConfig {
	if len(positions) == 0 {
		return configs
	}
	out := make([]RoleConfig, len(configs))
	copy(out, configs)
	for i := range out {
		if p, ok := positions[out[i].DiscordRoleID]; ok {
			out[i].DiscordPosition = p
		}
	}
	return out
}

// IsTracked reports whether any of the role IDs is configured.
func IsTracked(memberRoleIDs []string, configs []RoleConfig) bool {
	return ResolveGroup(memberRoleIDs, configs) != nil
}
