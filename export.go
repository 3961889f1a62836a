package whitelistkit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ExportGroup is one game-server group of the combined whitelist.
type ExportGroup struct {
	Name        string        `json:"name"`
	Permissions []string      `json:"permissions"`
	Members     []ExportEntry `json:"members"`
}

// ExportEntry is one active subject inside a group.
type ExportEntry struct {
	SteamID   string     `json:"steam_id"`
	EOSID     string     `json:"eos_id,omitempty"`
	Username  string     `json:"username,omitempty"`
	Permanent bool       `json:"permanent"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// computeEntitlements derives the active view from the ledger. Grants are
// bucketed per subject and export group, and each bucket is resolved on its
// own so a role grant never stacks with a donation.
func (s *Service) computeEntitlements(ctx context.Context) ([]Entitlement, error) {
	grants, err := s.store.ListGrants(ctx, GrantFilter{})
	if err != nil {
		return nil, err
	}
	configs, err := s.store.ListRoleConfigs(ctx)
	if err != nil {
		return nil, err
	}
	perms := make(map[string][]string, len(configs)+1)
	perms[s.defaultGroup] = s.defaultPermissions
	for _, rc := range configs {
		perms[rc.GroupName] = rc.PermissionSet
	}

	type bucketKey struct{ subject, group string }
	buckets := make(map[bucketKey][]Grant)
	var order []bucketKey
	for _, g := range grants {
		if !g.Usable() {
			continue
		}
		group := s.defaultGroup
		if g.Source == SourceRole {
			group = g.RoleName
			if _, ok := perms[group]; !ok {
				s.logger.WithField("grant_id", g.ID).WithField("group", group).Debug("role grant group is not configured, not exported")
				continue
			}
		}
		k := bucketKey{g.SubjectKey(), group}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], g)
	}

	now := s.now()
	out := make([]Entitlement, 0, len(order))
	for _, k := range order {
		bucket := buckets[k]
		st := ResolveStatus(bucket, now)
		if !st.Active {
			continue
		}
		e := Entitlement{
			Group:       k.group,
			Kind:        KindWhitelist,
			Permissions: perms[k.group],
			Status:      st,
		}
		// Newest non-empty identity fields win.
		for i := len(bucket) - 1; i >= 0; i-- {
			g := &bucket[i]
			if g.Kind == KindStaff {
				e.Kind = KindStaff
			}
			if e.SteamID == "" {
				e.SteamID = g.SteamID
			}
			if e.DiscordUserID == "" {
				e.DiscordUserID = g.DiscordUserID
			}
			if e.EOSID == "" {
				e.EOSID = g.EOSID
			}
			if e.Username == "" {
				e.Username = g.Username
			}
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].SteamID < out[j].SteamID
	})
	return out, nil
}

// CombinedWhitelist returns every configured group, highest priority first,
// followed by the default group, each with its active members.
func (s *Service) CombinedWhitelist(ctx context.Context) ([]ExportGroup, error) {
	entitlements, err := s.cache.Get(ctx, "")
	if err != nil {
		return nil, err
	}
	configs, err := s.store.ListRoleConfigs(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(configs)+1)
	groups := make([]ExportGroup, 0, len(configs)+1)
	for _, rc := range configs {
		index[rc.GroupName] = len(groups)
		groups = append(groups, ExportGroup{Name: rc.GroupName, Permissions: rc.PermissionSet})
	}
	if _, ok := index[s.defaultGroup]; !ok {
		index[s.defaultGroup] = len(groups)
		groups = append(groups, ExportGroup{Name: s.defaultGroup, Permissions: s.defaultPermissions})
	}

	for _, e := range entitlements {
		i, ok := index[e.Group]
		if !ok || e.SteamID == "" {
			continue
		}
		groups[i].Members = append(groups[i].Members, ExportEntry{
			SteamID:   e.SteamID,
			EOSID:     e.EOSID,
			Username:  e.Username,
			Permanent: e.Status.Permanent,
			ExpiresAt: e.Status.ExpiresAt,
		})
	}
	return groups, nil
}

// RenderCombined writes groups in the game server's admin loader format:
//
//	Group=<name>:<perm>,<perm>
//	Admin=<steamID>:<group> // <username>
func RenderCombined(w io.Writer, groups []ExportGroup) error {
	bw := bufio.NewWriter(w)
	for _, g := range groups {
		fmt.Fprintf(bw, "Group=%s:%s\n", g.Name, strings.Join(g.Permissions, ","))
	}
	if len(groups) > 0 {
		bw.WriteString("\n")
	}
	for _, g := range groups {
		for _, m := range g.Members {
			if name := commentSafe(m.Username); name != "" {
				fmt.Fprintf(bw, "Admin=%s:%s // %s\n", m.SteamID, g.Name, name)
			} else {
				fmt.Fprintf(bw, "Admin=%s:%s\n", m.SteamID, g.Name)
			}
		}
	}
	return bw.Flush()
}

// ExportCombined renders the current combined whitelist to w.
func (s *Service) ExportCombined(ctx context.Context, w io.Writer) error {
	groups, err := s.CombinedWhitelist(ctx)
	if err != nil {
		return err
	}
	return RenderCombined(w, groups)
}

func commentSafe(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
}
