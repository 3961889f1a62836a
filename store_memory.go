package whitelistkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It enforces the same invariants as the
// Postgres store and is used for development and tests.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
}

type memData struct {
	grants         map[string]*Grant
	roleConfigs    map[string]*RoleConfig
	accountLinks   map[string]*AccountLink
	potentialLinks []*PotentialLink
	audit          []*AuditLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			grants:       make(map[string]*Grant),
			roleConfigs:  make(map[string]*RoleConfig),
			accountLinks: make(map[string]*AccountLink),
		},
	}
}

func (s *MemoryStore) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx runs fn on a copy of the data and publishes it only on success.
// Other callers wait until the transaction finishes.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.mu == nil {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := s.data.clone()
	if err := fn(&MemoryStore{data: clone}); err != nil {
		return err
	}
	*s.data = *clone
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ============================================================================
// GRANTS
// ============================================================================

func (s *MemoryStore) CreateGrant(ctx context.Context, g *Grant) error {
	defer s.lock()()

	if err := g.Metadata.Validate(g.Source); err != nil {
		return err
	}
	if g.Source == SourceRole && !g.Revoked {
		if other := s.data.activeRoleGrant(g.DiscordUserID); other != nil {
			return NewError(ErrRoleGrantConflict, "user already holds role grant "+other.ID).
				WithUser(g.DiscordUserID)
		}
	}
	now := time.Now()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = now
	}
	g.UpdatedAt = now
	s.data.grants[g.ID] = cloneGrant(g)
	return nil
}

func (s *MemoryStore) GetGrant(ctx context.Context, id string) (*Grant, error) {
	defer s.lock()()

	g, ok := s.data.grants[id]
	if !ok {
		return nil, NewError(ErrGrantNotFound, "").WithGrant(id)
	}
	return cloneGrant(g), nil
}

func (s *MemoryStore) ListGrants(ctx context.Context, filter GrantFilter) ([]Grant, error) {
	defer s.lock()()

	var out []Grant
	for _, g := range s.data.sortedGrants() {
		if filter.SteamID != "" && g.SteamID != filter.SteamID {
			continue
		}
		if filter.DiscordUserID != "" && g.DiscordUserID != filter.DiscordUserID {
			continue
		}
		if filter.Source != "" && g.Source != filter.Source {
			continue
		}
		if filter.Kind != "" && g.Kind != filter.Kind {
			continue
		}
		if !filter.IncludeRevoked && g.Revoked {
			continue
		}
		out = append(out, *cloneGrant(g))
	}
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) ActiveRoleGrant(ctx context.Context, discordUserID string) (*Grant, error) {
	defer s.lock()()

	if g := s.data.activeRoleGrant(discordUserID); g != nil {
		return cloneGrant(g), nil
	}
	return nil, nil
}

func (s *MemoryStore) SecurityBlockedRoleGrants(ctx context.Context, discordUserID string) ([]Grant, error) {
	defer s.lock()()

	var out []Grant
	for _, g := range s.data.sortedGrants() {
		if g.DiscordUserID == discordUserID && g.IsSecurityBlocked() {
			out = append(out, *cloneGrant(g))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateGrant(ctx context.Context, id string, update GrantUpdate) error {
	defer s.lock()()

	g, ok := s.data.grants[id]
	if !ok {
		return NewError(ErrGrantNotFound, "").WithGrant(id)
	}
	if update.Metadata != nil {
		if err := update.Metadata.Validate(g.Source); err != nil {
			return err
		}
	}
	if update.RoleName != nil {
		g.RoleName = *update.RoleName
	}
	if update.Kind != nil {
		g.Kind = *update.Kind
	}
	if update.RevokedReason != nil {
		g.RevokedReason = *update.RevokedReason
	}
	if update.Metadata != nil {
		g.Metadata = cloneMetadata(*update.Metadata)
	}
	if update.SteamID != nil {
		g.SteamID = *update.SteamID
	}
	if update.EOSID != nil {
		g.EOSID = *update.EOSID
	}
	if update.Username != nil {
		g.Username = *update.Username
	}
	g.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ApproveBlockedGrant(ctx context.Context, id string, meta Metadata) (bool, error) {
	defer s.lock()()

	g, ok := s.data.grants[id]
	if !ok {
		return false, NewError(ErrGrantNotFound, "").WithGrant(id)
	}
	if !g.IsSecurityBlocked() {
		return false, nil
	}
	if err := meta.Validate(g.Source); err != nil {
		return false, err
	}
	if other := s.data.activeRoleGrant(g.DiscordUserID); other != nil {
		return false, NewError(ErrRoleGrantConflict, "user already holds role grant "+other.ID).
			WithUser(g.DiscordUserID).
			WithGrant(id)
	}
	g.Approved = true
	g.Revoked = false
	g.RevokedBy = ""
	g.RevokedReason = ""
	g.RevokedAt = nil
	g.Metadata = cloneMetadata(meta)
	g.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) RevokeGrant(ctx context.Context, id string, revokedBy, reason string, at time.Time) error {
	defer s.lock()()

	g, ok := s.data.grants[id]
	if !ok {
		return NewError(ErrGrantNotFound, "").WithGrant(id)
	}
	if g.Revoked {
		return NewError(ErrGrantAlreadyRevoked, "").WithGrant(id)
	}
	g.Revoked = true
	g.RevokedBy = revokedBy
	g.RevokedReason = reason
	g.RevokedAt = &at
	g.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteGrant(ctx context.Context, id string) error {
	defer s.lock()()

	if _, ok := s.data.grants[id]; !ok {
		return NewError(ErrGrantNotFound, "").WithGrant(id)
	}
	delete(s.data.grants, id)
	return nil
}

// ============================================================================
// ROLE CONFIGS
// ============================================================================

func (s *MemoryStore) CreateRoleConfig(ctx context.Context, rc *RoleConfig) error {
	defer s.lock()()

	if existing, ok := s.data.roleConfigs[rc.DiscordRoleID]; ok {
		return NewError(ErrDuplicateRoleConfig,
			fmt.Sprintf("role %s is already mapped to group %q", existing.DiscordRoleID, existing.GroupName)).
			WithRole(rc.DiscordRoleID)
	}
	if err := s.data.groupTaken(rc.GroupName, rc.DiscordRoleID); err != nil {
		return err
	}
	now := time.Now()
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = now
	}
	rc.UpdatedAt = now
	c := *rc
	c.PermissionSet = append([]string(nil), rc.PermissionSet...)
	s.data.roleConfigs[rc.DiscordRoleID] = &c
	return nil
}

func (s *MemoryStore) UpdateRoleConfig(ctx context.Context, rc *RoleConfig) error {
	defer s.lock()()

	existing, ok := s.data.roleConfigs[rc.DiscordRoleID]
	if !ok {
		return NewError(ErrRoleConfigNotFound, "").WithRole(rc.DiscordRoleID)
	}
	if err := s.data.groupTaken(rc.GroupName, rc.DiscordRoleID); err != nil {
		return err
	}
	rc.CreatedAt = existing.CreatedAt
	rc.CreatedBy = existing.CreatedBy
	rc.UpdatedAt = time.Now()
	c := *rc
	c.PermissionSet = append([]string(nil), rc.PermissionSet...)
	s.data.roleConfigs[rc.DiscordRoleID] = &c
	return nil
}

func (s *MemoryStore) DeleteRoleConfig(ctx context.Context, discordRoleID string) error {
	defer s.lock()()

	if _, ok := s.data.roleConfigs[discordRoleID]; !ok {
		return NewError(ErrRoleConfigNotFound, "").WithRole(discordRoleID)
	}
	delete(s.data.roleConfigs, discordRoleID)
	return nil
}

func (s *MemoryStore) GetRoleConfig(ctx context.Context, discordRoleID string) (*RoleConfig, error) {
	defer s.lock()()

	rc, ok := s.data.roleConfigs[discordRoleID]
	if !ok {
		return nil, NewError(ErrRoleConfigNotFound, "").WithRole(discordRoleID)
	}
	c := *rc
	c.PermissionSet = append([]string(nil), rc.PermissionSet...)
	return &c, nil
}

func (s *MemoryStore) ListRoleConfigs(ctx context.Context) ([]RoleConfig, error) {
	defer s.lock()()

	out := make([]RoleConfig, 0, len(s.data.roleConfigs))
	for _, rc := range s.data.roleConfigs {
		c := *rc
		c.PermissionSet = append([]string(nil), rc.PermissionSet...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return outranks(&out[i], &out[j]) })
	return out, nil
}

// ============================================================================
// LINKS
// ============================================================================

func (s *MemoryStore) UpsertAccountLink(ctx context.Context, link *AccountLink) error {
	defer s.lock()()

	now := time.Now()
	if existing, ok := s.data.accountLinks[link.DiscordUserID]; ok {
		link.ID = existing.ID
		link.CreatedAt = existing.CreatedAt
	} else {
		if link.ID == "" {
			link.ID = uuid.NewString()
		}
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	c := *link
	s.data.accountLinks[link.DiscordUserID] = &c
	return nil
}

func (s *MemoryStore) GetAccountLink(ctx context.Context, discordUserID string) (*AccountLink, error) {
	defer s.lock()()

	if l, ok := s.data.accountLinks[discordUserID]; ok {
		c := *l
		return &c, nil
	}
	return nil, nil
}

func (s *MemoryStore) CreatePotentialLink(ctx context.Context, link *PotentialLink) error {
	defer s.lock()()

	now := time.Now()
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt = now
	link.UpdatedAt = now
	c := *link
	s.data.potentialLinks = append(s.data.potentialLinks, &c)
	return nil
}

func (s *MemoryStore) ListPotentialLinks(ctx context.Context, discordUserID string) ([]PotentialLink, error) {
	defer s.lock()()

	var out []PotentialLink
	for _, l := range s.data.potentialLinks {
		if l.DiscordUserID == discordUserID {
			out = append(out, *l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConfidenceScore > out[j].ConfidenceScore })
	return out, nil
}

// ============================================================================
// AUDIT
// ============================================================================

func (s *MemoryStore) InsertAudit(ctx context.Context, entry *AuditLog) error {
	defer s.lock()()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	c := *entry
	s.data.audit = append(s.data.audit, &c)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	defer s.lock()()

	var out []AuditLog
	for i := len(s.data.audit) - 1; i >= 0; i-- {
		if e := s.data.audit[i]; filter.matches(e) {
			out = append(out, *e)
		}
	}
	return paginate(out, filter.effectiveLimit(), filter.Offset), nil
}

// ============================================================================
// INTERNAL HELPERS
// ============================================================================

func (d *memData) activeRoleGrant(discordUserID string) *Grant {
	for _, g := range d.grants {
		if g.Source == SourceRole && !g.Revoked && g.DiscordUserID == discordUserID {
			return g
		}
	}
	return nil
}

func (d *memData) groupTaken(groupName, exceptRoleID string) error {
	for _, rc := range d.roleConfigs {
		if rc.GroupName == groupName && rc.DiscordRoleID != exceptRoleID {
			return NewError(ErrDuplicateRoleConfig,
				fmt.Sprintf("group %q is already mapped to role %s", groupName, rc.DiscordRoleID)).
				WithRole(rc.DiscordRoleID)
		}
	}
	return nil
}

func (d *memData) sortedGrants() []*Grant {
	out := make([]*Grant, 0, len(d.grants))
	for _, g := range d.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.Before(out[j].GrantedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *memData) clone() *memData {
	c := &memData{
		grants:       make(map[string]*Grant, len(d.grants)),
		roleConfigs:  make(map[string]*RoleConfig, len(d.roleConfigs)),
		accountLinks: make(map[string]*AccountLink, len(d.accountLinks)),
	}
	for k, g := range d.grants {
		c.grants[k] = cloneGrant(g)
	}
	for k, rc := range d.roleConfigs {
		r := *rc
		r.PermissionSet = append([]string(nil), rc.PermissionSet...)
		c.roleConfigs[k] = &r
	}
	for k, l := range d.accountLinks {
		v := *l
		c.accountLinks[k] = &v
	}
	for _, l := range d.potentialLinks {
		v := *l
		c.potentialLinks = append(c.potentialLinks, &v)
	}
	for _, e := range d.audit {
		v := *e
		c.audit = append(c.audit, &v)
	}
	return c
}

func cloneGrant(g *Grant) *Grant {
	c := *g
	if g.DurationValue != nil {
		v := *g.DurationValue
		c.DurationValue = &v
	}
	if g.RevokedAt != nil {
		t := *g.RevokedAt
		c.RevokedAt = &t
	}
	if g.Expiration != nil {
		t := *g.Expiration
		c.Expiration = &t
	}
	c.Metadata = cloneMetadata(g.Metadata)
	return &c
}

func cloneMetadata(m Metadata) Metadata {
	c := m
	if m.Role != nil {
		r := *m.Role
		c.Role = &r
	}
	if m.Manual != nil {
		v := *m.Manual
		c.Manual = &v
	}
	if m.Donation != nil {
		v := *m.Donation
		c.Donation = &v
	}
	if m.Import != nil {
		v := *m.Import
		if m.Import.Extra != nil {
			v.Extra = make(map[string]string, len(m.Import.Extra))
			for k, x := range m.Import.Extra {
				v.Extra[k] = x
			}
		}
		c.Import = &v
	}
	return c
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
