package whitelistkit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entitlement is the active access of one subject in one game-server group.
type Entitlement struct {
	SteamID       string    `json:"steam_id"`
	DiscordUserID string    `json:"discord_user_id,omitempty"`
	EOSID         string    `json:"eos_id,omitempty"`
	Username      string    `json:"username,omitempty"`
	Kind          GrantKind `json:"kind"`
	Group         string    `json:"group"`
	Permissions   []string  `json:"permissions"`
	Status        Status    `json:"status"`
}

// EntitlementCache holds the derived active-entitlement view.
//
// Loads are coalesced per generation. Invalidate bumps the generation, so a
// load that started before an invalidation is returned to its callers but
// never stored.
type EntitlementCache struct {
	mu       sync.Mutex
	gen      uint64
	valid    bool
	entries  []Entitlement
	loadedAt time.Time

	ttl    time.Duration
	now    func() time.Time
	load   func(ctx context.Context) ([]Entitlement, error)
	flight singleflight.Group
}

// NewEntitlementCache creates a cache over load. A zero ttl disables expiry.
func NewEntitlementCache(load func(ctx context.Context) ([]Entitlement, error), ttl time.Duration) *EntitlementCache {
	return &EntitlementCache{
		load: load,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns the active entitlements of the given kind. An empty kind
// returns all of them.
func (c *EntitlementCache) Get(ctx context.Context, kind GrantKind) ([]Entitlement, error) {
	all, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return all, nil
	}
	out := make([]Entitlement, 0, len(all))
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *EntitlementCache) all(ctx context.Context) ([]Entitlement, error) {
	c.mu.Lock()
	if c.valid && (c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl) {
		entries := c.entries
		c.mu.Unlock()
		return entries, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.flight.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	entries := v.([]Entitlement)

	c.mu.Lock()
	if c.gen == gen {
		c.entries = entries
		c.valid = true
		c.loadedAt = c.now()
	}
	c.mu.Unlock()
	return entries, nil
}

// Invalidate drops the cached view.
func (c *EntitlementCache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.valid = false
	c.entries = nil
	c.mu.Unlock()
}

// Generation returns the number of invalidations so far.
func (c *EntitlementCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}
