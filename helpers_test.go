package whitelistkit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// testEpoch is the wall clock every memory-backed test starts at.
var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) AddDate(years, months, days int) {
	c.mu.Lock()
	c.now = c.now.AddDate(years, months, days)
	c.mu.Unlock()
}

// testEnv is a service over a memory store with a controllable clock.
type testEnv struct {
	svc   *Service
	store *MemoryStore
	clock *testClock
	hook  *test.Hook
	ctx   context.Context
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	clock := &testClock{now: testEpoch}
	store := NewMemoryStore()

	all := append([]Option{WithLogger(logger), WithClock(clock.Now)}, opts...)
	return &testEnv{
		svc:   NewService(store, all...),
		store: store,
		clock: clock,
		hook:  hook,
		ctx:   WithActorID(context.Background(), "admin-1"),
	}
}

func (e *testEnv) roleConfig(t *testing.T, roleID, group string, position int, perms ...string) {
	t.Helper()
	_, err := e.svc.CreateRoleConfig(e.ctx, RoleConfig{
		DiscordRoleID:   roleID,
		GroupName:       group,
		PermissionSet:   perms,
		DiscordPosition: position,
	})
	require.NoError(t, err)
}

func (e *testEnv) verify(t *testing.T, discordUserID, steamID string) {
	t.Helper()
	require.NoError(t, e.store.UpsertAccountLink(e.ctx, &AccountLink{
		DiscordUserID:   discordUserID,
		SteamID:         steamID,
		Username:        "player-" + discordUserID,
		ConfidenceScore: VerifiedConfidence,
		LinkSource:      LinkSelfVerified,
	}))
}

func (e *testEnv) potential(t *testing.T, discordUserID, steamID string, score float64) {
	t.Helper()
	require.NoError(t, e.store.CreatePotentialLink(e.ctx, &PotentialLink{
		DiscordUserID:   discordUserID,
		SteamID:         steamID,
		ConfidenceScore: score,
		LinkSource:      LinkWhitelist,
	}))
}

func intPtr(v int) *int {
	return &v
}

func strPtr(s string) *string {
	return &s
}

// fakeGuild is an in-memory guild usable as both GuildSource and Guild.
type fakeGuild struct {
	mu        sync.Mutex
	id        string
	members   map[string]Member
	positions map[string]int

	fetchErr   error
	membersErr error
	fetches    int
}

func newFakeGuild(id string) *fakeGuild {
	return &fakeGuild{id: id, members: make(map[string]Member)}
}

func (g *fakeGuild) set(userID string, roleIDs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[userID] = Member{UserID: userID, Username: "member-" + userID, RoleIDs: roleIDs}
}

func (g *fakeGuild) remove(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, userID)
}

func (g *fakeGuild) FetchGuild(ctx context.Context, guildID string) (Guild, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g, nil
}

func (g *fakeGuild) ID() string { return g.id }

func (g *fakeGuild) FetchMembers(ctx context.Context) ([]Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.membersErr != nil {
		return nil, g.membersErr
	}
	out := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m)
	}
	return out, nil
}

func (g *fakeGuild) FetchMember(ctx context.Context, userID string) (*Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[userID]
	if !ok {
		return nil, NewError(ErrMemberNotFound, "").WithUser(userID)
	}
	return &m, nil
}

func (g *fakeGuild) RolePositions(ctx context.Context) (map[string]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions, nil
}

// getTestDatabaseURL returns the database URL for testing
func getTestDatabaseURL() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// RequireDatabase skips the test unless TEST_DATABASE_URL points at a
// reachable Postgres.
func RequireDatabase(t testing.TB) *dbkit.DBKit {
	t.Helper()
	url := getTestDatabaseURL()
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := dbkit.New(dbkit.Config{URL: url})
	if err != nil {
		t.Skipf("database not available: %v", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		t.Skipf("database not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SetupTestDatabase migrates the test database, empties every table and
// returns a store over it.
func SetupTestDatabase(t testing.TB) *BunStore {
	t.Helper()
	db := RequireDatabase(t)
	ctx := context.Background()

	_, err := db.Migrate(ctx, Migrations())
	require.NoError(t, err)

	for _, model := range []any{(*Grant)(nil), (*RoleConfig)(nil), (*AccountLink)(nil), (*PotentialLink)(nil), (*AuditLog)(nil)} {
		_, err := db.NewDelete().Model(model).Where("1 = 1").Exec(ctx)
		require.NoError(t, err)
	}
	return NewBunStore(db)
}
