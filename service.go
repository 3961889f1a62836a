package whitelistkit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Default settings for the default whitelist group and the sync worker pool.
const (
	DefaultGroupName         = "Whitelist"
	DefaultSyncConcurrency   = 1
	DefaultMemberSyncTimeout = 30 * time.Second
)

// Service is the entitlement engine: grant ledger, role sync, confidence
// gate, cache and export.
//
// Error Handling:
// Storage failures are wrapped in *Error with ErrDatabaseError and keep the
// dbkit error as cause, so dbkit classification still works:
//
//	_, err := service.Grant(ctx, req)
//	if err != nil {
//	    if whitelistkit.IsValidation(err) {
//	        // reject the request
//	    }
//	    var dbErr *dbkit.Error
//	    if errors.As(err, &dbErr) {
//	        fmt.Printf("Operation: %s, Table: %s\n", dbErr.Operation, dbErr.Table)
//	    }
//	}
type Service struct {
	store      Store
	cache      *EntitlementCache
	guilds     GuildSource
	guildID    string
	confidence ConfidenceSource
	scheduler  SyncScheduler
	bus        InvalidationBus
	logger     logrus.FieldLogger
	now        func() time.Time
	txMonitor  *transactionMonitor

	defaultGroup       string
	defaultPermissions []string
	concurrency        int
	memberTimeout      time.Duration
	cacheTTL           time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGuild sets where guild membership is read from.
func WithGuild(source GuildSource, guildID string) Option {
	return func(s *Service) {
		s.guilds = source
		s.guildID = guildID
	}
}

// WithConfidenceSource replaces the store-backed link lookup.
func WithConfidenceSource(c ConfidenceSource) Option {
	return func(s *Service) {
		s.confidence = c
	}
}

// WithSyncScheduler sets where failed post-upgrade syncs are retried.
func WithSyncScheduler(sch SyncScheduler) Option {
	return func(s *Service) {
		s.scheduler = sch
	}
}

// WithInvalidationBus publishes every invalidation to other processes.
func WithInvalidationBus(bus InvalidationBus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultGroup sets the export group of non-role grants.
func WithDefaultGroup(name string, permissions ...string) Option {
	return func(s *Service) {
		if name != "" {
			s.defaultGroup = name
		}
		if len(permissions) > 0 {
			s.defaultPermissions = permissions
		}
	}
}

// WithSyncConcurrency bounds the number of members synced in parallel.
func WithSyncConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMemberTimeout bounds the work spent on one member during a batch.
func WithMemberTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.memberTimeout = d
		}
	}
}

// WithCacheTTL sets a safety-net expiry on the entitlement cache.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) {
		s.cacheTTL = d
	}
}

// NewService creates a new entitlement service.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	service := whitelistkit.NewService(whitelistkit.NewBunStore(db),
//	    whitelistkit.WithGuild(discord.NewClient(token), guildID),
//	)
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:              store,
		logger:             logrus.StandardLogger(),
		now:                time.Now,
		txMonitor:          newTransactionMonitor(),
		defaultGroup:       DefaultGroupName,
		defaultPermissions: []string{PermissionReserve},
		concurrency:        DefaultSyncConcurrency,
		memberTimeout:      DefaultMemberSyncTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = NewEntitlementCache(s.computeEntitlements, s.cacheTTL)
	s.cache.now = s.now
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Cache returns the entitlement cache.
func (s *Service) Cache() *EntitlementCache {
	return s.cache
}

// ActiveEntitlements returns the cached active entitlements of a kind.
func (s *Service) ActiveEntitlements(ctx context.Context, kind GrantKind) ([]Entitlement, error) {
	return s.cache.Get(ctx, kind)
}

// InvalidateLocal drops this process' cache without publishing.
func (s *Service) InvalidateLocal() {
	s.cache.Invalidate()
}

// invalidate drops the cache and notifies other processes. A publish
// failure is logged, the local invalidation already happened.
func (s *Service) invalidate(ctx context.Context) {
	s.cache.Invalidate()
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to publish cache invalidation")
	}
}
