// Package conflict aggregates busy events across a host's conflict-checked
// calendar connections. It is the component that prevents double-booking
// across multiple calendar accounts: connections are fetched in parallel,
// failures are contained per connection, and merged results are cached for a
// short TTL keyed by the exact requested window.
package conflict

import (
	"context"
	"fmt"
	"time"

	"booking_server/core/domain"
	"booking_server/core/port/out"
	"booking_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Aggregator merges busy events from every connection of a host that has
// conflict checking enabled.
//
// Failure semantics: external-provider failures never surface to the caller.
// A connection that fails contributes zero events; a host whose calendars all
// fail sees zero conflicts. This fails open toward showing availability
// instead of blocking the booking page, a deliberate product tradeoff.
type Aggregator struct {
	connRepo out.ConnectionRepository
	registry out.ProviderRegistry
	cache    *eventCache
	tokens   *tokenGuard
	bus      out.InvalidationBus // optional, nil when running single-instance
	log      zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
	bus out.InvalidationBus
}

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithInvalidationBus wires a best-effort cross-instance invalidation channel.
func WithInvalidationBus(bus out.InvalidationBus) Option {
	return func(o *options) { o.bus = bus }
}

// NewAggregator creates a conflict aggregator.
func NewAggregator(connRepo out.ConnectionRepository, registry out.ProviderRegistry, log zerolog.Logger, opts ...Option) *Aggregator {
	o := &options{ttl: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	return &Aggregator{
		connRepo: connRepo,
		registry: registry,
		cache:    newEventCache(o.ttl, o.now),
		tokens: &tokenGuard{
			connRepo: connRepo,
			registry: registry,
			now:      o.now,
			log:      log,
		},
		bus: o.bus,
		log: log,
	}
}

// GetConflictingEvents returns the union of busy events from every
// connection of hostID with check_conflicts enabled, for the UTC window
// [windowStart, windowEnd). Overlapping intervals from different calendars
// are all retained; the availability engine only needs union-of-busy.
//
// Results are cached for the configured TTL under the exact window key.
// Within the TTL, a repeated call returns the cached list without touching
// the store or any provider.
func (a *Aggregator) GetConflictingEvents(ctx context.Context, hostID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.CalendarEvent, error) {
	if !windowEnd.After(windowStart) {
		return nil, apperr.BadRequest("conflict window end must be after start")
	}

	key := cacheKey(hostID, windowStart, windowEnd)
	if events, ok := a.cache.get(key); ok {
		return events, nil
	}

	checkConflicts := true
	conns, err := a.connRepo.ListByHost(ctx, hostID, out.ConnectionFilter{CheckConflicts: &checkConflicts})
	if err != nil {
		return nil, apperr.DatabaseError("list calendar connections", err)
	}
	if len(conns) == 0 {
		return []domain.CalendarEvent{}, nil
	}

	// Fan out one fetch per connection. Each task settles independently:
	// a failing connection is logged and skipped, never cancelling or
	// corrupting its siblings.
	type fetchResult struct {
		conn   *domain.CalendarConnection
		events []domain.CalendarEvent
		err    error
	}

	results := make(chan fetchResult, len(conns))
	for _, conn := range conns {
		go func(conn *domain.CalendarConnection) {
			events, err := a.fetchSettled(ctx, conn, windowStart, windowEnd)
			results <- fetchResult{conn: conn, events: events, err: err}
		}(conn)
	}

	merged := make([]domain.CalendarEvent, 0)
	for range conns {
		res := <-results
		if res.err != nil {
			a.log.Warn().
				Int64("connection_id", res.conn.ID).
				Str("provider", string(res.conn.Provider)).
				Err(res.err).
				Msg("calendar fetch failed, excluding connection from conflict set")
			continue
		}
		merged = append(merged, res.events...)
	}

	a.cache.set(key, merged)
	return merged, nil
}

// fetchSettled fetches one connection's busy events with panic containment,
// so a misbehaving adapter degrades to an ordinary per-connection failure.
func (a *Aggregator) fetchSettled(ctx context.Context, conn *domain.CalendarConnection, windowStart, windowEnd time.Time) (events []domain.CalendarEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()

	adapter, ok := a.registry.Lookup(conn.Provider)
	if !ok {
		a.log.Warn().
			Int64("connection_id", conn.ID).
			Str("provider", string(conn.Provider)).
			Msg("no adapter registered for provider")
		return nil, nil
	}

	creds := a.tokens.freshCredentials(ctx, conn)
	return adapter.FetchBusyEvents(ctx, creds, windowStart, windowEnd)
}

// Invalidate drops cached windows for the host (uuid.Nil drops everything)
// and broadcasts the invalidation to sibling instances when a bus is wired.
// Collaborators that mutate connection settings must call this: staleness
// here directly causes double-booking.
func (a *Aggregator) Invalidate(ctx context.Context, hostID uuid.UUID) {
	a.invalidateLocal(hostID)

	if a.bus != nil {
		if err := a.bus.PublishInvalidation(ctx, hostID); err != nil {
			a.log.Warn().Err(err).Msg("failed to broadcast cache invalidation")
		}
	}
}

// invalidateLocal applies an invalidation to this instance's cache only.
// The bus subscription handler calls this to avoid republish loops.
func (a *Aggregator) invalidateLocal(hostID uuid.UUID) {
	if hostID == uuid.Nil {
		a.cache.invalidateAll()
		return
	}
	a.cache.invalidateHost(hostID)
}

// HandleRemoteInvalidation is the subscription callback for invalidations
// published by other instances.
func (a *Aggregator) HandleRemoteInvalidation(hostID uuid.UUID) {
	a.invalidateLocal(hostID)
}
