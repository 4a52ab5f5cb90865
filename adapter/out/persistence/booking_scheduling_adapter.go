package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking_server/core/domain"
	"booking_server/core/port/out"
	"booking_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SchedulingAdapter implements out.HostRepository and
// out.SchedulingRepository using PostgreSQL.
type SchedulingAdapter struct {
	db *sqlx.DB
}

func NewSchedulingAdapter(db *sqlx.DB) *SchedulingAdapter {
	return &SchedulingAdapter{db: db}
}

// GetByID returns a host by ID.
func (a *SchedulingAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Host, error) {
	var host domain.Host
	query := `SELECT id, email, timezone FROM hosts WHERE id = $1`

	if err := a.db.GetContext(ctx, &host, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("host")
		}
		return nil, err
	}
	return &host, nil
}

// GetEventType returns an event type with its collective members loaded.
func (a *SchedulingAdapter) GetEventType(ctx context.Context, id uuid.UUID) (*domain.EventType, error) {
	var et domain.EventType
	query := `
		SELECT id, host_id, title, duration, buffer_before, buffer_after,
		       min_notice, max_future_days, daily_limit, weekly_limit,
		       location, is_collective, active, created_at, updated_at
		FROM event_types
		WHERE id = $1`

	if err := a.db.GetContext(ctx, &et, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("event type")
		}
		return nil, err
	}

	if et.IsCollective {
		members := []uuid.UUID{}
		memberQuery := `
			SELECT host_id
			FROM event_type_members
			WHERE event_type_id = $1
			ORDER BY position ASC`
		if err := a.db.SelectContext(ctx, &members, memberQuery, id); err != nil {
			return nil, fmt.Errorf("load collective members: %w", err)
		}
		et.CollectiveMembers = members
	}

	return &et, nil
}

// ListEnabledRules returns the host's enabled availability rules, recurring
// and date-specific alike.
func (a *SchedulingAdapter) ListEnabledRules(ctx context.Context, hostID uuid.UUID) ([]*domain.AvailabilityRule, error) {
	rules := []*domain.AvailabilityRule{}
	query := `
		SELECT id, host_id, day_of_week, date, start_time, end_time, enabled
		FROM availability_rules
		WHERE host_id = $1 AND enabled = true
		ORDER BY day_of_week ASC NULLS LAST, start_time ASC`

	if err := a.db.SelectContext(ctx, &rules, query, hostID); err != nil {
		return nil, err
	}
	return rules, nil
}

// ListBookingsInWindow returns the host's active bookings overlapping the
// window. Cancelled bookings never block availability.
func (a *SchedulingAdapter) ListBookingsInWindow(ctx context.Context, hostID uuid.UUID, windowStart, windowEnd time.Time) ([]*domain.Booking, error) {
	bookings := []*domain.Booking{}
	query := `
		SELECT id, host_id, event_type_id, start_time, end_time, status
		FROM bookings
		WHERE host_id = $1
		  AND status IN ('CONFIRMED', 'PENDING')
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC`

	if err := a.db.SelectContext(ctx, &bookings, query, hostID, windowStart, windowEnd); err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListEventTypeBookings returns active bookings of one event type inside the
// window, for daily and weekly cap counting.
func (a *SchedulingAdapter) ListEventTypeBookings(ctx context.Context, eventTypeID uuid.UUID, windowStart, windowEnd time.Time) ([]*domain.Booking, error) {
	bookings := []*domain.Booking{}
	query := `
		SELECT id, host_id, event_type_id, start_time, end_time, status
		FROM bookings
		WHERE event_type_id = $1
		  AND status IN ('CONFIRMED', 'PENDING')
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC`

	if err := a.db.SelectContext(ctx, &bookings, query, eventTypeID, windowStart, windowEnd); err != nil {
		return nil, err
	}
	return bookings, nil
}

// SeedDefaultRules installs Monday-Friday 09:00-17:00 windows for a newly
// registered host. Hosts that already configured rules are left alone.
func (a *SchedulingAdapter) SeedDefaultRules(ctx context.Context, hostID uuid.UUID) error {
	var count int
	if err := a.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM availability_rules WHERE host_id = $1`, hostID); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	query := `
		INSERT INTO availability_rules (host_id, day_of_week, start_time, end_time, enabled)
		VALUES ($1, $2, '09:00', '17:00', true)`

	// Weekday numbering follows time.Weekday: 1=Monday .. 5=Friday.
	for day := 1; day <= 5; day++ {
		if _, err := a.db.ExecContext(ctx, query, hostID, day); err != nil {
			return fmt.Errorf("seed default rule for day %d: %w", day, err)
		}
	}
	return nil
}

var (
	_ out.HostRepository       = (*SchedulingAdapter)(nil)
	_ out.SchedulingRepository = (*SchedulingAdapter)(nil)
)
