// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"
	"time"

	"booking_server/core/domain"

	"github.com/google/uuid"
)

// AvailabilityService computes bookable slots for booking pages.
type AvailabilityService interface {
	// GetAvailableSlots returns the bookable slots for one host + event
	// type inside [windowStart, windowEnd). A missing host or event type
	// yields an empty list, not an error. Slots come out in per-day,
	// per-rule generation order; callers needing a strict global order
	// must sort.
	GetAvailableSlots(ctx context.Context, hostID, eventTypeID uuid.UUID, windowStart, windowEnd time.Time, bookerTimezone string) ([]domain.TimeSlot, error)
}

// ConflictService aggregates busy events across a host's conflict-checked
// calendar connections.
type ConflictService interface {
	GetConflictingEvents(ctx context.Context, hostID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.CalendarEvent, error)

	// Invalidate drops cached windows for the host; uuid.Nil drops all.
	Invalidate(ctx context.Context, hostID uuid.UUID)
}

// ConnectionService mutates calendar connections while holding the settings
// invariants (primary uniqueness, last conflict-checked calendar, connection
// cap). Every successful mutation invalidates the conflict cache.
type ConnectionService interface {
	List(ctx context.Context, hostID uuid.UUID) ([]*domain.CalendarConnection, error)
	Link(ctx context.Context, conn *domain.CalendarConnection) error
	UpdateSettings(ctx context.Context, hostID uuid.UUID, id int64, update domain.ConnectionSettingsUpdate) (*domain.CalendarConnection, error)
	Disconnect(ctx context.Context, hostID uuid.UUID, id int64) error
}
