package out

import (
	"context"
	"time"

	"booking_server/core/domain"

	"github.com/google/uuid"
)

// HostRepository reads host records (timezone is what the engine needs).
type HostRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Host, error)
}

// SchedulingRepository reads the scheduling inputs of the availability
// engine: rules, event types, and existing bookings.
type SchedulingRepository interface {
	GetEventType(ctx context.Context, id uuid.UUID) (*domain.EventType, error)
	ListEnabledRules(ctx context.Context, hostID uuid.UUID) ([]*domain.AvailabilityRule, error)

	// ListBookingsInWindow returns the host's CONFIRMED/PENDING bookings
	// whose interval falls inside [windowStart, windowEnd).
	ListBookingsInWindow(ctx context.Context, hostID uuid.UUID, windowStart, windowEnd time.Time) ([]*domain.Booking, error)

	// ListEventTypeBookings returns CONFIRMED/PENDING bookings of an event
	// type inside the window, used for daily/weekly cap counting.
	ListEventTypeBookings(ctx context.Context, eventTypeID uuid.UUID, windowStart, windowEnd time.Time) ([]*domain.Booking, error)

	// SeedDefaultRules installs the Mon-Fri 09:00-17:00 default windows for
	// a newly registered host. No-op if the host already has rules.
	SeedDefaultRules(ctx context.Context, hostID uuid.UUID) error
}
