package domain

import (
	"time"

	"github.com/google/uuid"
)

// Host is the calendar owner whose availability is being computed. Only the
// fields the scheduling core needs are modeled here.
type Host struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Email    string    `json:"email" db:"email"`
	Timezone string    `json:"timezone" db:"timezone"` // IANA name, e.g. "America/New_York"
}

// AvailabilityRule is a recurring or date-specific open window. DayOfWeek and
// Date are mutually exclusive: a date-specific rule overrides all recurring
// rules for that weekday on that date only.
type AvailabilityRule struct {
	ID        int64      `json:"id" db:"id"`
	HostID    uuid.UUID  `json:"host_id" db:"host_id"`
	DayOfWeek *int       `json:"day_of_week,omitempty" db:"day_of_week"` // 0=Sunday .. 6=Saturday
	Date      *time.Time `json:"date,omitempty" db:"date"`
	StartTime string     `json:"start_time" db:"start_time"` // wall clock "HH:MM" in host timezone
	EndTime   string     `json:"end_time" db:"end_time"`
	Enabled   bool       `json:"enabled" db:"enabled"`
}

type LocationKind string

const (
	LocationVideo    LocationKind = "video"
	LocationPhone    LocationKind = "phone"
	LocationInPerson LocationKind = "in_person"
)

// EventType is a bookable meeting template.
type EventType struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	HostID            uuid.UUID    `json:"host_id" db:"host_id"`
	Title             string       `json:"title" db:"title"`
	Duration          int          `json:"duration" db:"duration"` // minutes
	BufferBefore      int          `json:"buffer_before" db:"buffer_before"`
	BufferAfter       int          `json:"buffer_after" db:"buffer_after"`
	MinNotice         int          `json:"min_notice" db:"min_notice"` // minutes
	MaxFutureDays     int          `json:"max_future_days" db:"max_future_days"`
	DailyLimit        *int         `json:"daily_limit,omitempty" db:"daily_limit"`
	WeeklyLimit       *int         `json:"weekly_limit,omitempty" db:"weekly_limit"`
	Location          LocationKind `json:"location" db:"location"`
	IsCollective      bool         `json:"is_collective" db:"is_collective"`
	CollectiveMembers []uuid.UUID  `json:"collective_members,omitempty" db:"-"`
	Active            bool         `json:"active" db:"active"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingPending   BookingStatus = "PENDING"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Booking is an existing reservation. The scheduling core only reads
// bookings; creation belongs to the booking layer.
type Booking struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	HostID      uuid.UUID     `json:"host_id" db:"host_id"`
	EventTypeID uuid.UUID     `json:"event_type_id" db:"event_type_id"`
	StartTime   time.Time     `json:"start_time" db:"start_time"`
	EndTime     time.Time     `json:"end_time" db:"end_time"`
	Status      BookingStatus `json:"status" db:"status"`
}

// TimeSlot is a candidate bookable interval of exactly the event type's
// duration, expressed as UTC instants.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
