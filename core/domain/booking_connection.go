package domain

import (
	"time"

	"github.com/google/uuid"
)

type CalendarProvider string

const (
	ProviderGoogle  CalendarProvider = "GOOGLE"
	ProviderOutlook CalendarProvider = "OUTLOOK"
)

// MaxConnectionsPerHost caps how many external calendars one host may link.
const MaxConnectionsPerHost = 6

// CalendarConnection is one external calendar account linked to a host.
// Tokens are never serialized into API responses.
type CalendarConnection struct {
	ID             int64            `json:"id" db:"id"`
	HostID         uuid.UUID        `json:"host_id" db:"host_id"`
	Provider       CalendarProvider `json:"provider" db:"provider"`
	Email          string           `json:"email" db:"email"`
	AccessToken    string           `json:"-" db:"access_token"`
	RefreshToken   *string          `json:"-" db:"refresh_token"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty" db:"expires_at"`
	IsPrimary      bool             `json:"is_primary" db:"is_primary"`
	CheckConflicts bool             `json:"check_conflicts" db:"check_conflicts"`
	Label          *string          `json:"label,omitempty" db:"label"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// TokenExpired reports whether the access token is known to be expired at t.
// A nil expiry means the provider did not report one; treat as still valid.
func (c *CalendarConnection) TokenExpired(t time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(t)
}

// ConnectionSettingsUpdate carries the mutable settings of a connection.
// Nil fields are left unchanged.
type ConnectionSettingsUpdate struct {
	Label          *string `json:"label,omitempty"`
	CheckConflicts *bool   `json:"check_conflicts,omitempty"`
	IsPrimary      *bool   `json:"is_primary,omitempty"`
}
