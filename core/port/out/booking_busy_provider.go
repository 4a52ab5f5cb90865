// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"booking_server/core/domain"
)

// =============================================================================
// Busy Calendar Provider Port (Google Calendar, Outlook Calendar)
// =============================================================================

// Credentials is the OAuth material a provider adapter needs for one call.
type Credentials struct {
	AccessToken  string
	RefreshToken string    // empty when the connection has none
	ExpiresAt    time.Time // zero when the provider did not report one
}

// BusyCalendarPort fetches busy intervals from one external calendar
// provider and refreshes its credentials on demand.
//
// FetchBusyEvents must exclude cancelled events, all-day events without a
// concrete time, and events the provider marks as free/transparent. On an
// authorization failure the adapter performs exactly one refresh-and-retry;
// if that also fails it returns an empty list rather than an error, so one
// revoked calendar cannot break aggregation. Non-auth failures (network,
// 5xx) are returned as errors and contained by the aggregator.
type BusyCalendarPort interface {
	Provider() domain.CalendarProvider
	FetchBusyEvents(ctx context.Context, creds Credentials, windowStart, windowEnd time.Time) ([]domain.CalendarEvent, error)

	// RefreshCredentials exchanges a refresh token for new credentials.
	// Fails with apperr.CodeTokenRefresh when the provider rejects the
	// refresh token; callers treat that as "no events from this source".
	RefreshCredentials(ctx context.Context, refreshToken string) (Credentials, error)
}

// ProviderRegistry resolves a provider tag to its adapter. Adding a provider
// means registering a new adapter, not editing a switch.
type ProviderRegistry interface {
	Lookup(provider domain.CalendarProvider) (BusyCalendarPort, bool)
}
