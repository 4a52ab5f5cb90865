package out

import (
	"context"
	"time"

	"booking_server/core/domain"

	"github.com/google/uuid"
)

// ConnectionFilter narrows connection listings.
type ConnectionFilter struct {
	CheckConflicts *bool
}

// TokenUpdate carries refreshed OAuth tokens. A nil RefreshToken keeps the
// stored one (providers often omit it on refresh).
type TokenUpdate struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
}

// ConnectionRepository persists calendar connections. It is a plain store;
// the settings invariants (primary promotion, last conflict-checked calendar)
// are enforced by the connection service on top of these primitives.
type ConnectionRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.CalendarConnection, error)
	ListByHost(ctx context.Context, hostID uuid.UUID, filter ConnectionFilter) ([]*domain.CalendarConnection, error)
	CountByHost(ctx context.Context, hostID uuid.UUID) (int, error)

	// CountConflictCheckedExcept counts the host's connections with
	// check_conflicts enabled, excluding the given connection id.
	CountConflictCheckedExcept(ctx context.Context, hostID uuid.UUID, exceptID int64) (int, error)

	// Upsert creates or updates a connection keyed by (host, provider,
	// email); OAuth callbacks use this so re-linking refreshes tokens
	// instead of duplicating rows.
	Upsert(ctx context.Context, conn *domain.CalendarConnection) error

	// UpdateTokens persists refreshed credentials. Last writer wins;
	// concurrent refreshes for the same connection are not serialized.
	UpdateTokens(ctx context.Context, id int64, update TokenUpdate) error

	UpdateSettings(ctx context.Context, id int64, update domain.ConnectionSettingsUpdate) error
	ClearPrimary(ctx context.Context, hostID uuid.UUID) error
	SetPrimary(ctx context.Context, id int64) error

	// OldestByHost returns the host's earliest-created connection, used to
	// promote a new primary after the primary is deleted.
	OldestByHost(ctx context.Context, hostID uuid.UUID) (*domain.CalendarConnection, error)

	Delete(ctx context.Context, id int64) error
}
