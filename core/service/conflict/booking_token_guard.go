package conflict

import (
	"context"
	"time"

	"booking_server/core/domain"
	"booking_server/core/port/out"

	"github.com/rs/zerolog"
)

// tokenGuard keeps token lifecycle out of the aggregation flow. Before a
// connection's adapter is called, the guard proactively refreshes expired
// credentials and persists the result. Refresh failure is not fatal: the
// fetch proceeds with the stale token and the adapter's own retry-once
// handling takes over.
type tokenGuard struct {
	connRepo out.ConnectionRepository
	registry out.ProviderRegistry
	now      func() time.Time
	log      zerolog.Logger
}

// freshCredentials returns credentials for the connection, refreshed and
// persisted when the stored access token has expired and a refresh token is
// available. Persistence is last-writer-wins; concurrent refreshes for the
// same connection are tolerated.
func (g *tokenGuard) freshCredentials(ctx context.Context, conn *domain.CalendarConnection) out.Credentials {
	creds := out.Credentials{AccessToken: conn.AccessToken}
	if conn.RefreshToken != nil {
		creds.RefreshToken = *conn.RefreshToken
	}
	if conn.ExpiresAt != nil {
		creds.ExpiresAt = *conn.ExpiresAt
	}

	if !conn.TokenExpired(g.now()) || creds.RefreshToken == "" {
		return creds
	}

	adapter, ok := g.registry.Lookup(conn.Provider)
	if !ok {
		return creds
	}

	refreshed, err := adapter.RefreshCredentials(ctx, creds.RefreshToken)
	if err != nil {
		g.log.Warn().
			Int64("connection_id", conn.ID).
			Str("provider", string(conn.Provider)).
			Err(err).
			Msg("proactive token refresh failed, continuing with stored token")
		return creds
	}

	update := out.TokenUpdate{AccessToken: refreshed.AccessToken}
	if refreshed.RefreshToken != "" {
		update.RefreshToken = &refreshed.RefreshToken
	}
	if !refreshed.ExpiresAt.IsZero() {
		expiresAt := refreshed.ExpiresAt
		update.ExpiresAt = &expiresAt
	}
	if err := g.connRepo.UpdateTokens(ctx, conn.ID, update); err != nil {
		g.log.Warn().
			Int64("connection_id", conn.ID).
			Err(err).
			Msg("failed to persist refreshed tokens")
	}

	creds.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		creds.RefreshToken = refreshed.RefreshToken
	}
	creds.ExpiresAt = refreshed.ExpiresAt
	return creds
}
