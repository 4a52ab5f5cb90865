// Package persistence provides the PostgreSQL adapters.
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
	"booking_server/pkg/crypto"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ConnectionAdapter implements out.ConnectionRepository using PostgreSQL.
// OAuth tokens are sealed with the cipher before they touch a column; a nil
// cipher stores them as-is (local development without an encryption key).
type ConnectionAdapter struct {
	db     *sqlx.DB
	cipher *crypto.TokenCipher
}

func NewConnectionAdapter(db *sqlx.DB, cipher *crypto.TokenCipher) *ConnectionAdapter {
	return &ConnectionAdapter{db: db, cipher: cipher}
}

func (a *ConnectionAdapter) sealToken(token string) (string, error) {
	if a.cipher == nil {
		return token, nil
	}
	return a.cipher.Seal(token)
}

func (a *ConnectionAdapter) openTokens(conn *domain.CalendarConnection) error {
	if a.cipher == nil {
		return nil
	}
	access, err := a.cipher.Open(conn.AccessToken)
	if err != nil {
		return fmt.Errorf("open access token for connection %d: %w", conn.ID, err)
	}
	conn.AccessToken = access

	if conn.RefreshToken != nil {
		refresh, err := a.cipher.Open(*conn.RefreshToken)
		if err != nil {
			return fmt.Errorf("open refresh token for connection %d: %w", conn.ID, err)
		}
		conn.RefreshToken = &refresh
	}
	return nil
}

const connectionColumns = `id, host_id, provider, email, access_token, refresh_token,
       expires_at, is_primary, check_conflicts, label, created_at, updated_at`

// GetByID returns a connection by ID.
func (a *ConnectionAdapter) GetByID(ctx context.Context, id int64) (*domain.CalendarConnection, error) {
	var conn domain.CalendarConnection
	query := `
		SELECT ` + connectionColumns + `
		FROM calendar_connections
		WHERE id = $1`

	if err := a.db.GetContext(ctx, &conn, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("calendar connection")
		}
		return nil, err
	}
	if err := a.openTokens(&conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListByHost returns the host's connections, primary first then oldest first.
func (a *ConnectionAdapter) ListByHost(ctx context.Context, hostID uuid.UUID, filter out.ConnectionFilter) ([]*domain.CalendarConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM calendar_connections
		WHERE host_id = $1`
	args := []any{hostID}

	if filter.CheckConflicts != nil {
		query += ` AND check_conflicts = $2`
		args = append(args, *filter.CheckConflicts)
	}
	query += ` ORDER BY is_primary DESC, created_at ASC`

	conns := []*domain.CalendarConnection{}
	if err := a.db.SelectContext(ctx, &conns, query, args...); err != nil {
		return nil, err
	}
	for _, conn := range conns {
		if err := a.openTokens(conn); err != nil {
			return nil, err
		}
	}
	return conns, nil
}

func (a *ConnectionAdapter) CountByHost(ctx context.Context, hostID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM calendar_connections WHERE host_id = $1`
	if err := a.db.GetContext(ctx, &count, query, hostID); err != nil {
		return 0, err
	}
	return count, nil
}

func (a *ConnectionAdapter) CountConflictCheckedExcept(ctx context.Context, hostID uuid.UUID, exceptID int64) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM calendar_connections
		WHERE host_id = $1 AND check_conflicts = true AND id != $2`
	if err := a.db.GetContext(ctx, &count, query, hostID, exceptID); err != nil {
		return 0, err
	}
	return count, nil
}

// Upsert creates or refreshes a connection keyed by (host, provider, email).
// Re-linking an already connected account updates its tokens in place; the
// stored check_conflicts setting survives, and a stored primary stays primary
// unless the caller is promoting this connection. The struct is updated with
// the persisted flags.
func (a *ConnectionAdapter) Upsert(ctx context.Context, conn *domain.CalendarConnection) error {
	access, err := a.sealToken(conn.AccessToken)
	if err != nil {
		return err
	}
	var refresh *string
	if conn.RefreshToken != nil {
		sealed, err := a.sealToken(*conn.RefreshToken)
		if err != nil {
			return err
		}
		refresh = &sealed
	}

	now := time.Now()
	query := `
		INSERT INTO calendar_connections (host_id, provider, email, access_token, refresh_token,
		                                  expires_at, is_primary, check_conflicts, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (host_id, provider, email) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    expires_at = EXCLUDED.expires_at,
		    is_primary = calendar_connections.is_primary OR EXCLUDED.is_primary,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, is_primary, check_conflicts, created_at, updated_at`

	return a.db.QueryRowContext(ctx, query,
		conn.HostID,
		conn.Provider,
		conn.Email,
		access,
		refresh,
		conn.ExpiresAt,
		conn.IsPrimary,
		conn.CheckConflicts,
		conn.Label,
		now,
	).Scan(&conn.ID, &conn.IsPrimary, &conn.CheckConflicts, &conn.CreatedAt, &conn.UpdatedAt)
}

// UpdateTokens persists refreshed credentials. Last writer wins; concurrent
// refreshes for the same connection both land and the newer row survives.
func (a *ConnectionAdapter) UpdateTokens(ctx context.Context, id int64, update out.TokenUpdate) error {
	access, err := a.sealToken(update.AccessToken)
	if err != nil {
		return err
	}
	var refresh *string
	if update.RefreshToken != nil {
		sealed, err := a.sealToken(*update.RefreshToken)
		if err != nil {
			return err
		}
		refresh = &sealed
	}

	query := `
		UPDATE calendar_connections
		SET access_token = $1,
		    refresh_token = COALESCE($2, refresh_token),
		    expires_at = $3,
		    updated_at = $4
		WHERE id = $5`

	_, err = a.db.ExecContext(ctx, query,
		access,
		refresh,
		update.ExpiresAt,
		time.Now(),
		id,
	)
	return err
}

// UpdateSettings applies a partial settings change; nil fields keep the
// stored value.
func (a *ConnectionAdapter) UpdateSettings(ctx context.Context, id int64, update domain.ConnectionSettingsUpdate) error {
	query := `
		UPDATE calendar_connections
		SET label = COALESCE($1, label),
		    check_conflicts = COALESCE($2, check_conflicts),
		    is_primary = COALESCE($3, is_primary),
		    updated_at = $4
		WHERE id = $5`

	result, err := a.db.ExecContext(ctx, query,
		update.Label,
		update.CheckConflicts,
		update.IsPrimary,
		time.Now(),
		id,
	)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return apperr.NotFound("calendar connection")
	}
	return nil
}

func (a *ConnectionAdapter) ClearPrimary(ctx context.Context, hostID uuid.UUID) error {
	query := `
		UPDATE calendar_connections
		SET is_primary = false, updated_at = $1
		WHERE host_id = $2 AND is_primary = true`
	_, err := a.db.ExecContext(ctx, query, time.Now(), hostID)
	return err
}

func (a *ConnectionAdapter) SetPrimary(ctx context.Context, id int64) error {
	query := `
		UPDATE calendar_connections
		SET is_primary = true, updated_at = $1
		WHERE id = $2`
	_, err := a.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

// OldestByHost returns the host's earliest-created connection.
func (a *ConnectionAdapter) OldestByHost(ctx context.Context, hostID uuid.UUID) (*domain.CalendarConnection, error) {
	var conn domain.CalendarConnection
	query := `
		SELECT ` + connectionColumns + `
		FROM calendar_connections
		WHERE host_id = $1
		ORDER BY created_at ASC
		LIMIT 1`

	if err := a.db.GetContext(ctx, &conn, query, hostID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("calendar connection")
		}
		return nil, err
	}
	if err := a.openTokens(&conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (a *ConnectionAdapter) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM calendar_connections WHERE id = $1`
	_, err := a.db.ExecContext(ctx, query, id)
	return err
}

var _ out.ConnectionRepository = (*ConnectionAdapter)(nil)
