// Package connection manages a host's linked external calendars and enforces
// the settings invariants: the connection cap, a single primary calendar,
// and at least one conflict-checked calendar while any connection exists.
package connection

import (
	"context"
	"fmt"

	"booking_server/core/domain"
	"booking_server/core/port/out"
	"booking_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// cacheInvalidator drops cached conflict windows after connection mutations.
type cacheInvalidator interface {
	Invalidate(ctx context.Context, hostID uuid.UUID)
}

// Service mutates calendar connections on top of the repository primitives.
type Service struct {
	repo      out.ConnectionRepository
	conflicts cacheInvalidator
	log       zerolog.Logger
}

func NewService(repo out.ConnectionRepository, conflicts cacheInvalidator, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		conflicts: conflicts,
		log:       log.With().Str("component", "connection-service").Logger(),
	}
}

// List returns the host's connections, primary first.
func (s *Service) List(ctx context.Context, hostID uuid.UUID) ([]*domain.CalendarConnection, error) {
	conns, err := s.repo.ListByHost(ctx, hostID, out.ConnectionFilter{})
	if err != nil {
		return nil, apperr.DatabaseError("list connections", err)
	}
	return conns, nil
}

// Link attaches a calendar account to the host after an OAuth exchange.
// Re-linking the same (provider, email) pair refreshes the stored tokens
// instead of creating a duplicate. The host's first connection becomes
// primary automatically.
func (s *Service) Link(ctx context.Context, conn *domain.CalendarConnection) error {
	existing, err := s.repo.ListByHost(ctx, conn.HostID, out.ConnectionFilter{})
	if err != nil {
		return apperr.DatabaseError("list connections", err)
	}
	relink := false
	for _, c := range existing {
		if c.Provider == conn.Provider && c.Email == conn.Email {
			relink = true
			break
		}
	}
	// The cap bounds distinct accounts; re-linking one that already counts
	// against it only refreshes tokens.
	if !relink && len(existing) >= domain.MaxConnectionsPerHost {
		return apperr.Conflict(fmt.Sprintf("calendar connection limit reached (%d)", domain.MaxConnectionsPerHost))
	}

	if len(existing) == 0 {
		conn.IsPrimary = true
	}
	if conn.IsPrimary {
		if err := s.repo.ClearPrimary(ctx, conn.HostID); err != nil {
			return apperr.DatabaseError("clear primary connection", err)
		}
	}

	if err := s.repo.Upsert(ctx, conn); err != nil {
		return apperr.DatabaseError("upsert connection", err)
	}

	s.log.Info().
		Str("host_id", conn.HostID.String()).
		Str("provider", string(conn.Provider)).
		Str("email", conn.Email).
		Msg("calendar connection linked")

	s.conflicts.Invalidate(ctx, conn.HostID)
	return nil
}

// UpdateSettings applies a partial settings change. Disabling conflict
// checking on the host's last conflict-checked calendar is rejected, as is
// demoting the primary directly; promote another calendar instead.
func (s *Service) UpdateSettings(ctx context.Context, hostID uuid.UUID, id int64, update domain.ConnectionSettingsUpdate) (*domain.CalendarConnection, error) {
	conn, err := s.ownedConnection(ctx, hostID, id)
	if err != nil {
		return nil, err
	}

	if update.CheckConflicts != nil && !*update.CheckConflicts && conn.CheckConflicts {
		remaining, err := s.repo.CountConflictCheckedExcept(ctx, hostID, id)
		if err != nil {
			return nil, apperr.DatabaseError("count conflict-checked connections", err)
		}
		if remaining == 0 {
			return nil, apperr.Conflict("at least one calendar must keep conflict checking enabled")
		}
	}

	if update.IsPrimary != nil {
		if !*update.IsPrimary && conn.IsPrimary {
			return nil, apperr.BadRequest("cannot demote the primary calendar directly; mark another calendar primary instead")
		}
		if *update.IsPrimary && !conn.IsPrimary {
			if err := s.repo.ClearPrimary(ctx, hostID); err != nil {
				return nil, apperr.DatabaseError("clear primary connection", err)
			}
		}
	}

	if err := s.repo.UpdateSettings(ctx, id, update); err != nil {
		return nil, apperr.DatabaseError("update connection settings", err)
	}

	s.conflicts.Invalidate(ctx, hostID)

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.DatabaseError("reload connection", err)
	}
	return updated, nil
}

// Disconnect removes a connection. The host's last remaining connection
// cannot be removed this way. Deleting the primary promotes the host's
// oldest surviving connection.
func (s *Service) Disconnect(ctx context.Context, hostID uuid.UUID, id int64) error {
	conn, err := s.ownedConnection(ctx, hostID, id)
	if err != nil {
		return err
	}

	count, err := s.repo.CountByHost(ctx, hostID)
	if err != nil {
		return apperr.DatabaseError("count connections", err)
	}
	if count <= 1 {
		return apperr.Conflict("cannot remove the last calendar connection")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return apperr.DatabaseError("delete connection", err)
	}

	if conn.IsPrimary {
		oldest, err := s.repo.OldestByHost(ctx, hostID)
		if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
			return apperr.DatabaseError("find replacement primary", err)
		}
		if oldest != nil {
			if err := s.repo.SetPrimary(ctx, oldest.ID); err != nil {
				return apperr.DatabaseError("promote primary connection", err)
			}
			s.log.Info().
				Str("host_id", hostID.String()).
				Int64("connection_id", oldest.ID).
				Msg("promoted oldest connection to primary")
		}
	}

	s.log.Info().
		Str("host_id", hostID.String()).
		Int64("connection_id", id).
		Str("provider", string(conn.Provider)).
		Msg("calendar connection removed")

	s.conflicts.Invalidate(ctx, hostID)
	return nil
}

// ownedConnection loads a connection and verifies it belongs to the host.
// Connections belonging to other hosts surface as not found.
func (s *Service) ownedConnection(ctx context.Context, hostID uuid.UUID, id int64) (*domain.CalendarConnection, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return nil, apperr.NotFound("calendar connection")
	}
	if err != nil {
		return nil, apperr.DatabaseError("load connection", err)
	}
	if conn.HostID != hostID {
		return nil, apperr.NotFound("calendar connection")
	}
	return conn, nil
}
