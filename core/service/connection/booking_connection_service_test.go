package connection

import (
	"context"
	"sort"
	"testing"
	"time"

	"booking_server/core/domain"
	"booking_server/core/port/out"
	"booking_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// memRepo is an in-memory ConnectionRepository for exercising the settings
// invariants without a database.
type memRepo struct {
	nextID int64
	conns  map[int64]*domain.CalendarConnection
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, conns: make(map[int64]*domain.CalendarConnection)}
}

func (r *memRepo) add(conn *domain.CalendarConnection) *domain.CalendarConnection {
	c := *conn
	c.ID = r.nextID
	r.nextID++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().Add(time.Duration(c.ID) * time.Second)
	}
	r.conns[c.ID] = &c
	return &c
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*domain.CalendarConnection, error) {
	if c, ok := r.conns[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, apperr.NotFound("calendar connection")
}

func (r *memRepo) ListByHost(_ context.Context, hostID uuid.UUID, filter out.ConnectionFilter) ([]*domain.CalendarConnection, error) {
	var matched []*domain.CalendarConnection
	for _, c := range r.conns {
		if c.HostID != hostID {
			continue
		}
		if filter.CheckConflicts != nil && c.CheckConflicts != *filter.CheckConflicts {
			continue
		}
		copied := *c
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].IsPrimary != matched[j].IsPrimary {
			return matched[i].IsPrimary
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (r *memRepo) CountByHost(_ context.Context, hostID uuid.UUID) (int, error) {
	count := 0
	for _, c := range r.conns {
		if c.HostID == hostID {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) CountConflictCheckedExcept(_ context.Context, hostID uuid.UUID, exceptID int64) (int, error) {
	count := 0
	for _, c := range r.conns {
		if c.HostID == hostID && c.CheckConflicts && c.ID != exceptID {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) Upsert(_ context.Context, conn *domain.CalendarConnection) error {
	for _, c := range r.conns {
		if c.HostID == conn.HostID && c.Provider == conn.Provider && c.Email == conn.Email {
			// Conflict branch refreshes tokens only; a stored primary
			// stays primary unless this upsert promotes, and the
			// stored check_conflicts setting survives.
			c.AccessToken = conn.AccessToken
			c.RefreshToken = conn.RefreshToken
			c.ExpiresAt = conn.ExpiresAt
			c.IsPrimary = c.IsPrimary || conn.IsPrimary
			conn.ID = c.ID
			conn.CreatedAt = c.CreatedAt
			conn.IsPrimary = c.IsPrimary
			conn.CheckConflicts = c.CheckConflicts
			return nil
		}
	}
	stored := r.add(conn)
	conn.ID = stored.ID
	return nil
}

func (r *memRepo) UpdateTokens(_ context.Context, id int64, update out.TokenUpdate) error {
	c, ok := r.conns[id]
	if !ok {
		return apperr.NotFound("calendar connection")
	}
	c.AccessToken = update.AccessToken
	if update.RefreshToken != nil {
		c.RefreshToken = update.RefreshToken
	}
	if update.ExpiresAt != nil {
		c.ExpiresAt = update.ExpiresAt
	}
	return nil
}

func (r *memRepo) UpdateSettings(_ context.Context, id int64, update domain.ConnectionSettingsUpdate) error {
	c, ok := r.conns[id]
	if !ok {
		return apperr.NotFound("calendar connection")
	}
	if update.Label != nil {
		c.Label = update.Label
	}
	if update.CheckConflicts != nil {
		c.CheckConflicts = *update.CheckConflicts
	}
	if update.IsPrimary != nil {
		c.IsPrimary = *update.IsPrimary
	}
	return nil
}

func (r *memRepo) ClearPrimary(_ context.Context, hostID uuid.UUID) error {
	for _, c := range r.conns {
		if c.HostID == hostID {
			c.IsPrimary = false
		}
	}
	return nil
}

func (r *memRepo) SetPrimary(_ context.Context, id int64) error {
	c, ok := r.conns[id]
	if !ok {
		return apperr.NotFound("calendar connection")
	}
	c.IsPrimary = true
	return nil
}

func (r *memRepo) OldestByHost(_ context.Context, hostID uuid.UUID) (*domain.CalendarConnection, error) {
	var oldest *domain.CalendarConnection
	for _, c := range r.conns {
		if c.HostID != hostID {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, apperr.NotFound("calendar connection")
	}
	copied := *oldest
	return &copied, nil
}

func (r *memRepo) Delete(_ context.Context, id int64) error {
	if _, ok := r.conns[id]; !ok {
		return apperr.NotFound("calendar connection")
	}
	delete(r.conns, id)
	return nil
}

type fakeInvalidator struct {
	calls []uuid.UUID
}

func (f *fakeInvalidator) Invalidate(_ context.Context, hostID uuid.UUID) {
	f.calls = append(f.calls, hostID)
}

func newConn(hostID uuid.UUID, provider domain.CalendarProvider, email string) *domain.CalendarConnection {
	return &domain.CalendarConnection{
		HostID:         hostID,
		Provider:       provider,
		Email:          email,
		AccessToken:    "access",
		CheckConflicts: true,
	}
}

func TestLinkFirstConnectionBecomesPrimary(t *testing.T) {
	repo := newMemRepo()
	inv := &fakeInvalidator{}
	svc := NewService(repo, inv, zerolog.Nop())
	hostID := uuid.New()

	conn := newConn(hostID, domain.ProviderGoogle, "a@example.com")
	if err := svc.Link(context.Background(), conn); err != nil {
		t.Fatalf("Link returned error: %v", err)
	}
	stored, err := repo.GetByID(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("stored connection missing: %v", err)
	}
	if !stored.IsPrimary {
		t.Error("the first connection must become primary")
	}
	if len(inv.calls) != 1 || inv.calls[0] != hostID {
		t.Errorf("expected one cache invalidation for the host, got %v", inv.calls)
	}
}

func TestLinkRejectsBeyondConnectionCap(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	emails := []string{"a", "b", "c", "d", "e", "f"}
	for _, e := range emails {
		repo.add(newConn(hostID, domain.ProviderGoogle, e+"@example.com"))
	}

	err := svc.Link(context.Background(), newConn(hostID, domain.ProviderOutlook, "g@example.com"))
	if !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict at the connection cap, got %v", err)
	}
}

func TestLinkRelinkAtCapRefreshesTokens(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	emails := []string{"a", "b", "c", "d", "e", "f"}
	for _, e := range emails {
		repo.add(newConn(hostID, domain.ProviderGoogle, e+"@example.com"))
	}

	relink := newConn(hostID, domain.ProviderGoogle, "c@example.com")
	relink.AccessToken = "fresh-access"
	if err := svc.Link(context.Background(), relink); err != nil {
		t.Fatalf("re-linking an account that already counts against the cap failed: %v", err)
	}

	count, _ := repo.CountByHost(context.Background(), hostID)
	if count != len(emails) {
		t.Errorf("connection count = %d, want %d after a re-link", count, len(emails))
	}
	stored, _ := repo.GetByID(context.Background(), relink.ID)
	if stored.AccessToken != "fresh-access" {
		t.Errorf("stored access token = %q, want the refreshed one", stored.AccessToken)
	}
}

func TestLinkRelinkWithoutPrimaryFlagKeepsPrimary(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	primary := newConn(hostID, domain.ProviderGoogle, "a@example.com")
	primary.IsPrimary = true
	stored := repo.add(primary)
	repo.add(newConn(hostID, domain.ProviderOutlook, "b@example.com"))

	// An OAuth callback re-links without the is_primary flag set.
	relink := newConn(hostID, domain.ProviderGoogle, "a@example.com")
	if err := svc.Link(context.Background(), relink); err != nil {
		t.Fatalf("Link returned error: %v", err)
	}

	kept, _ := repo.GetByID(context.Background(), stored.ID)
	if !kept.IsPrimary {
		t.Error("re-linking the primary account must not demote it")
	}
	if !relink.IsPrimary {
		t.Error("the returned connection must reflect the stored primary flag")
	}
}

func TestLinkNewPrimaryDemotesExisting(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	existing := newConn(hostID, domain.ProviderGoogle, "a@example.com")
	existing.IsPrimary = true
	stored := repo.add(existing)

	incoming := newConn(hostID, domain.ProviderOutlook, "b@example.com")
	incoming.IsPrimary = true
	if err := svc.Link(context.Background(), incoming); err != nil {
		t.Fatalf("Link returned error: %v", err)
	}

	old, _ := repo.GetByID(context.Background(), stored.ID)
	if old.IsPrimary {
		t.Error("linking a new primary must demote the previous one")
	}
	updated, _ := repo.GetByID(context.Background(), incoming.ID)
	if !updated.IsPrimary {
		t.Error("the newly linked connection must be primary")
	}
}

func TestUpdateSettingsRejectsDisablingLastConflictChecked(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	only := repo.add(newConn(hostID, domain.ProviderGoogle, "a@example.com"))

	disabled := false
	_, err := svc.UpdateSettings(context.Background(), hostID, only.ID, domain.ConnectionSettingsUpdate{
		CheckConflicts: &disabled,
	})
	if !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict for the last conflict-checked calendar, got %v", err)
	}
}

func TestUpdateSettingsAllowsDisablingWhenAnotherRemains(t *testing.T) {
	repo := newMemRepo()
	inv := &fakeInvalidator{}
	svc := NewService(repo, inv, zerolog.Nop())
	hostID := uuid.New()

	first := repo.add(newConn(hostID, domain.ProviderGoogle, "a@example.com"))
	repo.add(newConn(hostID, domain.ProviderOutlook, "b@example.com"))

	disabled := false
	updated, err := svc.UpdateSettings(context.Background(), hostID, first.ID, domain.ConnectionSettingsUpdate{
		CheckConflicts: &disabled,
	})
	if err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}
	if updated.CheckConflicts {
		t.Error("conflict checking should be disabled on the updated connection")
	}
	if len(inv.calls) != 1 {
		t.Errorf("expected one cache invalidation, got %d", len(inv.calls))
	}
}

func TestUpdateSettingsRejectsDirectPrimaryDemotion(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	primary := newConn(hostID, domain.ProviderGoogle, "a@example.com")
	primary.IsPrimary = true
	stored := repo.add(primary)
	repo.add(newConn(hostID, domain.ProviderOutlook, "b@example.com"))

	demote := false
	_, err := svc.UpdateSettings(context.Background(), hostID, stored.ID, domain.ConnectionSettingsUpdate{
		IsPrimary: &demote,
	})
	if !apperr.IsCode(err, apperr.CodeBadRequest) {
		t.Fatalf("expected bad request for direct primary demotion, got %v", err)
	}
}

func TestUpdateSettingsPromotionMovesPrimary(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	primary := newConn(hostID, domain.ProviderGoogle, "a@example.com")
	primary.IsPrimary = true
	oldPrimary := repo.add(primary)
	secondary := repo.add(newConn(hostID, domain.ProviderOutlook, "b@example.com"))

	promote := true
	updated, err := svc.UpdateSettings(context.Background(), hostID, secondary.ID, domain.ConnectionSettingsUpdate{
		IsPrimary: &promote,
	})
	if err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}
	if !updated.IsPrimary {
		t.Error("the promoted connection must be primary")
	}
	demoted, _ := repo.GetByID(context.Background(), oldPrimary.ID)
	if demoted.IsPrimary {
		t.Error("promotion must demote the previous primary")
	}
}

func TestUpdateSettingsOtherHostsConnectionIsNotFound(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())

	other := repo.add(newConn(uuid.New(), domain.ProviderGoogle, "a@example.com"))

	label := "work"
	_, err := svc.UpdateSettings(context.Background(), uuid.New(), other.ID, domain.ConnectionSettingsUpdate{
		Label: &label,
	})
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found for another host's connection, got %v", err)
	}
}

func TestDisconnectRejectsLastConnection(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	only := repo.add(newConn(hostID, domain.ProviderGoogle, "a@example.com"))

	err := svc.Disconnect(context.Background(), hostID, only.ID)
	if !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict when removing the last connection, got %v", err)
	}
	if _, getErr := repo.GetByID(context.Background(), only.ID); getErr != nil {
		t.Error("the rejected delete must leave the connection in place")
	}
}

func TestDisconnectPrimaryPromotesOldestSurvivor(t *testing.T) {
	repo := newMemRepo()
	inv := &fakeInvalidator{}
	svc := NewService(repo, inv, zerolog.Nop())
	hostID := uuid.New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	primary := newConn(hostID, domain.ProviderGoogle, "a@example.com")
	primary.IsPrimary = true
	primary.CreatedAt = base
	stored := repo.add(primary)

	oldest := newConn(hostID, domain.ProviderOutlook, "b@example.com")
	oldest.CreatedAt = base.Add(time.Hour)
	survivor := repo.add(oldest)

	newest := newConn(hostID, domain.ProviderGoogle, "c@example.com")
	newest.CreatedAt = base.Add(2 * time.Hour)
	repo.add(newest)

	if err := svc.Disconnect(context.Background(), hostID, stored.ID); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}

	promoted, err := repo.GetByID(context.Background(), survivor.ID)
	if err != nil {
		t.Fatalf("survivor missing: %v", err)
	}
	if !promoted.IsPrimary {
		t.Error("the oldest surviving connection must be promoted to primary")
	}
	if len(inv.calls) != 1 {
		t.Errorf("expected one cache invalidation, got %d", len(inv.calls))
	}
}

func TestDisconnectNonPrimaryLeavesPrimaryAlone(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeInvalidator{}, zerolog.Nop())
	hostID := uuid.New()

	primary := newConn(hostID, domain.ProviderGoogle, "a@example.com")
	primary.IsPrimary = true
	kept := repo.add(primary)
	removed := repo.add(newConn(hostID, domain.ProviderOutlook, "b@example.com"))

	if err := svc.Disconnect(context.Background(), hostID, removed.ID); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	still, _ := repo.GetByID(context.Background(), kept.ID)
	if !still.IsPrimary {
		t.Error("removing a non-primary connection must not move the primary")
	}
}
