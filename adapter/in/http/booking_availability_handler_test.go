package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"booking_server/core/domain"
	"booking_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type fakeAvailability struct {
	mu    sync.Mutex
	slots map[uuid.UUID][]domain.TimeSlot
	calls []uuid.UUID

	windowStart time.Time
	windowEnd   time.Time
}

func (f *fakeAvailability) GetAvailableSlots(_ context.Context, hostID, _ uuid.UUID, windowStart, windowEnd time.Time, _ string) ([]domain.TimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, hostID)
	f.windowStart = windowStart
	f.windowEnd = windowEnd
	return f.slots[hostID], nil
}

type fakeConflicts struct{}

func (fakeConflicts) GetConflictingEvents(context.Context, uuid.UUID, time.Time, time.Time) ([]domain.CalendarEvent, error) {
	return nil, nil
}
func (fakeConflicts) Invalidate(context.Context, uuid.UUID) {}

type fakeScheduling struct {
	eventTypes map[uuid.UUID]*domain.EventType
}

func (f *fakeScheduling) GetEventType(_ context.Context, id uuid.UUID) (*domain.EventType, error) {
	if et, ok := f.eventTypes[id]; ok {
		return et, nil
	}
	return nil, apperr.NotFound("event type")
}

func (f *fakeScheduling) ListEnabledRules(context.Context, uuid.UUID) ([]*domain.AvailabilityRule, error) {
	return nil, nil
}

func (f *fakeScheduling) ListBookingsInWindow(context.Context, uuid.UUID, time.Time, time.Time) ([]*domain.Booking, error) {
	return nil, nil
}

func (f *fakeScheduling) ListEventTypeBookings(context.Context, uuid.UUID, time.Time, time.Time) ([]*domain.Booking, error) {
	return nil, nil
}

func (f *fakeScheduling) SeedDefaultRules(context.Context, uuid.UUID) error { return nil }

func newSlotsApp(avail *fakeAvailability, sched *fakeScheduling) *fiber.App {
	app := fiber.New()
	handler := NewAvailabilityHandler(avail, fakeConflicts{}, sched, nil)
	handler.RegisterPublic(app.Group("/api/v1"))
	return app
}

type slotsResponse struct {
	Success bool              `json:"success"`
	Data    []domain.TimeSlot `json:"data"`
}

func getSlots(t *testing.T, app *fiber.App, target string) (int, slotsResponse) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	var parsed slotsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	return resp.StatusCode, parsed
}

func TestGetSlotsCollectiveIncludesOwner(t *testing.T) {
	ownerID := uuid.New()
	memberID := uuid.New()
	eventTypeID := uuid.New()

	shared := domain.TimeSlot{
		Start: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
	}

	sched := &fakeScheduling{eventTypes: map[uuid.UUID]*domain.EventType{
		eventTypeID: {
			ID:                eventTypeID,
			HostID:            ownerID,
			Duration:          30,
			IsCollective:      true,
			CollectiveMembers: []uuid.UUID{memberID},
			Active:            true,
		},
	}}

	t.Run("fully booked owner blocks every slot", func(t *testing.T) {
		avail := &fakeAvailability{slots: map[uuid.UUID][]domain.TimeSlot{
			ownerID:  {},
			memberID: {shared},
		}}
		app := newSlotsApp(avail, sched)

		status, parsed := getSlots(t, app, "/api/v1/slots?host_id="+ownerID.String()+
			"&event_type_id="+eventTypeID.String()+
			"&start=2026-03-02T00:00:00Z&end=2026-03-03T00:00:00Z")
		if status != fiber.StatusOK {
			t.Fatalf("status = %d, want 200", status)
		}
		if len(parsed.Data) != 0 {
			t.Fatalf("got %d slots, want none when the owner is fully booked", len(parsed.Data))
		}

		ownerQueried := false
		for _, id := range avail.calls {
			if id == ownerID {
				ownerQueried = true
			}
		}
		if !ownerQueried {
			t.Fatal("collective lookup never computed the owner's availability")
		}
	})

	t.Run("instant shared by owner and member survives", func(t *testing.T) {
		avail := &fakeAvailability{slots: map[uuid.UUID][]domain.TimeSlot{
			ownerID:  {shared},
			memberID: {shared},
		}}
		app := newSlotsApp(avail, sched)

		_, parsed := getSlots(t, app, "/api/v1/slots?host_id="+ownerID.String()+
			"&event_type_id="+eventTypeID.String()+
			"&start=2026-03-02T00:00:00Z&end=2026-03-03T00:00:00Z")
		if len(parsed.Data) != 1 || !parsed.Data[0].Start.Equal(shared.Start) {
			t.Fatalf("got %v, want the single shared slot %v", parsed.Data, shared)
		}
	})
}

func TestGetSlotsCollectiveDeduplicatesOwnerInMemberList(t *testing.T) {
	ownerID := uuid.New()
	eventTypeID := uuid.New()

	sched := &fakeScheduling{eventTypes: map[uuid.UUID]*domain.EventType{
		eventTypeID: {
			ID:                eventTypeID,
			HostID:            ownerID,
			Duration:          30,
			IsCollective:      true,
			CollectiveMembers: []uuid.UUID{ownerID},
			Active:            true,
		},
	}}
	avail := &fakeAvailability{slots: map[uuid.UUID][]domain.TimeSlot{}}
	app := newSlotsApp(avail, sched)

	getSlots(t, app, "/api/v1/slots?host_id="+ownerID.String()+
		"&event_type_id="+eventTypeID.String()+
		"&start=2026-03-02T00:00:00Z&end=2026-03-03T00:00:00Z")

	if len(avail.calls) != 1 {
		t.Fatalf("owner listed as a member was queried %d times, want 1", len(avail.calls))
	}
}

func TestGetSlotsDateShorthand(t *testing.T) {
	hostID := uuid.New()
	eventTypeID := uuid.New()
	sched := &fakeScheduling{eventTypes: map[uuid.UUID]*domain.EventType{
		eventTypeID: {ID: eventTypeID, HostID: hostID, Duration: 30, Active: true},
	}}
	avail := &fakeAvailability{slots: map[uuid.UUID][]domain.TimeSlot{}}
	app := newSlotsApp(avail, sched)

	status, _ := getSlots(t, app, "/api/v1/slots?host_id="+hostID.String()+
		"&event_type_id="+eventTypeID.String()+"&date=2026-03-02")
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	wantStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if !avail.windowStart.Equal(wantStart) || !avail.windowEnd.Equal(wantEnd) {
		t.Fatalf("window = [%v, %v), want [%v, %v)", avail.windowStart, avail.windowEnd, wantStart, wantEnd)
	}
}

func TestGetSlotsMonthShorthand(t *testing.T) {
	hostID := uuid.New()
	eventTypeID := uuid.New()
	sched := &fakeScheduling{eventTypes: map[uuid.UUID]*domain.EventType{
		eventTypeID: {ID: eventTypeID, HostID: hostID, Duration: 30, Active: true},
	}}
	avail := &fakeAvailability{slots: map[uuid.UUID][]domain.TimeSlot{}}
	app := newSlotsApp(avail, sched)

	getSlots(t, app, "/api/v1/slots?host_id="+hostID.String()+
		"&event_type_id="+eventTypeID.String()+"&month=2026-03")

	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !avail.windowStart.Equal(wantStart) || !avail.windowEnd.Equal(wantEnd) {
		t.Fatalf("window = [%v, %v), want [%v, %v)", avail.windowStart, avail.windowEnd, wantStart, wantEnd)
	}
}

func TestGetSlotsRejectsMalformedShorthand(t *testing.T) {
	hostID := uuid.New()
	eventTypeID := uuid.New()
	sched := &fakeScheduling{eventTypes: map[uuid.UUID]*domain.EventType{
		eventTypeID: {ID: eventTypeID, HostID: hostID, Duration: 30, Active: true},
	}}
	app := newSlotsApp(&fakeAvailability{}, sched)

	for _, target := range []string{
		"/api/v1/slots?host_id=" + hostID.String() + "&event_type_id=" + eventTypeID.String() + "&date=03-02-2026",
		"/api/v1/slots?host_id=" + hostID.String() + "&event_type_id=" + eventTypeID.String() + "&month=March",
		"/api/v1/slots?host_id=" + hostID.String() + "&event_type_id=" + eventTypeID.String(),
	} {
		status, parsed := getSlots(t, app, target)
		if status != fiber.StatusBadRequest || parsed.Success {
			t.Errorf("%s: status = %d success = %v, want a 400 failure", target, status, parsed.Success)
		}
	}
}
