package http

import (
	"context"
	"fmt"
	"time"

	"booking_server/core/domain"
	"booking_server/core/port/in"
	"booking_server/core/port/out"
	"booking_server/core/service/availability"
	"booking_server/pkg/apperr"
	"booking_server/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AvailabilityHandler serves the public booking-page slot lookups and the
// authenticated conflict endpoints.
type AvailabilityHandler struct {
	slots     in.AvailabilityService
	conflicts in.ConflictService
	sched     out.SchedulingRepository
	limiter   *ratelimit.SlidingWindowLimiter
}

func NewAvailabilityHandler(slots in.AvailabilityService, conflicts in.ConflictService, sched out.SchedulingRepository, limiter *ratelimit.SlidingWindowLimiter) *AvailabilityHandler {
	return &AvailabilityHandler{
		slots:     slots,
		conflicts: conflicts,
		sched:     sched,
		limiter:   limiter,
	}
}

// RegisterPublic mounts the unauthenticated booking-page routes.
func (h *AvailabilityHandler) RegisterPublic(router fiber.Router) {
	router.Get("/slots", h.GetSlots)
}

// Register mounts the authenticated routes.
func (h *AvailabilityHandler) Register(router fiber.Router) {
	router.Get("/conflicts", h.GetConflicts)
	router.Post("/cache/invalidate", h.InvalidateCache)
	router.Post("/rules/default", h.SeedDefaultRules)
}

// GetSlots returns bookable slots for an event type. This is the public
// booking-page endpoint, so it is rate limited per client IP. For collective
// event types the slots of every member are computed concurrently and
// intersected: only instants where all members are free survive.
func (h *AvailabilityHandler) GetSlots(c *fiber.Ctx) error {
	if h.limiter != nil {
		allowed, wait := h.limiter.Allow(c.Context(), "slots:"+c.IP())
		if !allowed {
			if wait > 0 {
				c.Set("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())+1))
			}
			return AppErrorResponse(c, apperr.ErrRateLimited)
		}
	}

	hostID, err := uuid.Parse(c.Query("host_id"))
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("host_id", "must be a UUID"))
	}
	eventTypeID, err := uuid.Parse(c.Query("event_type_id"))
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("event_type_id", "must be a UUID"))
	}
	windowStart, windowEnd, err := parseTimeWindow(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	bookerTimezone := c.Query("timezone", "UTC")

	eventType, err := h.sched.GetEventType(c.Context(), eventTypeID)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return SuccessResponse(c, []domain.TimeSlot{})
	}
	if err != nil {
		return AppErrorResponse(c, apperr.DatabaseError("load event type", err))
	}

	var result []domain.TimeSlot
	if eventType.IsCollective && len(eventType.CollectiveMembers) > 0 {
		result, err = h.collectiveSlots(c.Context(), eventType, windowStart, windowEnd, bookerTimezone)
	} else {
		result, err = h.slots.GetAvailableSlots(c.Context(), hostID, eventTypeID, windowStart, windowEnd, bookerTimezone)
	}
	if err != nil {
		return AppErrorResponse(c, err)
	}

	return SuccessResponse(c, result)
}

// collectiveSlots computes each participant's slots concurrently against the
// owning event type, then keeps only the instants every participant shares.
// The owning host always participates, whether or not the member list names
// them.
func (h *AvailabilityHandler) collectiveSlots(ctx context.Context, eventType *domain.EventType, windowStart, windowEnd time.Time, bookerTimezone string) ([]domain.TimeSlot, error) {
	members := make([]uuid.UUID, 0, len(eventType.CollectiveMembers)+1)
	members = append(members, eventType.HostID)
	for _, memberID := range eventType.CollectiveMembers {
		if memberID != eventType.HostID {
			members = append(members, memberID)
		}
	}

	type memberResult struct {
		index int
		slots []domain.TimeSlot
		err   error
	}
	results := make(chan memberResult, len(members))
	for i, memberID := range members {
		go func(index int, hostID uuid.UUID) {
			slots, err := h.slots.GetAvailableSlots(ctx, hostID, eventType.ID, windowStart, windowEnd, bookerTimezone)
			results <- memberResult{index: index, slots: slots, err: err}
		}(i, memberID)
	}

	memberSlots := make([][]domain.TimeSlot, len(members))
	for range members {
		r := <-results
		if r.err != nil {
			return nil, r.err
		}
		memberSlots[r.index] = r.slots
	}

	return availability.IntersectSlots(memberSlots), nil
}

// GetConflicts returns the authenticated host's aggregated busy events.
func (h *AvailabilityHandler) GetConflicts(c *fiber.Ctx) error {
	hostID, err := MustGetHostID(c)
	if err != nil {
		return err
	}

	windowStart, windowEnd, err := parseTimeWindow(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	events, err := h.conflicts.GetConflictingEvents(c.Context(), hostID, windowStart, windowEnd)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, events)
}

// InvalidateCache drops the host's cached conflict windows, locally and on
// every peer instance. Hosts call this after editing calendars out of band.
func (h *AvailabilityHandler) InvalidateCache(c *fiber.Ctx) error {
	hostID, err := MustGetHostID(c)
	if err != nil {
		return err
	}

	h.conflicts.Invalidate(c.Context(), hostID)
	return SuccessResponse(c, fiber.Map{"invalidated": true})
}

// SeedDefaultRules installs the Mon-Fri 09:00-17:00 starter availability for
// the authenticated host. Onboarding calls this once; it is a no-op for a
// host that already has rules.
func (h *AvailabilityHandler) SeedDefaultRules(c *fiber.Ctx) error {
	hostID, err := MustGetHostID(c)
	if err != nil {
		return err
	}

	if err := h.sched.SeedDefaultRules(c.Context(), hostID); err != nil {
		return AppErrorResponse(c, apperr.DatabaseError("seed default rules", err))
	}
	return SuccessResponse(c, fiber.Map{"seeded": true})
}
