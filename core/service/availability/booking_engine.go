// Package availability computes bookable time slots for a host and event
// type, honoring recurring rules, date overrides, buffers, notice windows,
// booking caps, existing bookings, and aggregated calendar conflicts.
package availability

import (
	"context"
	"fmt"
	"time"

	"booking_server/core/domain"
	"booking_server/core/port/out"
	"booking_server/pkg/apperr"
	"booking_server/pkg/logger"

	"github.com/google/uuid"
)

// slotStep is the fixed candidate-generation increment.
const slotStep = 15 * time.Minute

// ConflictSource supplies aggregated busy events; the conflict.Aggregator
// satisfies this.
type ConflictSource interface {
	GetConflictingEvents(ctx context.Context, hostID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.CalendarEvent, error)
}

// Engine computes bookable slots.
type Engine struct {
	hosts     out.HostRepository
	sched     out.SchedulingRepository
	conflicts ConflictSource
	now       func() time.Time
}

// NewEngine creates an availability engine. A nil now defaults to time.Now;
// tests inject a fixed clock.
func NewEngine(hosts out.HostRepository, sched out.SchedulingRepository, conflicts ConflictSource, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		hosts:     hosts,
		sched:     sched,
		conflicts: conflicts,
		now:       now,
	}
}

type busyInterval struct {
	start time.Time
	end   time.Time
}

func (b busyInterval) overlaps(start, end time.Time) bool {
	return b.start.Before(end) && b.end.After(start)
}

// GetAvailableSlots returns the bookable slots for [windowStart, windowEnd).
//
// All wall-clock interpretation happens in the host's stored IANA timezone;
// the booker's timezone is accepted for caller-side display only. Slots are
// emitted in per-day, per-rule generation order as UTC instants.
//
// A missing host or event type yields an empty list with no error; the
// calling layer owns any user-facing 404.
func (e *Engine) GetAvailableSlots(ctx context.Context, hostID, eventTypeID uuid.UUID, windowStart, windowEnd time.Time, bookerTimezone string) ([]domain.TimeSlot, error) {
	if !windowEnd.After(windowStart) {
		return nil, apperr.BadRequest("availability window end must be after start")
	}

	host, eventType, rules, err := e.loadScheduleInputs(ctx, hostID, eventTypeID)
	if err != nil {
		return nil, err
	}
	if host == nil || eventType == nil {
		return []domain.TimeSlot{}, nil
	}

	// Clamp the generation horizon to the event type's booking window.
	if eventType.MaxFutureDays > 0 {
		horizon := e.now().AddDate(0, 0, eventType.MaxFutureDays)
		if windowEnd.After(horizon) {
			windowEnd = horizon
		}
		if !windowEnd.After(windowStart) {
			return []domain.TimeSlot{}, nil
		}
	}

	busy, dayCounts, weekCounts, err := e.loadBusyState(ctx, host, eventType, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(host.Timezone)
	if err != nil {
		logger.WithError(err).WithField("host_id", host.ID.String()).Warn("invalid host timezone, falling back to UTC")
		loc = time.UTC
	}

	earliestBookable := e.now().Add(time.Duration(eventType.MinNotice) * time.Minute)
	duration := time.Duration(eventType.Duration) * time.Minute
	bufferBefore := time.Duration(eventType.BufferBefore) * time.Minute
	bufferAfter := time.Duration(eventType.BufferAfter) * time.Minute

	slots := make([]domain.TimeSlot, 0)

	year, month, day := windowStart.In(loc).Date()
	for {
		dayStart := time.Date(year, month, day, 0, 0, 0, 0, loc)
		if !dayStart.Before(windowEnd) {
			break
		}

		dateKey := dayStart.Format("2006-01-02")
		if !e.underCaps(eventType, dayStart, dateKey, dayCounts, weekCounts) {
			year, month, day = time.Date(year, month, day+1, 0, 0, 0, 0, loc).Date()
			continue
		}

		for _, rule := range applicableRules(rules, dateKey, dayStart.Weekday()) {
			ruleStart, ruleEnd, ok := ruleWindow(rule, year, month, day, loc)
			if !ok {
				continue
			}

			for slotStart := ruleStart; !slotStart.Add(duration).After(ruleEnd); slotStart = slotStart.Add(slotStep) {
				if !slotStart.After(earliestBookable) {
					continue
				}

				slotEnd := slotStart.Add(duration)
				blockStart := slotStart.Add(-bufferBefore)
				blockEnd := slotEnd.Add(bufferAfter)

				if anyOverlap(busy, blockStart, blockEnd) {
					continue
				}

				slots = append(slots, domain.TimeSlot{
					Start: slotStart.UTC(),
					End:   slotEnd.UTC(),
				})
			}
		}

		year, month, day = time.Date(year, month, day+1, 0, 0, 0, 0, loc).Date()
	}

	return slots, nil
}

// loadScheduleInputs fetches host, event type, and enabled rules
// concurrently. Missing host or event type comes back as nil without error.
func (e *Engine) loadScheduleInputs(ctx context.Context, hostID, eventTypeID uuid.UUID) (*domain.Host, *domain.EventType, []*domain.AvailabilityRule, error) {
	var (
		host      *domain.Host
		eventType *domain.EventType
		rules     []*domain.AvailabilityRule
		hostErr   error
		typeErr   error
		rulesErr  error
	)

	done := make(chan struct{}, 3)
	go func() {
		host, hostErr = e.hosts.GetByID(ctx, hostID)
		done <- struct{}{}
	}()
	go func() {
		eventType, typeErr = e.sched.GetEventType(ctx, eventTypeID)
		done <- struct{}{}
	}()
	go func() {
		rules, rulesErr = e.sched.ListEnabledRules(ctx, hostID)
		done <- struct{}{}
	}()
	for i := 0; i < 3; i++ {
		<-done
	}

	if apperr.IsCode(hostErr, apperr.CodeNotFound) {
		return nil, nil, nil, nil
	}
	if hostErr != nil {
		return nil, nil, nil, fmt.Errorf("load host: %w", hostErr)
	}
	if apperr.IsCode(typeErr, apperr.CodeNotFound) {
		return nil, nil, nil, nil
	}
	if typeErr != nil {
		return nil, nil, nil, fmt.Errorf("load event type: %w", typeErr)
	}
	if rulesErr != nil {
		return nil, nil, nil, fmt.Errorf("load availability rules: %w", rulesErr)
	}

	return host, eventType, rules, nil
}

// loadBusyState fetches calendar conflicts, existing bookings, and (when
// caps are configured) per-day and per-week booking counts, concurrently.
func (e *Engine) loadBusyState(ctx context.Context, host *domain.Host, eventType *domain.EventType, windowStart, windowEnd time.Time) ([]busyInterval, map[string]int, map[string]int, error) {
	var (
		conflicts    []domain.CalendarEvent
		bookings     []*domain.Booking
		capBookings  []*domain.Booking
		conflictsErr error
		bookingsErr  error
		capErr       error
	)

	needCaps := eventType.DailyLimit != nil || eventType.WeeklyLimit != nil

	tasks := 2
	if needCaps {
		tasks = 3
	}
	done := make(chan struct{}, tasks)

	go func() {
		conflicts, conflictsErr = e.conflicts.GetConflictingEvents(ctx, host.ID, windowStart, windowEnd)
		done <- struct{}{}
	}()
	go func() {
		bookings, bookingsErr = e.sched.ListBookingsInWindow(ctx, host.ID, windowStart, windowEnd)
		done <- struct{}{}
	}()
	if needCaps {
		go func() {
			capBookings, capErr = e.sched.ListEventTypeBookings(ctx, eventType.ID, windowStart, windowEnd)
			done <- struct{}{}
		}()
	}
	for i := 0; i < tasks; i++ {
		<-done
	}

	if conflictsErr != nil {
		return nil, nil, nil, fmt.Errorf("aggregate calendar conflicts: %w", conflictsErr)
	}
	if bookingsErr != nil {
		return nil, nil, nil, fmt.Errorf("load bookings: %w", bookingsErr)
	}
	if capErr != nil {
		return nil, nil, nil, fmt.Errorf("load bookings for cap counts: %w", capErr)
	}

	busy := make([]busyInterval, 0, len(conflicts)+len(bookings))
	for _, ev := range conflicts {
		busy = append(busy, busyInterval{start: ev.Start, end: ev.End})
	}
	for _, b := range bookings {
		busy = append(busy, busyInterval{start: b.StartTime, end: b.EndTime})
	}

	var dayCounts, weekCounts map[string]int
	if needCaps {
		loc, locErr := time.LoadLocation(host.Timezone)
		if locErr != nil {
			loc = time.UTC
		}
		dayCounts = make(map[string]int, len(capBookings))
		weekCounts = make(map[string]int)
		for _, b := range capBookings {
			local := b.StartTime.In(loc)
			dayCounts[local.Format("2006-01-02")]++
			weekCounts[isoWeekKey(local)]++
		}
	}

	return busy, dayCounts, weekCounts, nil
}

// underCaps reports whether the host-local day may still accept bookings of
// this event type. Days at or over a cap are skipped before any slot
// generation rather than filtered per slot.
func (e *Engine) underCaps(eventType *domain.EventType, dayStart time.Time, dateKey string, dayCounts, weekCounts map[string]int) bool {
	if eventType.DailyLimit != nil && dayCounts[dateKey] >= *eventType.DailyLimit {
		return false
	}
	if eventType.WeeklyLimit != nil && weekCounts[isoWeekKey(dayStart)] >= *eventType.WeeklyLimit {
		return false
	}
	return true
}

func isoWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// applicableRules selects the rules governing one host-local date. An exact
// date-specific rule strictly overrides same-weekday recurring rules for
// that date; otherwise every enabled recurring rule matching the weekday
// applies, each processed independently with no window merging.
func applicableRules(rules []*domain.AvailabilityRule, dateKey string, weekday time.Weekday) []*domain.AvailabilityRule {
	var dateRules []*domain.AvailabilityRule
	for _, r := range rules {
		if r.Date != nil && r.Date.UTC().Format("2006-01-02") == dateKey {
			dateRules = append(dateRules, r)
		}
	}
	if len(dateRules) > 0 {
		return dateRules
	}

	var dayRules []*domain.AvailabilityRule
	for _, r := range rules {
		if r.Date == nil && r.DayOfWeek != nil && *r.DayOfWeek == int(weekday) {
			dayRules = append(dayRules, r)
		}
	}
	return dayRules
}

// ruleWindow converts a rule's wall-clock window on the given host-local
// date into UTC instants. Constructing the times in the host location makes
// DST transitions come out right: the same wall-clock time on different
// dates may map to different UTC offsets.
func ruleWindow(rule *domain.AvailabilityRule, year int, month time.Month, day int, loc *time.Location) (time.Time, time.Time, bool) {
	startH, startM, ok := parseWallClock(rule.StartTime)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	endH, endM, ok := parseWallClock(rule.EndTime)
	if !ok {
		return time.Time{}, time.Time{}, false
	}

	start := time.Date(year, month, day, startH, startM, 0, 0, loc)
	end := time.Date(year, month, day, endH, endM, 0, 0, loc)
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// parseWallClock parses "HH:MM".
func parseWallClock(s string) (int, int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func anyOverlap(busy []busyInterval, start, end time.Time) bool {
	for _, b := range busy {
		if b.overlaps(start, end) {
			return true
		}
	}
	return false
}
