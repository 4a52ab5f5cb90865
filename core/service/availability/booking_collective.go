package availability

import "booking_server/core/domain"

// IntersectSlots returns the slots present in every member's slot set, for
// collective event types where all members must be free simultaneously.
// Slots match only at identical instants; partial overlap never counts. An
// empty input, or any member with an empty set, yields an empty result.
// Output preserves the first member's ordering.
func IntersectSlots(memberSlots [][]domain.TimeSlot) []domain.TimeSlot {
	if len(memberSlots) == 0 {
		return []domain.TimeSlot{}
	}
	for _, slots := range memberSlots {
		if len(slots) == 0 {
			return []domain.TimeSlot{}
		}
	}

	type instant struct {
		start int64
		end   int64
	}
	key := func(s domain.TimeSlot) instant {
		return instant{start: s.Start.UnixNano(), end: s.End.UnixNano()}
	}

	common := make(map[instant]struct{}, len(memberSlots[0]))
	for _, s := range memberSlots[0] {
		common[key(s)] = struct{}{}
	}
	for _, slots := range memberSlots[1:] {
		next := make(map[instant]struct{}, len(common))
		for _, s := range slots {
			k := key(s)
			if _, ok := common[k]; ok {
				next[k] = struct{}{}
			}
		}
		common = next
		if len(common) == 0 {
			return []domain.TimeSlot{}
		}
	}

	result := make([]domain.TimeSlot, 0, len(common))
	seen := make(map[instant]struct{}, len(common))
	for _, s := range memberSlots[0] {
		k := key(s)
		if _, ok := common[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, s)
	}
	return result
}
