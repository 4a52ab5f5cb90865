package availability

import (
	"testing"
	"time"

	"booking_server/core/domain"
)

func slot(hour, minute int) domain.TimeSlot {
	start := time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
	return domain.TimeSlot{Start: start, End: start.Add(30 * time.Minute)}
}

func TestIntersectSlots(t *testing.T) {
	tests := []struct {
		name    string
		members [][]domain.TimeSlot
		want    []domain.TimeSlot
	}{
		{
			name:    "no members yields empty",
			members: nil,
			want:    []domain.TimeSlot{},
		},
		{
			name: "single member passes through",
			members: [][]domain.TimeSlot{
				{slot(9, 0), slot(9, 15)},
			},
			want: []domain.TimeSlot{slot(9, 0), slot(9, 15)},
		},
		{
			name: "keeps only instants shared by all members",
			members: [][]domain.TimeSlot{
				{slot(9, 0), slot(9, 15), slot(10, 0), slot(11, 0)},
				{slot(9, 15), slot(10, 0), slot(12, 0)},
				{slot(8, 0), slot(9, 15), slot(10, 0)},
			},
			want: []domain.TimeSlot{slot(9, 15), slot(10, 0)},
		},
		{
			name: "any empty member empties the result",
			members: [][]domain.TimeSlot{
				{slot(9, 0), slot(9, 15)},
				{},
				{slot(9, 0)},
			},
			want: []domain.TimeSlot{},
		},
		{
			name: "partial overlap does not count as shared",
			members: [][]domain.TimeSlot{
				{slot(9, 0)},
				{slot(9, 15)},
			},
			want: []domain.TimeSlot{},
		},
		{
			name: "identical start with different end is a different slot",
			members: [][]domain.TimeSlot{
				{{Start: slot(9, 0).Start, End: slot(9, 0).Start.Add(30 * time.Minute)}},
				{{Start: slot(9, 0).Start, End: slot(9, 0).Start.Add(45 * time.Minute)}},
			},
			want: []domain.TimeSlot{},
		},
		{
			name: "output preserves first member ordering",
			members: [][]domain.TimeSlot{
				{slot(11, 0), slot(9, 0), slot(10, 0)},
				{slot(9, 0), slot(10, 0), slot(11, 0)},
			},
			want: []domain.TimeSlot{slot(11, 0), slot(9, 0), slot(10, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IntersectSlots(tt.members)
			if got == nil {
				t.Fatal("IntersectSlots must return a non-nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d slots, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !got[i].Start.Equal(tt.want[i].Start) || !got[i].End.Equal(tt.want[i].End) {
					t.Errorf("slot[%d] = %v-%v, want %v-%v", i, got[i].Start, got[i].End, tt.want[i].Start, tt.want[i].End)
				}
			}
		})
	}
}
