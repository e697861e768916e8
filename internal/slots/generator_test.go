package slots

import (
	"testing"
	"time"
)

func TestDayGrid(t *testing.T) {
	days := []time.Time{
		time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.February, 29, 13, 45, 0, 0, time.UTC),
		time.Date(2025, time.December, 31, 23, 59, 0, 0, time.FixedZone("EST", -5*3600)),
	}

	for _, day := range days {
		t.Run(day.Format(time.RFC3339), func(t *testing.T) {
			grid := DayGrid(day)

			if len(grid) != 22 {
				t.Fatalf("expected 22 slots, got %d", len(grid))
			}

			first, last := grid[0], grid[len(grid)-1]
			if first.Hour() != 7 || first.Minute() != 0 {
				t.Errorf("first slot: expected 07:00, got %s", first.Format("15:04"))
			}
			if last.Hour() != 17 || last.Minute() != 30 {
				t.Errorf("last slot: expected 17:30, got %s", last.Format("15:04"))
			}

			for i, s := range grid {
				if s.Minute()%30 != 0 || s.Second() != 0 || s.Nanosecond() != 0 {
					t.Errorf("slot %d not on 30-minute boundary: %s", i, s)
				}
				if s.Location() != day.Location() {
					t.Errorf("slot %d location %v, want %v", i, s.Location(), day.Location())
				}
				y1, m1, d1 := s.Date()
				y2, m2, d2 := day.Date()
				if y1 != y2 || m1 != m2 || d1 != d2 {
					t.Errorf("slot %d on wrong day: %s", i, s)
				}
				if i > 0 && !s.After(grid[i-1]) {
					t.Errorf("slots not strictly increasing at %d", i)
				}
			}
		})
	}
}

func TestDayGridIdempotent(t *testing.T) {
	day := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	a := DayGrid(day)
	b := DayGrid(day.Add(15 * time.Hour))

	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Errorf("slot %d differs: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestScheduleGenerate(t *testing.T) {
	day := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		schedule      Schedule
		expectedCount int
		expectErr     bool
	}{
		{
			name:          "default window",
			schedule:      DefaultSchedule(),
			expectedCount: 22,
		},
		{
			name:          "hour steps",
			schedule:      Schedule{StartTime: "09:00", EndTime: "12:00", Step: time.Hour},
			expectedCount: 3,
		},
		{
			name:          "zero step falls back to 30 minutes",
			schedule:      Schedule{StartTime: "10:00", EndTime: "12:00"},
			expectedCount: 4,
		},
		{
			name:      "end before start",
			schedule:  Schedule{StartTime: "12:00", EndTime: "10:00", Step: Step},
			expectErr: true,
		},
		{
			name:      "bad format",
			schedule:  Schedule{StartTime: "noon", EndTime: "18:00", Step: Step},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.schedule.Generate(day)
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.expectedCount {
				t.Errorf("expected %d slots, got %d", tt.expectedCount, len(got))
			}
		})
	}
}

func TestDayKey(t *testing.T) {
	day := time.Date(2024, time.June, 3, 15, 0, 0, 0, time.UTC)
	if got := DayKey(day); got != "Mon Jun 03 2024" {
		t.Errorf("DayKey: got %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		minutes  int
		expected string
	}{
		{30, "30 min"},
		{60, "1 hour"},
		{90, "1 h 30 min"},
		{120, "2 hours"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatDuration(tt.minutes); got != tt.expected {
				t.Errorf("FormatDuration(%d): expected %q, got %q", tt.minutes, tt.expected, got)
			}
		})
	}
}
