package datetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 2024-01-01 is a Monday.
var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestParseTomorrowAfternoon(t *testing.T) {
	got := Parse("tomorrow", "3pm", monday)
	assert.Equal(t, time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), got)
}

func TestParseTimeOnlyKeepsDate(t *testing.T) {
	base := time.Date(2025, 6, 17, 8, 5, 0, 0, time.UTC)
	got := Parse("", "11:30am", base)
	assert.Equal(t, time.Date(2025, 6, 17, 11, 30, 0, 0, time.UTC), got)
}

func TestParseDatePhrases(t *testing.T) {
	base := monday.Add(9 * time.Hour)
	tests := []struct {
		date string
		want time.Time
	}{
		{"today", base},
		{"TODAY", base},
		{"next week", base.AddDate(0, 0, 7)},
		{"wednesday", base.AddDate(0, 0, 2)},
		{"Sunday", base.AddDate(0, 0, 6)},
		{"monday", base.AddDate(0, 0, 7)},
		{"next friday", base.AddDate(0, 0, 4)},
		{"2024-02-14", time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)},
		{"03/15/2024", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"march 5, 2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"2024-04-01T10:15:00Z", time.Date(2024, 4, 1, 10, 15, 0, 0, time.UTC)},
		{"someday soon", base},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.date, "", base), tt.date)
	}
}

func TestParseClockVariants(t *testing.T) {
	base := time.Date(2024, 5, 10, 7, 45, 30, 0, time.UTC)
	tests := []struct {
		clock string
		want  time.Time
	}{
		{"9", time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)},
		{"14:05", time.Date(2024, 5, 10, 14, 5, 0, 0, time.UTC)},
		{"12am", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		{"12pm", time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)},
		{"7:15 PM", time.Date(2024, 5, 10, 19, 15, 0, 0, time.UTC)},
		{"25:00", base},
		{"13pm", base},
		{"0pm", base},
		{"13:00", time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC)},
		{"10:75", base},
		{"noonish", base},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse("", tt.clock, base), tt.clock)
	}
}

func TestRescheduleKeepsDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	newStart := Parse("tomorrow", "2pm", start)

	gotStart, gotEnd := Reschedule(start, end, newStart)
	assert.Equal(t, time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC), gotStart)
	assert.Equal(t, 90*time.Minute, gotEnd.Sub(gotStart))
}
