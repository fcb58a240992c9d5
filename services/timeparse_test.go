package services

import (
	"errors"
	"testing"
	"time"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestParsePickupClock(t *testing.T) {
	tests := []struct {
		in        string
		hour, min int
	}{
		{"4:30 PM", 16, 30},
		{"4:30PM", 16, 30},
		{"04:30 PM", 16, 30},
		{"11:00 AM", 11, 0},
		{"12:15 PM", 12, 15},
		{"12:15 AM", 0, 15},
		{"9 AM", 9, 0},
		{"7PM", 19, 0},
		{"4:30PM-7:30PM", 16, 30},
		{"  4:30 pm  ", 16, 30},
		{"Lunch: 11:00PM-2:00PM", 23, 0},
		{"Dinner: 6PM", 18, 0},
		{"~4:30 PM!", 16, 30},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePickupClock(tt.in)
			if err != nil {
				t.Fatalf("ParsePickupClock(%q): %v", tt.in, err)
			}
			if got.Hour() != tt.hour || got.Minute() != tt.min {
				t.Errorf("ParsePickupClock(%q) = %02d:%02d, want %02d:%02d",
					tt.in, got.Hour(), got.Minute(), tt.hour, tt.min)
			}
		})
	}
}

func TestParsePickupClockRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "soon", "TBD", "25:00 PM"} {
		if _, err := ParsePickupClock(in); err == nil {
			t.Errorf("ParsePickupClock(%q) succeeded, want error", in)
		} else {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("ParsePickupClock(%q) error = %T, want *ParseError", in, err)
			}
		}
	}
}

func TestParsePickupClockRoundTrip(t *testing.T) {
	// normalize -> parse -> format must preserve the hour and minute.
	for _, in := range []string{"4:30 PM", "11:05 AM", "12:00 PM", "12:01 AM", "9 AM", "7PM"} {
		parsed, err := ParsePickupClock(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		again, err := ParsePickupClock(FormatPickupClock(in))
		if err != nil {
			t.Fatalf("re-parse of formatted %q: %v", in, err)
		}
		if parsed.Hour() != again.Hour() || parsed.Minute() != again.Minute() {
			t.Errorf("round trip of %q changed %02d:%02d to %02d:%02d",
				in, parsed.Hour(), parsed.Minute(), again.Hour(), again.Minute())
		}
	}
}

func TestFormatPickupClockFallsBackToRaw(t *testing.T) {
	if got := FormatPickupClock("whenever works"); got != "whenever works" {
		t.Errorf("FormatPickupClock fallback = %q, want raw input", got)
	}
	if got := FormatPickupClock("4:30PM-7:30PM"); got != "4:30 PM" {
		t.Errorf("FormatPickupClock range = %q, want %q", got, "4:30 PM")
	}
}

func TestParseEventDate(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, loc)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"8/18 Family Meal", time.Date(2025, 8, 18, 0, 0, 0, 0, loc)},
		{"6/30/2025 Wonton Batch", time.Date(2025, 6, 30, 0, 0, 0, 0, loc)},
		{"Order for 12/1", time.Date(2025, 12, 1, 0, 0, 0, 0, loc)},
		{"Aug 24 Pickup", time.Date(2025, 8, 24, 0, 0, 0, 0, loc)},
		{"2025-06-30 special", time.Date(2025, 6, 30, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEventDate(tt.in, now, loc)
			if err != nil {
				t.Fatalf("ParseEventDate(%q): %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseEventDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseEventDate("Family Meal Deluxe", now, loc); err == nil {
		t.Error("ParseEventDate without a date should fail")
	}
	// Days that do not exist in the month must not normalize forward.
	for _, in := range []string{"6/31 Overflow Meal", "2/30/2025 Batch"} {
		if _, err := ParseEventDate(in, now, loc); err == nil {
			t.Errorf("ParseEventDate(%q) succeeded, want impossible-date error", in)
		}
	}
}

func TestResolveSendTime(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, loc)

	got, err := ResolveSendTime("4:30 PM", "8/18 Family Meal", 4*time.Hour, now, loc, ParseLenient)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := time.Date(2025, 8, 18, 12, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("send_at = %v, want %v (pickup minus 4h)", got, want)
	}

	// Explicit year wins over the current year.
	got, err = ResolveSendTime("11:00 AM", "6/30/2026 Item", 2*time.Hour, now, loc, ParseLenient)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want = time.Date(2026, 6, 30, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("send_at = %v, want %v", got, want)
	}
}

func TestResolveSendTimeLenientSentinels(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, loc)

	// Unparseable clock -> start of day on the parsed date.
	got, err := ResolveSendTime("TBD", "8/18 Family Meal", 0, now, loc, ParseLenient)
	if err != nil {
		t.Fatalf("lenient resolve: %v", err)
	}
	want := time.Date(2025, 8, 18, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("sentinel send_at = %v, want %v", got, want)
	}

	// No date in the description -> today.
	got, err = ResolveSendTime("4:30 PM", "Family Meal", 0, now, loc, ParseLenient)
	if err != nil {
		t.Fatalf("lenient resolve: %v", err)
	}
	want = time.Date(2025, 3, 10, 16, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("today-fallback send_at = %v, want %v", got, want)
	}
}

func TestResolveSendTimeStrictFailsRow(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, loc)

	var pe *ParseError
	if _, err := ResolveSendTime("TBD", "8/18 Family Meal", 0, now, loc, ParseStrict); !errors.As(err, &pe) {
		t.Errorf("strict clock error = %v, want *ParseError", err)
	}
	if _, err := ResolveSendTime("4:30 PM", "Family Meal", 0, now, loc, ParseStrict); !errors.As(err, &pe) {
		t.Errorf("strict date error = %v, want *ParseError", err)
	}
}
