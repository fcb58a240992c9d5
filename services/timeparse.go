package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseMode controls what happens when pickup text or the embedded date cannot
// be parsed: lenient pipelines substitute a sentinel value and keep the row,
// strict pipelines fail the row.
type ParseMode int

const (
	ParseLenient ParseMode = iota
	ParseStrict
)

// Accepted clock layouts, tried in order. First success wins.
var clockLayouts = []string{"3:04 PM", "3 PM"}

var (
	meridiemGap = regexp.MustCompile(`(\d)([AP]M)`)
	labelPrefix = regexp.MustCompile(`^[A-Z][A-Z ]*:\s*`)
	clockChars  = regexp.MustCompile(`[^0-9: APM]`)
	slashDate   = regexp.MustCompile(`(\d{1,2})/(\d{1,2})(?:/(\d{4}))?`)
)

// normalizePickupClock turns messy pickup text into something the clock
// layouts can parse: "Lunch: 11:00PM-2:00PM" -> "11:00 PM".
// The range split must happen before the character strip, otherwise the
// separator is gone before we can honor "keep the start time".
func normalizePickupClock(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = meridiemGap.ReplaceAllString(s, "$1 $2")
	s = labelPrefix.ReplaceAllString(s, "")
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	s = clockChars.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// ParsePickupClock parses free-form pickup time text into a time-of-day.
// Only the hour and minute of the result are meaningful.
func ParsePickupClock(raw string) (time.Time, error) {
	s := normalizePickupClock(raw)
	if s == "" {
		return time.Time{}, &ParseError{Input: raw, Reason: "empty after normalization"}
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ParseError{Input: raw, Reason: "no accepted clock layout"}
}

// FormatPickupClock re-parses stored pickup text for display ("4:30 PM").
// If the text does not parse, it is returned unchanged; recipients must never
// see an internal error string.
func FormatPickupClock(raw string) string {
	t, err := ParsePickupClock(raw)
	if err != nil {
		return raw
	}
	return t.Format("3:04 PM")
}

// ParseEventDate extracts a calendar date embedded in an item description,
// e.g. "8/18 Family Meal" or "6/30/2025 Wonton Batch". A slash date without a
// year gets the current year in loc. Month-name prefixes ("Aug 24") are tried
// next.
func ParseEventDate(desc string, now time.Time, loc *time.Location) (time.Time, error) {
	if m := slashDate.FindStringSubmatch(desc); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year := now.In(loc).Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
			// time.Date normalizes overflow ("6/31" becomes July 1); a date
			// that does not round-trip never existed in that month.
			if d.Month() == time.Month(month) && d.Day() == day {
				return d, nil
			}
		}
	}

	fields := strings.Fields(desc)
	for _, try := range []struct {
		layout string
		tokens int
	}{
		{"Jan 2", 2},
		{"January 2, 2006", 3},
		{"2006-01-02", 1},
	} {
		if len(fields) < try.tokens {
			continue
		}
		head := strings.Join(fields[:try.tokens], " ")
		t, err := time.Parse(try.layout, head)
		if err != nil {
			continue
		}
		year := t.Year()
		if year == 0 {
			year = now.In(loc).Year()
		}
		return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, &ParseError{Input: desc, Reason: "no date found"}
}

// ResolveSendTime computes the notification send time for an order:
// pickup date (from the description) + pickup time (from the pickup text)
// minus the lead offset, all in loc.
//
// In lenient mode an unparseable clock falls back to the sentinel midnight and
// an unparseable date falls back to today; strict mode returns the ParseError.
func ResolveSendTime(pickupText, desc string, lead time.Duration, now time.Time, loc *time.Location, mode ParseMode) (time.Time, error) {
	clock, err := ParsePickupClock(pickupText)
	if err != nil {
		if mode == ParseStrict {
			return time.Time{}, err
		}
		clock = time.Time{} // sentinel: start of day
	}

	date, err := ParseEventDate(desc, now, loc)
	if err != nil {
		if mode == ParseStrict {
			return time.Time{}, err
		}
		n := now.In(loc)
		date = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	}

	pickup := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	return pickup.Add(-lead), nil
}
