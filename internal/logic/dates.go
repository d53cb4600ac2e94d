package logic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// day-first dates as typed on the mobile client: 05/03/2026, 5-3-2026, 05.03.2026
var dayFirstDate = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})$`)

// ParseFlexibleTime parses the date formats the mobile client sends. The
// boolean reports whether the value carried only a date, in which case the
// returned time is midnight UTC of that day.
func ParseFlexibleTime(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, layout == "2006-01-02", nil
		}
	}

	m := dayFirstDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false, fmt.Errorf("unrecognized date %q", s)
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31/02 into March; reject instead
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false, fmt.Errorf("invalid date %q", s)
	}
	return t, true, nil
}

// ParseRangeEnd parses an inclusive upper bound. Date-only values extend to
// the last instant of that day.
func ParseRangeEnd(s string) (time.Time, error) {
	t, dateOnly, err := ParseFlexibleTime(s)
	if err != nil {
		return time.Time{}, err
	}
	if dateOnly {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
