package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the canonical calendar-date layout used for hashing and storage.
const DateLayout = time.DateOnly

var inputDateLayouts = []string{
	time.DateOnly,
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	time.RFC3339,
}

// ParseDate parses a calendar date in one of the accepted input layouts and
// returns it as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range inputDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// DateOnly truncates t to its calendar date at midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t in DateLayout.
func FormatDate(t time.Time) string {
	return DateOnly(t).Format(DateLayout)
}

// DaysBetween returns the absolute number of whole calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	diff := DateOnly(a).Sub(DateOnly(b)).Hours() / 24
	return int(math.Round(math.Abs(diff)))
}
