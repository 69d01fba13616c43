package timeutil

import (
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	reYMD      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reYMDSlash = regexp.MustCompile(`^(\d{4})/(\d{2})/(\d{2})$`)
	reMD       = regexp.MustCompile(`^(\d{2})-(\d{2})$`)
)

// Today returns the current calendar date (YYYY-MM-DD) in loc.
func Today(loc *time.Location) string {
	return time.Now().In(loc).Format(dateLayout)
}

// DaysBefore returns the date n days before day (both YYYY-MM-DD).
func DaysBefore(day string, n int) string {
	t, err := time.Parse(dateLayout, day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, -n).Format(dateLayout)
}

// NormalizeDate strips bracket/whitespace decoration from a raw listing date
// and returns it as YYYY-MM-DD, or "" when the text is not a date. Month-day
// forms take their year from now.
func NormalizeDate(raw string, now time.Time) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "[", "")
	s = strings.ReplaceAll(s, "]", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if reYMD.MatchString(s) {
		return s
	}

	if m := reYMDSlash.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}

	if m := reMD.FindStringSubmatch(s); m != nil {
		return now.Format("2006") + "-" + m[1] + "-" + m[2]
	}

	return ""
}
