package logs

import (
	"regexp"
	"strings"
	"time"
)

var (
	rfc3339Prefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	klogPrefix    = regexp.MustCompile(`^[IWEF](\d{4} \d{2}:\d{2}:\d{2}\.\d+)`)
	syslogPrefix  = regexp.MustCompile(`^(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) +\d{1,2} \d{2}:\d{2}:\d{2}`)
)

var rfc3339Layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05,999999999",
}

// parseTimestamp reads the timestamp a line starts with. klog and syslog
// headers carry no year; it is taken from ref, the file's modification time.
func parseTimestamp(line string, ref time.Time) (time.Time, bool) {
	if m := rfc3339Prefix.FindString(line); m != "" {
		for _, layout := range rfc3339Layouts {
			if t, err := time.Parse(layout, m); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}

	if m := klogPrefix.FindStringSubmatch(line); m != nil {
		t, err := time.Parse("0102 15:04:05.999999", m[1])
		if err != nil {
			return time.Time{}, false
		}
		return withYear(t, ref), true
	}

	if m := syslogPrefix.FindString(line); m != "" {
		t, err := time.Parse("Jan 2 15:04:05", strings.Join(strings.Fields(m), " "))
		if err != nil {
			return time.Time{}, false
		}
		return withYear(t, ref), true
	}

	return time.Time{}, false
}

// withYear places a year-less timestamp in ref's year, or the year before when
// that would put it after ref (a log spanning new year).
func withYear(t time.Time, ref time.Time) time.Time {
	if ref.IsZero() {
		return t.UTC()
	}
	stamped := time.Date(ref.UTC().Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	if stamped.After(ref.Add(24*time.Hour)) {
		stamped = stamped.AddDate(-1, 0, 0)
	}
	return stamped
}
