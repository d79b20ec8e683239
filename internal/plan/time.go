package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"planbot/internal/config"
)

// ErrInvalidTimezone is returned when a timezone name is not present in the
// IANA database. Callers must reject the input before any state change.
var ErrInvalidTimezone = errors.New("unknown timezone")

// DefaultPublishHour is the local wall-clock hour used when a generated week
// gets its initial schedule.
const DefaultPublishHour = 10

// LoadZone resolves an IANA timezone name. Unknown names map to
// ErrInvalidTimezone so callers can distinguish bad input from IO failures.
func LoadZone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// LocalToUTC converts a local calendar date plus wall-clock time in the given
// zone to a UTC instant. The conversion goes through time.Date in the target
// location, so DST transitions on that day are resolved by the zone rules
// rather than by a fixed offset.
func LocalToUTC(year int, month time.Month, day, hour, minute int, tz string) (time.Time, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc).UTC(), nil
}

// WeekLabel derives the canonical week identifier for a date using the ISO
// 8601 week calendar. The ISO year is used, not the calendar year, so dates
// near January 1 label consistently with the week they belong to.
func WeekLabel(d time.Time) string {
	year, week := d.ISOWeek()
	return fmt.Sprintf("W%02d-%d", week, year)
}

// DefaultSchedule returns seven UTC publish instants, one per day starting at
// startDate, each at DefaultPublishHour local time in tz. Every day is
// converted independently so a DST shift mid-week moves only the days after
// the transition.
func DefaultSchedule(startDate time.Time, tz string) ([]time.Time, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, postsPerWeek)
	for i := 0; i < postsPerWeek; i++ {
		day := startDate.AddDate(0, 0, i)
		t := time.Date(day.Year(), day.Month(), day.Day(), DefaultPublishHour, 0, 0, 0, loc)
		out = append(out, t.UTC())
	}
	return out, nil
}

// ParseLocalDate parses a YYYY-MM-DD calendar date. The result carries no
// location; it only identifies the day.
func ParseLocalDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// ParseLocalDateTime combines a YYYY-MM-DD date and an HH:MM wall-clock time
// in tz into a UTC instant.
func ParseLocalDateTime(dateStr, hhmm, tz string) (time.Time, error) {
	d, err := ParseLocalDate(dateStr)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := config.ParseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return LocalToUTC(d.Year(), d.Month(), d.Day(), hour, minute, tz)
}
