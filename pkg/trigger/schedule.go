// Package trigger evaluates scheduled trigger specs and turns due publish
// configs into auto-publish tasks.
//
// All schedule evaluation happens in UTC: stored timestamps, cron
// expressions, and HH:MM fields are interpreted against the UTC clock.
package trigger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleType tags the schedule variants of a scheduled trigger config.
type ScheduleType string

// Schedule types.
const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleMonthly  ScheduleType = "monthly"
	ScheduleOnce     ScheduleType = "once"
)

// ErrNoNextFire indicates a schedule has no future fire instant
// (a "once" schedule that already fired).
var ErrNoNextFire = errors.New("schedule has no next fire")

// ScheduleSpec is the parsed, tagged form of a scheduled trigger_config.
// Exactly the fields for the tagged Type are meaningful.
type ScheduleSpec struct {
	Type ScheduleType

	// interval
	Interval time.Duration

	// cron
	CronExpr string
	cronSched cron.Schedule

	// daily / weekly / monthly
	Hour        int
	Minute      int
	DaysOfWeek  []int // 0 = Sunday
	DaysOfMonth []int // 1..31; months lacking the day are skipped

	// once
	At time.Time
}

// ParseSpec decodes a trigger_config JSON object into a ScheduleSpec.
// Decoding is total: every malformed input yields an error, never a
// half-filled spec.
func ParseSpec(raw map[string]any) (*ScheduleSpec, error) {
	st, _ := raw["schedule_type"].(string)
	spec := &ScheduleSpec{Type: ScheduleType(st)}

	switch spec.Type {
	case ScheduleInterval:
		value, ok := asInt(raw["schedule_interval"])
		if !ok || value < 1 {
			return nil, fmt.Errorf("interval schedule requires positive schedule_interval")
		}
		unit, _ := raw["schedule_interval_unit"].(string)
		switch unit {
		case "minutes":
			spec.Interval = time.Duration(value) * time.Minute
		case "hours":
			spec.Interval = time.Duration(value) * time.Hour
		case "days":
			spec.Interval = time.Duration(value) * 24 * time.Hour
		default:
			return nil, fmt.Errorf("invalid schedule_interval_unit %q", unit)
		}

	case ScheduleCron:
		expr, _ := raw["schedule_cron"].(string)
		sched, err := parseCron(expr)
		if err != nil {
			return nil, err
		}
		spec.CronExpr = expr
		spec.cronSched = sched

	case ScheduleDaily:
		if err := parseTimeOfDay(raw, spec); err != nil {
			return nil, err
		}

	case ScheduleWeekly:
		if err := parseTimeOfDay(raw, spec); err != nil {
			return nil, err
		}
		days, err := intSet(raw["schedule_days"], 0, 6)
		if err != nil {
			return nil, fmt.Errorf("schedule_days: %w", err)
		}
		spec.DaysOfWeek = days

	case ScheduleMonthly:
		if err := parseTimeOfDay(raw, spec); err != nil {
			return nil, err
		}
		dates, err := intSet(raw["schedule_dates"], 1, 31)
		if err != nil {
			return nil, fmt.Errorf("schedule_dates: %w", err)
		}
		spec.DaysOfMonth = dates

	case ScheduleOnce:
		s, _ := raw["scheduled_time"].(string)
		at, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("once schedule requires RFC3339 scheduled_time: %w", err)
		}
		spec.At = at.UTC()

	default:
		return nil, fmt.Errorf("unknown schedule_type %q", st)
	}

	return spec, nil
}

// NextFire returns the smallest fire instant strictly after the given time.
// For interval schedules the argument is the anchor (last fire or
// activation time); for calendar schedules it is simply a lower bound.
func (s *ScheduleSpec) NextFire(after time.Time) (time.Time, error) {
	after = after.UTC().Truncate(time.Second)

	switch s.Type {
	case ScheduleInterval:
		return after.Add(s.Interval), nil

	case ScheduleCron:
		return s.cronSched.Next(after).UTC(), nil

	case ScheduleDaily:
		candidate := atTime(after, s.Hour, s.Minute)
		if !candidate.After(after) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil

	case ScheduleWeekly:
		// At most 8 days covers every weekday plus the same-day time check.
		for offset := 0; offset <= 7; offset++ {
			day := after.AddDate(0, 0, offset)
			if !containsInt(s.DaysOfWeek, int(day.Weekday())) {
				continue
			}
			candidate := atTime(day, s.Hour, s.Minute)
			if candidate.After(after) {
				return candidate, nil
			}
		}
		return time.Time{}, fmt.Errorf("weekly schedule found no fire day")

	case ScheduleMonthly:
		// 13 months covers schedules pinned to day 29-31 across a year.
		for offset := 0; offset <= 13; offset++ {
			month := time.Date(after.Year(), after.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, offset, 0)
			for _, dom := range s.DaysOfMonth {
				candidate := time.Date(month.Year(), month.Month(), dom, s.Hour, s.Minute, 0, 0, time.UTC)
				if candidate.Month() != month.Month() {
					continue // day does not exist in this month
				}
				if candidate.After(after) {
					return candidate, nil
				}
			}
		}
		return time.Time{}, fmt.Errorf("monthly schedule found no fire day")

	case ScheduleOnce:
		if s.At.After(after) {
			return s.At, nil
		}
		return time.Time{}, ErrNoNextFire
	}

	return time.Time{}, fmt.Errorf("unknown schedule type %q", s.Type)
}

// LatestFire walks forward from the anchor and returns the latest fire
// instant at or before now. Missed ticks collapse into a single fire:
// a config that slept through three interval periods fires once, at the
// most recent period boundary.
func (s *ScheduleSpec) LatestFire(anchor, now time.Time) (time.Time, bool) {
	fire, err := s.NextFire(anchor)
	if err != nil || fire.After(now) {
		return time.Time{}, false
	}
	for {
		next, err := s.NextFire(fire)
		if err != nil || next.After(now) {
			return fire, true
		}
		fire = next
	}
}

// parseCron compiles a five-field cron expression pinned to UTC.
// "?" is accepted as an alias for "*" in any field.
func parseCron(expr string) (cron.Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("cron schedule requires schedule_cron")
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	for i, f := range fields {
		if f == "?" {
			fields[i] = "*"
		}
	}
	sched, err := cron.ParseStandard("CRON_TZ=UTC " + strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// parseTimeOfDay fills Hour/Minute from a "HH:MM" schedule_time field.
func parseTimeOfDay(raw map[string]any, spec *ScheduleSpec) error {
	s, _ := raw["schedule_time"].(string)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return fmt.Errorf("schedule_time must be HH:MM, got %q", s)
	}
	spec.Hour = t.Hour()
	spec.Minute = t.Minute()
	return nil
}

// atTime returns the instant at HH:MM UTC on the day of t.
func atTime(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, time.UTC)
}

// intSet decodes a JSON array of integers within [min, max], deduplicated
// and sorted.
func intSet(v any, min, max int) ([]int, error) {
	items, ok := v.([]any)
	if !ok {
		if ints, ok := v.([]int); ok {
			items = make([]any, len(ints))
			for i, n := range ints {
				items[i] = n
			}
		} else {
			return nil, fmt.Errorf("expected an array")
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("must not be empty")
	}
	seen := map[int]bool{}
	var out []int
	for _, item := range items {
		n, ok := asInt(item)
		if !ok || n < min || n > max {
			return nil, fmt.Errorf("values must be integers in [%d, %d]", min, max)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func containsInt(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}
