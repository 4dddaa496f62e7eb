package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestParseSpec_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
	}{
		{"missing type", map[string]any{}},
		{"unknown type", map[string]any{"schedule_type": "fortnightly"}},
		{"interval without value", map[string]any{"schedule_type": "interval", "schedule_interval_unit": "hours"}},
		{"interval zero", map[string]any{"schedule_type": "interval", "schedule_interval": 0, "schedule_interval_unit": "hours"}},
		{"interval bad unit", map[string]any{"schedule_type": "interval", "schedule_interval": 5, "schedule_interval_unit": "fortnights"}},
		{"cron empty", map[string]any{"schedule_type": "cron", "schedule_cron": ""}},
		{"cron wrong field count", map[string]any{"schedule_type": "cron", "schedule_cron": "0 9 *"}},
		{"cron malformed", map[string]any{"schedule_type": "cron", "schedule_cron": "61 9 * * *"}},
		{"daily bad time", map[string]any{"schedule_type": "daily", "schedule_time": "9am"}},
		{"weekly no days", map[string]any{"schedule_type": "weekly", "schedule_time": "09:00", "schedule_days": []any{}}},
		{"weekly day out of range", map[string]any{"schedule_type": "weekly", "schedule_time": "09:00", "schedule_days": []any{7.0}}},
		{"monthly date out of range", map[string]any{"schedule_type": "monthly", "schedule_time": "09:00", "schedule_dates": []any{0.0}}},
		{"once bad timestamp", map[string]any{"schedule_type": "once", "scheduled_time": "tomorrow"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSpec(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestNextFire_Table(t *testing.T) {
	cases := []struct {
		name  string
		raw   map[string]any
		after string
		want  string
	}{
		{
			"interval hours steps from anchor",
			map[string]any{"schedule_type": "interval", "schedule_interval": 6.0, "schedule_interval_unit": "hours"},
			"2026-03-01T08:00:00Z", "2026-03-01T14:00:00Z",
		},
		{
			"interval days",
			map[string]any{"schedule_type": "interval", "schedule_interval": 2.0, "schedule_interval_unit": "days"},
			"2026-03-01T08:00:00Z", "2026-03-03T08:00:00Z",
		},
		{
			"cron weekday mornings",
			map[string]any{"schedule_type": "cron", "schedule_cron": "30 9 * * 1-5"},
			"2026-03-06T10:00:00Z", "2026-03-09T09:30:00Z", // Fri after fire time -> Mon
		},
		{
			"cron question mark alias",
			map[string]any{"schedule_type": "cron", "schedule_cron": "0 12 ? * ?"},
			"2026-03-01T11:00:00Z", "2026-03-01T12:00:00Z",
		},
		{
			"daily same day when before time",
			map[string]any{"schedule_type": "daily", "schedule_time": "18:30"},
			"2026-03-01T10:00:00Z", "2026-03-01T18:30:00Z",
		},
		{
			"daily rolls to next day at exact time",
			map[string]any{"schedule_type": "daily", "schedule_time": "18:30"},
			"2026-03-01T18:30:00Z", "2026-03-02T18:30:00Z",
		},
		{
			"weekly picks next listed day",
			// 2026-03-02 is a Monday; days = Wed(3), Sat(6)
			map[string]any{"schedule_type": "weekly", "schedule_time": "07:15", "schedule_days": []any{3.0, 6.0}},
			"2026-03-02T12:00:00Z", "2026-03-04T07:15:00Z",
		},
		{
			"weekly wraps the week",
			map[string]any{"schedule_type": "weekly", "schedule_time": "07:15", "schedule_days": []any{1.0}},
			"2026-03-02T08:00:00Z", "2026-03-09T07:15:00Z",
		},
		{
			"monthly on listed dates",
			map[string]any{"schedule_type": "monthly", "schedule_time": "09:00", "schedule_dates": []any{1.0, 15.0}},
			"2026-03-02T00:00:00Z", "2026-03-15T09:00:00Z",
		},
		{
			"monthly skips months lacking the day",
			// Day 31 does not exist in April; next is May 31.
			map[string]any{"schedule_type": "monthly", "schedule_time": "09:00", "schedule_dates": []any{31.0}},
			"2026-04-01T00:00:00Z", "2026-05-31T09:00:00Z",
		},
		{
			"once in the future",
			map[string]any{"schedule_type": "once", "scheduled_time": "2026-06-01T12:00:00Z"},
			"2026-03-01T00:00:00Z", "2026-06-01T12:00:00Z",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := ParseSpec(tc.raw)
			require.NoError(t, err)
			got, err := spec.NextFire(ts(tc.after))
			require.NoError(t, err)
			assert.Equal(t, ts(tc.want), got)
		})
	}
}

func TestNextFire_OnceInPast(t *testing.T) {
	spec, err := ParseSpec(map[string]any{
		"schedule_type":  "once",
		"scheduled_time": "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	_, err = spec.NextFire(ts("2026-02-01T00:00:00Z"))
	assert.ErrorIs(t, err, ErrNoNextFire)
}

func TestLatestFire_CollapsesMissedTicks(t *testing.T) {
	spec, err := ParseSpec(map[string]any{
		"schedule_type":          "interval",
		"schedule_interval":      1.0,
		"schedule_interval_unit": "hours",
	})
	require.NoError(t, err)

	// Anchor at 08:00, now 11:30: missed 09:00 and 10:00; fires once at 11:00.
	fire, due := spec.LatestFire(ts("2026-03-01T08:00:00Z"), ts("2026-03-01T11:30:00Z"))
	require.True(t, due)
	assert.Equal(t, ts("2026-03-01T11:00:00Z"), fire)
}

func TestLatestFire_NotDue(t *testing.T) {
	spec, err := ParseSpec(map[string]any{
		"schedule_type": "daily",
		"schedule_time": "23:00",
	})
	require.NoError(t, err)
	_, due := spec.LatestFire(ts("2026-03-01T22:00:00Z"), ts("2026-03-01T22:30:00Z"))
	assert.False(t, due)
}

func TestLatestFire_DailyAcrossSeveralDays(t *testing.T) {
	spec, err := ParseSpec(map[string]any{
		"schedule_type": "daily",
		"schedule_time": "09:00",
	})
	require.NoError(t, err)

	// Down for three days: exactly one fire, at the latest boundary.
	fire, due := spec.LatestFire(ts("2026-03-01T09:00:00Z"), ts("2026-03-04T10:00:00Z"))
	require.True(t, due)
	assert.Equal(t, ts("2026-03-04T09:00:00Z"), fire)
}
