package ring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPlan_Uniform(t *testing.T) {
	placements, err := Plan(PlanInput{
		ConfigID:   "cfg-1",
		Date:       date("2026-03-01"),
		StartHour:  8,
		EndHour:    20,
		Strategy:   StrategyUniform,
		AccountIDs: []string{"A", "B", "C", "D"},
	})
	require.NoError(t, err)
	require.Len(t, placements, 4)

	// 12h window, 4 accounts: slots every 180 minutes starting at 08:00.
	expected := []struct {
		account string
		hour    int
		minute  int
	}{
		{"A", 8, 0},
		{"B", 11, 0},
		{"C", 14, 0},
		{"D", 17, 0},
	}
	for i, e := range expected {
		assert.Equal(t, e.account, placements[i].AccountID)
		assert.Equal(t, e.hour, placements[i].Hour)
		assert.Equal(t, e.minute, placements[i].Minute)
		assert.Equal(t, i, placements[i].Index)
	}
}

func TestPlan_UniformSingleAccount(t *testing.T) {
	placements, err := Plan(PlanInput{
		ConfigID:   "cfg-1",
		Date:       date("2026-03-01"),
		StartHour:  10,
		EndHour:    11,
		Strategy:   StrategyUniform,
		AccountIDs: []string{"A"},
	})
	require.NoError(t, err)
	require.Len(t, placements, 1)
	assert.Equal(t, 10, placements[0].Hour)
	assert.Equal(t, 0, placements[0].Minute)
}

func TestPlan_RandomIsDeterministic(t *testing.T) {
	in := PlanInput{
		ConfigID:   "cfg-7",
		Date:       date("2026-03-02"),
		StartHour:  9,
		EndHour:    18,
		Strategy:   StrategyRandom,
		AccountIDs: []string{"A", "B", "C"},
	}

	first, err := Plan(in)
	require.NoError(t, err)
	second, err := Plan(in)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same (config, date) must yield the same plan")

	// A different day shuffles differently (overwhelmingly likely).
	in.Date = date("2026-03-03")
	third, err := Plan(in)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestPlan_RandomMinutesDistinctAndSorted(t *testing.T) {
	placements, err := Plan(PlanInput{
		ConfigID:   "cfg-9",
		Date:       date("2026-04-10"),
		StartHour:  8,
		EndHour:    9,
		Strategy:   StrategyRandom,
		AccountIDs: []string{"A", "B", "C", "D", "E"},
	})
	require.NoError(t, err)
	require.Len(t, placements, 5)

	seen := map[int]bool{}
	prev := -1
	for _, p := range placements {
		abs := p.Hour*60 + p.Minute
		assert.False(t, seen[abs], "minutes must be distinct")
		seen[abs] = true
		assert.Greater(t, abs, prev, "placements must be time-ordered")
		prev = abs
		assert.GreaterOrEqual(t, abs, 8*60)
		assert.Less(t, abs, 9*60)
	}
}

func TestPlan_ClampsWhenWindowTooSmall(t *testing.T) {
	accounts := make([]string, 90)
	for i := range accounts {
		accounts[i] = string(rune('a' + i%26))
	}
	placements, err := Plan(PlanInput{
		ConfigID:   "cfg-clamp",
		Date:       date("2026-03-01"),
		StartHour:  8,
		EndHour:    9, // 60 minutes for 90 accounts
		Strategy:   StrategyUniform,
		AccountIDs: accounts,
	})
	require.NoError(t, err)
	assert.Len(t, placements, 60)
}

func TestPlan_RejectsBadWindow(t *testing.T) {
	for _, tc := range []struct {
		name       string
		start, end int
	}{
		{"start equals end", 10, 10},
		{"start after end", 18, 8},
		{"negative start", -1, 8},
		{"end past midnight", 8, 25},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(PlanInput{
				ConfigID:   "cfg-1",
				Date:       date("2026-03-01"),
				StartHour:  tc.start,
				EndHour:    tc.end,
				AccountIDs: []string{"A"},
			})
			assert.Error(t, err)
		})
	}
}

func TestPlan_RejectsEmptyGroup(t *testing.T) {
	_, err := Plan(PlanInput{
		ConfigID:  "cfg-1",
		Date:      date("2026-03-01"),
		StartHour: 8,
		EndHour:   20,
	})
	assert.Error(t, err)
}

func TestSeed_Stable(t *testing.T) {
	assert.Equal(t, Seed("a", "b"), Seed("a", "b"))
	assert.NotEqual(t, Seed("a", "b"), Seed("b", "a"))
}
