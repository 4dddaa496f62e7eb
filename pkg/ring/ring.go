// Package ring computes daily time-slot placements that spread a group's
// publications across a configurable window. Placement is pure math; the
// slot service owns persistence.
package ring

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"time"
)

// Strategy selects the placement algorithm.
type Strategy string

// Placement strategies.
const (
	StrategyUniform Strategy = "uniform"
	StrategyRandom  Strategy = "random"
)

// Placement is one computed slot position before persistence.
type Placement struct {
	AccountID string
	Hour      int
	Minute    int
	Index     int
}

// PlanInput describes one ring-generation request.
type PlanInput struct {
	ConfigID   string
	Date       time.Time // UTC day
	StartHour  int
	EndHour    int
	Strategy   Strategy
	AccountIDs []string // active accounts in member_rank order
}

// Plan places len(AccountIDs) slots inside [StartHour, EndHour).
//
// uniform: slot i sits at minute i * (T/n) into the window.
// random: n distinct minutes drawn from a seed derived from (config, date),
// sorted ascending, so regenerating the same day yields the same plan.
//
// When the window has fewer minutes than accounts, placement clamps to one
// slot per minute and the remaining accounts are dropped.
func Plan(in PlanInput) ([]Placement, error) {
	if in.StartHour < 0 || in.EndHour > 24 || in.StartHour >= in.EndHour {
		return nil, fmt.Errorf("invalid window [%d, %d): start must be before end within [0, 24]", in.StartHour, in.EndHour)
	}
	n := len(in.AccountIDs)
	if n == 0 {
		return nil, fmt.Errorf("no accounts to place")
	}

	total := (in.EndHour - in.StartHour) * 60
	if n > total {
		n = total
	}

	var minutes []int
	switch in.Strategy {
	case StrategyUniform, "":
		step := total / n
		minutes = make([]int, n)
		for i := 0; i < n; i++ {
			minutes[i] = i * step
		}
	case StrategyRandom:
		minutes = randomMinutes(in.ConfigID, in.Date, n, total)
	default:
		return nil, fmt.Errorf("unknown placement strategy %q", in.Strategy)
	}

	placements := make([]Placement, n)
	for i, m := range minutes {
		placements[i] = Placement{
			AccountID: in.AccountIDs[i],
			Hour:      in.StartHour + m/60,
			Minute:    m % 60,
			Index:     i,
		}
	}
	return placements, nil
}

// randomMinutes draws n distinct minutes from [0, total) using a
// deterministic permutation seeded by (configID, date).
func randomMinutes(configID string, date time.Time, n, total int) []int {
	seed := Seed(configID, date.UTC().Format(time.DateOnly))
	rng := rand.New(rand.NewPCG(seed, seed))

	perm := rng.Perm(total)[:n]
	sort.Ints(perm)
	return perm
}

// Seed derives a deterministic 64-bit seed from arbitrary string parts.
func Seed(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{'|'})
	}
	return h.Sum64()
}
