// Package strategy resolves which metadata variant each account publishes
// and renders the variant overlay onto the pipeline result. The resolver
// is pure over loaded rows; callers supply the round-robin cycle counter.
package strategy

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/castorhq/castor/ent"
	entstrategy "github.com/castorhq/castor/ent/strategy"
	"github.com/castorhq/castor/pkg/models"
	"github.com/castorhq/castor/pkg/ring"
)

// Member is one active group member eligible for fan-out.
type Member struct {
	AccountID  string
	Rank       int
	VariantPin string // member-level pin; overrides sampling when set
}

// Input carries everything one resolution needs.
type Input struct {
	Task        *ent.AutoPublishTask
	Members     []Member // active members in rank order
	Strategy    *ent.Strategy
	Assignments []*ent.StrategyAssignment
	Result      *models.PipelineResult

	// Cycles returns the number of prior successful publishes for an
	// account under this config. Only round_robin consults it.
	Cycles func(accountID string) (int, error)
}

// Resolve produces one publish metadata bundle per cohort member, variant
// overlay applied and variant name pinned. The cohort is the task's bound
// account when set, otherwise every active member.
func Resolve(in Input) ([]models.PublishMetadata, error) {
	if in.Result == nil || !in.Result.Success {
		return nil, fmt.Errorf("cannot resolve variants without a successful pipeline result")
	}
	videoRef := in.Result.VideoRef()
	if videoRef == "" {
		return nil, fmt.Errorf("pipeline result carries no video_ref artifact")
	}

	cohort := in.Members
	if in.Task != nil && in.Task.AccountID != nil {
		bound := *in.Task.AccountID
		cohort = nil
		for _, m := range in.Members {
			if m.AccountID == bound {
				cohort = []Member{m}
				break
			}
		}
		if cohort == nil {
			// Bound account left the group since binding; publish to it anyway.
			cohort = []Member{{AccountID: bound}}
		}
	}
	if len(cohort) == 0 {
		return nil, fmt.Errorf("cohort is empty")
	}

	variants := sortedVariants(in.Assignments)
	assigned := make([]*ent.StrategyAssignment, len(cohort))

	if in.Strategy != nil && len(variants) > 0 {
		if err := assignVariants(in, cohort, variants, assigned); err != nil {
			return nil, err
		}
	}

	out := make([]models.PublishMetadata, 0, len(cohort))
	for i, member := range cohort {
		meta, err := applyOverlay(in.Result, member.AccountID, assigned[i])
		if err != nil {
			return nil, err
		}
		meta.VideoRef = videoRef
		out = append(out, meta)
	}
	return out, nil
}

func assignVariants(in Input, cohort []Member, variants []*ent.StrategyAssignment, assigned []*ent.StrategyAssignment) error {
	byName := make(map[string]*ent.StrategyAssignment, len(variants))
	for _, v := range variants {
		byName[v.VariantName] = v
	}

	for i, member := range cohort {
		if member.VariantPin != "" {
			if pinned, ok := byName[member.VariantPin]; ok {
				assigned[i] = pinned
				continue
			}
			return fmt.Errorf("member %s pins unknown variant %q", member.AccountID, member.VariantPin)
		}

		switch in.Strategy.Type {
		case entstrategy.TypeRoundRobin:
			if in.Cycles == nil {
				return fmt.Errorf("round_robin resolution requires a cycle counter")
			}
			cycles, err := in.Cycles(member.AccountID)
			if err != nil {
				return fmt.Errorf("failed to count cycles for %s: %w", member.AccountID, err)
			}
			idx := (member.Rank + cycles) % len(variants)
			assigned[i] = variants[idx]

		case entstrategy.TypeWeighted, entstrategy.TypeAbTest:
			assigned[i] = weightedPick(in.Task.ID, member.AccountID, variants)

		default:
			return fmt.Errorf("unknown strategy type %q", in.Strategy.Type)
		}
	}

	if in.Strategy.Type == entstrategy.TypeAbTest {
		if err := ensureControl(cohort, variants, assigned); err != nil {
			return err
		}
	}
	return nil
}

// weightedPick samples one variant, deterministically seeded by
// (task, account) so the same pair always resolves the same variant.
func weightedPick(taskID, accountID string, variants []*ent.StrategyAssignment) *ent.StrategyAssignment {
	total := 0.0
	for _, v := range variants {
		total += v.Weight
	}
	if total <= 0 {
		return variants[0]
	}
	seed := ring.Seed(taskID, accountID)
	rng := rand.New(rand.NewPCG(seed, seed))
	roll := rng.Float64() * total
	for _, v := range variants {
		roll -= v.Weight
		if roll < 0 {
			return v
		}
	}
	return variants[len(variants)-1]
}

// ensureControl enforces the A/B invariant: with a multi-member cohort,
// at least one unpinned member carries the control variant. The
// lowest-ranked unpinned member is reassigned when sampling missed it.
func ensureControl(cohort []Member, variants []*ent.StrategyAssignment, assigned []*ent.StrategyAssignment) error {
	var control *ent.StrategyAssignment
	for _, v := range variants {
		if v.IsControl {
			if control != nil {
				return fmt.Errorf("ab_test strategy has more than one control variant")
			}
			control = v
		}
	}
	if control == nil {
		return fmt.Errorf("ab_test strategy has no control variant")
	}
	if len(cohort) < 2 {
		return nil
	}
	for _, a := range assigned {
		if a != nil && a.IsControl {
			return nil
		}
	}
	lowest := -1
	for i, member := range cohort {
		if member.VariantPin != "" {
			continue
		}
		if lowest == -1 || cohort[i].Rank < cohort[lowest].Rank {
			lowest = i
		}
	}
	if lowest >= 0 {
		assigned[lowest] = control
	}
	return nil
}

func sortedVariants(assignments []*ent.StrategyAssignment) []*ent.StrategyAssignment {
	out := make([]*ent.StrategyAssignment, len(assignments))
	copy(out, assignments)
	sort.Slice(out, func(i, j int) bool {
		return out[i].VariantName < out[j].VariantName
	})
	return out
}
