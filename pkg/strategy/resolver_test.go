package strategy

import (
	"testing"

	"github.com/castorhq/castor/ent"
	entstrategy "github.com/castorhq/castor/ent/strategy"
	"github.com/castorhq/castor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successResult() *models.PipelineResult {
	return &models.PipelineResult{
		Success:   true,
		Artifacts: map[string]string{"video_ref": "s3://bucket/render.mp4"},
		Metadata: map[string]any{
			"title":       "Morning Brief",
			"description": "Daily rundown",
			"tags":        []any{"news", "daily"},
		},
	}
}

func members(n int) []Member {
	out := make([]Member, n)
	for i := range out {
		out[i] = Member{AccountID: string(rune('A' + i)), Rank: i}
	}
	return out
}

func task(id string, boundAccount string) *ent.AutoPublishTask {
	t := &ent.AutoPublishTask{ID: id}
	if boundAccount != "" {
		t.AccountID = &boundAccount
	}
	return t
}

func variant(name string, weight float64, control bool, payload map[string]any) *ent.StrategyAssignment {
	return &ent.StrategyAssignment{
		VariantName: name,
		Weight:      weight,
		IsControl:   control,
		Payload:     payload,
	}
}

func TestResolve_NoStrategyFansOutBaseMetadata(t *testing.T) {
	out, err := Resolve(Input{
		Task:    task("t1", ""),
		Members: members(3),
		Result:  successResult(),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, meta := range out {
		assert.Equal(t, string(rune('A'+i)), meta.AccountID)
		assert.Equal(t, "Morning Brief", meta.Title)
		assert.Equal(t, []string{"news", "daily"}, meta.Tags)
		assert.Equal(t, "s3://bucket/render.mp4", meta.VideoRef)
		assert.Empty(t, meta.VariantName)
	}
}

func TestResolve_BoundAccountCollapsesCohort(t *testing.T) {
	out, err := Resolve(Input{
		Task:    task("t1", "B"),
		Members: members(3),
		Result:  successResult(),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].AccountID)
}

func TestResolve_FailsWithoutVideoRef(t *testing.T) {
	result := successResult()
	delete(result.Artifacts, "video_ref")
	_, err := Resolve(Input{Task: task("t1", ""), Members: members(1), Result: result})
	assert.Error(t, err)
}

func TestResolve_RoundRobin(t *testing.T) {
	strat := &ent.Strategy{Type: entstrategy.TypeRoundRobin}
	variants := []*ent.StrategyAssignment{
		variant("v-a", 1, false, nil),
		variant("v-b", 1, false, nil),
	}

	cycles := map[string]int{"A": 0, "B": 0, "C": 1}
	out, err := Resolve(Input{
		Task:        task("t1", ""),
		Members:     members(3),
		Strategy:    strat,
		Assignments: variants,
		Result:      successResult(),
		Cycles:      func(id string) (int, error) { return cycles[id], nil },
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	// (rank + cycles) % 2: A=0, B=1, C=(2+1)%2=1
	assert.Equal(t, "v-a", out[0].VariantName)
	assert.Equal(t, "v-b", out[1].VariantName)
	assert.Equal(t, "v-b", out[2].VariantName)
}

func TestResolve_WeightedIsDeterministic(t *testing.T) {
	strat := &ent.Strategy{Type: entstrategy.TypeWeighted}
	variants := []*ent.StrategyAssignment{
		variant("v-a", 3, false, nil),
		variant("v-b", 1, false, nil),
	}
	in := Input{
		Task:        task("t-weighted", ""),
		Members:     members(5),
		Strategy:    strat,
		Assignments: variants,
		Result:      successResult(),
	}
	first, err := Resolve(in)
	require.NoError(t, err)
	second, err := Resolve(in)
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].VariantName, second[i].VariantName,
			"same (task, account) must resolve the same variant")
	}
}

func TestResolve_AbTestGuaranteesControl(t *testing.T) {
	strat := &ent.Strategy{Type: entstrategy.TypeAbTest}
	// Control weight 0: sampling alone can never pick it.
	variants := []*ent.StrategyAssignment{
		variant("control", 0, true, nil),
		variant("challenger", 1, false, nil),
	}
	out, err := Resolve(Input{
		Task:        task("t-ab", ""),
		Members:     members(4),
		Strategy:    strat,
		Assignments: variants,
		Result:      successResult(),
	})
	require.NoError(t, err)

	controls := 0
	for _, meta := range out {
		if meta.VariantName == "control" {
			controls++
		}
	}
	assert.GreaterOrEqual(t, controls, 1, "multi-member cohort must carry a control assignment")
	// The reassignment lands on the lowest-ranked member.
	assert.Equal(t, "control", out[0].VariantName)
}

func TestResolve_AbTestRequiresExactlyOneControl(t *testing.T) {
	strat := &ent.Strategy{Type: entstrategy.TypeAbTest}

	_, err := Resolve(Input{
		Task:        task("t-ab", ""),
		Members:     members(2),
		Strategy:    strat,
		Assignments: []*ent.StrategyAssignment{variant("a", 1, false, nil)},
		Result:      successResult(),
	})
	assert.Error(t, err, "no control variant")

	_, err = Resolve(Input{
		Task:     task("t-ab", ""),
		Members:  members(2),
		Strategy: strat,
		Assignments: []*ent.StrategyAssignment{
			variant("a", 1, true, nil),
			variant("b", 1, true, nil),
		},
		Result: successResult(),
	})
	assert.Error(t, err, "two control variants")
}

func TestResolve_PinOverridesSampling(t *testing.T) {
	strat := &ent.Strategy{Type: entstrategy.TypeWeighted}
	variants := []*ent.StrategyAssignment{
		variant("v-a", 100, false, nil),
		variant("v-b", 0.0001, false, nil),
	}
	pinned := members(2)
	pinned[1].VariantPin = "v-b"

	out, err := Resolve(Input{
		Task:        task("t-pin", ""),
		Members:     pinned,
		Strategy:    strat,
		Assignments: variants,
		Result:      successResult(),
	})
	require.NoError(t, err)
	assert.Equal(t, "v-b", out[1].VariantName)
}

func TestResolve_UnknownPinFails(t *testing.T) {
	strat := &ent.Strategy{Type: entstrategy.TypeWeighted}
	pinned := members(1)
	pinned[0].VariantPin = "ghost"
	_, err := Resolve(Input{
		Task:        task("t-pin", ""),
		Members:     pinned,
		Strategy:    strat,
		Assignments: []*ent.StrategyAssignment{variant("v-a", 1, false, nil)},
		Result:      successResult(),
	})
	assert.Error(t, err)
}

func TestApplyOverlay(t *testing.T) {
	result := successResult()

	t.Run("templates render against base metadata", func(t *testing.T) {
		v := variant("loud", 1, false, map[string]any{
			"title_template":       "{{.Title}} — WATCH NOW",
			"description_template": "{{.Description}} ({{.Variant}})",
		})
		meta, err := applyOverlay(result, "A", v)
		require.NoError(t, err)
		assert.Equal(t, "Morning Brief — WATCH NOW", meta.Title)
		assert.Equal(t, "Daily rundown (loud)", meta.Description)
		assert.Equal(t, "loud", meta.VariantName)
	})

	t.Run("tags merge deduplicated", func(t *testing.T) {
		v := variant("tagged", 1, false, map[string]any{
			"tags": []any{"daily", "shorts"},
		})
		meta, err := applyOverlay(result, "A", v)
		require.NoError(t, err)
		assert.Equal(t, []string{"news", "daily", "shorts"}, meta.Tags)
	})

	t.Run("thumbnail and privacy replace when set", func(t *testing.T) {
		v := variant("alt", 1, false, map[string]any{
			"thumbnail_ref": "s3://bucket/alt.png",
			"privacy":       "unlisted",
		})
		meta, err := applyOverlay(result, "A", v)
		require.NoError(t, err)
		assert.Equal(t, "s3://bucket/alt.png", meta.ThumbnailRef)
		assert.Equal(t, "unlisted", meta.Privacy)
	})

	t.Run("malformed template fails", func(t *testing.T) {
		v := variant("bad", 1, false, map[string]any{
			"title_template": "{{.Title",
		})
		_, err := applyOverlay(result, "A", v)
		assert.Error(t, err)
	})
}
