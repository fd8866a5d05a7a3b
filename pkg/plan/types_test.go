package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultHasCanonicalSteps(t *testing.T) {
	p := NewDefault("build a todo app")
	require.Len(t, p.Steps, len(CanonicalTitles))
	for i, title := range CanonicalTitles {
		assert.Equal(t, title, p.Steps[i].Title)
		assert.Equal(t, StepPending, p.Steps[i].Status)
		assert.NotEmpty(t, p.Steps[i].ID)
	}
}

func TestMarkInProgress(t *testing.T) {
	p := NewDefault("")
	p.MarkInProgress("Analyze request")
	snap := p.Clone()
	assert.Equal(t, StepInProgress, snap.Steps[0].Status)
	assert.Equal(t, StepPending, snap.Steps[1].Status)
}

func TestMarkInProgressFuzzyTitle(t *testing.T) {
	p := NewDefault("")
	p.MarkInProgress("Analyze request.")
	snap := p.Clone()
	assert.Equal(t, StepInProgress, snap.Steps[0].Status)
}

func TestMarkInProgressDoesNotReviveDoneStep(t *testing.T) {
	p := NewDefault("")
	p.UpdateForStep("Analyze request", true)
	p.MarkInProgress("Analyze request")
	snap := p.Clone()
	assert.Equal(t, StepDone, snap.Steps[0].Status)
}

func TestUpdateForStepSuccessAndFailure(t *testing.T) {
	p := NewDefault("")
	p.UpdateForStep("Resolve dependencies", true)
	p.UpdateForStep("Generate code", false)
	snap := p.Clone()
	assert.Equal(t, StepDone, snap.Steps[1].Status)
	assert.Equal(t, StepFailed, snap.Steps[2].Status)
}

func TestFinalizeBeforeCompletionFailsNonDoneSteps(t *testing.T) {
	p := NewDefault("")
	p.UpdateForStep("Analyze request", true)
	p.FinalizeBeforeCompletion("run cancelled")

	snap := p.Clone()
	assert.Equal(t, StepDone, snap.Steps[0].Status)
	for _, s := range snap.Steps[1:] {
		assert.Equal(t, StepFailed, s.Status)
	}
	assert.Contains(t, snap.Decisions, "run cancelled")
}

func TestFinalizeBeforeCompletionNoopWhenAllDone(t *testing.T) {
	p := NewDefault("")
	for _, title := range CanonicalTitles {
		p.UpdateForStep(title, true)
	}
	p.FinalizeBeforeCompletion("should not appear")
	snap := p.Clone()
	assert.NotContains(t, snap.Decisions, "should not appear")
}

func TestMergeUpdatePreservesIDsAndStickyDone(t *testing.T) {
	existing := NewDefault("old summary")
	existing.UpdateForStep("Analyze request", true)
	originalID := existing.Clone().Steps[0].ID

	update := Plan{
		Summary: "new summary",
		Steps: []Step{
			{Title: "Analyze request", Status: StepPending},
			{Title: "Resolve dependencies", Status: StepInProgress},
		},
		Decisions: []string{"use postgres"},
	}

	merged := MergeUpdate(existing, update)
	snap := merged.Clone()

	assert.Equal(t, "new summary", snap.Summary)
	assert.Equal(t, originalID, snap.Steps[0].ID)
	assert.Equal(t, StepDone, snap.Steps[0].Status, "done status must stay sticky across a merge")
	assert.Equal(t, StepInProgress, snap.Steps[1].Status)
	assert.Equal(t, []string{"use postgres"}, snap.Decisions)
}

func TestMergeUpdateAssignsIDToNewStep(t *testing.T) {
	existing := NewDefault("")
	update := Plan{Steps: []Step{{Title: "A totally new step"}}}
	merged := MergeUpdate(existing, update)
	snap := merged.Clone()
	require.Len(t, snap.Steps, 1)
	assert.NotEmpty(t, snap.Steps[0].ID)
}
