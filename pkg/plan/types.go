// Package plan implements the plan/workflow state machine (C15): a small
// fixed sequence of high-level steps an agent run progresses through,
// normalized against free-form LLM-authored updates by fuzzy title
// matching rather than requiring the model to emit exact identifiers.
package plan

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepStatus is one of a plan step's lifecycle states.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
	StepBlocked    StepStatus = "blocked"
	StepFailed     StepStatus = "failed"
)

// CanonicalTitles is the fixed sequence of step titles every plan is
// normalized against (spec §4.16).
var CanonicalTitles = []string{
	"Analyze request",
	"Resolve dependencies",
	"Generate code",
	"Validate & build",
	"Deliver preview",
}

// Step is a single unit of plan progress.
type Step struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      StepStatus `json:"status"`
}

// Plan is the run-level workflow state surfaced to clients (spec §4.2).
type Plan struct {
	Summary       string    `json:"summary"`
	Steps         []Step    `json:"steps"`
	Decisions     []string  `json:"decisions,omitempty"`
	Assumptions   []string  `json:"assumptions,omitempty"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`

	mu sync.Mutex
}

// NewDefault builds the fallback plan used when an agent run starts
// without a model-authored plan, or when plan parsing fails outright —
// one pending step per canonical title, grounded on spec §4.16.
func NewDefault(summary string) *Plan {
	steps := make([]Step, len(CanonicalTitles))
	for i, title := range CanonicalTitles {
		steps[i] = Step{ID: uuid.NewString(), Title: title, Status: StepPending}
	}
	return &Plan{Summary: summary, Steps: steps, LastUpdatedAt: time.Now().UTC()}
}

// Clone returns a value copy safe to serialize or hand to a caller
// outside the lock, mirroring tarsy's session.Clone pattern.
func (p *Plan) Clone() Plan {
	p.mu.Lock()
	defer p.mu.Unlock()

	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	decisions := append([]string(nil), p.Decisions...)
	assumptions := append([]string(nil), p.Assumptions...)

	return Plan{
		Summary:       p.Summary,
		Steps:         steps,
		Decisions:     decisions,
		Assumptions:   assumptions,
		LastUpdatedAt: p.LastUpdatedAt,
	}
}

// MarkInProgress transitions the step matching title to in_progress,
// unless it is already done (done is sticky — spec §4.16).
func (p *Plan) MarkInProgress(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := matchStepIndex(p.Steps, title)
	if idx < 0 || p.Steps[idx].Status == StepDone {
		return
	}
	p.Steps[idx].Status = StepInProgress
	p.LastUpdatedAt = time.Now().UTC()
}

// UpdateForStep records the outcome of the step matching title: done on
// success, failed otherwise. Already-done steps are left untouched.
func (p *Plan) UpdateForStep(title string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := matchStepIndex(p.Steps, title)
	if idx < 0 || p.Steps[idx].Status == StepDone {
		return
	}
	if success {
		p.Steps[idx].Status = StepDone
	} else {
		p.Steps[idx].Status = StepFailed
	}
	p.LastUpdatedAt = time.Now().UTC()
}

// FinalizeBeforeCompletion marks every non-done step as failed with
// reason appended to Decisions, called just before a run's terminal
// session_complete event so a client never sees a plan frozen mid-flight
// (spec §4.16; also referenced by the cancel path in spec §4.9 step 5).
func (p *Plan) FinalizeBeforeCompletion(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := false
	for i := range p.Steps {
		if p.Steps[i].Status != StepDone {
			p.Steps[i].Status = StepFailed
			changed = true
		}
	}
	if changed {
		if reason != "" {
			p.Decisions = append(p.Decisions, reason)
		}
		p.LastUpdatedAt = time.Now().UTC()
	}
}

// MergeUpdate folds an incoming (model-authored) plan update into the
// existing plan: matching steps keep their existing id, "done" status is
// sticky even if the update regresses it, and summary/decisions/
// assumptions are replaced wholesale since those fields are meant to
// always reflect the model's latest understanding.
func MergeUpdate(existing *Plan, update Plan) *Plan {
	existing.mu.Lock()
	defer existing.mu.Unlock()

	merged := make([]Step, 0, len(update.Steps))
	for _, s := range update.Steps {
		if idx := matchStepIndex(existing.Steps, s.Title); idx >= 0 {
			prior := existing.Steps[idx]
			s.ID = prior.ID
			if prior.Status == StepDone {
				s.Status = StepDone
			}
		} else if s.ID == "" {
			s.ID = uuid.NewString()
		}
		merged = append(merged, s)
	}

	existing.Summary = update.Summary
	existing.Steps = merged
	existing.Decisions = update.Decisions
	existing.Assumptions = update.Assumptions
	existing.LastUpdatedAt = time.Now().UTC()
	return existing
}
