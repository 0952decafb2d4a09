package engine

import (
	"context"
	"fmt"
	"time"

	"studio-gateway/internal/domain"
)

// StepFunc performs the step's external calls and returns a progress patch.
// Operational failures are reported as *domain.OperationalError, explicit
// external rejections as *domain.CorrectnessError; anything unclassified is
// treated as operational.
type StepFunc func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error)

// CheckFunc is the step's idempotency predicate: it reports whether the
// step's external effect already exists, together with any progress values
// discovered along the way. It must be a pure ground-truth query with no side
// effects.
type CheckFunc func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error)

// StepDefinition is a pure description of one step: what it calls, how to
// detect that its effect already landed, and its deadline.
type StepDefinition struct {
	Name    domain.StepName
	Timeout time.Duration

	Run StepFunc

	// AlreadyDone is consulted before Run on every attempt. Nil means the
	// step has no externally detectable effect of its own.
	AlreadyDone CheckFunc
}

// Registry maps each workflow type to its fixed ordered step definitions.
type Registry map[domain.WorkflowType][]StepDefinition

// Definition looks up the step definition for a workflow's current step.
func (r Registry) Definition(t domain.WorkflowType, step domain.StepName) (StepDefinition, error) {
	for _, def := range r[t] {
		if def.Name == step {
			return def, nil
		}
	}
	return StepDefinition{}, fmt.Errorf("no step %q registered for workflow type %q", step, t)
}

// Validate checks every registered step list against the domain's canonical
// ordering. Called once at startup; a mismatch is a programming error.
func (r Registry) Validate() error {
	for _, t := range []domain.WorkflowType{domain.TypeWorkSubmission, domain.TypeScoreSubmission, domain.TypeCloseEpoch} {
		want := domain.Steps(t)
		got := r[t]
		if len(got) != len(want) {
			return fmt.Errorf("workflow type %q: registered %d steps, domain defines %d", t, len(got), len(want))
		}
		for i := range want {
			if got[i].Name != want[i] {
				return fmt.Errorf("workflow type %q: step %d is %q, domain defines %q", t, i, got[i].Name, want[i])
			}
		}
	}
	return nil
}
