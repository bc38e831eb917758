// Package saga implements a multi-step workflow coordinator with
// compensating actions. The orchestrator is an ordinary client of the
// event store: it persists its state machine as a regular "Saga" stream
// and never rewrites past events, only appends new ones.
package saga

import (
	"context"
	"errors"
	"fmt"
)

// StreamType is the stream type under which saga state is persisted.
const StreamType = "Saga"

// State is the lifecycle state of a saga run.
type State string

// Possible saga states
const (
	StateRunning      State = "running"
	StateCompensating State = "compensating"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCompensated  State = "compensated"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCompensated
}

// Saga definition errors
var (
	// ErrNoSteps is returned when a definition declares no steps.
	ErrNoSteps = errors.New("saga definition has no steps")

	// ErrStepNameEmpty is returned when a step has no name.
	ErrStepNameEmpty = errors.New("saga step name cannot be empty")

	// ErrStepActionNil is returned when a step has no forward action.
	ErrStepActionNil = errors.New("saga step action cannot be nil")
)

// ActionFn is a forward or compensating action of one saga step.
type ActionFn func(ctx context.Context) error

// Step pairs a forward action with its compensating action. Compensation
// may be nil for steps that need none (e.g., pure reads).
type Step struct {
	Name         string
	Action       ActionFn
	Compensation ActionFn
}

// Definition declares a saga: an ordered list of steps with their
// forward/compensating action pairs.
type Definition struct {
	Name  string
	Steps []Step
}

// Validate checks that the definition is well-formed.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("saga definition name cannot be empty")
	}
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if step.Name == "" {
			return ErrStepNameEmpty
		}
		if step.Action == nil {
			return fmt.Errorf("%w: %s", ErrStepActionNil, step.Name)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("duplicate saga step name: %s", step.Name)
		}
		seen[step.Name] = struct{}{}
	}
	return nil
}
