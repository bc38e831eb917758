package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/service"
)

// Run is the observable outcome of a saga execution or rehydration.
type Run struct {
	SagaID         string
	SagaName       string
	State          State
	CompletedSteps []string
	FailedStep     string
	Reason         string
}

// Orchestrator executes saga definitions, persisting every transition as
// an event in the saga's own stream. Forward steps run in order; on the
// first failure, compensations of all completed steps run in reverse
// order. A failed compensation leaves the saga in the Failed state for
// operator intervention; the stream records exactly how far it got.
type Orchestrator struct {
	events service.EventService
	logger *slog.Logger
}

// NewOrchestrator creates a saga orchestrator over the event store façade.
func NewOrchestrator(events service.EventService, log *slog.Logger) *Orchestrator {
	if events == nil {
		panic("event service cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		events: events,
		logger: log.With(slog.String("component", "saga_orchestrator")),
	}
}

// Execute runs the definition as a new saga instance and returns the final
// run state. The returned error is the forward failure that triggered
// compensation (nil when the saga completed).
func (o *Orchestrator) Execute(ctx context.Context, def Definition) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	sagaID := uuid.NewString()
	log := o.logger.With(
		slog.String("saga_id", sagaID),
		slog.String("saga_name", def.Name))

	stepNames := make([]string, len(def.Steps))
	for i, step := range def.Steps {
		stepNames[i] = step.Name
	}

	// The orchestrator is the only writer of its stream; expected versions
	// still guard every append so a duplicated orchestrator instance loses
	// cleanly instead of interleaving.
	version := int64(0)
	if err := o.append(ctx, sagaID, &version, EventTypeStarted, startedPayload{
		SagaName: def.Name,
		Steps:    stepNames,
	}); err != nil {
		return nil, err
	}

	run := &Run{SagaID: sagaID, SagaName: def.Name, State: StateRunning}

	var stepErr error
	completed := make([]Step, 0, len(def.Steps))
	for _, step := range def.Steps {
		if err := step.Action(ctx); err != nil {
			stepErr = fmt.Errorf("step %s failed: %w", step.Name, err)
			run.FailedStep = step.Name
			run.Reason = err.Error()
			log.Warn("saga step failed, compensating",
				"step", step.Name,
				"error", err)

			if appendErr := o.append(ctx, sagaID, &version, EventTypeStepFailed, stepPayload{
				Step:   step.Name,
				Reason: err.Error(),
			}); appendErr != nil {
				return nil, appendErr
			}
			break
		}

		if err := o.append(ctx, sagaID, &version, EventTypeStepCompleted, stepPayload{
			Step: step.Name,
		}); err != nil {
			return nil, err
		}
		completed = append(completed, step)
		run.CompletedSteps = append(run.CompletedSteps, step.Name)
	}

	if stepErr == nil {
		if err := o.append(ctx, sagaID, &version, EventTypeCompleted, terminalPayload{}); err != nil {
			return nil, err
		}
		run.State = StateCompleted
		log.Info("saga completed", "steps", len(def.Steps))
		return run, nil
	}

	run.State = StateCompensating
	if err := o.compensate(ctx, sagaID, &version, completed, run, log); err != nil {
		return nil, err
	}
	return run, stepErr
}

// compensate applies the compensating actions of completed steps in
// reverse order and appends the matching terminal event.
func (o *Orchestrator) compensate(
	ctx context.Context,
	sagaID string,
	version *int64,
	completed []Step,
	run *Run,
	log *slog.Logger,
) error {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensation == nil {
			continue
		}

		if err := step.Compensation(ctx); err != nil {
			log.Error("saga compensation failed",
				"step", step.Name,
				"error", err)
			if appendErr := o.append(ctx, sagaID, version, EventTypeCompensationFailed, stepPayload{
				Step:   step.Name,
				Reason: err.Error(),
			}); appendErr != nil {
				return appendErr
			}
			if appendErr := o.append(ctx, sagaID, version, EventTypeFailed, terminalPayload{
				Reason: fmt.Sprintf("compensation for step %s failed: %v", step.Name, err),
			}); appendErr != nil {
				return appendErr
			}
			run.State = StateFailed
			return nil
		}

		if err := o.append(ctx, sagaID, version, EventTypeCompensationApplied, stepPayload{
			Step: step.Name,
		}); err != nil {
			return err
		}
	}

	if err := o.append(ctx, sagaID, version, EventTypeCompensated, terminalPayload{}); err != nil {
		return err
	}
	run.State = StateCompensated
	log.Info("saga compensated", "compensated_steps", len(completed))
	return nil
}

// append persists one saga transition and advances the tracked version.
func (o *Orchestrator) append(
	ctx context.Context,
	sagaID string,
	version *int64,
	eventType string,
	payload any,
) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal saga event payload: %w", err)
	}

	draft, err := domain.NewEventDraft(eventType, data, domain.EventMetadata{})
	if err != nil {
		return err
	}

	result, err := o.events.Append(ctx, sagaID, StreamType, version, []domain.EventDraft{draft})
	if err != nil {
		return fmt.Errorf("failed to persist saga transition %s: %w", eventType, err)
	}

	*version = result.CurrentVersion
	return nil
}

// Rehydrate folds a saga's stream back into its run state. State is fully
// reconstructable from the stream alone.
func (o *Orchestrator) Rehydrate(ctx context.Context, sagaID string) (*Run, error) {
	events, err := o.events.GetEvents(ctx, sagaID, StreamType, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("saga %s has no recorded events", sagaID)
	}

	run := &Run{SagaID: sagaID, State: StateRunning}
	for _, event := range events {
		switch event.Type {
		case EventTypeStarted:
			var p startedPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return nil, fmt.Errorf("failed to decode saga event %s: %w", event.Type, err)
			}
			run.SagaName = p.SagaName
		case EventTypeStepCompleted:
			var p stepPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return nil, fmt.Errorf("failed to decode saga event %s: %w", event.Type, err)
			}
			run.CompletedSteps = append(run.CompletedSteps, p.Step)
		case EventTypeStepFailed:
			var p stepPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return nil, fmt.Errorf("failed to decode saga event %s: %w", event.Type, err)
			}
			run.FailedStep = p.Step
			run.Reason = p.Reason
			run.State = StateCompensating
		case EventTypeCompensationFailed:
			run.State = StateFailed
		case EventTypeCompleted:
			run.State = StateCompleted
		case EventTypeFailed:
			run.State = StateFailed
		case EventTypeCompensated:
			run.State = StateCompensated
		}
	}

	return run, nil
}
