package saga

// Saga event type discriminators, persisted in the "Saga" stream.
const (
	EventTypeStarted             = "SagaStarted"
	EventTypeStepCompleted       = "SagaStepCompleted"
	EventTypeStepFailed          = "SagaStepFailed"
	EventTypeCompensationApplied = "SagaCompensationApplied"
	EventTypeCompensationFailed  = "SagaCompensationFailed"
	EventTypeCompleted           = "SagaCompleted"
	EventTypeFailed              = "SagaFailed"
	EventTypeCompensated         = "SagaCompensated"
)

// startedPayload records the saga definition at the moment it began, so a
// rehydrated run knows its declared steps without re-reading code.
type startedPayload struct {
	SagaName string   `json:"saga_name"`
	Steps    []string `json:"steps"`
}

// stepPayload records a step transition.
type stepPayload struct {
	Step   string `json:"step"`
	Reason string `json:"reason,omitempty"`
}

// terminalPayload records a terminal transition.
type terminalPayload struct {
	Reason string `json:"reason,omitempty"`
}
