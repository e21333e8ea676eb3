package lifecycle

import "github.com/google/uuid"

type runBeginEvent struct {
	Run struct {
		ID     uuid.UUID `json:"id"`
		FlowID uuid.UUID `json:"flow_id"`
		Status string    `json:"status"`
	} `json:"run"`
	Payload map[string]any `json:"payload"`
}

type runFinishedEvent struct {
	RunID  uuid.UUID `json:"run_id"`
	FlowID uuid.UUID `json:"flow_id"`
	Status string    `json:"status"`
}
