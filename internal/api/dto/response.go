package dto

import (
	"time"

	"github.com/google/uuid"

	"studio-gateway/internal/domain"
)

type WorkflowResponse struct {
	ID           uuid.UUID             `json:"id"`
	Type         domain.WorkflowType   `json:"type"`
	State        domain.WorkflowState  `json:"state"`
	Step         domain.StepName       `json:"step"`
	StepAttempts int                   `json:"step_attempts"`
	Progress     map[string]any        `json:"progress"`
	Error        *domain.WorkflowError `json:"error,omitempty"`
	Signer       string                `json:"signer"`
	Studio       string                `json:"studio"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func FromRecord(rec *domain.WorkflowRecord) WorkflowResponse {
	resp := WorkflowResponse{
		ID:           rec.ID,
		Type:         rec.Type,
		State:        rec.State,
		Step:         rec.Step,
		StepAttempts: rec.StepAttempts,
		Progress:     rec.Progress,
		Signer:       rec.Signer,
		Studio:       rec.Studio,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if we, ok := rec.GetError(); ok {
		resp.Error = we
	}
	return resp
}

func FromRecords(recs []domain.WorkflowRecord) []WorkflowResponse {
	out := make([]WorkflowResponse, 0, len(recs))
	for i := range recs {
		out = append(out, FromRecord(&recs[i]))
	}
	return out
}

type ReconcileResponse struct {
	Changed  bool             `json:"changed"`
	Workflow WorkflowResponse `json:"workflow"`
}

type RejectionResponse struct {
	Reason  string `json:"reason"`
	Limit   int64  `json:"limit"`
	Current int64  `json:"current"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
