package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WorkflowState string

const (
	StateCreated   WorkflowState = "CREATED"
	StateRunning   WorkflowState = "RUNNING"
	StateStalled   WorkflowState = "STALLED"
	StateFailed    WorkflowState = "FAILED"
	StateCompleted WorkflowState = "COMPLETED"
)

// ActiveStates are the non-terminal states. Records in any of these are
// counted by admission control and swept by the reconciler at startup.
func ActiveStates() []WorkflowState {
	return []WorkflowState{StateCreated, StateRunning, StateStalled}
}

func (s WorkflowState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

type WorkflowType string

const (
	TypeWorkSubmission  WorkflowType = "WORK_SUBMISSION"
	TypeScoreSubmission WorkflowType = "SCORE_SUBMISSION"
	TypeCloseEpoch      WorkflowType = "CLOSE_EPOCH"
)

func (t WorkflowType) Valid() bool {
	switch t {
	case TypeWorkSubmission, TypeScoreSubmission, TypeCloseEpoch:
		return true
	}
	return false
}

type StepName string

const (
	StepUploadEvidence    StepName = "UPLOAD_EVIDENCE"
	StepConfirmEvidence   StepName = "CONFIRM_EVIDENCE"
	StepSubmitWorkOnchain StepName = "SUBMIT_WORK_ONCHAIN"
	StepConfirmWorkTx     StepName = "CONFIRM_WORK_TX"
	StepRegisterWork      StepName = "REGISTER_WORK"
	StepConfirmRegisterTx StepName = "CONFIRM_REGISTER_TX"

	StepSubmitScoreOnchain StepName = "SUBMIT_SCORE_ONCHAIN"
	StepConfirmScoreTx     StepName = "CONFIRM_SCORE_TX"
	StepRegisterValidator  StepName = "REGISTER_VALIDATOR"

	StepCloseEpochOnchain StepName = "CLOSE_EPOCH_ONCHAIN"
	StepConfirmCloseTx    StepName = "CONFIRM_CLOSE_TX"
)

// stepLists fixes the ordered step sequence per workflow type. A record's
// type never changes, so its sequence never changes either.
var stepLists = map[WorkflowType][]StepName{
	TypeWorkSubmission: {
		StepUploadEvidence,
		StepConfirmEvidence,
		StepSubmitWorkOnchain,
		StepConfirmWorkTx,
		StepRegisterWork,
		StepConfirmRegisterTx,
	},
	TypeScoreSubmission: {
		StepSubmitScoreOnchain,
		StepConfirmScoreTx,
		StepRegisterValidator,
		StepConfirmRegisterTx,
	},
	TypeCloseEpoch: {
		StepCloseEpochOnchain,
		StepConfirmCloseTx,
	},
}

// Steps returns the ordered step list for a workflow type.
func Steps(t WorkflowType) []StepName {
	return stepLists[t]
}

func FirstStep(t WorkflowType) StepName {
	return stepLists[t][0]
}

// NextStep returns the step after current, or ("", false) when current is the
// last step of the list.
func NextStep(t WorkflowType, current StepName) (StepName, bool) {
	steps := stepLists[t]
	for i, s := range steps {
		if s == current {
			if i+1 < len(steps) {
				return steps[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// StepIndex returns the position of step within the type's list, or -1.
func StepIndex(t WorkflowType, step StepName) int {
	for i, s := range stepLists[t] {
		if s == step {
			return i
		}
	}
	return -1
}

// WorkflowError is populated only on FAILED records.
type WorkflowError struct {
	Step    StepName `json:"step"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
}

// WorkflowRecord is the unit of durable state. It is created by the admission
// path and mutated only by the engine and the reconciler. Terminal records are
// never deleted.
type WorkflowRecord struct {
	ID           uuid.UUID         `gorm:"type:uuid;primary_key"`
	Type         WorkflowType      `gorm:"type:varchar(32);index:idx_workflows_type_state;not null"`
	State        WorkflowState     `gorm:"type:varchar(16);index:idx_workflows_type_state;index;default:'CREATED'"`
	Step         StepName          `gorm:"type:varchar(48);not null"`
	StepAttempts int               `gorm:"default:0"`
	Input        datatypes.JSON    `gorm:"type:jsonb;not null"`
	Progress     datatypes.JSONMap `gorm:"type:jsonb"`
	Error        datatypes.JSON    `gorm:"type:jsonb"`
	Signer       string            `gorm:"type:varchar(64);index"`
	Studio       string            `gorm:"type:varchar(64);index"`

	// Version backs the optimistic-concurrency check: every persisted
	// mutation must carry the version it read, and bumps it by one.
	Version int `gorm:"default:1"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WorkflowRecord) TableName() string { return "workflows" }

// NewWorkflowRecord builds a CREATED record positioned at the type's first
// step. Signer and studio are normalized to lower case so per-signer limits
// and correlation queries compare case-insensitively.
func NewWorkflowRecord(t WorkflowType, input any, signer, studio string) (*WorkflowRecord, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow input: %w", err)
	}
	return &WorkflowRecord{
		ID:       uuid.New(),
		Type:     t,
		State:    StateCreated,
		Step:     FirstStep(t),
		Input:    raw,
		Progress: datatypes.JSONMap{},
		Signer:   strings.ToLower(signer),
		Studio:   strings.ToLower(studio),
		Version:  1,
	}, nil
}

func (w *WorkflowRecord) IsTerminal() bool {
	return w.State.IsTerminal()
}

// AdvanceTo moves the record to the given step and resets the attempt counter.
func (w *WorkflowRecord) AdvanceTo(step StepName) {
	w.Step = step
	w.StepAttempts = 0
}

// MergeProgress overlays patch onto the record's progress map.
func (w *WorkflowRecord) MergeProgress(patch map[string]any) {
	if w.Progress == nil {
		w.Progress = datatypes.JSONMap{}
	}
	for k, v := range patch {
		w.Progress[k] = v
	}
}

// ProgressString reads a progress value as a string, "" when absent.
func (w *WorkflowRecord) ProgressString(key string) string {
	if w.Progress == nil {
		return ""
	}
	if v, ok := w.Progress[key].(string); ok {
		return v
	}
	return ""
}

// SetError records the failure detail. Only FAILED records carry one.
func (w *WorkflowRecord) SetError(we WorkflowError) {
	raw, _ := json.Marshal(we)
	w.Error = raw
}

func (w *WorkflowRecord) GetError() (*WorkflowError, bool) {
	if len(w.Error) == 0 {
		return nil, false
	}
	var we WorkflowError
	if err := json.Unmarshal(w.Error, &we); err != nil {
		return nil, false
	}
	return &we, true
}

func (w *WorkflowRecord) DecodeInput(dst any) error {
	return json.Unmarshal(w.Input, dst)
}
