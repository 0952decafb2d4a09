package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepListsAreFixedPerType(t *testing.T) {
	assert.Equal(t, []StepName{
		StepUploadEvidence,
		StepConfirmEvidence,
		StepSubmitWorkOnchain,
		StepConfirmWorkTx,
		StepRegisterWork,
		StepConfirmRegisterTx,
	}, Steps(TypeWorkSubmission))

	assert.Equal(t, []StepName{
		StepSubmitScoreOnchain,
		StepConfirmScoreTx,
		StepRegisterValidator,
		StepConfirmRegisterTx,
	}, Steps(TypeScoreSubmission))

	assert.Equal(t, []StepName{
		StepCloseEpochOnchain,
		StepConfirmCloseTx,
	}, Steps(TypeCloseEpoch))
}

func TestNextStepWalksTheList(t *testing.T) {
	next, ok := NextStep(TypeWorkSubmission, StepUploadEvidence)
	require.True(t, ok)
	assert.Equal(t, StepConfirmEvidence, next)

	_, ok = NextStep(TypeWorkSubmission, StepConfirmRegisterTx)
	assert.False(t, ok)

	_, ok = NextStep(TypeCloseEpoch, "NO_SUCH_STEP")
	assert.False(t, ok)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())

	for _, s := range ActiveStates() {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestNewWorkflowRecordNormalizesIdentities(t *testing.T) {
	rec, err := NewWorkflowRecord(TypeCloseEpoch, CloseEpochInput{Epoch: 1}, "0xSIGNER", "0xStudio")
	require.NoError(t, err)

	assert.Equal(t, "0xsigner", rec.Signer)
	assert.Equal(t, "0xstudio", rec.Studio)
	assert.Equal(t, StateCreated, rec.State)
	assert.Equal(t, StepCloseEpochOnchain, rec.Step)
	assert.Equal(t, 1, rec.Version)

	var in CloseEpochInput
	require.NoError(t, rec.DecodeInput(&in))
	assert.EqualValues(t, 1, in.Epoch)
}

func TestAdvanceToResetsAttempts(t *testing.T) {
	rec, err := NewWorkflowRecord(TypeWorkSubmission, WorkSubmissionInput{}, "0xa", "0xb")
	require.NoError(t, err)

	rec.StepAttempts = 4
	rec.AdvanceTo(StepConfirmEvidence)
	assert.Equal(t, StepConfirmEvidence, rec.Step)
	assert.Zero(t, rec.StepAttempts)
}

func TestProgressMergeAndRead(t *testing.T) {
	rec, err := NewWorkflowRecord(TypeWorkSubmission, WorkSubmissionInput{}, "0xa", "0xb")
	require.NoError(t, err)

	rec.MergeProgress(map[string]any{ProgressArweaveTxID: "ar-1"})
	rec.MergeProgress(map[string]any{ProgressWorkTxHash: "0xtx1", ProgressWorkBlock: uint64(42)})

	assert.Equal(t, "ar-1", rec.ProgressString(ProgressArweaveTxID))
	assert.Equal(t, "0xtx1", rec.ProgressString(ProgressWorkTxHash))
	// Non-string values read as empty through the string accessor.
	assert.Empty(t, rec.ProgressString(ProgressWorkBlock))
}

func TestErrorRoundTrip(t *testing.T) {
	rec, err := NewWorkflowRecord(TypeWorkSubmission, WorkSubmissionInput{}, "0xa", "0xb")
	require.NoError(t, err)

	_, ok := rec.GetError()
	assert.False(t, ok)

	rec.SetError(WorkflowError{Step: StepSubmitWorkOnchain, Code: CodeRejected, Message: "unknown account"})
	we, ok := rec.GetError()
	require.True(t, ok)
	assert.Equal(t, StepSubmitWorkOnchain, we.Step)
	assert.Equal(t, CodeRejected, we.Code)
	assert.Equal(t, "unknown account", we.Message)
}
