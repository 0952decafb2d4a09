package engine

import (
	"context"
	"time"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
	"studio-gateway/internal/txqueue"
)

// StepTimeouts configures the per-step deadlines applied by the timeout
// guard. Confirmation windows are long; submissions are short.
type StepTimeouts struct {
	Upload  time.Duration
	Submit  time.Duration
	Confirm time.Duration
}

func DefaultStepTimeouts() StepTimeouts {
	return StepTimeouts{
		Upload:  60 * time.Second,
		Submit:  30 * time.Second,
		Confirm: 120 * time.Second,
	}
}

// Dependencies are the external collaborators the step definitions call.
type Dependencies struct {
	Queue *txqueue.Queue
	State ports.ChainState
	Store ports.EvidenceStore

	// Rewards is the rewards distributor contract address.
	Rewards string
	// Operator is the elevated signing identity used for the
	// reward-accounting registration steps.
	Operator string

	Timeouts StepTimeouts
}

// NewRegistry builds the fixed step lists for every workflow type.
func NewRegistry(deps Dependencies) Registry {
	return Registry{
		domain.TypeWorkSubmission:  workSubmissionSteps(deps),
		domain.TypeScoreSubmission: scoreSubmissionSteps(deps),
		domain.TypeCloseEpoch:      closeEpochSteps(deps),
	}
}

// guardSlack pads a confirm step's guard deadline past its inner wait so the
// wait, not the guard, is what normally expires.
const guardSlack = 10 * time.Second

// operational coerces an unclassified error into the operational class.
// Already-classified errors pass through untouched.
func operational(err error, msg string) error {
	if err == nil {
		return nil
	}
	if domain.IsOperational(err) {
		return err
	}
	if _, ok := domain.AsCorrectness(err); ok {
		return err
	}
	return domain.Operational(domain.CodeUnavailable, msg, err)
}

// awaitReceipt resolves a previously submitted transaction: a reverted
// receipt is a correctness failure, an absent one within the window is
// operational.
func awaitReceipt(ctx context.Context, queue *txqueue.Queue, signer, txHash string, wait time.Duration) (*ports.TxReceipt, error) {
	receipt, err := queue.AwaitConfirmation(ctx, signer, txHash, wait)
	if err != nil {
		return nil, operational(err, "await confirmation of "+txHash)
	}
	if receipt.Reverted() {
		return nil, domain.Correctness(domain.CodeReverted, "transaction "+txHash+" reverted")
	}
	return receipt, nil
}
