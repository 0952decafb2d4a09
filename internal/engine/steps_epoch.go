package engine

import (
	"context"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
	"studio-gateway/internal/infrastructure/chain"
)

// closeEpochSteps builds the CloseEpoch sequence: a single rewards-distributor
// call plus its confirmation.
func closeEpochSteps(deps Dependencies) []StepDefinition {
	epochClosed := func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error) {
		var in domain.CloseEpochInput
		if err := rec.DecodeInput(&in); err != nil {
			return nil, false, err
		}
		closed, err := deps.State.EpochClosed(ctx, in.StudioAddress, in.Epoch)
		if err != nil {
			return nil, false, operational(err, "query epoch state")
		}
		return nil, closed, nil
	}

	return []StepDefinition{
		{
			Name:        domain.StepCloseEpochOnchain,
			Timeout:     deps.Timeouts.Submit,
			AlreadyDone: epochClosed,
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.CloseEpochInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable close epoch input: "+err.Error())
				}

				data, err := chain.EncodeCloseEpoch(in.StudioAddress, in.Epoch)
				if err != nil {
					return nil, domain.Correctness(domain.CodeRejected, err.Error())
				}

				txHash, err := deps.Queue.Submit(ctx, in.Signer, ports.TxRequest{To: deps.Rewards, Data: data})
				if err != nil {
					return nil, operational(err, "close epoch")
				}
				return map[string]any{domain.ProgressCloseTxHash: txHash}, nil
			},
		},
		{
			Name:        domain.StepConfirmCloseTx,
			Timeout:     deps.Timeouts.Confirm + guardSlack,
			AlreadyDone: epochClosed,
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.CloseEpochInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable close epoch input: "+err.Error())
				}

				txHash := rec.ProgressString(domain.ProgressCloseTxHash)
				if txHash == "" {
					return nil, domain.Operational(domain.CodeNotConfirmed, "no close transaction hash recorded", nil)
				}
				receipt, err := awaitReceipt(ctx, deps.Queue, in.Signer, txHash, deps.Timeouts.Confirm)
				if err != nil {
					return nil, err
				}
				return map[string]any{domain.ProgressCloseBlock: receipt.BlockNumber}, nil
			},
		},
	}
}
