package engine

import (
	"context"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
	"studio-gateway/internal/infrastructure/chain"
)

// scoreSubmissionSteps builds the ScoreSubmission sequence. The submit step
// honors both modes: direct submission, or commit-then-reveal where both
// phases run inside the one step. A stall between commit and reveal recovers
// through the commit-exists predicate on the next attempt.
func scoreSubmissionSteps(deps Dependencies) []StepDefinition {
	scoreExists := func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error) {
		var in domain.ScoreSubmissionInput
		if err := rec.DecodeInput(&in); err != nil {
			return nil, false, err
		}
		exists, submitter, err := deps.State.ScoreExists(ctx, in.StudioAddress, in.Epoch, in.ValidatorAddress, in.DataHash)
		if err != nil {
			return nil, false, operational(err, "query score submission")
		}
		if !exists {
			return nil, false, nil
		}
		var patch map[string]any
		if submitter != "" {
			patch = map[string]any{domain.ProgressScoreSubmitter: submitter}
		}
		return patch, true, nil
	}

	validatorRegistered := func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error) {
		var in domain.ScoreSubmissionInput
		if err := rec.DecodeInput(&in); err != nil {
			return nil, false, err
		}
		registered, err := deps.State.ValidatorRegistered(ctx, in.StudioAddress, in.Epoch, in.ValidatorAddress)
		if err != nil {
			return nil, false, operational(err, "query validator registration")
		}
		return nil, registered, nil
	}

	return []StepDefinition{
		{
			Name: domain.StepSubmitScoreOnchain,
			// Commit-reveal submits two transactions and waits out the
			// commit confirmation in between.
			Timeout:     2*deps.Timeouts.Submit + deps.Timeouts.Confirm + guardSlack,
			AlreadyDone: scoreExists,
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.ScoreSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable score submission input: "+err.Error())
				}

				if in.Mode == domain.ScoreModeCommitReveal {
					return submitCommitReveal(ctx, deps, in)
				}
				return submitDirect(ctx, deps, in)
			},
		},
		{
			Name:        domain.StepConfirmScoreTx,
			Timeout:     deps.Timeouts.Confirm + guardSlack,
			AlreadyDone: scoreExists,
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.ScoreSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable score submission input: "+err.Error())
				}

				txHash := rec.ProgressString(domain.ProgressScoreTxHash)
				if txHash == "" {
					return nil, domain.Operational(domain.CodeNotConfirmed, "no score transaction hash recorded", nil)
				}
				receipt, err := awaitReceipt(ctx, deps.Queue, in.Signer, txHash, deps.Timeouts.Confirm)
				if err != nil {
					return nil, err
				}
				return map[string]any{domain.ProgressScoreBlock: receipt.BlockNumber}, nil
			},
		},
		{
			Name:        domain.StepRegisterValidator,
			Timeout:     deps.Timeouts.Submit,
			AlreadyDone: validatorRegistered,
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.ScoreSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable score submission input: "+err.Error())
				}

				data, err := chain.EncodeRegisterValidator(in.StudioAddress, in.Epoch, in.ValidatorAddress)
				if err != nil {
					return nil, domain.Correctness(domain.CodeRejected, err.Error())
				}

				txHash, err := deps.Queue.Submit(ctx, deps.Operator, ports.TxRequest{To: deps.Rewards, Data: data})
				if err != nil {
					return nil, operational(err, "register validator")
				}
				return map[string]any{domain.ProgressRegisterTxHash: txHash}, nil
			},
		},
		{
			Name:        domain.StepConfirmRegisterTx,
			Timeout:     deps.Timeouts.Confirm + guardSlack,
			AlreadyDone: validatorRegistered,
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				txHash := rec.ProgressString(domain.ProgressRegisterTxHash)
				if txHash == "" {
					return nil, domain.Operational(domain.CodeNotConfirmed, "no registration transaction hash recorded", nil)
				}
				receipt, err := awaitReceipt(ctx, deps.Queue, deps.Operator, txHash, deps.Timeouts.Confirm)
				if err != nil {
					return nil, err
				}
				return map[string]any{domain.ProgressRegisterBlock: receipt.BlockNumber}, nil
			},
		},
	}
}

func submitDirect(ctx context.Context, deps Dependencies, in domain.ScoreSubmissionInput) (map[string]any, error) {
	data, err := chain.EncodeSubmitScoreVectorForWorker(in.Epoch, in.WorkerAddress, in.DataHash, in.Scores)
	if err != nil {
		return nil, domain.Correctness(domain.CodeRejected, err.Error())
	}

	txHash, err := deps.Queue.Submit(ctx, in.Signer, ports.TxRequest{To: in.StudioAddress, Data: data})
	if err != nil {
		return nil, operational(err, "submit score vector")
	}
	return map[string]any{domain.ProgressScoreTxHash: txHash}, nil
}

func submitCommitReveal(ctx context.Context, deps Dependencies, in domain.ScoreSubmissionInput) (map[string]any, error) {
	patch := map[string]any{}

	commitHash, err := chain.ScoreCommitHash(in.Epoch, in.WorkerAddress, in.DataHash, in.Scores, in.Salt)
	if err != nil {
		return nil, domain.Correctness(domain.CodeRejected, err.Error())
	}

	committed, storedHash, err := deps.State.CommitExists(ctx, in.StudioAddress, in.Epoch, in.ValidatorAddress)
	if err != nil {
		return nil, operational(err, "query score commitment")
	}
	if committed && storedHash != "" && storedHash != commitHash {
		// The contract rejects a reveal that doesn't hash to the stored
		// commitment; a retry can never converge.
		return nil, domain.Correctness(domain.CodeRejected, "stored score commitment does not match the submitted scores")
	}
	patch[domain.ProgressCommitHash] = commitHash

	if !committed {
		data, err := chain.EncodeCommitScoreVector(in.Epoch, commitHash)
		if err != nil {
			return nil, domain.Correctness(domain.CodeRejected, err.Error())
		}

		commitTx, err := deps.Queue.Submit(ctx, in.Signer, ports.TxRequest{To: in.StudioAddress, Data: data})
		if err != nil {
			return nil, operational(err, "submit score commitment")
		}
		patch[domain.ProgressCommitTxHash] = commitTx

		// The reveal only passes once the commit is mined.
		if _, err := awaitReceipt(ctx, deps.Queue, in.Signer, commitTx, deps.Timeouts.Confirm); err != nil {
			return nil, err
		}
	}

	data, err := chain.EncodeRevealScoreVector(in.Epoch, in.WorkerAddress, in.DataHash, in.Scores, in.Salt)
	if err != nil {
		return nil, domain.Correctness(domain.CodeRejected, err.Error())
	}

	revealTx, err := deps.Queue.Submit(ctx, in.Signer, ports.TxRequest{To: in.StudioAddress, Data: data})
	if err != nil {
		return nil, operational(err, "submit score reveal")
	}
	patch[domain.ProgressRevealTxHash] = revealTx
	patch[domain.ProgressScoreTxHash] = revealTx
	return patch, nil
}
