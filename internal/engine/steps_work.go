package engine

import (
	"context"
	"strconv"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
	"studio-gateway/internal/infrastructure/chain"
)

// workSubmissionSteps builds the WorkSubmission sequence: evidence goes to
// the storage network, the commitment goes on-chain, then the work is
// registered with the rewards distributor under the operator identity.
func workSubmissionSteps(deps Dependencies) []StepDefinition {
	// Shared by the submit and confirm steps: the commitment landing on
	// chain satisfies both, and discovery records who submitted it.
	workCommitted := func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error) {
		var in domain.WorkSubmissionInput
		if err := rec.DecodeInput(&in); err != nil {
			return nil, false, err
		}
		exists, submitter, err := deps.State.WorkExists(ctx, in.StudioAddress, in.Epoch, in.DataHash)
		if err != nil {
			return nil, false, operational(err, "query work commitment")
		}
		if !exists {
			return nil, false, nil
		}
		var patch map[string]any
		if submitter != "" {
			patch = map[string]any{domain.ProgressWorkSubmitter: submitter}
		}
		return patch, true, nil
	}

	return []StepDefinition{
		{
			Name:    domain.StepUploadEvidence,
			Timeout: deps.Timeouts.Upload,
			AlreadyDone: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error) {
				id := rec.ProgressString(domain.ProgressArweaveTxID)
				if id == "" {
					return nil, false, nil
				}
				status, err := deps.Store.GetStatus(ctx, id)
				if err != nil {
					return nil, false, operational(err, "query storage status")
				}
				return nil, status != ports.StorageNotFound, nil
			},
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.WorkSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable work submission input: "+err.Error())
				}

				id, err := deps.Store.Upload(ctx, in.Evidence, map[string]string{
					"studio":    in.StudioAddress,
					"epoch":     strconv.FormatUint(in.Epoch, 10),
					"agent":     in.AgentAddress,
					"data-hash": in.DataHash,
				})
				if err != nil {
					return nil, operational(err, "upload evidence")
				}
				return map[string]any{domain.ProgressArweaveTxID: id}, nil
			},
		},
		{
			Name:    domain.StepConfirmEvidence,
			Timeout: deps.Timeouts.Confirm + guardSlack,
			AlreadyDone: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error) {
				id := rec.ProgressString(domain.ProgressArweaveTxID)
				if id == "" {
					return nil, false, nil
				}
				confirmed, err := deps.Store.IsConfirmed(ctx, id)
				if err != nil {
					return nil, false, operational(err, "query storage confirmation")
				}
				return nil, confirmed, nil
			},
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				id := rec.ProgressString(domain.ProgressArweaveTxID)
				status, err := deps.Store.GetStatus(ctx, id)
				if err != nil {
					return nil, operational(err, "query storage status")
				}
				switch status {
				case ports.StorageConfirmed:
					return nil, nil
				case ports.StoragePending:
					return nil, domain.Operational(domain.CodeNotConfirmed, "evidence "+id+" not yet confirmed", nil)
				default:
					// Not-found can be propagation delay on the
					// storage network, never a verdict.
					return nil, domain.Operational(domain.CodeNotConfirmed, "evidence "+id+" not visible yet", nil)
				}
			},
		},
		{
			Name:        domain.StepSubmitWorkOnchain,
			Timeout:     deps.Timeouts.Submit,
			AlreadyDone: workCommitted,
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.WorkSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable work submission input: "+err.Error())
				}

				data, err := chain.EncodeSubmitWork(in.Epoch, in.AgentAddress, in.DataHash, in.ThreadRoot, in.EvidenceRoot)
				if err != nil {
					return nil, domain.Correctness(domain.CodeRejected, err.Error())
				}

				txHash, err := deps.Queue.Submit(ctx, in.Signer, ports.TxRequest{To: in.StudioAddress, Data: data})
				if err != nil {
					return nil, operational(err, "submit work commitment")
				}
				return map[string]any{domain.ProgressWorkTxHash: txHash}, nil
			},
		},
		{
			Name:        domain.StepConfirmWorkTx,
			Timeout:     deps.Timeouts.Confirm + guardSlack,
			AlreadyDone: workCommitted,
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.WorkSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable work submission input: "+err.Error())
				}

				txHash := rec.ProgressString(domain.ProgressWorkTxHash)
				if txHash == "" {
					return nil, domain.Operational(domain.CodeNotConfirmed, "no work transaction hash recorded", nil)
				}
				receipt, err := awaitReceipt(ctx, deps.Queue, in.Signer, txHash, deps.Timeouts.Confirm)
				if err != nil {
					return nil, err
				}
				return map[string]any{domain.ProgressWorkBlock: receipt.BlockNumber}, nil
			},
		},
		{
			Name:    domain.StepRegisterWork,
			Timeout: deps.Timeouts.Submit,
			AlreadyDone: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error) {
				var in domain.WorkSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, false, err
				}
				registered, err := deps.State.WorkRegistered(ctx, in.StudioAddress, in.Epoch, in.AgentAddress, in.DataHash)
				if err != nil {
					return nil, false, operational(err, "query work registration")
				}
				return nil, registered, nil
			},
			Run: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, error) {
				var in domain.WorkSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, domain.Correctness(domain.CodeRejected, "undecodable work submission input: "+err.Error())
				}

				data, err := chain.EncodeRegisterWork(in.StudioAddress, in.Epoch, in.AgentAddress, in.DataHash)
				if err != nil {
					return nil, domain.Correctness(domain.CodeRejected, err.Error())
				}

				// Registration runs under the operator identity, not
				// the submitting agent's signer.
				txHash, err := deps.Queue.Submit(ctx, deps.Operator, ports.TxRequest{To: deps.Rewards, Data: data})
				if err != nil {
					return nil, operational(err, "register work")
				}
				return map[string]any{domain.ProgressRegisterTxHash: txHash}, nil
			},
		},
		{
			Name:    domain.StepConfirmRegisterTx,
			Timeout: deps.Timeouts.Confirm + guardSlack,
			AlreadyDone: func(ctx context.Context, rec *domain.WorkflowRecord) (map[string]any, bool, error) {
				var in domain.WorkSubmissionInput
				if err := rec.DecodeInput(&in); err != nil {
					return nil, false, err
				}
				registered, err := deps.State.WorkRegistered(ctx, in.StudioAddress, in.Epoch, in.AgentAddress, in.DataHash)
				if err != nil {
					return nil, false, operational(err, "query work registration")
				}
				return nil, registered, nil
			},
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
