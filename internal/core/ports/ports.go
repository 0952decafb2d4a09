package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"studio-gateway/internal/domain"
)

// WorkflowRepository is the durable store of workflow records. Update uses
// optimistic concurrency: the record's Version must match the stored row or
// ErrVersionConflict is returned.
type WorkflowRepository interface {
	Create(ctx context.Context, record *domain.WorkflowRecord) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error)

	// Update persists the record if record.Version matches the stored row,
	// bumping Version by one on success.
	Update(ctx context.Context, record *domain.WorkflowRecord) error

	ListByTypeAndState(ctx context.Context, t domain.WorkflowType, s domain.WorkflowState) ([]domain.WorkflowRecord, error)

	// ListActive returns every record in a non-terminal state.
	ListActive(ctx context.Context) ([]domain.WorkflowRecord, error)

	// ListByStudio filters by the external correlation key.
	ListByStudio(ctx context.Context, studio string) ([]domain.WorkflowRecord, error)

	CountActive(ctx context.Context) (int64, error)
	CountActiveByType(ctx context.Context, t domain.WorkflowType) (int64, error)
	CountActiveBySigner(ctx context.Context, signer string) (int64, error)

	// ActiveCounts is an observability snapshot; it takes part in no
	// admission decision.
	ActiveCounts(ctx context.Context) (ActiveCounts, error)
}

// ActiveCounts is a read-only snapshot of non-terminal record counts.
type ActiveCounts struct {
	Total    int64                         `json:"total"`
	ByType   map[domain.WorkflowType]int64 `json:"by_type"`
	BySigner map[string]int64              `json:"by_signer"`
}

// TxRequest is a chain write: a target contract and ABI-encoded calldata.
type TxRequest struct {
	To   string
	Data []byte
}

type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
	// Status is 1 for success, 0 for a reverted transaction.
	Status uint64
}

func (r *TxReceipt) Reverted() bool { return r.Status == 0 }

// ChainClient is the write/read adapter for the ledger. Keys live with the
// node; the gateway only names the signing identity.
type ChainClient interface {
	GetNonce(ctx context.Context, address string) (uint64, error)
	SubmitTx(ctx context.Context, signer string, req TxRequest, nonce uint64) (string, error)
	GetTxReceipt(ctx context.Context, txHash string) (*TxReceipt, error)
	WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*TxReceipt, error)
}

// ChainState exposes the ground-truth predicates used for idempotency checks
// and reconciliation. The studio-proxy queries are value-returning: alongside
// the fact they report the identifiers the view discovered, so a record
// reconciled past a chain-write step keeps what ground truth can tell about
// the effect. The rewards-side predicates carry no identity beyond their
// inputs and stay boolean.
type ChainState interface {
	// WorkExists reports whether the work commitment exists and, when it
	// does, the address that submitted it ("" when the view does not
	// expose one).
	WorkExists(ctx context.Context, studio string, epoch uint64, dataHash string) (exists bool, submitter string, err error)
	// ScoreExists reports the score submission and its submitting
	// validator.
	ScoreExists(ctx context.Context, studio string, epoch uint64, validator, dataHash string) (exists bool, submitter string, err error)
	// CommitExists reports the score commitment and the stored commit
	// hash.
	CommitExists(ctx context.Context, studio string, epoch uint64, validator string) (exists bool, commitHash string, err error)
	WorkRegistered(ctx context.Context, studio string, epoch uint64, agent, dataHash string) (bool, error)
	ValidatorRegistered(ctx context.Context, studio string, epoch uint64, validator string) (bool, error)
	EpochClosed(ctx context.Context, studio string, epoch uint64) (bool, error)
}

type StorageStatus string

const (
	StoragePending   StorageStatus = "pending"
	StorageConfirmed StorageStatus = "confirmed"
	StorageNotFound  StorageStatus = "not_found"
)

// EvidenceStore is the content-addressed evidence network adapter. All of its
// failures are operational; the gateway never interprets stored content.
type EvidenceStore interface {
	Upload(ctx context.Context, data []byte, tags map[string]string) (string, error)
	IsConfirmed(ctx context.Context, storageID string) (bool, error)
	GetStatus(ctx context.Context, storageID string) (StorageStatus, error)
	Retrieve(ctx context.Context, storageID string) ([]byte, error)
}

// MetricsSink is write-only; the engine never reads metrics back. A no-op
// implementation is a fully valid substitute.
type MetricsSink interface {
	WorkflowCreated(t domain.WorkflowType)
	WorkflowStarted(t domain.WorkflowType)
	WorkflowCompleted(t domain.WorkflowType)
	WorkflowFailed(t domain.WorkflowType, code string)
	WorkflowStalled(t domain.WorkflowType, reason string)
	StepCompleted(t domain.WorkflowType, step domain.StepName)
	StepRetried(t domain.WorkflowType, step domain.StepName)
	StepTimedOut(t domain.WorkflowType, step domain.StepName)
	TxSubmitted(signer string)
	TxConfirmed(signer string)
	TxReverted(signer string)
	AdmissionRejected(reason string)
	ReconciliationRan(changed bool)
}
