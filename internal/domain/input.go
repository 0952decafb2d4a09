package domain

// Progress keys written by the step definitions. A step only ever writes its
// own keys, so later steps never clobber earlier output.
const (
	ProgressArweaveTxID    = "arweave_tx_id"
	ProgressWorkTxHash     = "work_tx_hash"
	ProgressWorkBlock      = "work_block"
	ProgressCommitTxHash   = "commit_tx_hash"
	ProgressRevealTxHash   = "reveal_tx_hash"
	ProgressScoreTxHash    = "score_tx_hash"
	ProgressScoreBlock     = "score_block"
	ProgressRegisterTxHash = "register_tx_hash"
	ProgressRegisterBlock  = "register_block"
	ProgressCloseTxHash    = "close_tx_hash"
	ProgressCloseBlock     = "close_block"

	// Keys recorded when an effect is discovered on chain rather than
	// produced by our own transaction.
	ProgressWorkSubmitter  = "work_submitter"
	ProgressScoreSubmitter = "score_submitter"
	ProgressCommitHash     = "commit_hash"
)

type ScoreSubmissionMode string

const (
	ScoreModeDirect       ScoreSubmissionMode = "direct"
	ScoreModeCommitReveal ScoreSubmissionMode = "commit_reveal"
)

// WorkSubmissionInput carries the immutable parameters of a work submission.
// Hash fields are 0x-prefixed bytes32 hex strings; Evidence is the raw
// evidence payload destined for the storage network.
type WorkSubmissionInput struct {
	StudioAddress string `json:"studio_address"`
	Epoch         uint64 `json:"epoch"`
	AgentAddress  string `json:"agent_address"`
	DataHash      string `json:"data_hash"`
	ThreadRoot    string `json:"thread_root"`
	EvidenceRoot  string `json:"evidence_root"`
	Evidence      []byte `json:"evidence"`
	Signer        string `json:"signer"`
}

type ScoreSubmissionInput struct {
	StudioAddress    string              `json:"studio_address"`
	Epoch            uint64              `json:"epoch"`
	ValidatorAddress string              `json:"validator_address"`
	WorkerAddress    string              `json:"worker_address,omitempty"`
	DataHash         string              `json:"data_hash"`
	Scores           []uint64            `json:"scores"`
	Mode             ScoreSubmissionMode `json:"mode"`
	Salt             string              `json:"salt,omitempty"`
	Signer           string              `json:"signer"`
}

type CloseEpochInput struct {
	StudioAddress string `json:"studio_address"`
	Epoch         uint64 `json:"epoch"`
	Signer        string `json:"signer"`
}
