package dto

type SubmitWorkRequest struct {
	StudioAddress string `json:"studio_address" binding:"required"`
	Epoch         uint64 `json:"epoch" binding:"required"`
	AgentAddress  string `json:"agent_address" binding:"required"`
	DataHash      string `json:"data_hash" binding:"required"`
	ThreadRoot    string `json:"thread_root" binding:"required"`
	EvidenceRoot  string `json:"evidence_root" binding:"required"`
	Evidence      []byte `json:"evidence" binding:"required"`
	Signer        string `json:"signer" binding:"required"`
}

type SubmitScoreRequest struct {
	StudioAddress    string   `json:"studio_address" binding:"required"`
	Epoch            uint64   `json:"epoch" binding:"required"`
	ValidatorAddress string   `json:"validator_address" binding:"required"`
	WorkerAddress    string   `json:"worker_address"`
	DataHash         string   `json:"data_hash" binding:"required"`
	Scores           []uint64 `json:"scores" binding:"required,min=1"`
	Mode             string   `json:"mode" binding:"omitempty,oneof=direct commit_reveal"`
	Salt             string   `json:"salt"`
	Signer           string   `json:"signer" binding:"required"`
}

type CloseEpochRequest struct {
	StudioAddress string `json:"studio_address" binding:"required"`
	Epoch         uint64 `json:"epoch" binding:"required"`
	Signer        string `json:"signer" binding:"required"`
}

type ListWorkflowsQuery struct {
	Type   string `form:"type"`
	State  string `form:"state"`
	Studio string `form:"studio"`
	Active bool   `form:"active"`
}
