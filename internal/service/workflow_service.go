package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"studio-gateway/internal/admission"
	"studio-gateway/internal/api/dto"
	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
	"studio-gateway/internal/engine"
	"studio-gateway/internal/reconcile"
	"studio-gateway/pkg/logger"
)

// ErrInvalidInput marks request validation failures.
var ErrInvalidInput = errors.New("invalid input")

type WorkflowService interface {
	SubmitWork(ctx context.Context, req dto.SubmitWorkRequest) (*domain.WorkflowRecord, error)
	SubmitScore(ctx context.Context, req dto.SubmitScoreRequest) (*domain.WorkflowRecord, error)
	CloseEpoch(ctx context.Context, req dto.CloseEpochRequest) (*domain.WorkflowRecord, error)

	GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error)
	ListWorkflows(ctx context.Context, q dto.ListWorkflowsQuery) ([]domain.WorkflowRecord, error)
	Counts(ctx context.Context) (ports.ActiveCounts, error)
	ReconcileWorkflow(ctx context.Context, id uuid.UUID) (bool, *domain.WorkflowRecord, error)
}

type workflowService struct {
	engine     *engine.Engine
	admission  admission.Controller
	repo       ports.WorkflowRepository
	reconciler *reconcile.Reconciler
	metrics    ports.MetricsSink
	log        *logger.Logger
}

func NewWorkflowService(
	eng *engine.Engine,
	adm admission.Controller,
	repo ports.WorkflowRepository,
	rec *reconcile.Reconciler,
	metrics ports.MetricsSink,
	log *logger.Logger,
) WorkflowService {
	return &workflowService{
		engine:     eng,
		admission:  adm,
		repo:       repo,
		reconciler: rec,
		metrics:    metrics,
		log:        log,
	}
}

func (s *workflowService) SubmitWork(ctx context.Context, req dto.SubmitWorkRequest) (*domain.WorkflowRecord, error) {
	input := domain.WorkSubmissionInput{
		StudioAddress: req.StudioAddress,
		Epoch:         req.Epoch,
		AgentAddress:  req.AgentAddress,
		DataHash:      req.DataHash,
		ThreadRoot:    req.ThreadRoot,
		EvidenceRoot:  req.EvidenceRoot,
		Evidence:      req.Evidence,
		Signer:        req.Signer,
	}
	return s.createAndStart(ctx, domain.TypeWorkSubmission, input, req.Signer, req.StudioAddress)
}

func (s *workflowService) SubmitScore(ctx context.Context, req dto.SubmitScoreRequest) (*domain.WorkflowRecord, error) {
	mode := domain.ScoreSubmissionMode(req.Mode)
	if mode == "" {
		mode = domain.ScoreModeDirect
	}
	if req.WorkerAddress == "" {
		return nil, fmt.Errorf("%w: worker_address is required", ErrInvalidInput)
	}
	if mode == domain.ScoreModeCommitReveal && req.Salt == "" {
		return nil, fmt.Errorf("%w: salt is required in commit_reveal mode", ErrInvalidInput)
	}

	input := domain.ScoreSubmissionInput{
		StudioAddress:    req.StudioAddress,
		Epoch:            req.Epoch,
		ValidatorAddress: req.ValidatorAddress,
		WorkerAddress:    req.WorkerAddress,
		DataHash:         req.DataHash,
		Scores:           req.Scores,
		Mode:             mode,
		Salt:             req.Salt,
		Signer:           req.Signer,
	}
	return s.createAndStart(ctx, domain.TypeScoreSubmission, input, req.Signer, req.StudioAddress)
}

func (s *workflowService) CloseEpoch(ctx context.Context, req dto.CloseEpochRequest) (*domain.WorkflowRecord, error) {
	input := domain.CloseEpochInput{
		StudioAddress: req.StudioAddress,
		Epoch:         req.Epoch,
		Signer:        req.Signer,
	}
	return s.createAndStart(ctx, domain.TypeCloseEpoch, input, req.Signer, req.StudioAddress)
}

// createAndStart runs the admission check, persists the CREATED record, then
// hands it to the engine. A rejection is synchronous and leaves no record.
func (s *workflowService) createAndStart(ctx context.Context, t domain.WorkflowType, input any, signer, studio string) (*domain.WorkflowRecord, error) {
	if err := s.admission.CheckAdmission(ctx, t, signer); err != nil {
		var rej *admission.RejectionError
		if errors.As(err, &rej) {
			s.metrics.AdmissionRejected(rej.Reason)
			s.log.Warn("admission rejected", "type", t, "signer", signer, "reason", rej.Reason)
		}
		return nil, err
	}

	rec, err := domain.NewWorkflowRecord(t, input, signer, studio)
	if err != nil {
		return nil, err
	}
	if err := s.engine.CreateWorkflow(ctx, rec); err != nil {
		return nil, err
	}

	// The step loop outlives the HTTP request.
	go func() {
		if err := s.engine.StartWorkflow(context.Background(), rec.ID); err != nil {
			s.log.Error("start workflow", "workflow_id", rec.ID, "error", err)
		}
	}()

	return rec, nil
}

func (s *workflowService) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *workflowService) ListWorkflows(ctx context.Context, q dto.ListWorkflowsQuery) ([]domain.WorkflowRecord, error) {
	switch {
	case q.Studio != "":
		return s.repo.ListByStudio(ctx, q.Studio)
	case q.Type != "" && q.State != "":
		t := domain.WorkflowType(q.Type)
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown workflow type %q", ErrInvalidInput, q.Type)
		}
		return s.repo.ListByTypeAndState(ctx, t, domain.WorkflowState(q.State))
	case q.Active:
		return s.repo.ListActive(ctx)
	default:
		return nil, fmt.Errorf("%w: provide studio, type+state, or active filter", ErrInvalidInput)
	}
}

func (s *workflowService) Counts(ctx context.Context) (ports.ActiveCounts, error) {
	return s.admission.Counts(ctx)
}

// ReconcileWorkflow re-checks one record against on-chain ground truth on
// demand, without waiting for the startup sweep.
func (s *workflowService) ReconcileWorkflow(ctx context.Context, id uuid.UUID) (bool, *domain.WorkflowRecord, error) {
	return s.reconciler.ReconcileByID(ctx, id)
}
