package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
	"studio-gateway/pkg/logger"
)

// Engine drives workflow records through their step lists, one step at a
// time, persisting after every step. Many workflows run concurrently; a
// per-id lock guarantees no two steps of the same record ever execute
// simultaneously.
type Engine struct {
	repo     ports.WorkflowRepository
	registry Registry
	metrics  ports.MetricsSink
	log      *logger.Logger

	listenerMu sync.RWMutex
	listeners  []domain.LifecycleListener

	// locks holds a *sync.Mutex per workflow id. Entries are never
	// evicted; the map is bounded by the records seen in one process
	// lifetime.
	locks sync.Map
}

func New(repo ports.WorkflowRepository, registry Registry, metrics ports.MetricsSink, log *logger.Logger) (*Engine, error) {
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		repo:     repo,
		registry: registry,
		metrics:  metrics,
		log:      log,
	}, nil
}

// AddListener registers a synchronous lifecycle listener.
func (e *Engine) AddListener(l domain.LifecycleListener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) emit(kind domain.EventKind, rec *domain.WorkflowRecord, step domain.StepName, reason string) {
	event := domain.LifecycleEvent{
		Kind:       kind,
		WorkflowID: rec.ID,
		Type:       rec.Type,
		State:      rec.State,
		Step:       step,
		Reason:     reason,
		At:         time.Now(),
	}

	e.listenerMu.RLock()
	listeners := make([]domain.LifecycleListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenerMu.RUnlock()

	for _, l := range listeners {
		l.OnLifecycleEvent(event)
	}
}

func (e *Engine) lockFor(id uuid.UUID) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateWorkflow persists a new record in CREATED state. It fails when a
// record with the same id already exists.
func (e *Engine) CreateWorkflow(ctx context.Context, rec *domain.WorkflowRecord) error {
	if !rec.Type.Valid() {
		return fmt.Errorf("unknown workflow type %q", rec.Type)
	}
	if err := e.repo.Create(ctx, rec); err != nil {
		return err
	}

	e.metrics.WorkflowCreated(rec.Type)
	e.emit(domain.EventWorkflowCreated, rec, rec.Step, "")
	e.log.Info("workflow created", "workflow_id", rec.ID, "type", rec.Type, "signer", rec.Signer)
	return nil
}

// StartWorkflow loads the record and executes steps until it reaches a
// terminal state or stalls. Safe to invoke concurrently for different ids;
// concurrent invocations for the same id serialize on the per-id lock. Calling
// it on a STALLED record resumes at the same step with attempts preserved;
// calling it on a terminal record is a no-op.
func (e *Engine) StartWorkflow(ctx context.Context, id uuid.UUID) error {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsTerminal() {
		return nil
	}

	if rec.State != domain.StateRunning {
		rec.State = domain.StateRunning
		if err := e.repo.Update(ctx, rec); err != nil {
			return err
		}
		e.metrics.WorkflowStarted(rec.Type)
		e.emit(domain.EventWorkflowStarted, rec, rec.Step, "")
	}

	return e.runSteps(ctx, rec)
}

// ResumeActive restarts every non-terminal workflow, a bounded number at a
// time. Run after the startup reconciliation sweep.
func (e *Engine) ResumeActive(ctx context.Context) error {
	active, err := e.repo.ListActive(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, rec := range active {
		id := rec.ID
		g.Go(func() error {
			if err := e.StartWorkflow(gctx, id); err != nil {
				e.log.Error("resume failed", "workflow_id", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) runSteps(ctx context.Context, rec *domain.WorkflowRecord) error {
	for {
		def, err := e.registry.Definition(rec.Type, rec.Step)
		if err != nil {
			return err
		}

		if rec.StepAttempts > 0 {
			e.metrics.StepRetried(rec.Type, rec.Step)
		}

		patch, stepErr := e.executeStep(ctx, def, rec)
		if stepErr == nil {
			if done, err := e.completeStep(ctx, rec, def.Name, patch); err != nil || done {
				return err
			}
			continue
		}

		if ce, ok := domain.AsCorrectness(stepErr); ok {
			return e.failWorkflow(ctx, rec, ce)
		}
		return e.stallWorkflow(ctx, rec, stepErr)
	}
}

// executeStep runs the idempotency predicate and, if the effect is not
// already present, the step body — all under the step's timeout guard.
func (e *Engine) executeStep(ctx context.Context, def StepDefinition, rec *domain.WorkflowRecord) (map[string]any, error) {
	return runWithTimeout(ctx, def.Timeout, func(ctx context.Context) (map[string]any, error) {
		if def.AlreadyDone != nil {
			patch, done, err := def.AlreadyDone(ctx, rec)
			if err != nil {
				// The predicate could not be answered; submitting
				// blind risks a duplicate, so stall instead.
				return nil, operational(err, "idempotency check for "+string(def.Name))
			}
			if done {
				e.log.Info("step effect already present, skipping execution",
					"workflow_id", rec.ID, "step", def.Name)
				return patch, nil
			}
		}
		return def.Run(ctx, rec)
	})
}

// completeStep merges the patch, advances or completes the record, and
// persists. Returns done=true when the workflow reached COMPLETED.
func (e *Engine) completeStep(ctx context.Context, rec *domain.WorkflowRecord, completed domain.StepName, patch map[string]any) (bool, error) {
	rec.MergeProgress(patch)

	next, hasNext := domain.NextStep(rec.Type, completed)
	if hasNext {
		rec.AdvanceTo(next)
		if err := e.repo.Update(ctx, rec); err != nil {
			return false, err
		}
		e.metrics.StepCompleted(rec.Type, completed)
		e.emit(domain.EventStepCompleted, rec, completed, "")
		return false, nil
	}

	rec.State = domain.StateCompleted
	rec.StepAttempts = 0
	if err := e.repo.Update(ctx, rec); err != nil {
		return false, err
	}
	e.metrics.StepCompleted(rec.Type, completed)
	e.emit(domain.EventStepCompleted, rec, completed, "")
	e.metrics.WorkflowCompleted(rec.Type)
	e.emit(domain.EventWorkflowCompleted, rec, completed, "")
	e.log.Info("workflow completed", "workflow_id", rec.ID, "type", rec.Type)
	return true, nil
}

// stallWorkflow records a non-terminal pause. The record stays at the same
// step and is eligible for retry and reconciliation.
func (e *Engine) stallWorkflow(ctx context.Context, rec *domain.WorkflowRecord, cause error) error {
	code := domain.CodeUnavailable
	if oe, ok := domain.AsOperational(cause); ok {
		code = oe.Code
	}

	rec.StepAttempts++
	rec.State = domain.StateStalled
	if err := e.repo.Update(ctx, rec); err != nil {
		return err
	}

	if code == domain.CodeTimeout {
		e.metrics.StepTimedOut(rec.Type, rec.Step)
	}
	e.metrics.WorkflowStalled(rec.Type, code)
	e.emit(domain.EventWorkflowStalled, rec, rec.Step, code)
	e.log.Warn("workflow stalled",
		"workflow_id", rec.ID, "step", rec.Step, "attempts", rec.StepAttempts, "reason", code, "error", cause)
	return nil
}

// failWorkflow records a terminal correctness failure. Never retried.
func (e *Engine) failWorkflow(ctx context.Context, rec *domain.WorkflowRecord, ce *domain.CorrectnessError) error {
	rec.State = domain.StateFailed
	rec.SetError(domain.WorkflowError{
		Step:    rec.Step,
		Code:    ce.Code,
		Message: ce.Message,
	})
	if err := e.repo.Update(ctx, rec); err != nil {
		return err
	}

	e.metrics.WorkflowFailed(rec.Type, ce.Code)
	e.emit(domain.EventWorkflowFailed, rec, rec.Step, ce.Code)
	e.log.Error("workflow failed",
		"workflow_id", rec.ID, "step", rec.Step, "code", ce.Code, "message", ce.Message)
	return nil
}
