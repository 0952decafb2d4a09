package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
	"studio-gateway/internal/engine"
	"studio-gateway/pkg/logger"
)

// Reconciler re-derives a non-terminal workflow's true position from external
// ground truth and corrects the record when its belief has diverged — the
// canonical case being a crash between submitting an external effect and
// recording the result. It only establishes facts: it never produces FAILED.
type Reconciler struct {
	repo     ports.WorkflowRepository
	registry engine.Registry
	metrics  ports.MetricsSink
	log      *logger.Logger

	listenerMu sync.RWMutex
	listeners  []domain.LifecycleListener
}

func New(repo ports.WorkflowRepository, registry engine.Registry, metrics ports.MetricsSink, log *logger.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		registry: registry,
		metrics:  metrics,
		log:      log,
	}
}

// AddListener registers a synchronous lifecycle listener for
// WORKFLOW_RECONCILED events.
func (r *Reconciler) AddListener(l domain.LifecycleListener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Reconciler) emit(rec *domain.WorkflowRecord, reason string) {
	event := domain.LifecycleEvent{
		Kind:       domain.EventWorkflowReconciled,
		WorkflowID: rec.ID,
		Type:       rec.Type,
		State:      rec.State,
		Step:       rec.Step,
		Reason:     reason,
		At:         time.Now(),
	}

	r.listenerMu.RLock()
	listeners := make([]domain.LifecycleListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenerMu.RUnlock()

	for _, l := range listeners {
		l.OnLifecycleEvent(event)
	}
}

// Reconcile checks the record's current step — and, after an advance, the
// step that followed it — against the external ground-truth predicates, and
// snaps the record to match reality. Terminal records are never touched. The
// repository's version check protects against a concurrently running engine
// loop; a conflict means someone else made progress, which is fine.
func (r *Reconciler) Reconcile(ctx context.Context, rec *domain.WorkflowRecord) (bool, *domain.WorkflowRecord, error) {
	if rec.IsTerminal() {
		return false, rec, nil
	}

	changed := false

	// One step of look-ahead: the current step's own effect, then the
	// following step's, checked once each.
	for range 2 {
		def, err := r.registry.Definition(rec.Type, rec.Step)
		if err != nil {
			return changed, rec, err
		}
		if def.AlreadyDone == nil {
			break
		}

		patch, done, err := def.AlreadyDone(ctx, rec)
		if err != nil {
			// Ground truth unavailable; leave the record as it
			// stands, eligible for a later pass.
			r.metrics.ReconciliationRan(changed)
			return changed, rec, nil
		}
		if !done {
			break
		}

		if len(patch) > 0 {
			rec.MergeProgress(patch)
			changed = true
		}

		next, hasNext := domain.NextStep(rec.Type, rec.Step)
		if !hasNext {
			// The final step's effect already landed; clear the
			// in-doubt attempt counter and let the engine complete
			// the workflow on resume.
			if rec.StepAttempts != 0 {
				rec.StepAttempts = 0
				changed = true
			}
			break
		}

		rec.AdvanceTo(next)
		changed = true
	}

	if changed {
		if err := r.repo.Update(ctx, rec); err != nil {
			if err == ports.ErrVersionConflict {
				r.log.Info("reconciliation lost the update race, skipping", "workflow_id", rec.ID)
				return false, rec, nil
			}
			return false, rec, err
		}
		r.emit(rec, "advanced to "+string(rec.Step))
		r.log.Info("workflow reconciled", "workflow_id", rec.ID, "step", rec.Step)
	}

	r.metrics.ReconciliationRan(changed)
	return changed, rec, nil
}

// ReconcileByID loads and reconciles one record; backs the on-demand
// reconcile endpoint.
func (r *Reconciler) ReconcileByID(ctx context.Context, id uuid.UUID) (bool, *domain.WorkflowRecord, error) {
	fresh, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return r.Reconcile(ctx, fresh)
}

// ReconcileActive runs reconciliation over every non-terminal record, a
// bounded number at a time. Must complete at process startup before the
// engine resumes and before new admissions are accepted.
func (r *Reconciler) ReconcileActive(ctx context.Context) error {
	active, err := r.repo.ListActive(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range active {
		rec := active[i]
		g.Go(func() error {
			if _, _, err := r.Reconcile(gctx, &rec); err != nil {
				r.log.Error("reconciliation failed", "workflow_id", rec.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
