package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
)

// Repository is an in-memory ports.WorkflowRepository. It backs tests and
// local development; it honors the same optimistic-concurrency contract as
// the postgres implementation.
type Repository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*domain.WorkflowRecord
}

func NewRepository() *Repository {
	return &Repository{records: make(map[uuid.UUID]*domain.WorkflowRecord)}
}

func clone(r *domain.WorkflowRecord) *domain.WorkflowRecord {
	cp := *r
	if r.Progress != nil {
		cp.Progress = make(map[string]any, len(r.Progress))
		for k, v := range r.Progress {
			cp.Progress[k] = v
		}
	}
	if r.Input != nil {
		cp.Input = append([]byte(nil), r.Input...)
	}
	if r.Error != nil {
		cp.Error = append([]byte(nil), r.Error...)
	}
	return &cp
}

func (m *Repository) Create(_ context.Context, record *domain.WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.ID]; exists {
		return ports.ErrDuplicateID
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	m.records[record.ID] = clone(record)
	return nil
}

func (m *Repository) GetByID(_ context.Context, id uuid.UUID) (*domain.WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return clone(record), nil
}

func (m *Repository) Update(_ context.Context, record *domain.WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[record.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if stored.Version != record.Version {
		return ports.ErrVersionConflict
	}

	record.Version++
	record.UpdatedAt = time.Now()
	m.records[record.ID] = clone(record)
	return nil
}

func (m *Repository) list(filter func(*domain.WorkflowRecord) bool) []domain.WorkflowRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.WorkflowRecord
	for _, record := range m.records {
		if filter(record) {
			out = append(out, *clone(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Repository) ListByTypeAndState(_ context.Context, t domain.WorkflowType, s domain.WorkflowState) ([]domain.WorkflowRecord, error) {
	return m.list(func(r *domain.WorkflowRecord) bool {
		return r.Type == t && r.State == s
	}), nil
}

func (m *Repository) ListActive(_ context.Context) ([]domain.WorkflowRecord, error) {
	return m.list(func(r *domain.WorkflowRecord) bool {
		return !r.State.IsTerminal()
	}), nil
}

func (m *Repository) ListByStudio(_ context.Context, studio string) ([]domain.WorkflowRecord, error) {
	studio = strings.ToLower(studio)
	return m.list(func(r *domain.WorkflowRecord) bool {
		return r.Studio == studio
	}), nil
}

func (m *Repository) CountActive(ctx context.Context) (int64, error) {
	active, _ := m.ListActive(ctx)
	return int64(len(active)), nil
}

func (m *Repository) CountActiveByType(_ context.Context, t domain.WorkflowType) (int64, error) {
	return int64(len(m.list(func(r *domain.WorkflowRecord) bool {
		return r.Type == t && !r.State.IsTerminal()
	}))), nil
}

func (m *Repository) CountActiveBySigner(_ context.Context, signer string) (int64, error) {
	signer = strings.ToLower(signer)
	return int64(len(m.list(func(r *domain.WorkflowRecord) bool {
		return r.Signer == signer && !r.State.IsTerminal()
	}))), nil
}

func (m *Repository) ActiveCounts(ctx context.Context) (ports.ActiveCounts, error) {
	counts := ports.ActiveCounts{
		ByType:   make(map[domain.WorkflowType]int64),
		BySigner: make(map[string]int64),
	}
	active, _ := m.ListActive(ctx)
	for _, record := range active {
		counts.Total++
		counts.ByType[record.Type]++
		counts.BySigner[record.Signer]++
	}
	return counts, nil
}
