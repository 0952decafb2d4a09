package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
)

func newRecord(t *testing.T, signer, studio string) *domain.WorkflowRecord {
	t.Helper()
	rec, err := domain.NewWorkflowRecord(domain.TypeWorkSubmission, map[string]any{}, signer, studio)
	require.NoError(t, err)
	return rec
}

func TestCreateAndGet(t *testing.T) {
	repo := NewRepository()
	rec := newRecord(t, "0xSigner", "0xStudio")

	require.NoError(t, repo.Create(context.Background(), rec))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "0xsigner", got.Signer)
	assert.Equal(t, "0xstudio", got.Studio)
	assert.Equal(t, 1, got.Version)
}

func TestCreateDuplicateID(t *testing.T) {
	repo := NewRepository()
	rec := newRecord(t, "0xa", "0xb")

	require.NoError(t, repo.Create(context.Background(), rec))
	assert.ErrorIs(t, repo.Create(context.Background(), rec), ports.ErrDuplicateID)
}

func TestGetUnknownID(t *testing.T) {
	repo := NewRepository()
	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestUpdateBumpsVersion(t *testing.T) {
	repo := NewRepository()
	rec := newRecord(t, "0xa", "0xb")
	require.NoError(t, repo.Create(context.Background(), rec))

	rec.State = domain.StateRunning
	require.NoError(t, repo.Update(context.Background(), rec))
	assert.Equal(t, 2, rec.Version)

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, got.State)
	assert.Equal(t, 2, got.Version)
}

func TestUpdateDetectsVersionConflict(t *testing.T) {
	repo := NewRepository()
	rec := newRecord(t, "0xa", "0xb")
	require.NoError(t, repo.Create(context.Background(), rec))

	first, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)

	first.State = domain.StateRunning
	require.NoError(t, repo.Update(context.Background(), first))

	second.State = domain.StateStalled
	assert.ErrorIs(t, repo.Update(context.Background(), second), ports.ErrVersionConflict)

	// The stale writer lost; the first write stands.
	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, got.State)
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	repo := NewRepository()
	rec := newRecord(t, "0xa", "0xb")
	rec.MergeProgress(map[string]any{"k": "v"})
	require.NoError(t, repo.Create(context.Background(), rec))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	got.Progress["k"] = "mutated"
	got.State = domain.StateFailed

	again, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", again.Progress["k"])
	assert.Equal(t, domain.StateCreated, again.State)
}

func TestListActiveExcludesTerminal(t *testing.T) {
	repo := NewRepository()

	active := newRecord(t, "0xa", "0xb")
	require.NoError(t, repo.Create(context.Background(), active))

	done := newRecord(t, "0xa", "0xb")
	done.State = domain.StateCompleted
	require.NoError(t, repo.Create(context.Background(), done))

	failed := newRecord(t, "0xa", "0xb")
	failed.State = domain.StateFailed
	require.NoError(t, repo.Create(context.Background(), failed))

	got, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)

	total, err := repo.CountActive(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestListByStudioIgnoresCase(t *testing.T) {
	repo := NewRepository()
	rec := newRecord(t, "0xa", "0xStudio")
	require.NoError(t, repo.Create(context.Background(), rec))

	got, err := repo.ListByStudio(context.Background(), "0xSTUDIO")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
}
