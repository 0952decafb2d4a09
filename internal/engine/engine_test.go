package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-gateway/internal/core/memory"
	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
	"studio-gateway/internal/metrics"
	"studio-gateway/internal/txqueue"
	"studio-gateway/pkg/logger"
)

const (
	testStudio   = "0x00000000000000000000000000000000000000aa"
	testAgent    = "0x00000000000000000000000000000000000000ab"
	testWorker   = "0x00000000000000000000000000000000000000ad"
	testSigner   = "0x00000000000000000000000000000000000000ac"
	testOperator = "0x00000000000000000000000000000000000000ff"
	testRewards  = "0x00000000000000000000000000000000000000ee"
)

var (
	testDataHash     = "0x" + strings.Repeat("11", 32)
	testThreadRoot   = "0x" + strings.Repeat("22", 32)
	testEvidenceRoot = "0x" + strings.Repeat("33", 32)
	testSalt         = "0x" + strings.Repeat("44", 32)
)

type fakeTx struct {
	signer string
	to     string
	nonce  uint64
}

type fakeChainClient struct {
	mu        sync.Mutex
	nonces    map[string]uint64
	submitted []fakeTx

	submitErr error
	noReceipt bool
}

func newFakeChainClient() *fakeChainClient {
	return &fakeChainClient{nonces: make(map[string]uint64)}
}

func (c *fakeChainClient) GetNonce(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[address], nil
}

func (c *fakeChainClient) SubmitTx(_ context.Context, signer string, req ports.TxRequest, nonce uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.nonces[signer]++
	c.submitted = append(c.submitted, fakeTx{signer: signer, to: req.To, nonce: nonce})
	return fmt.Sprintf("0xtx%d", len(c.submitted)), nil
}

func (c *fakeChainClient) GetTxReceipt(ctx context.Context, txHash string) (*ports.TxReceipt, error) {
	return c.WaitForConfirmation(ctx, txHash, 0)
}

func (c *fakeChainClient) WaitForConfirmation(_ context.Context, txHash string, _ time.Duration) (*ports.TxReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noReceipt {
		return nil, nil
	}
	return &ports.TxReceipt{TxHash: txHash, BlockNumber: 42, Status: 1}, nil
}

func (c *fakeChainClient) submissions() []fakeTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakeTx(nil), c.submitted...)
}

type fakeChainState struct {
	mu                  sync.Mutex
	workExists          bool
	workSubmitter       string
	scoreExists         bool
	scoreSubmitter      string
	commitExists        bool
	commitHash          string
	workRegistered      bool
	validatorRegistered bool
	epochClosed         bool
	err                 error
}

func (s *fakeChainState) get(b *bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return *b, nil
}

func (s *fakeChainState) getValue(b *bool, v *string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, "", s.err
	}
	return *b, *v, nil
}

func (s *fakeChainState) set(b *bool, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*b = v
}

func (s *fakeChainState) WorkExists(context.Context, string, uint64, string) (bool, string, error) {
	return s.getValue(&s.workExists, &s.workSubmitter)
}

func (s *fakeChainState) ScoreExists(context.Context, string, uint64, string, string) (bool, string, error) {
	return s.getValue(&s.scoreExists, &s.scoreSubmitter)
}

func (s *fakeChainState) CommitExists(context.Context, string, uint64, string) (bool, string, error) {
	return s.getValue(&s.commitExists, &s.commitHash)
}

func (s *fakeChainState) WorkRegistered(context.Context, string, uint64, string, string) (bool, error) {
	return s.get(&s.workRegistered)
}

func (s *fakeChainState) ValidatorRegistered(context.Context, string, uint64, string) (bool, error) {
	return s.get(&s.validatorRegistered)
}

func (s *fakeChainState) EpochClosed(context.Context, string, uint64) (bool, error) {
	return s.get(&s.epochClosed)
}

type fakeStore struct {
	mu        sync.Mutex
	uploads   int
	status    ports.StorageStatus
	uploadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{status: ports.StorageConfirmed}
}

func (f *fakeStore) Upload(context.Context, []byte, map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	return fmt.Sprintf("ar-%d", f.uploads), nil
}

func (f *fakeStore) IsConfirmed(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status == ports.StorageConfirmed, nil
}

func (f *fakeStore) GetStatus(context.Context, string) (ports.StorageStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeStore) Retrieve(context.Context, string) ([]byte, error) { return nil, nil }

func (f *fakeStore) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func testTimeouts() StepTimeouts {
	return StepTimeouts{
		Upload:  time.Second,
		Submit:  time.Second,
		Confirm: 100 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, client *fakeChainClient, state *fakeChainState, store *fakeStore) (*Engine, *memory.Repository) {
	t.Helper()

	registry := NewRegistry(Dependencies{
		Queue:    txqueue.New(client, metrics.Noop{}),
		State:    state,
		Store:    store,
		Rewards:  testRewards,
		Operator: testOperator,
		Timeouts: testTimeouts(),
	})
	repo := memory.NewRepository()
	eng, err := New(repo, registry, metrics.Noop{}, logger.Nop())
	require.NoError(t, err)
	return eng, repo
}

func workInput() domain.WorkSubmissionInput {
	return domain.WorkSubmissionInput{
		StudioAddress: testStudio,
		Epoch:         7,
		AgentAddress:  testAgent,
		DataHash:      testDataHash,
		ThreadRoot:    testThreadRoot,
		EvidenceRoot:  testEvidenceRoot,
		Evidence:      []byte(`{"thread":"..."}`),
		Signer:        testSigner,
	}
}

func mustRecord(t *testing.T, typ domain.WorkflowType, input any) *domain.WorkflowRecord {
	t.Helper()
	rec, err := domain.NewWorkflowRecord(typ, input, testSigner, testStudio)
	require.NoError(t, err)
	return rec
}

func TestWorkSubmissionRunsToCompletion(t *testing.T) {
	client := newFakeChainClient()
	eng, repo := newTestEngine(t, client, &fakeChainState{}, newFakeStore())

	rec := mustRecord(t, domain.TypeWorkSubmission, workInput())
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Zero(t, got.StepAttempts)
	_, hasErr := got.GetError()
	assert.False(t, hasErr)

	assert.Equal(t, "ar-1", got.ProgressString(domain.ProgressArweaveTxID))
	assert.NotEmpty(t, got.ProgressString(domain.ProgressWorkTxHash))
	assert.NotEmpty(t, got.ProgressString(domain.ProgressRegisterTxHash))
	assert.EqualValues(t, 42, got.Progress[domain.ProgressWorkBlock])
	assert.EqualValues(t, 42, got.Progress[domain.ProgressRegisterBlock])

	subs := client.submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, testSigner, subs[0].signer)
	assert.Equal(t, testStudio, subs[0].to)
	assert.Equal(t, testOperator, subs[1].signer)
	assert.Equal(t, testRewards, subs[1].to)
}

func TestExplicitRejectionFailsTerminally(t *testing.T) {
	client := newFakeChainClient()
	client.submitErr = domain.Correctness(domain.CodeRejected, "unknown account "+testSigner)
	store := newFakeStore()
	eng, repo := newTestEngine(t, client, &fakeChainState{}, store)

	rec := mustRecord(t, domain.TypeWorkSubmission, workInput())
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)

	we, ok := got.GetError()
	require.True(t, ok)
	assert.Equal(t, domain.StepSubmitWorkOnchain, we.Step)
	assert.Equal(t, domain.CodeRejected, we.Code)
	assert.Contains(t, we.Message, "unknown account")

	// FAILED is final: another start is a no-op and retries nothing.
	uploads := store.uploadCount()
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))
	got, err = repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, uploads, store.uploadCount())
	assert.Empty(t, client.submissions())
}

func TestOperationalFailureStallsThenRetrySucceeds(t *testing.T) {
	client := newFakeChainClient()
	store := newFakeStore()
	store.uploadErr = domain.Operational(domain.CodeUnavailable, "bundler unreachable", nil)
	eng, repo := newTestEngine(t, client, &fakeChainState{}, store)

	rec := mustRecord(t, domain.TypeWorkSubmission, workInput())
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateStalled, got.State)
	assert.Equal(t, domain.StepUploadEvidence, got.Step)
	assert.Equal(t, 1, got.StepAttempts)
	_, hasErr := got.GetError()
	assert.False(t, hasErr)

	store.mu.Lock()
	store.uploadErr = nil
	store.mu.Unlock()

	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))
	got, err = repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
}

func TestResumeSkipsStepsWhoseEffectAlreadyLanded(t *testing.T) {
	client := newFakeChainClient()
	state := &fakeChainState{workExists: true, workSubmitter: testSigner}
	eng, repo := newTestEngine(t, client, state, newFakeStore())

	// A record that stalled mid-submission after its transaction actually
	// landed, e.g. a crash between dispatch and persistence.
	rec := mustRecord(t, domain.TypeWorkSubmission, workInput())
	rec.State = domain.StateStalled
	rec.Step = domain.StepSubmitWorkOnchain
	rec.StepAttempts = 1
	rec.MergeProgress(map[string]any{domain.ProgressArweaveTxID: "ar-1"})
	require.NoError(t, repo.Create(context.Background(), rec))

	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)

	// The discovered commitment leaves its submitter in progress even
	// though we never dispatched the transaction ourselves.
	assert.Equal(t, testSigner, got.ProgressString(domain.ProgressWorkSubmitter))

	// The landed commitment is never submitted a second time; only the
	// registration call goes out.
	subs := client.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, testOperator, subs[0].signer)
	assert.Equal(t, testRewards, subs[0].to)
}

func TestCommitRevealRejectsForeignCommitment(t *testing.T) {
	client := newFakeChainClient()
	// A commitment already on chain under the validator that does not
	// match the submitted scores. Revealing can never succeed.
	state := &fakeChainState{
		commitExists: true,
		commitHash:   "0x" + strings.Repeat("ab", 32),
	}
	eng, repo := newTestEngine(t, client, state, newFakeStore())

	input := domain.ScoreSubmissionInput{
		StudioAddress:    testStudio,
		Epoch:            7,
		ValidatorAddress: testSigner,
		WorkerAddress:    testWorker,
		DataHash:         testDataHash,
		Scores:           []uint64{80, 90},
		Mode:             domain.ScoreModeCommitReveal,
		Salt:             testSalt,
		Signer:           testSigner,
	}
	rec := mustRecord(t, domain.TypeScoreSubmission, input)
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	stepErr, ok := got.GetError()
	require.True(t, ok)
	assert.Equal(t, domain.CodeRejected, stepErr.Code)
	assert.Empty(t, client.submissions())
}

func TestScoreSubmissionCommitReveal(t *testing.T) {
	client := newFakeChainClient()
	eng, repo := newTestEngine(t, client, &fakeChainState{}, newFakeStore())

	input := domain.ScoreSubmissionInput{
		StudioAddress:    testStudio,
		Epoch:            7,
		ValidatorAddress: testSigner,
		WorkerAddress:    testWorker,
		DataHash:         testDataHash,
		Scores:           []uint64{90, 75, 100},
		Mode:             domain.ScoreModeCommitReveal,
		Salt:             testSalt,
		Signer:           testSigner,
	}
	rec := mustRecord(t, domain.TypeScoreSubmission, input)
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)

	commitTx := got.ProgressString(domain.ProgressCommitTxHash)
	revealTx := got.ProgressString(domain.ProgressRevealTxHash)
	assert.NotEmpty(t, commitTx)
	assert.NotEmpty(t, revealTx)
	assert.NotEqual(t, commitTx, revealTx)
	assert.Equal(t, revealTx, got.ProgressString(domain.ProgressScoreTxHash))

	// Commit, reveal, then the operator-side validator registration.
	subs := client.submissions()
	require.Len(t, subs, 3)
	assert.Equal(t, testSigner, subs[0].signer)
	assert.Equal(t, testSigner, subs[1].signer)
	assert.Equal(t, testOperator, subs[2].signer)
}

func TestScoreSubmissionDirect(t *testing.T) {
	client := newFakeChainClient()
	eng, repo := newTestEngine(t, client, &fakeChainState{}, newFakeStore())

	input := domain.ScoreSubmissionInput{
		StudioAddress:    testStudio,
		Epoch:            7,
		ValidatorAddress: testSigner,
		WorkerAddress:    testWorker,
		DataHash:         testDataHash,
		Scores:           []uint64{88},
		Mode:             domain.ScoreModeDirect,
		Signer:           testSigner,
	}
	rec := mustRecord(t, domain.TypeScoreSubmission, input)
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Empty(t, got.ProgressString(domain.ProgressCommitTxHash))
	assert.NotEmpty(t, got.ProgressString(domain.ProgressScoreTxHash))
	require.Len(t, client.submissions(), 2)
}

func TestCloseEpochRunsToCompletion(t *testing.T) {
	client := newFakeChainClient()
	eng, repo := newTestEngine(t, client, &fakeChainState{}, newFakeStore())

	input := domain.CloseEpochInput{StudioAddress: testStudio, Epoch: 7, Signer: testSigner}
	rec := mustRecord(t, domain.TypeCloseEpoch, input)
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.NotEmpty(t, got.ProgressString(domain.ProgressCloseTxHash))

	subs := client.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, testRewards, subs[0].to)
}

func TestStartWorkflowOnTerminalRecordIsNoOp(t *testing.T) {
	client := newFakeChainClient()
	store := newFakeStore()
	eng, repo := newTestEngine(t, client, &fakeChainState{}, store)

	rec := mustRecord(t, domain.TypeWorkSubmission, workInput())
	rec.State = domain.StateCompleted
	require.NoError(t, repo.Create(context.Background(), rec))

	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))
	assert.Zero(t, store.uploadCount())
	assert.Empty(t, client.submissions())
}

func TestResumeActiveFinishesAllNonTerminal(t *testing.T) {
	client := newFakeChainClient()
	eng, repo := newTestEngine(t, client, &fakeChainState{}, newFakeStore())

	for range 3 {
		rec := mustRecord(t, domain.TypeWorkSubmission, workInput())
		rec.State = domain.StateStalled
		require.NoError(t, repo.Create(context.Background(), rec))
	}

	require.NoError(t, eng.ResumeActive(context.Background()))

	active, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCreateWorkflowRejectsDuplicateID(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeChainClient(), &fakeChainState{}, newFakeStore())

	rec := mustRecord(t, domain.TypeWorkSubmission, workInput())
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	assert.ErrorIs(t, eng.CreateWorkflow(context.Background(), rec), ports.ErrDuplicateID)
}

func TestLifecycleEventsEmittedInOrder(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeChainClient(), &fakeChainState{}, newFakeStore())

	var mu sync.Mutex
	var kinds []domain.EventKind
	eng.AddListener(domain.ListenerFunc(func(e domain.LifecycleEvent) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, e.Kind)
	}))

	rec := mustRecord(t, domain.TypeCloseEpoch, domain.CloseEpochInput{
		StudioAddress: testStudio, Epoch: 7, Signer: testSigner,
	})
	require.NoError(t, eng.CreateWorkflow(context.Background(), rec))
	require.NoError(t, eng.StartWorkflow(context.Background(), rec.ID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.EventKind{
		domain.EventWorkflowCreated,
		domain.EventWorkflowStarted,
		domain.EventStepCompleted,
		domain.EventStepCompleted,
		domain.EventWorkflowCompleted,
	}, kinds)
}

func TestRegistryMatchesCanonicalStepLists(t *testing.T) {
	registry := NewRegistry(Dependencies{
		Queue:    txqueue.New(newFakeChainClient(), metrics.Noop{}),
		State:    &fakeChainState{},
		Store:    newFakeStore(),
		Rewards:  testRewards,
		Operator: testOperator,
		Timeouts: DefaultStepTimeouts(),
	})
	require.NoError(t, registry.Validate())

	for _, typ := range []domain.WorkflowType{domain.TypeWorkSubmission, domain.TypeScoreSubmission, domain.TypeCloseEpoch} {
		for _, step := range domain.Steps(typ) {
			def, err := registry.Definition(typ, step)
			require.NoError(t, err)
			assert.Equal(t, step, def.Name)
			assert.NotNil(t, def.Run)
			assert.Positive(t, def.Timeout)
		}
	}
}
