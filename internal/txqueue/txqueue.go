package txqueue

import (
	"context"
	"strings"
	"sync"
	"time"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
)

// Queue serializes ledger writes per signing identity so transaction nonces
// are assigned gap-free and in submission order, while different signers
// proceed in parallel. Each signer gets a dedicated dispatch lane; the nonce
// is fetched immediately before dispatch to shrink the race window against
// externally originated transactions from the same identity.
type Queue struct {
	client  ports.ChainClient
	metrics ports.MetricsSink

	mu    sync.Mutex
	lanes map[string]*lane
}

type submitResult struct {
	txHash string
	err    error
}

type submission struct {
	ctx context.Context
	req ports.TxRequest
	res chan submitResult
}

type lane struct {
	ch chan submission
}

func New(client ports.ChainClient, metrics ports.MetricsSink) *Queue {
	return &Queue{
		client:  client,
		metrics: metrics,
		lanes:   make(map[string]*lane),
	}
}

func (q *Queue) laneFor(signer string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[signer]
	if !ok {
		l = &lane{ch: make(chan submission, 64)}
		q.lanes[signer] = l
		go q.dispatch(signer, l)
	}
	return l
}

// dispatch drains one signer's lane strictly in arrival order.
func (q *Queue) dispatch(signer string, l *lane) {
	for sub := range l.ch {
		nonce, err := q.client.GetNonce(sub.ctx, signer)
		if err != nil {
			sub.res <- submitResult{err: domain.Operational(domain.CodeUnavailable, "fetch nonce", err)}
			continue
		}

		txHash, err := q.client.SubmitTx(sub.ctx, signer, sub.req, nonce)
		if err != nil {
			sub.res <- submitResult{err: err}
			continue
		}

		q.metrics.TxSubmitted(signer)
		sub.res <- submitResult{txHash: txHash}
	}
}

// Submit enqueues a transaction on the signer's lane and blocks until it has
// been dispatched to the ledger (or rejected).
func (q *Queue) Submit(ctx context.Context, signer string, req ports.TxRequest) (string, error) {
	l := q.laneFor(strings.ToLower(signer))

	sub := submission{ctx: ctx, req: req, res: make(chan submitResult, 1)}
	select {
	case l.ch <- sub:
	case <-ctx.Done():
		return "", domain.Operational(domain.CodeUnavailable, "tx queue enqueue", ctx.Err())
	}

	select {
	case res := <-sub.res:
		return res.txHash, res.err
	case <-ctx.Done():
		// The lane may still dispatch the transaction; reconciliation
		// picks that up later.
		return "", domain.Operational(domain.CodeUnavailable, "tx queue wait", ctx.Err())
	}
}

// AwaitConfirmation waits up to timeout for the transaction receipt. A
// missing receipt within the window is operational, not a failure verdict.
func (q *Queue) AwaitConfirmation(ctx context.Context, signer, txHash string, timeout time.Duration) (*ports.TxReceipt, error) {
	receipt, err := q.client.WaitForConfirmation(ctx, txHash, timeout)
	if err != nil {
		if domain.IsOperational(err) {
			return nil, err
		}
		return nil, domain.Operational(domain.CodeUnavailable, "await confirmation", err)
	}
	if receipt == nil {
		return nil, domain.Operational(domain.CodeNotConfirmed, "transaction "+txHash+" not confirmed within window", nil)
	}

	signer = strings.ToLower(signer)
	if receipt.Reverted() {
		q.metrics.TxReverted(signer)
	} else {
		q.metrics.TxConfirmed(signer)
	}
	return receipt, nil
}
