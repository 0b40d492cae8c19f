// Package txactor implements the Tx Actor (spec §4.7): a single-owner
// goroutine that holds the pending-send cache and per-method latency
// histograms, reconciling pending transactions against block receipts.
// All cache/histogram mutation happens on the actor's own goroutine;
// callers interact only through the channel-backed Handle, the idiomatic
// Go analog of the single-consumer actor this package is modeled on.
package txactor

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/spamgen/spamgen/internal/histogram"
)

// State is the actor's lifecycle position (spec §4.7 state machine).
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// PendingTx is a submitted transaction awaiting block inclusion.
type PendingTx struct {
	TxHash    common.Hash
	StartTsMs int64
	Kind      string
	Err       error
}

// RunTx is the reconciled output record for one transaction (spec §3).
type RunTx struct {
	TxHash      common.Hash
	StartTsMs   int64
	EndTsMs     *int64
	BlockNumber *uint64
	GasUsed     *uint64
	Kind        string
	Err         error
}

// ChainReader is the slice of the RPC collaborator the actor needs to
// reconcile pending sends against block receipts (spec §4.7: always by
// block, never a per-tx receipt poll).
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockReceipts(ctx context.Context, number *big.Int) ([]*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Sink is the persistence collaborator's RunTx ingestion surface (spec §6.2
// insert_run_txs).
type Sink interface {
	InsertRunTxs(ctx context.Context, runID string, txs []RunTx) error
}

type cacheTxCmd struct {
	tx    PendingTx
	reply chan error
}

type flushCmd struct {
	runID     string
	fromBlock uint64
	reply     chan flushResult
}

type flushResult struct {
	remaining int
	err       error
}

type recordLatencyCmd struct {
	method    string
	elapsedMs float64
}

type dumpCmd struct {
	runID string
	reply chan dumpResult
}

type dumpResult struct {
	count int
	err   error
}

type stopCmd struct {
	done chan struct{}
}

// Handle is the external interface to a running actor. All methods are
// safe to call from multiple goroutines.
type Handle struct {
	cacheTxs      chan cacheTxCmd
	flushes       chan flushCmd
	recordLatency chan recordLatencyCmd
	dumps         chan dumpCmd
	stops         chan stopCmd
	state         int32 // atomic State
	recorder      *histogram.Recorder
	exited        chan struct{}
}

// Start launches the actor goroutine and returns a Handle. bufSize bounds
// the CacheTx/RecordLatency channels; 0 makes them synchronous.
func Start(rpc ChainReader, sink Sink, bufSize int) *Handle {
	h := &Handle{
		cacheTxs:      make(chan cacheTxCmd, bufSize),
		flushes:       make(chan flushCmd),
		recordLatency: make(chan recordLatencyCmd, bufSize),
		dumps:         make(chan dumpCmd),
		stops:         make(chan stopCmd),
		recorder:      histogram.NewRecorder(),
		exited:        make(chan struct{}),
	}
	atomic.StoreInt32(&h.state, int32(StateIdle))

	go h.run(rpc, sink)
	return h
}

// State reports the actor's current lifecycle state.
func (h *Handle) State() State {
	return State(atomic.LoadInt32(&h.state))
}

// CacheTx appends a PendingTx to the cache. Accepted only while Idle; once
// Draining has begun it returns an error rather than silently dropping the
// entry, so callers know to stop sending.
func (h *Handle) CacheTx(ctx context.Context, tx PendingTx) error {
	if h.State() != StateIdle {
		return fmt.Errorf("txactor: not accepting CacheTx in state %s", h.State())
	}
	reply := make(chan error, 1)
	select {
	case h.cacheTxs <- cacheTxCmd{tx: tx, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushCache scans blocks from fromBlock to the current head, reconciles
// any cached tx whose hash appears in a block's receipts, and returns the
// number of entries still pending.
func (h *Handle) FlushCache(ctx context.Context, runID string, fromBlock uint64) (int, error) {
	reply := make(chan flushResult, 1)
	select {
	case h.flushes <- flushCmd{runID: runID, fromBlock: fromBlock, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.remaining, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// RecordLatency records one RPC round-trip observation for method.
func (h *Handle) RecordLatency(method string, elapsedMs float64) {
	h.recordLatency <- recordLatencyCmd{method: method, elapsedMs: elapsedMs}
}

// Recorder exposes the underlying histogram recorder for read access
// (quantile reporting), safe to call concurrently with the actor loop since
// the recorder's own internals are thread-safe (prometheus histograms are).
func (h *Handle) Recorder() *histogram.Recorder {
	return h.recorder
}

// DumpCache commits every remaining pending entry as a RunTx with no
// end_ts/block_number, for end-of-run or timeout flush.
func (h *Handle) DumpCache(ctx context.Context, runID string) (int, error) {
	reply := make(chan dumpResult, 1)
	select {
	case h.dumps <- dumpCmd{runID: runID, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.count, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop transitions the actor to Draining; it finishes any Flush in
// progress, then exits. Stop blocks until the actor has exited.
func (h *Handle) Stop(ctx context.Context) error {
	atomic.StoreInt32(&h.state, int32(StateDraining))
	done := make(chan struct{})
	select {
	case h.stops <- stopCmd{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the actor goroutine has exited.
func (h *Handle) Wait() {
	<-h.exited
}

func (h *Handle) run(rpc ChainReader, sink Sink) {
	cache := make(map[common.Hash]PendingTx)
	defer func() {
		atomic.StoreInt32(&h.state, int32(StateExited))
		close(h.exited)
	}()

	for {
		select {
		case cmd := <-h.cacheTxs:
			if _, exists := cache[cmd.tx.TxHash]; exists {
				cmd.reply <- fmt.Errorf("txactor: duplicate tx_hash %s in pending cache", cmd.tx.TxHash)
				continue
			}
			cache[cmd.tx.TxHash] = cmd.tx
			cmd.reply <- nil

		case cmd := <-h.recordLatency:
			h.recorder.Record(cmd.method, cmd.elapsedMs)

		case cmd := <-h.flushes:
			remaining, err := h.flush(rpc, sink, cmd.runID, cmd.fromBlock, cache)
			cmd.reply <- flushResult{remaining: remaining, err: err}

		case cmd := <-h.dumps:
			count, err := h.dump(sink, cmd.runID, cache)
			cmd.reply <- dumpResult{count: count, err: err}

		case cmd := <-h.stops:
			close(cmd.done)
			return
		}
	}
}

// flush implements FlushCache (spec §4.7): walk blocks [fromBlock, head],
// fetch receipts per block (never per-tx), reconcile matches, and leave
// everything else cached for the next tick.
func (h *Handle) flush(rpc ChainReader, sink Sink, runID string, fromBlock uint64, cache map[common.Hash]PendingTx) (int, error) {
	ctx := context.Background()
	head, err := rpc.BlockNumber(ctx)
	if err != nil {
		return len(cache), fmt.Errorf("txactor: fetching head: %w", err)
	}

	var confirmed []RunTx
	for n := fromBlock; n <= head; n++ {
		header, err := rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return len(cache), fmt.Errorf("txactor: fetching block %d header: %w", n, err)
		}
		if header == nil {
			continue
		}
		receipts, err := rpc.BlockReceipts(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return len(cache), fmt.Errorf("txactor: fetching block %d receipts: %w", n, err)
		}

		blockNum := header.Number.Uint64()
		endTs := int64(header.Time) * 1000
		for _, r := range receipts {
			pending, ok := cache[r.TxHash]
			if !ok {
				continue
			}
			gasUsed := r.GasUsed
			confirmed = append(confirmed, RunTx{
				TxHash:      pending.TxHash,
				StartTsMs:   pending.StartTsMs,
				EndTsMs:     &endTs,
				BlockNumber: &blockNum,
				GasUsed:     &gasUsed,
				Kind:        pending.Kind,
				Err:         pending.Err,
			})
			delete(cache, r.TxHash)
		}
	}

	if len(confirmed) > 0 {
		if err := sink.InsertRunTxs(ctx, runID, confirmed); err != nil {
			return len(cache), fmt.Errorf("txactor: inserting reconciled run txs: %w", err)
		}
	}
	return len(cache), nil
}

// dump implements DumpCache: commit every still-pending entry with no
// end_ts/block_number, then clear the cache.
func (h *Handle) dump(sink Sink, runID string, cache map[common.Hash]PendingTx) (int, error) {
	if len(cache) == 0 {
		return 0, nil
	}
	ctx := context.Background()
	unconfirmed := make([]RunTx, 0, len(cache))
	for hash, pending := range cache {
		unconfirmed = append(unconfirmed, RunTx{
			TxHash:    hash,
			StartTsMs: pending.StartTsMs,
			Kind:      pending.Kind,
			Err:       pending.Err,
		})
	}
	if err := sink.InsertRunTxs(ctx, runID, unconfirmed); err != nil {
		return 0, fmt.Errorf("txactor: inserting dumped run txs: %w", err)
	}
	count := len(cache)
	for hash := range cache {
		delete(cache, hash)
	}
	return count, nil
}
