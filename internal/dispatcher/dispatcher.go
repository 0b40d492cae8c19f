// Package dispatcher implements the Dispatcher (spec §4.6): it precomputes
// a chunked spam plan, drives it against a trigger source, and signs and
// submits transactions in parallel while preserving per-signer nonce order.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spamgen/spamgen/internal/abiutil"
	"github.com/spamgen/spamgen/internal/agents"
	"github.com/spamgen/spamgen/internal/nonce"
	"github.com/spamgen/spamgen/internal/plan"
	"github.com/spamgen/spamgen/internal/rpcclient"
	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/seeder"
	"github.com/spamgen/spamgen/internal/spamerr"
	"github.com/spamgen/spamgen/internal/template"
	"github.com/spamgen/spamgen/internal/txactor"
)

// retryBackoff is the fixed schedule for transient transport errors
// (spec §4.6: 3 attempts, 50ms/250ms/1.25s).
var retryBackoff = []time.Duration{50 * time.Millisecond, 250 * time.Millisecond, 1250 * time.Millisecond}

const (
	defaultGasLimit    = uint64(500_000)
	defaultGasPriceWei = 1_000_000_000 // 1 gwei, used only when eth_gasPrice itself fails
)

// Config parameterizes one dispatcher run.
type Config struct {
	TxsPerPeriod        int
	NumPeriods          int
	RunSeed             seeder.Seed
	Endpoint            string
	GasPriceBumpPercent int64

	// MaxConcurrency bounds how many submitters run at once within a chunk.
	// 0 means unbounded (one goroutine per chunk entry, the whole
	// txs_per_period width at once).
	MaxConcurrency int64
}

// Observer receives per-tx and per-batch hooks (spec §4.6 steps 2g/3). It
// exists purely for metrics/reporting; the dispatcher never blocks on it.
type Observer interface {
	OnSubmit(tx *types.Transaction, err error)
	OnBatch(periodIndex int)
}

// NopObserver implements Observer with no-ops.
type NopObserver struct{}

func (NopObserver) OnSubmit(*types.Transaction, error) {}
func (NopObserver) OnBatch(int)                        {}

// Dispatcher is the central state machine described in spec §4.6.
type Dispatcher struct {
	cfg      Config
	store    *agents.Store
	nonces   *nonce.Manager
	rpc      rpcclient.Client
	actor    *txactor.Handle
	observer Observer

	signerLocksMu sync.Mutex
	signerLocks   map[common.Address]*sync.Mutex

	fundsMu       sync.Mutex
	failedSigners map[common.Address]error

	// sem bounds concurrent submitters across the whole run, independent of
	// how wide a single chunk is (spec §5: txs_per_period parallel
	// submitters is the default). dispatchChunk still starts one goroutine
	// per chunk entry; the ones beyond the bound wait on sem before
	// submitting.
	sem *semaphore.Weighted
}

// New builds a Dispatcher. observer may be nil.
func New(cfg Config, store *agents.Store, nonces *nonce.Manager, rpc rpcclient.Client, actor *txactor.Handle, observer Observer) *Dispatcher {
	if observer == nil {
		observer = NopObserver{}
	}
	var sem *semaphore.Weighted
	if cfg.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(cfg.MaxConcurrency)
	}
	return &Dispatcher{
		cfg:           cfg,
		store:         store,
		nonces:        nonces,
		rpc:           rpc,
		actor:         actor,
		observer:      observer,
		signerLocks:   make(map[common.Address]*sync.Mutex),
		failedSigners: make(map[common.Address]error),
		sem:           sem,
	}
}

// buildChunks precomputes num_periods chunks of txs_per_period steps each,
// drawn cyclically from steps (spec §4.6).
func buildChunks(steps []plan.ExecutionRequest, txsPerPeriod, numPeriods int) [][]plan.ExecutionRequest {
	if len(steps) == 0 || txsPerPeriod <= 0 || numPeriods <= 0 {
		return nil
	}
	chunks := make([][]plan.ExecutionRequest, numPeriods)
	cursor := 0
	for i := 0; i < numPeriods; i++ {
		chunk := make([]plan.ExecutionRequest, txsPerPeriod)
		for j := 0; j < txsPerPeriod; j++ {
			chunk[j] = steps[cursor%len(steps)]
			cursor++
		}
		chunks[i] = chunk
	}
	return chunks
}

// Run drives source against the precomputed chunk plan until it is
// exhausted or ctx is cancelled, then flushes and, if anything remains
// pending, dumps the Tx Actor's cache (spec §4.6 end-of-run sequence).
// Cancellation escalates through three stages (spec §4.6/§5): cancelling
// ctx (first cancel) stops pulling new triggers and gives in-flight
// submits a 5-second grace. Run keeps the stage CancelFuncs from
// NewCancelStages to itself, so ctx is the only signal a caller can send;
// the reconciliation stage is halted submitGraceTimeout after ctx is
// cancelled, and the DumpCache stage flushGraceTimeout after that.
func (d *Dispatcher) Run(ctx context.Context, steps []plan.ExecutionRequest, source Source, symbols map[string]string, symbolSource template.SymbolSource, runID string, startBlock uint64) error {
	stages, flushCancel, dumpCancel := NewCancelStages(ctx, submitGraceTimeout, flushGraceTimeout)
	defer flushCancel()
	defer dumpCancel()

	chunks := buildChunks(steps, d.cfg.TxsPerPeriod, d.cfg.NumPeriods)

	for periodIndex := 0; periodIndex < len(chunks); periodIndex++ {
		if stages.Dispatch.Err() != nil {
			break
		}
		_, ok, err := source.Next(stages.Dispatch)
		if err != nil {
			return spamerr.Wrap(spamerr.KindTransport, "awaiting trigger", err)
		}
		if !ok {
			break
		}

		d.dispatchChunk(stages.Dispatch, chunks[periodIndex], periodIndex, symbols, symbolSource)
		d.observer.OnBatch(periodIndex)
	}

	remaining, err := d.actor.FlushCache(stages.Flush, runID, startBlock)
	if err != nil {
		log.Printf("[dispatcher] flush_cache failed or was halted: %v", err)
		remaining = 1 // force the dump below; the true count is unknown
	}
	if remaining > 0 {
		if _, err := d.actor.DumpCache(stages.Dump, runID); err != nil {
			log.Printf("[dispatcher] dump_cache failed or was aborted: %v", err)
		}
	}
	return stages.Dispatch.Err()
}

// SubmitOne builds, signs, and submits a single transaction outside the
// chunked spam plan. Create and setup steps run sequentially and aren't
// fuzzed or paced, but still need the same nonce reservation, retry, and
// Tx Actor caching behavior as a spam submit, so they go through here too.
func (d *Dispatcher) SubmitOne(ctx context.Context, unsigned template.UnsignedTx, signer agents.Signer, kind string) (uint64, error) {
	lock := d.lockFor(signer.Address)
	lock.Lock()
	defer lock.Unlock()

	nonceVal, err := d.nonces.Reserve(ctx, signer.Address, d.cfg.Endpoint, 1)
	if err != nil {
		return 0, spamerr.Wrap(spamerr.KindTransport, "reserving nonce", err)
	}
	return nonceVal, d.signAndSubmit(ctx, unsigned, signer, nonceVal, kind)
}

// dispatchChunk submits every ExecutionRequest in chunk in parallel
// (parallelism = txs_per_period); within one signer, submission stays FIFO
// via lockFor (spec §4.6 ordering guarantee, §5). If ctx is cancelled
// while submits are in flight, dispatchChunk gives them a bounded grace
// period to finish (spec §4.6: "awaits in-flight submits with a 5-second
// grace") rather than returning to Run immediately.
func (d *Dispatcher) dispatchChunk(ctx context.Context, chunk []plan.ExecutionRequest, periodIndex int, symbols map[string]string, symbolSource template.SymbolSource) {
	periodSeed := seeder.FromBigInt(new(big.Int).Add(d.cfg.RunSeed.AsU256(), big.NewInt(int64(periodIndex))))

	var g errgroup.Group
	for j, req := range chunk {
		j, req := j, req
		g.Go(func() error {
			if d.sem != nil {
				if err := d.sem.Acquire(ctx, 1); err != nil {
					return nil
				}
				defer d.sem.Release(1)
			}
			if err := d.dispatchRequest(ctx, req, periodIndex, j, periodSeed, symbols, symbolSource); err != nil {
				log.Printf("[dispatcher] period %d tx %d: %v", periodIndex, j, err)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(submitGraceTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Printf("[dispatcher] period %d: grace period elapsed with submits still in flight", periodIndex)
	}
}

// dispatchRequest resolves the signer, samples fuzz params, reserves a
// contiguous nonce range, and signs and submits every call in req in order.
func (d *Dispatcher) dispatchRequest(ctx context.Context, req plan.ExecutionRequest, periodIndex, j int, periodSeed seeder.Seed, symbols map[string]string, symbolSource template.SymbolSource) error {
	calls, from, fromPool := flattenRequest(req)

	signer, err := d.resolveSigner(from, fromPool, periodIndex, j)
	if err != nil {
		return spamerr.Wrap(spamerr.KindConfig, "resolving sender", err)
	}

	if failedErr := d.checkFailedSigner(signer.Address); failedErr != nil {
		return failedErr
	}

	txSeed := seeder.FromBigInt(new(big.Int).Add(periodSeed.AsU256(), big.NewInt(int64(j))))

	resolved := make([]scenario.CallDef, len(calls))
	for i, c := range calls {
		fuzzed, err := applyFuzz(c, txSeed)
		if err != nil {
			return spamerr.Wrap(spamerr.KindConfig, "sampling fuzz params", err)
		}
		if err := template.FindCallPlaceholders(fuzzed, symbols, symbolSource); err != nil {
			return err
		}
		resolved[i] = fuzzed
	}

	lock := d.lockFor(signer.Address)
	lock.Lock()
	defer lock.Unlock()

	firstNonce, err := d.nonces.Reserve(ctx, signer.Address, d.cfg.Endpoint, len(resolved))
	if err != nil {
		return spamerr.Wrap(spamerr.KindTransport, "reserving nonce", err)
	}

	for i, c := range resolved {
		unsigned, err := template.TemplateCall(c, signer.Address, symbols)
		if err != nil {
			return err
		}
		txErr := d.signAndSubmit(ctx, unsigned, signer, firstNonce+uint64(i), c.Kind)
		if txErr != nil && spamerr.IsKind(txErr, spamerr.KindFunds) {
			d.markSignerFailed(signer.Address, txErr)
			return txErr
		}
		// any other txErr is already recorded on the RunTx by cache();
		// keep going with the rest of this signer's reserved nonce range.
	}
	return nil
}

func flattenRequest(req plan.ExecutionRequest) (calls []scenario.CallDef, from common.Address, fromPool string) {
	if req.Call != nil {
		return []scenario.CallDef{req.Call.Def}, req.Call.From, req.Call.FromPool
	}
	calls = make([]scenario.CallDef, len(req.Bundle))
	for i, dc := range req.Bundle {
		calls[i] = dc.Def
	}
	return calls, req.Bundle[0].From, req.Bundle[0].FromPool
}

// resolveSigner picks a concrete signer: a from_pool reference round-robins
// across the chunk, seeded by chunk (period) index (spec §4.6 step 2a); a
// literal from address must already be a known signer in some pool, since
// the agent store is the only place private keys live.
func (d *Dispatcher) resolveSigner(from common.Address, fromPool string, periodIndex, j int) (agents.Signer, error) {
	if fromPool != "" {
		size := d.store.Size(fromPool)
		if size == 0 {
			return agents.Signer{}, fmt.Errorf("unknown or empty pool %q", fromPool)
		}
		idx := (periodIndex + j) % size
		return d.store.GetSigner(fromPool, idx)
	}
	signer, ok := d.store.FindByAddress(from)
	if !ok {
		return agents.Signer{}, fmt.Errorf("from address %s is not a signer in any pool", from)
	}
	return signer, nil
}

func (d *Dispatcher) lockFor(addr common.Address) *sync.Mutex {
	d.signerLocksMu.Lock()
	defer d.signerLocksMu.Unlock()
	l, ok := d.signerLocks[addr]
	if !ok {
		l = &sync.Mutex{}
		d.signerLocks[addr] = l
	}
	return l
}

func (d *Dispatcher) checkFailedSigner(addr common.Address) error {
	d.fundsMu.Lock()
	defer d.fundsMu.Unlock()
	return d.failedSigners[addr]
}

func (d *Dispatcher) markSignerFailed(addr common.Address, err error) {
	d.fundsMu.Lock()
	defer d.fundsMu.Unlock()
	if _, exists := d.failedSigners[addr]; !exists {
		d.failedSigners[addr] = err
		log.Printf("[dispatcher] signer %s marked failed for the remainder of the run: %v", addr, err)
	}
}

// applyFuzz samples every FuzzParam in c against seed and returns a copy of
// c with the targeted arg (or value) overwritten with the sampled decimal
// string. Each param within a call gets its own derived seed so that two
// fuzzed params on the same tx don't draw the same value.
func applyFuzz(c scenario.CallDef, seed seeder.Seed) (scenario.CallDef, error) {
	if len(c.Fuzz) == 0 {
		return c, nil
	}
	out := c
	out.Args = append([]string{}, c.Args...)

	for i, fz := range c.Fuzz {
		min := fz.Min
		if min == nil {
			min = big.NewInt(0)
		}
		max := fz.Max
		if max == nil {
			max = new(big.Int).Lsh(big.NewInt(1), 256)
		}
		paramSeed := seeder.FromBigInt(new(big.Int).Add(seed.AsU256(), big.NewInt(int64(i))))
		val := seeder.SeedValues(paramSeed, 1, min, max)[0].AsU256()

		if fz.Value {
			out.Value = val.String()
			continue
		}
		idx, err := abiutil.ArgIndex(c.Signature, fz.Param)
		if err != nil {
			return scenario.CallDef{}, err
		}
		out.Args[idx] = val.String()
	}
	return out, nil
}

// signAndSubmit fetches gas parameters, signs unsigned for nonceVal, and
// submits it, retrying and classifying failures per spec §4.6/§7.
func (d *Dispatcher) signAndSubmit(ctx context.Context, unsigned template.UnsignedTx, signer agents.Signer, nonceVal uint64, kind string) error {
	chainID, err := d.rpc.ChainID(ctx)
	if err != nil {
		return spamerr.Wrap(spamerr.KindTransport, "fetching chain id", err)
	}

	gasPrice, err := d.rpc.SuggestGasPrice(ctx)
	if err != nil {
		gasPrice = big.NewInt(defaultGasPriceWei)
	}

	gasLimit := unsigned.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}

	var blobBaseFee *big.Int
	if len(unsigned.BlobData) > 0 {
		if bf, err := d.rpc.BlobBaseFee(ctx); err == nil {
			blobBaseFee = bf
		}
	}

	build := func(bumpPercent int64) (*types.Transaction, error) {
		feeCap := bumpGasPrice(gasPrice, bumpPercent)
		return buildAndSign(unsigned, signer.Key, chainID, nonceVal, gasPrice, feeCap, gasLimit, blobBaseFee)
	}

	signed, err := build(d.cfg.GasPriceBumpPercent)
	if err != nil {
		return spamerr.Wrap(spamerr.KindConfig, "signing transaction", err)
	}

	return d.submitWithRetry(ctx, signed, build, kind)
}

func bumpGasPrice(base *big.Int, percent int64) *big.Int {
	if percent <= 0 {
		return new(big.Int).Set(base)
	}
	bumped := new(big.Int).Mul(base, big.NewInt(100+percent))
	return bumped.Div(bumped, big.NewInt(100))
}

// submitWithRetry implements the failure classification table in spec §7.
func (d *Dispatcher) submitWithRetry(ctx context.Context, tx *types.Transaction, rebuild func(bumpPercent int64) (*types.Transaction, error), kind string) error {
	err := d.timedSend(ctx, tx)
	if err == nil {
		return d.cache(ctx, tx, kind, nil)
	}

	switch classify(err) {
	case spamerr.KindNonceRace:
		return d.cache(ctx, tx, kind, nil)

	case spamerr.KindGas:
		bumped, berr := rebuild(100)
		if berr != nil {
			return d.cache(ctx, tx, kind, spamerr.Wrap(spamerr.KindGas, "building replacement", berr))
		}
		retryErr := d.timedSend(ctx, bumped)
		if retryErr == nil || classify(retryErr) == spamerr.KindNonceRace {
			return d.cache(ctx, bumped, kind, nil)
		}
		return d.cache(ctx, bumped, kind, spamerr.Wrap(spamerr.KindGas, "replacement rejected", retryErr))

	case spamerr.KindFunds:
		return d.cache(ctx, tx, kind, spamerr.Wrap(spamerr.KindFunds, "insufficient funds", err))

	case spamerr.KindTransport:
		lastErr := err
		for _, backoff := range retryBackoff {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			retryErr := d.timedSend(ctx, tx)
			if retryErr == nil || classify(retryErr) == spamerr.KindNonceRace {
				return d.cache(ctx, tx, kind, nil)
			}
			lastErr = retryErr
		}
		return d.cache(ctx, tx, kind, spamerr.Wrap(spamerr.KindTransport, "exhausted retries", lastErr))

	default:
		return d.cache(ctx, tx, kind, spamerr.Wrap(spamerr.KindRPCRefusal, "rejected by node", err))
	}
}

func (d *Dispatcher) timedSend(ctx context.Context, tx *types.Transaction) error {
	start := time.Now()
	err := d.rpc.SendTransaction(ctx, tx)
	d.actor.RecordLatency("eth_sendRawTransaction", float64(time.Since(start).Milliseconds()))
	return err
}

// cache records the submission with the Tx Actor (spec §4.6 step g) and
// notifies the observer. It returns txErr unchanged so callers can still
// branch on the failure kind (e.g. to retire a signer).
func (d *Dispatcher) cache(ctx context.Context, tx *types.Transaction, kind string, txErr error) error {
	d.observer.OnSubmit(tx, txErr)
	pending := txactor.PendingTx{
		TxHash:    tx.Hash(),
		StartTsMs: time.Now().UnixMilli(),
		Kind:      kind,
		Err:       txErr,
	}
	if err := d.actor.CacheTx(ctx, pending); err != nil {
		return spamerr.Wrap(spamerr.KindFatal, "caching pending tx", err)
	}
	return txErr
}

// classify maps a raw JSON-RPC error's text to a spamerr.Kind (spec §7).
// Node implementations don't agree on error codes for these conditions, so
// every EVM client and the spec's own table identify them by substring.
func classify(err error) spamerr.Kind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already known"), strings.Contains(msg, "nonce too low"):
		return spamerr.KindNonceRace
	case strings.Contains(msg, "underpriced"):
		return spamerr.KindGas
	case strings.Contains(msg, "insufficient funds"):
		return spamerr.KindFunds
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "eof"):
		return spamerr.KindTransport
	default:
		return spamerr.KindRPCRefusal
	}
}
