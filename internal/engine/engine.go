// Package engine wires the seven core components into one run: build the
// agent store, build the plan, execute create/setup sequentially, then hand
// the spam steps to the dispatcher against a trigger source, and tear down
// the Tx Actor once reconciliation has drained.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/spamgen/spamgen/internal/agents"
	"github.com/spamgen/spamgen/internal/dispatcher"
	"github.com/spamgen/spamgen/internal/histogram"
	"github.com/spamgen/spamgen/internal/nonce"
	"github.com/spamgen/spamgen/internal/plan"
	"github.com/spamgen/spamgen/internal/rpcclient"
	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/seeder"
	"github.com/spamgen/spamgen/internal/spamerr"
	"github.com/spamgen/spamgen/internal/store"
	"github.com/spamgen/spamgen/internal/template"
	"github.com/spamgen/spamgen/internal/txactor"
)

// actorBufSize bounds the Tx Actor's CacheTx/RecordLatency channels so a
// burst of concurrent dispatch goroutines doesn't block on the actor's
// single consuming goroutine.
const actorBufSize = 256

// Config parameterizes one engine run. Exactly one of TickInterval/BlockPoll
// selects the pacing strategy: a non-zero TickInterval means fixed-TPS,
// zero means blockwise pacing (spec §4.6 triggers).
type Config struct {
	Seed                seeder.Seed
	Endpoint            string
	ScenarioName        string
	PerPoolCount        int
	TxsPerPeriod        int
	NumPeriods          int
	TickInterval        time.Duration
	BlockPollInterval   time.Duration
	GasPriceBumpPercent int64
	MaxConcurrency      int64
	Timeout             time.Duration
}

// Engine owns the RPC and persistence collaborators across a run.
type Engine struct {
	cfg   Config
	rpc   rpcclient.Client
	store store.Store
}

// New builds an Engine over an already-connected RPC client and persistence
// collaborator.
func New(cfg Config, rpc rpcclient.Client, persistence store.Store) *Engine {
	return &Engine{cfg: cfg, rpc: rpc, store: persistence}
}

// Run executes a full scenario: deploys contracts, runs setup calls, then
// dispatches the spam plan, and returns the persisted run's ID.
func (e *Engine) Run(ctx context.Context, s scenario.Scenario) (string, error) {
	agentStore := agents.New()
	poolNames := collectPoolNames(s)
	perPool := e.cfg.PerPoolCount
	if perPool <= 0 {
		perPool = 1
	}
	if len(poolNames) > 0 {
		if err := agentStore.Init(e.cfg.Seed, poolNames, perPool); err != nil {
			return "", spamerr.Wrap(spamerr.KindConfig, "initializing agent pools", err)
		}
	}

	p, err := plan.Build(s, agentStore)
	if err != nil {
		return "", err
	}
	symbols := p.Env

	runID, err := e.store.InsertRun(ctx, store.RunSpec{
		ScenarioName:   e.cfg.ScenarioName,
		TxCount:        len(p.SpamSteps),
		TxsPerDuration: e.cfg.TxsPerPeriod,
		Duration:       fmt.Sprintf("%d periods", e.cfg.NumPeriods),
		Timeout:        e.cfg.Timeout,
		RPCEndpoint:    e.cfg.Endpoint,
	})
	if err != nil {
		return "", spamerr.Wrap(spamerr.KindFatal, "inserting run", err)
	}

	nonceMgr := nonce.New(func(ctx context.Context, endpoint string, signer common.Address) (uint64, error) {
		return e.rpc.PendingNonceAt(ctx, signer)
	})
	actor := txactor.Start(e.rpc, e.store, actorBufSize)
	disp := dispatcher.New(dispatcher.Config{
		TxsPerPeriod:        e.cfg.TxsPerPeriod,
		NumPeriods:          e.cfg.NumPeriods,
		RunSeed:             e.cfg.Seed,
		Endpoint:            e.cfg.Endpoint,
		GasPriceBumpPercent: e.cfg.GasPriceBumpPercent,
		MaxConcurrency:      e.cfg.MaxConcurrency,
	}, agentStore, nonceMgr, e.rpc, actor, nil)

	symbolSource := &symbolSourceAdapter{ctx: ctx, store: e.store, endpoint: e.cfg.Endpoint}

	if err := e.runCreateSteps(ctx, disp, agentStore, p.CreateSteps, symbols, symbolSource); err != nil {
		return runID, err
	}
	if err := e.runSetupSteps(ctx, disp, agentStore, p.SetupSteps, symbols, symbolSource); err != nil {
		return runID, err
	}

	startBlock, err := e.rpc.BlockNumber(ctx)
	if err != nil {
		return runID, spamerr.Wrap(spamerr.KindTransport, "fetching start block", err)
	}

	source, err := e.buildTriggerSource(ctx)
	if err != nil {
		return runID, err
	}

	runErr := disp.Run(ctx, p.SpamSteps, source, symbols, symbolSource, runID, startBlock)

	if buckets, err := actor.Recorder().Buckets("eth_sendRawTransaction"); err == nil {
		if err := e.store.InsertLatencyMetrics(ctx, runID, map[string][]histogram.Bucket{"eth_sendRawTransaction": buckets}); err != nil {
			log.Printf("[engine] inserting latency metrics: %v", err)
		}
	}

	if err := actor.Stop(ctx); err != nil {
		log.Printf("[engine] stopping tx actor: %v", err)
	}

	return runID, runErr
}

func (e *Engine) buildTriggerSource(ctx context.Context) (dispatcher.Source, error) {
	if e.cfg.TickInterval > 0 {
		return dispatcher.NewTickSource(e.cfg.TickInterval, e.cfg.NumPeriods), nil
	}
	src, err := dispatcher.NewBlockSource(ctx, e.rpc, e.cfg.NumPeriods, e.cfg.BlockPollInterval)
	if err != nil {
		return nil, spamerr.Wrap(spamerr.KindTransport, "installing block filter", err)
	}
	return src, nil
}

// runCreateSteps executes every CreateDef sequentially, computing the
// deployed address deterministically from (sender, nonce) the way every
// EVM client does for a CREATE (not CREATE2), so the symbol table can be
// populated without waiting for a receipt.
func (e *Engine) runCreateSteps(ctx context.Context, disp *dispatcher.Dispatcher, agentStore *agents.Store, steps []plan.NamedStep, symbols map[string]string, source template.SymbolSource) error {
	for _, step := range steps {
		if err := template.FindPlaceholderValues(step.Create.Bytecode, symbols, source); err != nil {
			return err
		}
		for _, arg := range step.Create.ConstructorArgs {
			if err := template.FindPlaceholderValues(arg, symbols, source); err != nil {
				return err
			}
		}

		unsigned, err := template.TemplateCreate(*step.Create, step.From, symbols)
		if err != nil {
			return err
		}

		signer, ok := agentStore.FindByAddress(step.From)
		if !ok {
			return spamerr.New(spamerr.KindConfig, fmt.Sprintf("create %q: sender %s is not a known signer", step.Name, step.From))
		}

		nonceVal, err := disp.SubmitOne(ctx, unsigned, signer, "create")
		if err != nil {
			return spamerr.Wrap(spamerr.KindFatal, fmt.Sprintf("deploying %q", step.Name), err)
		}

		addr := crypto.CreateAddress(step.From, nonceVal)
		symbols[step.Name] = addr.Hex()
		if err := e.store.InsertNamedTxs(ctx, []scenario.NamedTx{{Name: step.Name, Address: addr.Hex()}}, e.cfg.Endpoint); err != nil {
			log.Printf("[engine] recording named tx %q: %v", step.Name, err)
		}
	}
	return nil
}

func (e *Engine) runSetupSteps(ctx context.Context, disp *dispatcher.Dispatcher, agentStore *agents.Store, steps []plan.NamedStep, symbols map[string]string, source template.SymbolSource) error {
	for i, step := range steps {
		if err := template.FindCallPlaceholders(*step.Call, symbols, source); err != nil {
			return err
		}
		unsigned, err := template.TemplateCall(*step.Call, step.From, symbols)
		if err != nil {
			return err
		}
		signer, ok := agentStore.FindByAddress(step.From)
		if !ok {
			return spamerr.New(spamerr.KindConfig, fmt.Sprintf("setup step %d: sender %s is not a known signer", i, step.From))
		}
		if _, err := disp.SubmitOne(ctx, unsigned, signer, step.Kind); err != nil {
			return spamerr.Wrap(spamerr.KindFatal, fmt.Sprintf("setup step %d", i), err)
		}
	}
	return nil
}

// collectPoolNames walks every from_pool reference in the scenario so the
// agent store knows which pools to materialize up front.
func collectPoolNames(s scenario.Scenario) []string {
	seen := map[string]bool{}
	var names []string
	add := func(pool string) {
		if pool != "" && !seen[pool] {
			seen[pool] = true
			names = append(names, pool)
		}
	}
	for _, c := range s.Create {
		add(c.FromPool)
	}
	for _, c := range s.Setup {
		add(c.FromPool)
	}
	for _, req := range s.Spam {
		if req.IsBundle() {
			for _, c := range req.Bundle.Txs {
				add(c.FromPool)
			}
			continue
		}
		add(req.Tx.FromPool)
	}
	return names
}

// symbolSourceAdapter lets the persistence collaborator's get_named_tx
// (spec §6.2) serve as a Templater SymbolSource, binding it to one run's
// context and RPC endpoint.
type symbolSourceAdapter struct {
	ctx      context.Context
	store    store.Store
	endpoint string
}

func (a *symbolSourceAdapter) GetNamedTx(name string) (scenario.NamedTx, bool, error) {
	return a.store.GetNamedTx(a.ctx, name, a.endpoint)
}
