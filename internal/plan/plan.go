// Package plan implements the Plan Builder (spec §4.4): it walks a
// Scenario and produces the three step sequences the dispatcher consumes,
// resolving every sender it can up front and deferring the rest.
package plan

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spamgen/spamgen/internal/agents"
	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/spamerr"
)

// NamedStep wraps a CreateDef/CallDef with its resolved sender and an
// optional name for post-deploy symbol insertion, mirroring the source's
// NamedTxRequest.
type NamedStep struct {
	Name string // set for create steps so the address can be recorded later
	Kind string
	From common.Address

	Create *scenario.CreateDef
	Call   *scenario.CallDef
}

// ExecutionRequest is one spam-step unit: either a single call or a bundle
// of calls from one sender. Exactly one of Call/Bundle is set.
type ExecutionRequest struct {
	Call *DeferredCall
	// Bundle holds a multi-tx unit; nil for a bare call.
	Bundle []DeferredCall
}

// DeferredCall carries a CallDef whose sender may not be resolved yet: if
// FromPool is non-empty, the dispatcher picks a concrete signer at dispatch
// time (round-robin across the chunk, spec §4.6).
type DeferredCall struct {
	Def      scenario.CallDef
	From     common.Address // valid only if FromPool == ""
	FromPool string
}

// Plan is the Plan Builder's output: the scenario's env, plus the three
// ordered step sequences the dispatcher consumes.
type Plan struct {
	Env         map[string]string
	CreateSteps []NamedStep
	SetupSteps  []NamedStep
	SpamSteps   []ExecutionRequest
}

// Build walks s and produces a Plan. store provides signer lookups for any
// from_pool reference; create/setup pools are resolved to index 0 now
// (spec §4.4 step 2), spam from_pool references are left deferred.
func Build(s scenario.Scenario, store *agents.Store) (Plan, error) {
	p := Plan{
		Env: make(map[string]string, len(s.Env)),
	}
	for k, v := range s.Env {
		p.Env[k] = v
	}

	for _, c := range s.Create {
		from, err := resolveImmediateSender(c.From, c.FromPool, store)
		if err != nil {
			return Plan{}, spamerr.Wrap(spamerr.KindConfig, fmt.Sprintf("resolving sender for create %q", c.Name), err)
		}
		cd := c
		p.CreateSteps = append(p.CreateSteps, NamedStep{
			Name:   c.Name,
			From:   from,
			Create: &cd,
		})
	}

	for i, c := range s.Setup {
		from, err := resolveImmediateSender(c.From, c.FromPool, store)
		if err != nil {
			return Plan{}, spamerr.Wrap(spamerr.KindConfig, fmt.Sprintf("resolving sender for setup step %d", i), err)
		}
		cd := c
		p.SetupSteps = append(p.SetupSteps, NamedStep{
			Kind: c.Kind,
			From: from,
			Call: &cd,
		})
	}

	for i, req := range s.Spam {
		er, err := buildExecutionRequest(req)
		if err != nil {
			return Plan{}, spamerr.Wrap(spamerr.KindConfig, fmt.Sprintf("building spam step %d", i), err)
		}
		p.SpamSteps = append(p.SpamSteps, er)
	}

	return p, nil
}

// resolveImmediateSender resolves a create/setup sender now: a literal
// `from` address is used as-is, `from_pool` always takes index 0 (spec
// §4.4 step 2 — only spam from_pool references are deferred).
func resolveImmediateSender(from, fromPool string, store *agents.Store) (common.Address, error) {
	if from != "" && fromPool != "" {
		return common.Address{}, fmt.Errorf("exactly one of from/from_pool must be set")
	}
	if from != "" {
		if !common.IsHexAddress(from) {
			return common.Address{}, fmt.Errorf("invalid from address %q", from)
		}
		return common.HexToAddress(from), nil
	}
	if fromPool == "" {
		return common.Address{}, fmt.Errorf("exactly one of from/from_pool must be set")
	}
	signer, err := store.GetSigner(fromPool, 0)
	if err != nil {
		return common.Address{}, err
	}
	return signer.Address, nil
}

// buildExecutionRequest converts one SpamRequest into its deferred form.
// Bundle rule (spec §4.4): every tx in a bundle shares the sender resolved
// from the first tx's from/from_pool.
func buildExecutionRequest(req scenario.SpamRequest) (ExecutionRequest, error) {
	if req.IsBundle() {
		txs := req.Bundle.Txs
		if len(txs) == 0 {
			return ExecutionRequest{}, fmt.Errorf("bundle has no txs")
		}
		first, err := deferredFrom(txs[0])
		if err != nil {
			return ExecutionRequest{}, err
		}
		calls := make([]DeferredCall, len(txs))
		calls[0] = first
		for i := 1; i < len(txs); i++ {
			c := txs[i]
			// share the bundle's sender regardless of this tx's own from/from_pool
			calls[i] = DeferredCall{Def: c, From: first.From, FromPool: first.FromPool}
		}
		return ExecutionRequest{Bundle: calls}, nil
	}

	dc, err := deferredFrom(*req.Tx)
	if err != nil {
		return ExecutionRequest{}, err
	}
	return ExecutionRequest{Call: &dc}, nil
}

func deferredFrom(c scenario.CallDef) (DeferredCall, error) {
	if c.From != "" && c.FromPool != "" {
		return DeferredCall{}, fmt.Errorf("exactly one of from/from_pool must be set")
	}
	if c.From == "" && c.FromPool == "" {
		return DeferredCall{}, fmt.Errorf("exactly one of from/from_pool must be set")
	}
	if c.From != "" {
		if !common.IsHexAddress(c.From) {
			return DeferredCall{}, fmt.Errorf("invalid from address %q", c.From)
		}
		return DeferredCall{Def: c, From: common.HexToAddress(c.From)}, nil
	}
	return DeferredCall{Def: c, FromPool: c.FromPool}, nil
}
