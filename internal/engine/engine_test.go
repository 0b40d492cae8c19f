package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/seeder"
	"github.com/spamgen/spamgen/internal/store"
)

type fakeRPC struct {
	mu     sync.Mutex
	sent   []*gethtypes.Transaction
	nonces map[common.Address]uint64
	block  uint64
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{nonces: make(map[common.Address]uint64)}
}

func (f *fakeRPC) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1337), nil }
func (f *fakeRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}
func (f *fakeRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *fakeRPC) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return nil, nil
}
func (f *fakeRPC) BlockReceipts(ctx context.Context, number *big.Int) ([]*gethtypes.Receipt, error) {
	return nil, nil
}
func (f *fakeRPC) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}
func (f *fakeRPC) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(1337)), tx); err == nil {
		f.nonces[from] = tx.Nonce() + 1
	}
	return nil
}
func (f *fakeRPC) NewBlockFilter(ctx context.Context) (string, error) { return "0x1", nil }
func (f *fakeRPC) FilterChanges(ctx context.Context, filterID string) ([]common.Hash, error) {
	return nil, nil
}
func (f *fakeRPC) BlobBaseFee(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeRPC) Close()                                            {}

func (f *fakeRPC) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestCollectPoolNamesDedupesAcrossAllSteps(t *testing.T) {
	s := scenario.Scenario{
		Create: []scenario.CreateDef{{FromPool: "deployer"}},
		Setup:  []scenario.CallDef{{FromPool: "deployer"}},
		Spam: []scenario.SpamRequest{
			scenario.TxRequest(scenario.CallDef{FromPool: "spammers"}),
			scenario.BundleRequest([]scenario.CallDef{
				{FromPool: "spammers"},
				{FromPool: "deployer"},
			}),
		},
	}
	names := collectPoolNames(s)
	if len(names) != 2 {
		t.Fatalf("got %d pool names, want 2: %v", len(names), names)
	}
}

func TestCollectPoolNamesIgnoresLiteralFrom(t *testing.T) {
	s := scenario.Scenario{
		Create: []scenario.CreateDef{{From: "0x00000000000000000000000000000000000001"}},
	}
	if names := collectPoolNames(s); len(names) != 0 {
		t.Fatalf("expected no pool names for a literal from, got %v", names)
	}
}

func TestRunDeploysAndDispatchesSpam(t *testing.T) {
	rpc := newFakeRPC()
	persistence := store.NewMemStore()

	cfg := Config{
		Seed:         seeder.FromUint64(42),
		Endpoint:     "http://localhost:8545",
		ScenarioName: "fill-block",
		PerPoolCount: 2,
		TxsPerPeriod: 1,
		NumPeriods:   1,
		TickInterval: time.Millisecond,
	}
	e := New(cfg, rpc, persistence)

	to := common.HexToAddress("0x00000000000000000000000000000000000009")
	s := scenario.Scenario{
		Spam: []scenario.SpamRequest{
			scenario.TxRequest(scenario.CallDef{To: to.Hex(), FromPool: "spammers", Signature: "tick()"}),
		},
	}

	runID, err := e.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if runID == "" {
		t.Fatalf("expected a non-empty run id")
	}
	if rpc.sentCount() != 1 {
		t.Fatalf("sent %d txs, want 1", rpc.sentCount())
	}

	run, ok, err := persistence.GetRun(context.Background(), runID)
	if err != nil || !ok {
		t.Fatalf("GetRun(%q) = %v, %v, %v", runID, run, ok, err)
	}
	if run.ScenarioName != "fill-block" {
		t.Fatalf("ScenarioName = %q, want fill-block", run.ScenarioName)
	}
}

func TestRunDeploysContractAndRecordsNamedTx(t *testing.T) {
	rpc := newFakeRPC()
	persistence := store.NewMemStore()

	cfg := Config{
		Seed:         seeder.FromUint64(1),
		Endpoint:     "http://localhost:8545",
		ScenarioName: "deploy-only",
		PerPoolCount: 1,
		TxsPerPeriod: 1,
		NumPeriods:   0,
		TickInterval: time.Millisecond,
	}
	e := New(cfg, rpc, persistence)

	s := scenario.Scenario{
		Create: []scenario.CreateDef{{Name: "token", Bytecode: "0x600a", FromPool: "deployer"}},
	}

	runID, err := e.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	named, ok, err := persistence.GetNamedTx(context.Background(), "token", cfg.Endpoint)
	if err != nil || !ok {
		t.Fatalf("GetNamedTx(token) = %v, %v, %v", named, ok, err)
	}
	if named.Address == "" {
		t.Fatalf("expected a deployed address to be recorded")
	}
	if runID == "" {
		t.Fatalf("expected a non-empty run id")
	}
}
