package txactor

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	headers  map[uint64]*types.Header
	receipts map[uint64][]*types.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{headers: map[uint64]*types.Header{}, receipts: map[uint64][]*types.Receipt{}}
}

func (f *fakeChain) addBlock(num uint64, ts uint64, receipts []*types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers[num] = &types.Header{Number: new(big.Int).SetUint64(num), Time: ts}
	f.receipts[num] = receipts
	if num > f.head {
		f.head = num
	}
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[number.Uint64()], nil
}

func (f *fakeChain) BlockReceipts(ctx context.Context, number *big.Int) ([]*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[number.Uint64()], nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

type fakeSink struct {
	mu  sync.Mutex
	txs []RunTx
}

func (s *fakeSink) InsertRunTxs(ctx context.Context, runID string, txs []RunTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, txs...)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

func TestCacheTxThenFlushReconciles(t *testing.T) {
	chain := newFakeChain()
	sink := &fakeSink{}
	h := Start(chain, sink, 8)

	hash := common.HexToHash("0x01")
	if err := h.CacheTx(context.Background(), PendingTx{TxHash: hash, StartTsMs: 1000}); err != nil {
		t.Fatalf("CacheTx failed: %v", err)
	}

	chain.addBlock(1, 1700000000, []*types.Receipt{{TxHash: hash, GasUsed: 21000}})

	remaining, err := h.FlushCache(context.Background(), "run1", 1)
	if err != nil {
		t.Fatalf("FlushCache failed: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
	if sink.count() != 1 {
		t.Fatalf("sink has %d txs, want 1", sink.count())
	}
}

func TestCacheTxRejectsDuplicateHash(t *testing.T) {
	chain := newFakeChain()
	sink := &fakeSink{}
	h := Start(chain, sink, 8)

	hash := common.HexToHash("0x02")
	if err := h.CacheTx(context.Background(), PendingTx{TxHash: hash}); err != nil {
		t.Fatalf("first CacheTx failed: %v", err)
	}
	if err := h.CacheTx(context.Background(), PendingTx{TxHash: hash}); err == nil {
		t.Fatalf("expected error for duplicate tx_hash")
	}
}

func TestFlushLeavesUnmatchedTxsCached(t *testing.T) {
	chain := newFakeChain()
	sink := &fakeSink{}
	h := Start(chain, sink, 8)

	hash := common.HexToHash("0x03")
	if err := h.CacheTx(context.Background(), PendingTx{TxHash: hash}); err != nil {
		t.Fatalf("CacheTx failed: %v", err)
	}
	chain.addBlock(1, 1700000000, nil)

	remaining, err := h.FlushCache(context.Background(), "run1", 1)
	if err != nil {
		t.Fatalf("FlushCache failed: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1 (unmatched tx stays cached)", remaining)
	}
}

func TestDumpCacheCommitsUnconfirmed(t *testing.T) {
	chain := newFakeChain()
	sink := &fakeSink{}
	h := Start(chain, sink, 8)

	hash := common.HexToHash("0x04")
	if err := h.CacheTx(context.Background(), PendingTx{TxHash: hash}); err != nil {
		t.Fatalf("CacheTx failed: %v", err)
	}

	count, err := h.DumpCache(context.Background(), "run1")
	if err != nil {
		t.Fatalf("DumpCache failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if sink.count() != 1 {
		t.Fatalf("sink has %d txs, want 1", sink.count())
	}
}

func TestStopTransitionsToExited(t *testing.T) {
	chain := newFakeChain()
	sink := &fakeSink{}
	h := Start(chain, sink, 8)

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	h.Wait()
	if h.State() != StateExited {
		t.Fatalf("state = %s, want exited", h.State())
	}
}

func TestCacheTxRejectedAfterDraining(t *testing.T) {
	chain := newFakeChain()
	sink := &fakeSink{}
	h := Start(chain, sink, 8)

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	h.Wait()

	if err := h.CacheTx(context.Background(), PendingTx{TxHash: common.HexToHash("0x05")}); err == nil {
		t.Fatalf("expected CacheTx to be rejected once draining/exited")
	}
}

func TestRecordLatencyFeedsRecorder(t *testing.T) {
	chain := newFakeChain()
	sink := &fakeSink{}
	h := Start(chain, sink, 8)

	h.RecordLatency("eth_sendRawTransaction", 12.5)
	// give the actor goroutine a turn by issuing a synchronous round trip
	if _, err := h.DumpCache(context.Background(), "run1"); err != nil {
		t.Fatalf("DumpCache failed: %v", err)
	}

	buckets, err := h.Recorder().Buckets("eth_sendRawTransaction")
	if err != nil {
		t.Fatalf("Buckets failed: %v", err)
	}
	if len(buckets) == 0 {
		t.Fatalf("expected buckets to be populated")
	}
}
