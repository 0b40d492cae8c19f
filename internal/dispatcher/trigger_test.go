package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestTickSourceEmitsExactCountThenStops(t *testing.T) {
	src := NewTickSource(time.Millisecond, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		trig, ok, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("tick %d: expected ok=true", i)
		}
		if trig.Kind != TriggerTick || trig.Tick != i {
			t.Fatalf("tick %d: got %+v", i, trig)
		}
	}

	if _, ok, err := src.Next(ctx); ok || err != nil {
		t.Fatalf("expected exhausted source, got ok=%v err=%v", ok, err)
	}
}

func TestTickSourceRespectsCancellation(t *testing.T) {
	src := NewTickSource(time.Hour, 2)
	ctx, cancel := context.WithCancel(context.Background())

	if _, ok, err := src.Next(ctx); !ok || err != nil {
		t.Fatalf("first tick should emit immediately, got ok=%v err=%v", ok, err)
	}

	cancel()
	if _, ok, err := src.Next(ctx); ok || err == nil {
		t.Fatalf("expected cancellation error waiting on second tick, got ok=%v err=%v", ok, err)
	}
}

// TestBlockSourceEmitsOnePerFilterBatch drives BlockSource directly against
// a scripted fakeRPC, independent of the full dispatcher.Run loop, covering
// spec §4.6's eth_newBlockFilter/eth_getFilterChanges polling contract.
func TestBlockSourceEmitsOnePerFilterBatch(t *testing.T) {
	rpc := newFakeRPC()
	h1 := common.HexToHash("0x01")
	h2 := common.HexToHash("0x02")
	rpc.filterBatches = [][]common.Hash{{h1}, {h2}}

	src, err := NewBlockSource(context.Background(), rpc, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("NewBlockSource: %v", err)
	}

	trig, ok, err := src.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("first Next: ok=%v err=%v", ok, err)
	}
	if trig.Kind != TriggerBlock || trig.BlockHash != h1 {
		t.Fatalf("first trigger: got %+v, want block %s", trig, h1)
	}

	trig, ok, err = src.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("second Next: ok=%v err=%v", ok, err)
	}
	if trig.BlockHash != h2 {
		t.Fatalf("second trigger: got %+v, want block %s", trig, h2)
	}

	if _, ok, err := src.Next(context.Background()); ok || err != nil {
		t.Fatalf("expected exhausted source, got ok=%v err=%v", ok, err)
	}
}

// TestBlockSourceQueuesMultipleHashesInOneBatch covers a single
// eth_getFilterChanges response carrying several new block hashes at once;
// BlockSource must drain them one Trigger per Next call before polling again.
func TestBlockSourceQueuesMultipleHashesInOneBatch(t *testing.T) {
	rpc := newFakeRPC()
	h1 := common.HexToHash("0x01")
	h2 := common.HexToHash("0x02")
	h3 := common.HexToHash("0x03")
	rpc.filterBatches = [][]common.Hash{{h1, h2, h3}}

	src, err := NewBlockSource(context.Background(), rpc, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("NewBlockSource: %v", err)
	}

	want := []common.Hash{h1, h2, h3}
	for i, w := range want {
		trig, ok, err := src.Next(context.Background())
		if err != nil || !ok {
			t.Fatalf("Next %d: ok=%v err=%v", i, ok, err)
		}
		if trig.BlockHash != w {
			t.Fatalf("Next %d: got %s, want %s", i, trig.BlockHash, w)
		}
	}
}

func TestBlockSourceRespectsCancellationWhilePolling(t *testing.T) {
	rpc := newFakeRPC() // never produces a batch
	src, err := NewBlockSource(context.Background(), rpc, 1, time.Hour)
	if err != nil {
		t.Fatalf("NewBlockSource: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok, err := src.Next(ctx); ok || err == nil {
		t.Fatalf("expected cancellation error, got ok=%v err=%v", ok, err)
	}
}
