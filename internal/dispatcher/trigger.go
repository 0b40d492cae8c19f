package dispatcher

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spamgen/spamgen/internal/rpcclient"
)

// TriggerKind distinguishes the two SpamTrigger variants (spec §4.6, §9:
// a closed sum type, not an inheritance hierarchy).
type TriggerKind int

const (
	TriggerTick TriggerKind = iota
	TriggerBlock
)

// Trigger is one release of the next chunk: either a tick index or a new
// block hash.
type Trigger struct {
	Kind      TriggerKind
	Tick      int
	BlockHash common.Hash
}

// Source produces one Trigger per call to Next. ok is false when the
// source is exhausted (e.g. the configured duration elapsed); err is
// non-nil only on a hard failure.
type Source interface {
	Next(ctx context.Context) (trig Trigger, ok bool, err error)
}

// TickSource emits TriggerTick at a fixed wall-clock interval, for
// fixed-TPS pacing.
type TickSource struct {
	interval time.Duration
	count    int
	emitted  int
	i        int
}

// NewTickSource builds a source that emits exactly count ticks, interval
// apart.
func NewTickSource(interval time.Duration, count int) *TickSource {
	return &TickSource{interval: interval, count: count}
}

func (t *TickSource) Next(ctx context.Context) (Trigger, bool, error) {
	if t.emitted >= t.count {
		return Trigger{}, false, nil
	}
	if t.i > 0 {
		timer := time.NewTimer(t.interval)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Trigger{}, false, ctx.Err()
		}
	}
	tick := t.i
	t.i++
	t.emitted++
	return Trigger{Kind: TriggerTick, Tick: tick}, true, nil
}

// BlockSource emits TriggerBlock for each new block head, polled via
// eth_newBlockFilter/eth_getFilterChanges (spec §6.1, §9: never poll
// individual tx receipts, and likewise never subscribe per-tx for new
// heads — one filter per run).
type BlockSource struct {
	rpc      rpcclient.Client
	filterID string
	count    int
	emitted  int
	pending  []common.Hash
	poll     time.Duration
}

// NewBlockSource installs a block filter on rpc and returns a source that
// emits up to count block-hash triggers.
func NewBlockSource(ctx context.Context, rpc rpcclient.Client, count int, poll time.Duration) (*BlockSource, error) {
	id, err := rpc.NewBlockFilter(ctx)
	if err != nil {
		return nil, err
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &BlockSource{rpc: rpc, filterID: id, count: count, poll: poll}, nil
}

func (b *BlockSource) Next(ctx context.Context) (Trigger, bool, error) {
	if b.emitted >= b.count {
		return Trigger{}, false, nil
	}
	for len(b.pending) == 0 {
		hashes, err := b.rpc.FilterChanges(ctx, b.filterID)
		if err != nil {
			return Trigger{}, false, err
		}
		if len(hashes) > 0 {
			b.pending = hashes
			break
		}
		timer := time.NewTimer(b.poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Trigger{}, false, ctx.Err()
		}
		timer.Stop()
	}
	hash := b.pending[0]
	b.pending = b.pending[1:]
	b.emitted++
	return Trigger{Kind: TriggerBlock, BlockHash: hash}, true, nil
}
