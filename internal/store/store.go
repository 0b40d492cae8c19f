// Package store defines the persistence collaborator (spec §6.2) and a
// minimal in-memory reference implementation. A durable table store is out
// of scope for the core; callers needing one implement the Store interface
// against their own database and hand it to the engine.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spamgen/spamgen/internal/histogram"
	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/txactor"
)

// RunSpec describes a run at creation time (spec §3 Run, minus the fields
// the store itself assigns).
type RunSpec struct {
	ScenarioName   string
	TxCount        int
	TxsPerDuration int
	Duration       string // e.g. "10s" or "20 blocks"
	Timeout        time.Duration
	RPCEndpoint    string
}

// Run is the full persisted run record.
type Run struct {
	ID        string
	CreatedAt time.Time
	RunSpec
}

// Store is everything the core needs from the persistence collaborator.
// Buckets are reported as (upper_bound_seconds, cumulative_count) pairs
// with non-decreasing cumulative_count, matching histogram.Bucket.
type Store interface {
	InsertRun(ctx context.Context, spec RunSpec) (runID string, err error)
	InsertNamedTxs(ctx context.Context, named []scenario.NamedTx, endpoint string) error
	GetNamedTx(ctx context.Context, name, endpoint string) (scenario.NamedTx, bool, error)
	InsertRunTxs(ctx context.Context, runID string, txs []txactor.RunTx) error
	InsertLatencyMetrics(ctx context.Context, runID string, buckets map[string][]histogram.Bucket) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	GetRunTxs(ctx context.Context, id string) ([]txactor.RunTx, error)
	NumRuns(ctx context.Context) (int, error)
}

// namedTxKey scopes a deployed contract's name by the endpoint it was
// deployed against, since the same scenario can target multiple chains.
type namedTxKey struct {
	name     string
	endpoint string
}

// MemStore is an in-memory Store, useful for tests, dry runs, and small
// one-shot invocations that don't need a durable table store.
type MemStore struct {
	mu sync.Mutex

	runs      map[string]Run
	runOrder  []string
	runTxs    map[string][]txactor.RunTx
	latencies map[string]map[string][]histogram.Bucket
	namedTxs  map[namedTxKey]scenario.NamedTx
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:      make(map[string]Run),
		runTxs:    make(map[string][]txactor.RunTx),
		latencies: make(map[string]map[string][]histogram.Bucket),
		namedTxs:  make(map[namedTxKey]scenario.NamedTx),
	}
}

func (m *MemStore) InsertRun(ctx context.Context, spec RunSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.runs[id] = Run{ID: id, CreatedAt: time.Now(), RunSpec: spec}
	m.runOrder = append(m.runOrder, id)
	return id, nil
}

func (m *MemStore) InsertNamedTxs(ctx context.Context, named []scenario.NamedTx, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range named {
		m.namedTxs[namedTxKey{name: n.Name, endpoint: endpoint}] = n
	}
	return nil
}

func (m *MemStore) GetNamedTx(ctx context.Context, name, endpoint string) (scenario.NamedTx, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.namedTxs[namedTxKey{name: name, endpoint: endpoint}]
	return n, ok, nil
}

func (m *MemStore) InsertRunTxs(ctx context.Context, runID string, txs []txactor.RunTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return fmt.Errorf("store: unknown run %q", runID)
	}
	m.runTxs[runID] = append(m.runTxs[runID], txs...)
	return nil
}

func (m *MemStore) InsertLatencyMetrics(ctx context.Context, runID string, buckets map[string][]histogram.Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return fmt.Errorf("store: unknown run %q", runID)
	}
	m.latencies[runID] = buckets
	return nil
}

func (m *MemStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok, nil
}

func (m *MemStore) GetRunTxs(ctx context.Context, id string) ([]txactor.RunTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]txactor.RunTx{}, m.runTxs[id]...), nil
}

func (m *MemStore) NumRuns(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs), nil
}
