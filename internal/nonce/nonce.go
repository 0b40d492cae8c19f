// Package nonce implements the per-(signer, endpoint) nonce reservation
// table (spec §4.5). Bundles and per-chunk batches need a contiguous nonce
// range handed out atomically; incrementing a shared counter after each send
// races under parallel dispatch, so every allocation goes through Reserve.
package nonce

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Fetcher retrieves the current pending nonce for an address from the RPC,
// used to initialize a (signer, endpoint) counter on first use.
type Fetcher func(ctx context.Context, endpoint string, signer common.Address) (uint64, error)

// Key identifies one nonce counter.
type Key struct {
	Signer   common.Address
	Endpoint string
}

type entry struct {
	mu          sync.Mutex
	next        uint64
	initialized bool
}

// Manager holds one counter per (signer, endpoint) pair. The zero value is
// not usable; construct with New.
type Manager struct {
	fetch Fetcher

	mu      sync.Mutex // guards entries map structure only
	entries map[Key]*entry
}

// New builds a Manager that initializes each counter from fetch on first
// use.
func New(fetch Fetcher) *Manager {
	return &Manager{
		fetch:   fetch,
		entries: make(map[Key]*entry),
	}
}

func (m *Manager) entryFor(key Key) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	return e
}

// Reserve atomically allocates `count` contiguous nonces for (signer,
// endpoint) and returns the first one. The caller is responsible for using
// exactly `count` nonces starting at the returned value, in order.
func (m *Manager) Reserve(ctx context.Context, signer common.Address, endpoint string, count int) (uint64, error) {
	if count <= 0 {
		return 0, fmt.Errorf("nonce: count must be positive, got %d", count)
	}
	key := Key{Signer: signer, Endpoint: endpoint}
	e := m.entryFor(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		n, err := m.fetch(ctx, endpoint, signer)
		if err != nil {
			return 0, fmt.Errorf("nonce: initializing counter for %s@%s: %w", signer, endpoint, err)
		}
		e.next = n
		e.initialized = true
	}

	first := e.next
	e.next += uint64(count)
	return first, nil
}

// Peek returns the current counter value for (signer, endpoint) without
// advancing it. ok is false if the counter hasn't been reserved yet.
func (m *Manager) Peek(signer common.Address, endpoint string) (value uint64, ok bool) {
	key := Key{Signer: signer, Endpoint: endpoint}
	m.mu.Lock()
	e, exists := m.entries[key]
	m.mu.Unlock()
	if !exists {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next, e.initialized
}
