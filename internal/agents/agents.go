// Package agents implements the Agent Store (spec §4.2): named, ordered
// pools of signer accounts derived deterministically from a seed.
package agents

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/spamgen/spamgen/internal/seeder"
)

// Signer is one derived key pair plus its Ethereum address.
type Signer struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// Store holds the named pools built for a single run. It is read-only after
// Init returns; concurrent reads from multiple dispatcher goroutines are
// safe.
type Store struct {
	pools map[string][]Signer
}

// New returns an empty Store. Call Init to populate pools.
func New() *Store {
	return &Store{pools: make(map[string][]Signer)}
}

// Init materializes perPoolCount signers for every pool name not already
// present in the store, deriving each key by hashing seed || poolName ||
// index (spec §4.2).
func (s *Store) Init(seed seeder.Seed, poolNames []string, perPoolCount int) error {
	for _, name := range poolNames {
		if _, exists := s.pools[name]; exists {
			continue
		}
		if perPoolCount <= 0 {
			return fmt.Errorf("agents: pool %q requested with non-positive count %d", name, perPoolCount)
		}
		signers := make([]Signer, perPoolCount)
		for i := 0; i < perPoolCount; i++ {
			key, err := deriveKey(seed, name, i)
			if err != nil {
				return fmt.Errorf("agents: deriving key %d for pool %q: %w", i, name, err)
			}
			signers[i] = Signer{
				Address: crypto.PubkeyToAddress(key.PublicKey),
				Key:     key,
			}
		}
		s.pools[name] = signers
	}
	return nil
}

// deriveKey hashes seed || poolName || index with keccak256 to get a
// candidate scalar and accepts it if it lies in the valid secp256k1
// private-key range [1, N-1]. A digest outside that range is re-hashed with
// an incremented salt counter, the standard hash-to-scalar retry loop.
func deriveKey(seed seeder.Seed, poolName string, index int) (*ecdsa.PrivateKey, error) {
	indexBytes := big.NewInt(int64(index)).Bytes()
	for salt := 0; salt < 256; salt++ {
		material := append([]byte{}, seed.AsBytes()...)
		material = append(material, []byte(poolName)...)
		material = append(material, indexBytes...)
		if salt > 0 {
			material = append(material, byte(salt))
		}
		digest := crypto.Keccak256(material)
		key, err := crypto.ToECDSA(digest)
		if err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("agents: could not derive a valid secp256k1 scalar for pool %q index %d", poolName, index)
}

// GetSigner returns the signer at the given index in the named pool.
// Requesting an unknown pool or an out-of-range index is a fatal
// configuration error (spec §4.2 failure mode).
func (s *Store) GetSigner(pool string, index int) (Signer, error) {
	signers, ok := s.pools[pool]
	if !ok {
		return Signer{}, fmt.Errorf("agents: unknown pool %q", pool)
	}
	if index < 0 || index >= len(signers) {
		return Signer{}, fmt.Errorf("agents: index %d out of range for pool %q (size %d)", index, pool, len(signers))
	}
	return signers[index], nil
}

// Size returns the number of signers in a pool, or 0 if the pool is unknown.
func (s *Store) Size(pool string) int {
	return len(s.pools[pool])
}

// AllSigners returns every signer across every pool, useful for funding and
// balance-check passes at setup time.
func (s *Store) AllSigners() []Signer {
	var out []Signer
	for _, signers := range s.pools {
		out = append(out, signers...)
	}
	return out
}

// FindByAddress searches every pool for a signer with the given address.
// Dispatch uses this to recover the private key for a CallDef's literal
// `from` address, since the store is the only place keys live.
func (s *Store) FindByAddress(addr common.Address) (Signer, bool) {
	for _, signers := range s.pools {
		for _, sig := range signers {
			if sig.Address == addr {
				return sig, true
			}
		}
	}
	return Signer{}, false
}

// HasPool reports whether the named pool has been initialized.
func (s *Store) HasPool(pool string) bool {
	_, ok := s.pools[pool]
	return ok
}
