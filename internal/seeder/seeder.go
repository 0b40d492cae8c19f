// Package seeder implements the deterministic pseudo-random value source
// spamgen uses to fuzz call arguments and derive signer private keys from a
// single 32-byte seed (spec §4.1).
package seeder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Seed is a 32-byte deterministic seed value. The zero Seed is not useful;
// construct one with FromBytes, FromUint64, or FromBigInt.
type Seed struct {
	b [32]byte
}

// FromBytes interprets b as a seed.
//
// If b is shorter than 32 bytes it is right-padded with 0x01, not zero.
// This reproduces a legacy quirk in the source this was ported from: a
// 1-byte seed []byte{0x00} is NOT equivalent to the 32-byte zero seed,
// because the remaining 31 bytes are filled with 0x01 rather than 0x00.
// Callers that expect byte([]byte{0}) == Seed(zero) will be surprised;
// this is preserved for bug-compatibility (spec §9, open question).
//
// If b is longer than 32 bytes, only the first 32 bytes are used.
func FromBytes(b []byte) Seed {
	var s Seed
	if len(b) >= 32 {
		copy(s.b[:], b[:32])
		return s
	}
	copy(s.b[:], b)
	for i := len(b); i < 32; i++ {
		s.b[i] = 0x01
	}
	return s
}

// FromUint64 builds a seed from a u64, big-endian, zero-extended to 32 bytes.
func FromUint64(v uint64) Seed {
	var s Seed
	big.NewInt(0).SetUint64(v).FillBytes(s.b[:])
	return s
}

// FromBigInt builds a seed from a big.Int, big-endian, truncated/zero-padded
// to 32 bytes.
func FromBigInt(n *big.Int) Seed {
	var s Seed
	m := new(big.Int).Mod(n, twoPow256())
	m.FillBytes(s.b[:])
	return s
}

func twoPow256() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 256)
}

// AsBytes returns the raw 32-byte seed.
func (s Seed) AsBytes() []byte {
	out := make([]byte, 32)
	copy(out, s.b[:])
	return out
}

// AsU64 returns the low 8 bytes of the seed, big-endian.
func (s Seed) AsU64() uint64 {
	return new(big.Int).SetBytes(s.b[24:32]).Uint64()
}

// AsU128 returns the low 16 bytes of the seed, big-endian, as a big.Int.
func (s Seed) AsU128() *big.Int {
	return new(big.Int).SetBytes(s.b[16:32])
}

// AsU256 returns the full seed as a big.Int.
func (s Seed) AsU256() *big.Int {
	return new(big.Int).SetBytes(s.b[:])
}

// SeedValues returns the deterministic sequence of `count` values, each
// satisfying min <= v < max.
//
// The i-th value is keccak256(seedAsU256 + i, encoded little-endian over 32
// bytes) interpreted as a big-endian uint256, reduced mod (max-min), plus
// min. Hashing the little-endian encoding while everything else in this
// package is big-endian is deliberate: it reproduces the exact byte pattern
// the reference generator hashes, which downstream golden-value tests pin.
//
// The returned sequence has exactly `count` elements; it is not restartable
// (each call recomputes from scratch, which is fine since this is pure and
// re-derivable from the same seed).
func SeedValues(seed Seed, count int, min, max *big.Int) []Seed {
	if count <= 0 {
		return nil
	}
	if min == nil {
		min = big.NewInt(0)
	}
	if max == nil {
		max = new(big.Int).Sub(twoPow256(), big.NewInt(1))
	}
	if min.Cmp(max) >= 0 {
		panic("seeder: min must be less than max")
	}
	span := new(big.Int).Sub(max, min)

	base := seed.AsU256()
	out := make([]Seed, count)
	for i := 0; i < count; i++ {
		seedNum := new(big.Int).Add(base, big.NewInt(int64(i)))
		seedNum.Mod(seedNum, twoPow256())

		leBytes := toLE32(seedNum)
		hash := crypto.Keccak256(leBytes)

		val := new(big.Int).SetBytes(hash) // big-endian interpretation
		val.Mod(val, span)
		val.Add(val, min)

		out[i] = FromBigInt(val)
	}
	return out
}

// toLE32 encodes n as a little-endian 32-byte array (the reverse of the
// big-endian FillBytes encoding used everywhere else in this package).
func toLE32(n *big.Int) []byte {
	be := make([]byte, 32)
	n.FillBytes(be)
	le := make([]byte, 32)
	for i := 0; i < 32; i++ {
		le[i] = be[31-i]
	}
	return le
}
