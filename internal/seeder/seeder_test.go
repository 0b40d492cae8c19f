package seeder

import (
	"math/big"
	"testing"
)

func TestFromBytesPadsShortSeedWithOne(t *testing.T) {
	s := FromBytes([]byte{0x00})
	b := s.AsBytes()
	if b[0] != 0x00 {
		t.Fatalf("expected first byte 0x00, got %#x", b[0])
	}
	for i := 1; i < 32; i++ {
		if b[i] != 0x01 {
			t.Fatalf("byte %d: expected 0x01 padding, got %#x", i, b[i])
		}
	}

	zero := FromBytes(make([]byte, 32))
	if s.AsU256().Cmp(zero.AsU256()) == 0 {
		t.Fatalf("1-byte zero seed must not equal the 32-byte zero seed")
	}
}

func TestFromBytesTruncatesLongSeed(t *testing.T) {
	long := make([]byte, 40)
	long[0] = 0xAB
	s := FromBytes(long)
	if s.AsBytes()[0] != 0xAB {
		t.Fatalf("expected first byte preserved")
	}
	if len(s.AsBytes()) != 32 {
		t.Fatalf("expected exactly 32 bytes")
	}
}

func TestAsAccessors(t *testing.T) {
	s := FromUint64(1)
	if s.AsU64() != 1 {
		t.Fatalf("AsU64() = %d, want 1", s.AsU64())
	}
	if s.AsU128().Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("AsU128() = %s, want 1", s.AsU128())
	}
	if s.AsU256().Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("AsU256() = %s, want 1", s.AsU256())
	}
}

func TestSeedValuesDeterministic(t *testing.T) {
	seed := FromUint64(0x01)
	min := big.NewInt(0)
	max := big.NewInt(100)

	first := SeedValues(seed, 10, min, max)
	second := SeedValues(seed, 10, min, max)

	if len(first) != 10 || len(second) != 10 {
		t.Fatalf("expected 10 values in each run")
	}
	for i := range first {
		if first[i].AsU256().Cmp(second[i].AsU256()) != 0 {
			t.Fatalf("value %d differs between runs: %s vs %s", i, first[i].AsU256(), second[i].AsU256())
		}
	}
}

func TestSeedValuesInRange(t *testing.T) {
	seed := FromUint64(42)
	min := big.NewInt(10)
	max := big.NewInt(20)

	vals := SeedValues(seed, 50, min, max)
	for i, v := range vals {
		n := v.AsU256()
		if n.Cmp(min) < 0 || n.Cmp(max) >= 0 {
			t.Fatalf("value %d = %s out of range [%s, %s)", i, n, min, max)
		}
	}
}

func TestSeedValuesEmptyCount(t *testing.T) {
	vals := SeedValues(FromUint64(1), 0, big.NewInt(0), big.NewInt(10))
	if vals != nil {
		t.Fatalf("expected nil for count=0, got %v", vals)
	}
}

func TestSeedValuesPanicsOnBadRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for min >= max")
		}
	}()
	SeedValues(FromUint64(1), 1, big.NewInt(10), big.NewInt(5))
}
