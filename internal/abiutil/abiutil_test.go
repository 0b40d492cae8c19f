package abiutil

import "testing"

func TestEncodeCalldataSelectorLength(t *testing.T) {
	data, err := EncodeCalldata("set(uint256 x)", []string{"100"})
	if err != nil {
		t.Fatalf("EncodeCalldata failed: %v", err)
	}
	if len(data) != 4+32 {
		t.Fatalf("expected 4-byte selector + 32-byte word, got %d bytes", len(data))
	}
}

func TestEncodeCalldataNoArgs(t *testing.T) {
	data, err := EncodeCalldata("tick()", nil)
	if err != nil {
		t.Fatalf("EncodeCalldata failed: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("expected bare 4-byte selector, got %d bytes", len(data))
	}
}

func TestEncodeCalldataArgCountMismatch(t *testing.T) {
	if _, err := EncodeCalldata("set(uint256 x)", nil); err == nil {
		t.Fatalf("expected error for missing argument")
	}
}

func TestEncodeCalldataAddress(t *testing.T) {
	data, err := EncodeCalldata("transfer(address to, uint256 amount)", []string{
		"0x00000000000000000000000000000000000000aa", "1000",
	})
	if err != nil {
		t.Fatalf("EncodeCalldata failed: %v", err)
	}
	if len(data) != 4+64 {
		t.Fatalf("expected 4-byte selector + 2 words, got %d bytes", len(data))
	}
}

func TestEncodeCalldataBadAddress(t *testing.T) {
	if _, err := EncodeCalldata("transfer(address to, uint256 amount)", []string{"not-an-address", "1"}); err == nil {
		t.Fatalf("expected error for malformed address")
	}
}
