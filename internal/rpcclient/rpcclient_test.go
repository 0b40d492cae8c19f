package rpcclient

import "testing"

func TestErrUnsupportedIsDistinct(t *testing.T) {
	if ErrUnsupported == nil {
		t.Fatalf("ErrUnsupported must be non-nil")
	}
}

func TestDefaultTimeoutIsPositive(t *testing.T) {
	if DefaultTimeout <= 0 {
		t.Fatalf("DefaultTimeout must be positive")
	}
}
