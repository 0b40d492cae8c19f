package scenario

import "testing"

func TestTxRequestIsNotBundle(t *testing.T) {
	req := TxRequest(CallDef{To: "{target}"})
	if req.IsBundle() {
		t.Fatalf("TxRequest should not report IsBundle")
	}
	if req.Tx == nil {
		t.Fatalf("expected Tx to be set")
	}
}

func TestBundleRequestIsBundle(t *testing.T) {
	req := BundleRequest([]CallDef{{To: "{a}"}, {To: "{b}"}})
	if !req.IsBundle() {
		t.Fatalf("BundleRequest should report IsBundle")
	}
	if len(req.Bundle.Txs) != 2 {
		t.Fatalf("expected 2 txs in bundle, got %d", len(req.Bundle.Txs))
	}
}
