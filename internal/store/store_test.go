package store

import (
	"context"
	"testing"

	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/txactor"
)

func TestInsertAndGetRun(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	id, err := s.InsertRun(ctx, RunSpec{ScenarioName: "fill-block", TxCount: 10})
	if err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty run id")
	}

	run, ok, err := s.GetRun(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetRun(%q) = %v, %v, %v", id, run, ok, err)
	}
	if run.ScenarioName != "fill-block" {
		t.Fatalf("ScenarioName = %q, want fill-block", run.ScenarioName)
	}
}

func TestGetRunUnknownID(t *testing.T) {
	s := NewMemStore()
	_, ok, err := s.GetRun(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for an unknown run id")
	}
}

func TestInsertRunTxsRejectsUnknownRun(t *testing.T) {
	s := NewMemStore()
	err := s.InsertRunTxs(context.Background(), "missing", []txactor.RunTx{{}})
	if err == nil {
		t.Fatalf("expected an error inserting RunTxs against an unknown run")
	}
}

func TestNamedTxRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if err := s.InsertNamedTxs(ctx, []scenario.NamedTx{{Name: "token", Address: "0xabc"}}, "http://node"); err != nil {
		t.Fatalf("InsertNamedTxs failed: %v", err)
	}

	got, ok, err := s.GetNamedTx(ctx, "token", "http://node")
	if err != nil || !ok {
		t.Fatalf("GetNamedTx = %v, %v, %v", got, ok, err)
	}
	if got.Address != "0xabc" {
		t.Fatalf("Address = %q, want 0xabc", got.Address)
	}

	if _, ok, _ := s.GetNamedTx(ctx, "token", "http://other-node"); ok {
		t.Fatalf("named tx must be scoped per endpoint")
	}
}

func TestNumRunsCounts(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if n, _ := s.NumRuns(ctx); n != 0 {
		t.Fatalf("NumRuns = %d, want 0", n)
	}
	s.InsertRun(ctx, RunSpec{})
	s.InsertRun(ctx, RunSpec{})
	if n, _ := s.NumRuns(ctx); n != 2 {
		t.Fatalf("NumRuns = %d, want 2", n)
	}
}
