package plan

import (
	"testing"

	"github.com/spamgen/spamgen/internal/agents"
	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/seeder"
)

func newStore(t *testing.T) *agents.Store {
	t.Helper()
	s := agents.New()
	if err := s.Init(seeder.FromUint64(1), []string{"spammers"}, 3); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return s
}

func TestBuildResolvesLiteralCreateSender(t *testing.T) {
	s := scenario.Scenario{
		Create: []scenario.CreateDef{{Name: "Token", Bytecode: "0x00", From: "0x000000000000000000000000000000000000000a"}},
	}
	p, err := Build(s, newStore(t))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(p.CreateSteps) != 1 {
		t.Fatalf("expected 1 create step, got %d", len(p.CreateSteps))
	}
	if p.CreateSteps[0].Name != "Token" {
		t.Fatalf("expected step name Token, got %q", p.CreateSteps[0].Name)
	}
}

func TestBuildResolvesCreateFromPoolAtIndexZero(t *testing.T) {
	store := newStore(t)
	s := scenario.Scenario{
		Create: []scenario.CreateDef{{Name: "Token", Bytecode: "0x00", FromPool: "spammers"}},
	}
	p, err := Build(s, store)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	sig0, _ := store.GetSigner("spammers", 0)
	if p.CreateSteps[0].From != sig0.Address {
		t.Fatalf("expected create sender to be pool index 0")
	}
}

func TestBuildDefersSpamFromPool(t *testing.T) {
	s := scenario.Scenario{
		Spam: []scenario.SpamRequest{
			scenario.TxRequest(scenario.CallDef{To: "{x}", FromPool: "spammers"}),
		},
	}
	p, err := Build(s, newStore(t))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if p.SpamSteps[0].Call.FromPool != "spammers" {
		t.Fatalf("expected spam from_pool to remain deferred")
	}
}

func TestBuildBundleSharesSender(t *testing.T) {
	s := scenario.Scenario{
		Spam: []scenario.SpamRequest{
			scenario.BundleRequest([]scenario.CallDef{
				{To: "{a}", FromPool: "spammers"},
				{To: "{b}", From: "0x0000000000000000000000000000000000000b"},
			}),
		},
	}
	p, err := Build(s, newStore(t))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	bundle := p.SpamSteps[0].Bundle
	if len(bundle) != 2 {
		t.Fatalf("expected 2 bundle txs, got %d", len(bundle))
	}
	if bundle[0].FromPool != bundle[1].FromPool {
		t.Fatalf("both bundle txs should share the first tx's from_pool")
	}
}

func TestBuildRejectsBothFromAndFromPool(t *testing.T) {
	s := scenario.Scenario{
		Setup: []scenario.CallDef{{To: "{x}", From: "0x0000000000000000000000000000000000000a", FromPool: "spammers"}},
	}
	if _, err := Build(s, newStore(t)); err == nil {
		t.Fatalf("expected error when both from and from_pool are set")
	}
}

func TestBuildRejectsEmptyBundle(t *testing.T) {
	s := scenario.Scenario{
		Spam: []scenario.SpamRequest{scenario.BundleRequest(nil)},
	}
	if _, err := Build(s, newStore(t)); err == nil {
		t.Fatalf("expected error for an empty bundle")
	}
}
