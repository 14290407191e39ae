package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAmountJSONAcceptsStringsAndNumbers(t *testing.T) {
	cases := map[string]Amount{
		`"18446744073709551615"`: Amount(^uint64(0)),
		`7`:                      7,
		`7e+00`:                  7,
		`"0"`:                    0,
	}
	for raw, want := range cases {
		var got Amount
		if err := json.Unmarshal([]byte(raw), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if got != want {
			t.Fatalf("unmarshal %s: expected %d, got %d", raw, want, got)
		}
	}

	for _, raw := range []string{`-1`, `1.5`, `"abc"`} {
		var got Amount
		if err := json.Unmarshal([]byte(raw), &got); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}

	encoded, err := json.Marshal(Amount(42))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `"42"` {
		t.Fatalf("expected quoted amount, got %s", encoded)
	}
}

func TestParseCategory(t *testing.T) {
	got, err := ParseCategory(" JobApplication ")
	if err != nil || got != CategoryJobApplication {
		t.Fatalf("expected job_application, got %q err=%v", got, err)
	}
	if _, err := ParseCategory("weather"); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}

func TestErrorKindMatchesThroughWrapping(t *testing.T) {
	wrapped := ErrTransferFailed.WithCause(errors.New("escrow empty"))
	if !errors.Is(wrapped, ErrTransferFailed) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if errors.Is(wrapped, ErrAgentNotFound) {
		t.Fatalf("kinds must not cross-match")
	}
	if errors.Is(InvalidArgument("x"), ErrInvalidStakeAmount) {
		t.Fatalf("kindless errors must not match sentinels")
	}
}

func TestStateApplyKeepsIndexesInOrder(t *testing.T) {
	state := EmptyState(PlatformConfig{Owner: "platform", FeePercentage: 10})
	err := state.Apply(ChangeSet{
		Agents: []Agent{{ID: 1, Owner: "alice", Active: true}},
		Interactions: []Interaction{
			{ID: 1, AgentID: 1, User: "bob", Status: StatusPending},
			{ID: 2, AgentID: 1, User: "carol", Status: StatusPending},
		},
		NextAgentID:       2,
		NextInteractionID: 3,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ids := state.AgentInteractions[1]; len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected agent index: %v", ids)
	}
	if ids := state.UserInteractions["bob"]; len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("unexpected user index: %v", ids)
	}

	if err := state.Apply(ChangeSet{Interactions: []Interaction{{ID: 9}}}); err == nil {
		t.Fatalf("expected out-of-order insert to fail")
	}

	state.UserInteractions = nil
	state.Normalize()
	if ids := state.UserInteractions["carol"]; len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("expected rebuilt index, got %v", ids)
	}
}

func TestStateApplyReplacesBalances(t *testing.T) {
	state := EmptyState(PlatformConfig{Owner: "platform"})
	if err := state.Apply(ChangeSet{Balances: map[Identity]Amount{"alice": 5, "escrow": 10}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := state.Apply(ChangeSet{Balances: map[Identity]Amount{"alice": 0, "escrow": 15}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := state.Balances["alice"]; ok || state.Balance("escrow") != 15 {
		t.Fatalf("unexpected balances: %v", state.Balances)
	}
	if (ChangeSet{Balances: map[Identity]Amount{"alice": 1}}).Empty() {
		t.Fatalf("balance-only change set must not be empty")
	}

	clone := state.Clone()
	clone.SetBalance("escrow", 1)
	if state.Balance("escrow") != 15 {
		t.Fatalf("clone shares balances")
	}
}

func TestSummarizeSaturatesTotals(t *testing.T) {
	top := Amount(^uint64(0))
	state := EmptyState(PlatformConfig{Owner: "platform"})
	state.Agents = []Agent{{ID: 1, StakeAmount: top}, {ID: 2, StakeAmount: 2}}
	state.Interactions = []Interaction{
		{ID: 1, AgentID: 1, FeePaid: top, Status: StatusPending},
		{ID: 2, AgentID: 1, FeePaid: top, Status: StatusCompleted},
	}
	summary := state.Summarize()
	if summary.Totals.StakeHeld != top || summary.Totals.FeesPaid != top {
		t.Fatalf("totals wrapped: %+v", summary.Totals)
	}
	if summary.Counts.Pending != 1 || summary.Counts.Completed != 1 {
		t.Fatalf("unexpected counts: %+v", summary.Counts)
	}
}
