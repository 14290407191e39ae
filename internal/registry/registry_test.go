package registry

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/gaganv007/polkaagents/internal/domain"
)

const (
	platform = domain.Identity("platform")
	alice    = domain.Identity("alice")
	bob      = domain.Identity("bob")
	mallory  = domain.Identity("mallory")
)

type transfer struct {
	to     domain.Identity
	amount domain.Amount
}

type fakeLedger struct {
	mu        sync.Mutex
	transfers []transfer
	fail      error
}

// Collect leaves the book alone so fixtures need no funded callers.
func (l *fakeLedger) Collect(context.Context, domain.Book, domain.Identity, domain.Amount) error {
	return nil
}

func (l *fakeLedger) Transfer(_ context.Context, book domain.Book, to domain.Identity, amount domain.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	l.transfers = append(l.transfers, transfer{to: to, amount: amount})
	book.SetBalance(to, book.Balance(to)+amount)
	return nil
}

func (l *fakeLedger) Credit(_ context.Context, book domain.Book, account domain.Identity, amount domain.Amount) error {
	book.SetBalance(account, book.Balance(account)+amount)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *eventLog) Emit(_ context.Context, event domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *eventLog) kinds() []domain.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.EventKind, 0, len(e.events))
	for _, event := range e.events {
		out = append(out, event.Kind())
	}
	return out
}

type fixture struct {
	reg    *Registry
	ledger *fakeLedger
	events *eventLog
}

func newFixture(t *testing.T, fee uint64, opts ...Option) fixture {
	t.Helper()
	ledger := &fakeLedger{}
	events := &eventLog{}
	base := []Option{
		WithLedger(ledger),
		WithEmitter(events),
		WithClock(ClockFunc(func() domain.Timestamp { return 1_700_000_000_000 })),
	}
	reg, err := New(context.Background(), platform, fee, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return fixture{reg: reg, ledger: ledger, events: events}
}

func metadata(name string) domain.AgentMetadata {
	return domain.AgentMetadata{
		Name:        name,
		Description: "test agent",
		Category:    domain.CategoryChatbot,
		ModelInfo:   "gpt-2",
	}
}

func (f fixture) register(t *testing.T, owner domain.Identity, stake, price domain.Amount) domain.AgentID {
	t.Helper()
	id, err := f.reg.RegisterAgent(context.Background(), Call{Caller: owner, Value: stake}, RegisterAgentParams{
		Metadata:      metadata("agent"),
		PricePerQuery: price,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func TestNewRejectsFeeAbove100(t *testing.T) {
	reg, err := New(context.Background(), platform, 101)
	if !errors.Is(err, domain.ErrInvalidFeePercentage) {
		t.Fatalf("expected InvalidFeePercentage, got %v", err)
	}
	if reg != nil {
		t.Fatalf("expected no registry on failed construction")
	}
	if _, err := New(context.Background(), platform, 100); err != nil {
		t.Fatalf("fee 100 must be accepted: %v", err)
	}
}

func TestRegisterAgentAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	var previous domain.AgentID
	for i := 0; i < 3; i++ {
		id := f.register(t, alice, 10+domain.Amount(i), 5)
		if id <= previous {
			t.Fatalf("expected strictly increasing ids, got %d after %d", id, previous)
		}
		previous = id

		agent, ok := f.reg.GetAgent(id)
		if !ok {
			t.Fatalf("agent %d not found", id)
		}
		if !agent.Active || agent.Owner != alice || agent.StakeAmount != 10+domain.Amount(i) {
			t.Fatalf("unexpected agent: %+v", agent)
		}
		if agent.CreatedAt != 1_700_000_000_000 {
			t.Fatalf("expected host time, got %d", agent.CreatedAt)
		}
	}

	if err := f.reg.WithdrawStake(ctx, Call{Caller: alice}, previous); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	next := f.register(t, bob, 10, 1)
	if next != previous+1 {
		t.Fatalf("expected id %d after withdrawal, got %d", previous+1, next)
	}
}

func TestRegisterAgentBelowMinimumStake(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.reg.RegisterAgent(context.Background(), Call{Caller: alice, Value: 9}, RegisterAgentParams{
		Metadata: metadata("cheap"),
	})
	if !errors.Is(err, domain.ErrInvalidStakeAmount) {
		t.Fatalf("expected InvalidStakeAmount, got %v", err)
	}
	snapshot := f.reg.Snapshot()
	if snapshot.NextAgentID != 1 || len(snapshot.Agents) != 0 {
		t.Fatalf("state mutated on failed registration: next=%d agents=%d", snapshot.NextAgentID, len(snapshot.Agents))
	}
	if len(f.events.kinds()) != 0 {
		t.Fatalf("no event expected, got %v", f.events.kinds())
	}

	id := f.register(t, alice, MinimumStake, 0)
	if id != 1 {
		t.Fatalf("expected first id to be 1, got %d", id)
	}
}

func TestUpdateAgentAppliesOnlyPresentFields(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.register(t, alice, 10, 5)

	price := domain.Amount(9)
	if err := f.reg.UpdateAgent(ctx, Call{Caller: alice}, UpdateAgentParams{AgentID: id, PricePerQuery: &price}); err != nil {
		t.Fatalf("update price: %v", err)
	}
	agent, _ := f.reg.GetAgent(id)
	if agent.PricePerQuery != 9 || agent.Metadata.Name != "agent" || !agent.Active {
		t.Fatalf("unexpected agent after price update: %+v", agent)
	}

	renamed := metadata("renamed")
	inactive := false
	if err := f.reg.UpdateAgent(ctx, Call{Caller: alice}, UpdateAgentParams{AgentID: id, Metadata: &renamed, Active: &inactive}); err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	agent, _ = f.reg.GetAgent(id)
	if agent.Metadata.Name != "renamed" || agent.Active || agent.PricePerQuery != 9 {
		t.Fatalf("unexpected agent after metadata update: %+v", agent)
	}

	_, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 9}, id, []byte("hi"))
	if !errors.Is(err, domain.ErrAgentNotActive) {
		t.Fatalf("expected AgentNotActive after deactivation, got %v", err)
	}

	if err := f.reg.UpdateAgent(ctx, Call{Caller: alice}, UpdateAgentParams{AgentID: 42}); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("expected AgentNotFound, got %v", err)
	}
}

func TestNonOwnerMutationsLeaveRecordsUnchanged(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.register(t, alice, 10, 5)
	interactionID, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 5}, id, []byte("q"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	agentBefore, _ := f.reg.GetAgent(id)
	interactionBefore, _ := f.reg.GetInteraction(interactionID)
	eventsBefore := len(f.events.kinds())

	price := domain.Amount(1)
	calls := map[string]error{
		"update":   f.reg.UpdateAgent(ctx, Call{Caller: mallory}, UpdateAgentParams{AgentID: id, PricePerQuery: &price}),
		"withdraw": f.reg.WithdrawStake(ctx, Call{Caller: mallory}, id),
		// the querying user is not the agent owner either
		"respond": f.reg.SubmitResponse(ctx, Call{Caller: bob}, interactionID, []byte("forged")),
		"fee":     f.reg.UpdatePlatformFee(ctx, Call{Caller: alice}, 50),
	}
	for name, err := range calls {
		if !errors.Is(err, domain.ErrUnauthorizedOwner) {
			t.Fatalf("%s: expected UnauthorizedOwner, got %v", name, err)
		}
	}

	agentAfter, _ := f.reg.GetAgent(id)
	interactionAfter, _ := f.reg.GetInteraction(interactionID)
	if !reflect.DeepEqual(agentBefore, agentAfter) {
		t.Fatalf("agent changed: %+v -> %+v", agentBefore, agentAfter)
	}
	if !reflect.DeepEqual(interactionBefore, interactionAfter) {
		t.Fatalf("interaction changed: %+v -> %+v", interactionBefore, interactionAfter)
	}
	if f.reg.PlatformConfig().FeePercentage != 10 {
		t.Fatalf("fee changed by non-owner")
	}
	if len(f.events.kinds()) != eventsBefore {
		t.Fatalf("unexpected events: %v", f.events.kinds()[eventsBefore:])
	}
	if len(f.ledger.transfers) != 1 {
		t.Fatalf("expected only the query payout, got %v", f.ledger.transfers)
	}
}

func TestQueryAgentFeeSplitConservesValue(t *testing.T) {
	cases := []struct {
		fee      uint64
		payment  domain.Amount
		platform domain.Amount
	}{
		{fee: 10, payment: 7, platform: 0},
		{fee: 10, payment: 100, platform: 10},
		{fee: 33, payment: 10, platform: 3},
		{fee: 0, payment: 50, platform: 0},
		{fee: 100, payment: 50, platform: 50},
		{fee: 99, payment: domain.Amount(^uint64(0)), platform: 18262276632972456098},
	}
	for _, tc := range cases {
		f := newFixture(t, tc.fee)
		id := f.register(t, alice, 10, 0)
		interactionID, err := f.reg.QueryAgent(context.Background(), Call{Caller: bob, Value: tc.payment}, id, nil)
		if err != nil {
			t.Fatalf("fee=%d payment=%d: %v", tc.fee, tc.payment, err)
		}

		platformFee, agentFee := SplitPayment(tc.payment, uint8(tc.fee))
		if platformFee+agentFee != tc.payment {
			t.Fatalf("fee=%d payment=%d: split %d+%d does not conserve", tc.fee, tc.payment, platformFee, agentFee)
		}
		if platformFee != tc.platform {
			t.Fatalf("fee=%d payment=%d: expected platform fee %d, got %d", tc.fee, tc.payment, tc.platform, platformFee)
		}

		interaction, _ := f.reg.GetInteraction(interactionID)
		if interaction.FeePaid != tc.payment {
			t.Fatalf("expected fee_paid %d, got %d", tc.payment, interaction.FeePaid)
		}
		if agentFee == 0 {
			if len(f.ledger.transfers) != 0 {
				t.Fatalf("zero agent fee must not transfer: %v", f.ledger.transfers)
			}
			continue
		}
		if len(f.ledger.transfers) != 1 || f.ledger.transfers[0] != (transfer{to: alice, amount: agentFee}) {
			t.Fatalf("unexpected transfers: %v", f.ledger.transfers)
		}
	}
}

func TestSplitPaymentNearMaxAmount(t *testing.T) {
	max := domain.Amount(^uint64(0))
	platformFee, agentFee := SplitPayment(max, 50)
	if platformFee != max/2 {
		t.Fatalf("expected %d, got %d", max/2, platformFee)
	}
	if platformFee+agentFee != max {
		t.Fatalf("split does not conserve value")
	}
}

func TestQueryAgentRejectionsKeepCounter(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.register(t, alice, 10, 5)

	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 4}, id, nil); !errors.Is(err, domain.ErrInsufficientPayment) {
		t.Fatalf("expected InsufficientPayment, got %v", err)
	}
	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 5}, 99, nil); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("expected AgentNotFound, got %v", err)
	}
	inactive := false
	if err := f.reg.UpdateAgent(ctx, Call{Caller: alice}, UpdateAgentParams{AgentID: id, Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	// inactive wins over insufficient payment
	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 1}, id, nil); !errors.Is(err, domain.ErrAgentNotActive) {
		t.Fatalf("expected AgentNotActive, got %v", err)
	}

	snapshot := f.reg.Snapshot()
	if snapshot.NextInteractionID != 1 || len(snapshot.Interactions) != 0 {
		t.Fatalf("interaction counter moved: %d", snapshot.NextInteractionID)
	}
	if len(f.ledger.transfers) != 0 {
		t.Fatalf("no transfer expected, got %v", f.ledger.transfers)
	}
}

func TestEndToEndQueryAndResponse(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	agentID := f.register(t, alice, 10, 5)
	interactionID, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 7}, agentID, []byte("translate: hello"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if interactionID != 1 {
		t.Fatalf("expected interaction 1, got %d", interactionID)
	}

	platformFee, agentFee := SplitPayment(7, 10)
	if platformFee != 0 || agentFee != 7 {
		t.Fatalf("expected 0/7 split, got %d/%d", platformFee, agentFee)
	}
	if len(f.ledger.transfers) != 1 || f.ledger.transfers[0] != (transfer{to: alice, amount: 7}) {
		t.Fatalf("unexpected transfers: %v", f.ledger.transfers)
	}

	pending, _ := f.reg.GetInteraction(interactionID)
	if pending.Status != domain.StatusPending || pending.FeePaid != 7 || pending.HasResponse() {
		t.Fatalf("unexpected pending interaction: %+v", pending)
	}

	if err := f.reg.SubmitResponse(ctx, Call{Caller: alice}, interactionID, []byte("hola")); err != nil {
		t.Fatalf("respond: %v", err)
	}
	completed, _ := f.reg.GetInteraction(interactionID)
	if completed.Status != domain.StatusCompleted || string(completed.ResponseData) != "hola" {
		t.Fatalf("unexpected completed interaction: %+v", completed)
	}

	if got := f.reg.GetUserInteractions(bob); !reflect.DeepEqual(got, []domain.InteractionID{1}) {
		t.Fatalf("unexpected user interactions: %v", got)
	}
	if got := f.reg.GetAgentInteractions(agentID); !reflect.DeepEqual(got, []domain.InteractionID{1}) {
		t.Fatalf("unexpected agent interactions: %v", got)
	}

	want := []domain.EventKind{domain.EventAgentRegistered, domain.EventQuerySubmitted, domain.EventResponseSubmitted}
	if got := f.events.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestSubmitResponseTwiceOverwrites(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	agentID := f.register(t, alice, 10, 1)
	interactionID, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 1}, agentID, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	// no completed guard: the second submission succeeds and wins
	if err := f.reg.SubmitResponse(ctx, Call{Caller: alice}, interactionID, []byte("first")); err != nil {
		t.Fatalf("first response: %v", err)
	}
	if err := f.reg.SubmitResponse(ctx, Call{Caller: alice}, interactionID, []byte("second")); err != nil {
		t.Fatalf("second response: %v", err)
	}
	interaction, _ := f.reg.GetInteraction(interactionID)
	if string(interaction.ResponseData) != "second" || interaction.Status != domain.StatusCompleted {
		t.Fatalf("expected second payload to win, got %+v", interaction)
	}

	if err := f.reg.SubmitResponse(ctx, Call{Caller: alice}, 77, nil); !errors.Is(err, domain.ErrInteractionNotFound) {
		t.Fatalf("expected InteractionNotFound, got %v", err)
	}
}

func TestSubmitEmptyResponseIsPresent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	agentID := f.register(t, alice, 10, 0)
	interactionID, _ := f.reg.QueryAgent(ctx, Call{Caller: bob}, agentID, nil)
	if err := f.reg.SubmitResponse(ctx, Call{Caller: alice}, interactionID, nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
	interaction, _ := f.reg.GetInteraction(interactionID)
	if !interaction.HasResponse() {
		t.Fatalf("expected an empty response to count as present")
	}
}

func TestWithdrawStakeTwice(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.register(t, alice, 25, 5)

	if err := f.reg.WithdrawStake(ctx, Call{Caller: alice}, id); err != nil {
		t.Fatalf("first withdraw: %v", err)
	}
	if err := f.reg.WithdrawStake(ctx, Call{Caller: alice}, id); err != nil {
		t.Fatalf("second withdraw: %v", err)
	}

	agent, _ := f.reg.GetAgent(id)
	if agent.StakeAmount != 0 || agent.Active {
		t.Fatalf("unexpected agent after withdrawals: %+v", agent)
	}
	if len(f.ledger.transfers) != 1 || f.ledger.transfers[0] != (transfer{to: alice, amount: 25}) {
		t.Fatalf("expected a single refund of 25, got %v", f.ledger.transfers)
	}

	active := true
	if err := f.reg.UpdateAgent(ctx, Call{Caller: alice}, UpdateAgentParams{AgentID: id, Active: &active}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	agent, _ = f.reg.GetAgent(id)
	if agent.StakeAmount != 0 {
		t.Fatalf("stake must stay zero, got %d", agent.StakeAmount)
	}

	withdrawn := 0
	for _, event := range f.events.events {
		if e, ok := event.(domain.StakeWithdrawn); ok {
			withdrawn++
			if withdrawn == 2 && e.Refunded != 0 {
				t.Fatalf("second withdrawal must refund nothing, got %d", e.Refunded)
			}
		}
	}
	if withdrawn != 2 {
		t.Fatalf("expected two StakeWithdrawn events, got %d", withdrawn)
	}
}

func TestTransferFailureRecordPolicy(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.register(t, alice, 10, 5)
	f.ledger.fail = errors.New("recipient frozen")

	interactionID, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 20}, id, nil)
	if err != nil {
		t.Fatalf("record policy must absorb transfer failure: %v", err)
	}
	interaction, _ := f.reg.GetInteraction(interactionID)
	if interaction.FeePaid != 20 {
		t.Fatalf("expected fee_paid 20, got %d", interaction.FeePaid)
	}
	last := f.events.events[len(f.events.events)-1].(domain.QuerySubmitted)
	if last.Forwarded || last.AgentFee != 18 || last.PlatformFee != 2 {
		t.Fatalf("unexpected settlement event: %+v", last)
	}

	if err := f.reg.WithdrawStake(ctx, Call{Caller: alice}, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	agent, _ := f.reg.GetAgent(id)
	if agent.StakeAmount != 0 || agent.Active {
		t.Fatalf("stake must be zeroed even when the refund fails: %+v", agent)
	}
}

func TestTransferFailureAbortPolicy(t *testing.T) {
	f := newFixture(t, 10, WithTransferPolicy(PolicyAbort))
	ctx := context.Background()
	id := f.register(t, alice, 10, 5)
	f.ledger.fail = errors.New("escrow empty")
	eventsBefore := len(f.events.kinds())

	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 20}, id, nil); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected TransferFailed, got %v", err)
	}
	if err := f.reg.WithdrawStake(ctx, Call{Caller: alice}, id); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected TransferFailed, got %v", err)
	}

	snapshot := f.reg.Snapshot()
	if len(snapshot.Interactions) != 0 || snapshot.NextInteractionID != 1 {
		t.Fatalf("aborted query left state behind")
	}
	agent, _ := f.reg.GetAgent(id)
	if agent.StakeAmount != 10 || !agent.Active {
		t.Fatalf("aborted withdrawal changed agent: %+v", agent)
	}
	if len(f.events.kinds()) != eventsBefore {
		t.Fatalf("aborted calls must not emit")
	}
}

func TestUpdatePlatformFee(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	if err := f.reg.UpdatePlatformFee(ctx, Call{Caller: platform}, 101); !errors.Is(err, domain.ErrInvalidFeePercentage) {
		t.Fatalf("expected InvalidFeePercentage, got %v", err)
	}
	if err := f.reg.UpdatePlatformFee(ctx, Call{Caller: platform}, 50); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	if got := f.reg.PlatformConfig(); got.FeePercentage != 50 || got.Owner != platform {
		t.Fatalf("unexpected config: %+v", got)
	}
	if len(f.events.kinds()) != 0 {
		t.Fatalf("fee updates emit no event, got %v", f.events.kinds())
	}

	id := f.register(t, alice, 10, 0)
	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 10}, id, nil); err != nil {
		t.Fatalf("query: %v", err)
	}
	if f.ledger.transfers[0].amount != 5 {
		t.Fatalf("expected new fee to apply, agent got %d", f.ledger.transfers[0].amount)
	}
}

func TestReadAccessorsOnMissingKeys(t *testing.T) {
	f := newFixture(t, 10)
	if _, ok := f.reg.GetAgent(0); ok {
		t.Fatalf("agent 0 must not exist")
	}
	if _, ok := f.reg.GetInteraction(1); ok {
		t.Fatalf("interaction 1 must not exist yet")
	}
	if got := f.reg.GetUserInteractions(bob); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
	if got := f.reg.GetAgentInteractions(3); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.register(t, alice, 10, 0)
	interactionID, _ := f.reg.QueryAgent(ctx, Call{Caller: bob}, id, []byte("abc"))

	interaction, _ := f.reg.GetInteraction(interactionID)
	interaction.QueryData[0] = 'z'
	ids := f.reg.GetUserInteractions(bob)
	ids[0] = 99

	again, _ := f.reg.GetInteraction(interactionID)
	if string(again.QueryData) != "abc" {
		t.Fatalf("caller mutation leaked into the store: %q", again.QueryData)
	}
	if got := f.reg.GetUserInteractions(bob); got[0] != interactionID {
		t.Fatalf("index mutated through returned slice: %v", got)
	}
}

func TestListAgentsAndSummary(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	first := f.register(t, alice, 10, 1)
	second := f.register(t, bob, 30, 1)
	if err := f.reg.WithdrawStake(ctx, Call{Caller: bob}, second); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 4}, first, nil); err != nil {
		t.Fatalf("query: %v", err)
	}

	active := f.reg.ListAgents(domain.AgentFilter{ActiveOnly: true})
	if len(active) != 1 || active[0].ID != first {
		t.Fatalf("unexpected active agents: %+v", active)
	}
	owned := f.reg.ListAgents(domain.AgentFilter{Owner: bob})
	if len(owned) != 1 || owned[0].ID != second {
		t.Fatalf("unexpected owned agents: %+v", owned)
	}

	summary := f.reg.Summary()
	if summary.Counts.Agents != 2 || summary.Counts.ActiveAgents != 1 || summary.Counts.Pending != 1 {
		t.Fatalf("unexpected counts: %+v", summary.Counts)
	}
	if summary.Totals.FeesPaid != 4 || summary.Totals.StakeHeld != 10 {
		t.Fatalf("unexpected totals: %+v", summary.Totals)
	}
}

type memoryStore struct {
	state   domain.State
	found   bool
	applied []domain.ChangeSet
	fail    error
}

func (s *memoryStore) Load(context.Context) (domain.State, bool, error) {
	return s.state.Clone(), s.found, nil
}

func (s *memoryStore) Apply(_ context.Context, changes domain.ChangeSet) error {
	if s.fail != nil {
		return s.fail
	}
	if !s.found {
		s.state = domain.EmptyState(domain.PlatformConfig{})
		s.found = true
	}
	s.applied = append(s.applied, changes)
	return s.state.Apply(changes)
}

func TestStoreFailureLeavesStateUnchanged(t *testing.T) {
	store := &memoryStore{}
	f := newFixture(t, 10, WithStore(store))
	id := f.register(t, alice, 10, 1)

	store.fail = errors.New("disk full")
	_, err := f.reg.QueryAgent(context.Background(), Call{Caller: bob, Value: 1}, id, nil)
	var appErr *domain.AppError
	if !errors.As(err, &appErr) || appErr.Code != domain.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if got := f.reg.GetUserInteractions(bob); len(got) != 0 {
		t.Fatalf("failed persist must not be visible: %v", got)
	}
	if len(f.events.kinds()) != 1 {
		t.Fatalf("failed persist must not emit: %v", f.events.kinds())
	}
}

func TestRegistryReloadsPersistedState(t *testing.T) {
	store := &memoryStore{}
	f := newFixture(t, 10, WithStore(store))
	ctx := context.Background()
	id := f.register(t, alice, 10, 1)
	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 1}, id, []byte("q")); err != nil {
		t.Fatalf("query: %v", err)
	}
	if err := f.reg.UpdatePlatformFee(ctx, Call{Caller: platform}, 20); err != nil {
		t.Fatalf("fee: %v", err)
	}

	reloaded, err := New(ctx, "someone-else", 90, WithStore(store))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg := reloaded.PlatformConfig(); cfg.Owner != platform || cfg.FeePercentage != 20 {
		t.Fatalf("persisted config must win, got %+v", cfg)
	}
	if got := reloaded.GetUserInteractions(bob); !reflect.DeepEqual(got, []domain.InteractionID{1}) {
		t.Fatalf("indexes not rebuilt: %v", got)
	}
	next := fixture{reg: reloaded}.register(t, alice, 10, 1)
	if next != 2 {
		t.Fatalf("expected next id 2, got %d", next)
	}
}

func TestPayoutLandsOnlyWithPersistedCall(t *testing.T) {
	store := &memoryStore{}
	f := newFixture(t, 10, WithStore(store))
	ctx := context.Background()
	id := f.register(t, alice, 10, 1)

	store.fail = errors.New("disk full")
	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 20}, id, nil); err == nil {
		t.Fatalf("expected persist failure")
	}
	if got := f.reg.Balance(alice); got != 0 {
		t.Fatalf("unpersisted payout visible: %d", got)
	}

	store.fail = nil
	if _, err := f.reg.QueryAgent(ctx, Call{Caller: bob, Value: 20}, id, nil); err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := f.reg.Balance(alice); got != 18 {
		t.Fatalf("expected payout of 18, got %d", got)
	}
	last := store.applied[len(store.applied)-1]
	if last.Balances[alice] != 18 {
		t.Fatalf("payout not in change set: %+v", last.Balances)
	}
}

func TestCreditPersistsBalance(t *testing.T) {
	store := &memoryStore{}
	f := newFixture(t, 10, WithStore(store))
	ctx := context.Background()
	balance, err := f.reg.Credit(ctx, " bob ", 7)
	if err != nil || balance != 7 {
		t.Fatalf("credit: %d %v", balance, err)
	}
	if _, err := f.reg.Credit(ctx, " ", 1); err == nil {
		t.Fatalf("expected blank account to be rejected")
	}

	reloaded, err := New(ctx, platform, 10, WithStore(store))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Balance(bob); got != 7 {
		t.Fatalf("balance not reloaded: %d", got)
	}
	if _, err := reloaded.Credit(ctx, bob, 1); err == nil {
		t.Fatalf("registry without a ledger must refuse to mint")
	}
}

func TestInteractionIDsStayWithinInt64(t *testing.T) {
	state := domain.EmptyState(domain.PlatformConfig{Owner: platform})
	state.NextInteractionID = math.MaxInt64 - 1
	tx := newTxn(&state)

	id, err := tx.allocateInteractionID()
	if err != nil || id != math.MaxInt64-1 {
		t.Fatalf("expected last id, got %d %v", id, err)
	}
	_, err = tx.allocateInteractionID()
	if appErr, ok := domain.AsAppError(err); !ok || appErr.Code != domain.CodeFailedPrecondition {
		t.Fatalf("expected exhausted id space, got %v", err)
	}
	if got := tx.changes().NextInteractionID; got != math.MaxInt64 {
		t.Fatalf("counter moved past int64: %d", got)
	}
}
