package registry

import (
	"context"
	"time"

	"github.com/gaganv007/polkaagents/internal/domain"
)

// Call carries the host-supplied values of one invocation.
type Call struct {
	Caller domain.Identity
	// Value is the amount the caller attached; zero for non-payable calls.
	Value domain.Amount
}

type Clock interface {
	Now() domain.Timestamp
}

// Ledger moves value in and out of the registry's custody. Every move is
// staged on book, the running transaction, and only lands when the call
// commits.
type Ledger interface {
	// Collect takes a call's attached value from the caller into custody.
	Collect(ctx context.Context, book domain.Book, from domain.Identity, amount domain.Amount) error
	// Transfer pays out of custody.
	Transfer(ctx context.Context, book domain.Book, to domain.Identity, amount domain.Amount) error
	// Credit mints into an account.
	Credit(ctx context.Context, book domain.Book, account domain.Identity, amount domain.Amount) error
}

type Emitter interface {
	Emit(ctx context.Context, event domain.Event)
}

// Observer receives settlement facts for metrics.
type Observer interface {
	AgentRegistered(ctx context.Context, stake domain.Amount)
	QuerySettled(ctx context.Context, platformFee, agentFee domain.Amount, forwarded bool)
	ResponseSubmitted(ctx context.Context)
	StakeWithdrawn(ctx context.Context, refunded domain.Amount, forwarded bool)
}

// Store persists change sets before they become visible.
type Store interface {
	Load(ctx context.Context) (domain.State, bool, error)
	Apply(ctx context.Context, changes domain.ChangeSet) error
}

type SystemClock struct{}

func (SystemClock) Now() domain.Timestamp {
	return domain.Timestamp(time.Now().UnixMilli())
}

type ClockFunc func() domain.Timestamp

func (f ClockFunc) Now() domain.Timestamp { return f() }

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, domain.Event) {}

type nopObserver struct{}

func (nopObserver) AgentRegistered(context.Context, domain.Amount)                    {}
func (nopObserver) QuerySettled(context.Context, domain.Amount, domain.Amount, bool) {}
func (nopObserver) ResponseSubmitted(context.Context)                                 {}
func (nopObserver) StakeWithdrawn(context.Context, domain.Amount, bool)               {}

// noLedger takes attached value as already in custody and cannot pay out.
type noLedger struct{}

func (noLedger) Collect(context.Context, domain.Book, domain.Identity, domain.Amount) error {
	return nil
}

func (noLedger) Transfer(context.Context, domain.Book, domain.Identity, domain.Amount) error {
	return domain.FailedPrecondition("no ledger configured")
}

func (noLedger) Credit(context.Context, domain.Book, domain.Identity, domain.Amount) error {
	return domain.FailedPrecondition("no ledger configured")
}
