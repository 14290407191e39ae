// Package registry is the agent marketplace state machine: agent registration,
// paid queries, responses, stake withdrawal and platform fee updates. Every
// public operation runs as one serialized, all-or-nothing transaction.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/gaganv007/polkaagents/internal/domain"
)

// TransferPolicy decides what a failed payout does to the surrounding
// mutation.
type TransferPolicy string

const (
	// PolicyRecord commits the mutation anyway; the registry keeps the
	// amount it could not forward.
	PolicyRecord TransferPolicy = "record"
	// PolicyAbort fails the call with TransferFailed and writes nothing.
	PolicyAbort TransferPolicy = "abort"
)

func ParseTransferPolicy(raw string) (TransferPolicy, error) {
	switch policy := TransferPolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case "", PolicyRecord:
		return PolicyRecord, nil
	case PolicyAbort:
		return PolicyAbort, nil
	default:
		return "", fmt.Errorf("unsupported transfer policy %q; expected record|abort", raw)
	}
}

type Registry struct {
	mu    sync.RWMutex
	state domain.State

	store    Store
	ledger   Ledger
	emitter  Emitter
	observer Observer
	clock    Clock
	policy   TransferPolicy
	logger   *slog.Logger
}

type Option func(*Registry)

func WithStore(store Store) Option {
	return func(r *Registry) { r.store = store }
}

func WithLedger(ledger Ledger) Option {
	return func(r *Registry) { r.ledger = ledger }
}

func WithEmitter(emitter Emitter) Option {
	return func(r *Registry) { r.emitter = emitter }
}

func WithObserver(observer Observer) Option {
	return func(r *Registry) { r.observer = observer }
}

func WithClock(clock Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

func WithTransferPolicy(policy TransferPolicy) Option {
	return func(r *Registry) { r.policy = policy }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New builds a registry owned by owner. A fee above 100 refuses construction.
// When the store already holds a registry, its owner and fee are kept and the
// arguments only apply to a fresh store.
func New(ctx context.Context, owner domain.Identity, feePercentage uint64, opts ...Option) (*Registry, error) {
	if feePercentage > 100 {
		return nil, domain.ErrInvalidFeePercentage
	}
	owner = domain.Identity(strings.TrimSpace(string(owner)))
	if owner == "" {
		return nil, domain.InvalidArgument("platform owner is required")
	}

	r := &Registry{
		ledger:   noLedger{},
		emitter:  nopEmitter{},
		observer: nopObserver{},
		clock:    SystemClock{},
		policy:   PolicyRecord,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	config := domain.PlatformConfig{Owner: owner, FeePercentage: uint8(feePercentage)}
	r.state = domain.EmptyState(config)
	if r.store == nil {
		return r, nil
	}

	loaded, found, err := r.store.Load(ctx)
	if err != nil {
		return nil, domain.Internal("failed to load registry state", err)
	}
	if !found {
		if err := r.store.Apply(ctx, domain.ChangeSet{
			Config:            &config,
			NextAgentID:       r.state.NextAgentID,
			NextInteractionID: r.state.NextInteractionID,
		}); err != nil {
			return nil, domain.Internal("failed to initialize registry state", err)
		}
		return r, nil
	}

	loaded.Normalize()
	if loaded.Config != config {
		r.logger.Info("registry loaded with persisted platform config",
			"owner", loaded.Config.Owner, "fee_percentage", loaded.Config.FeePercentage)
	}
	r.state = loaded
	return r, nil
}

func (r *Registry) mutate(ctx context.Context, apply func(*txn) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := newTxn(&r.state)
	if err := apply(tx); err != nil {
		return err
	}

	changes := tx.changes()
	if r.store != nil && !changes.Empty() {
		if err := r.store.Apply(ctx, changes); err != nil {
			r.logger.ErrorContext(ctx, "registry changes not persisted; call rolled back",
				"agents", len(changes.Agents),
				"interactions", len(changes.Interactions),
				"balances", len(changes.Balances),
				"error", err,
			)
			return domain.Internal("failed to persist registry changes", err)
		}
	}
	if err := r.state.Apply(changes); err != nil {
		return domain.Internal("failed to apply registry changes", err)
	}
	for _, event := range tx.events {
		r.emitter.Emit(ctx, event)
	}
	return nil
}

// mutatePayable collects the attached value into custody as the first write
// of the transaction.
func (r *Registry) mutatePayable(ctx context.Context, call Call, apply func(*txn) error) error {
	return r.mutate(ctx, func(tx *txn) error {
		if call.Value > 0 {
			if err := r.ledger.Collect(ctx, tx, call.Caller, call.Value); err != nil {
				return err
			}
		}
		return apply(tx)
	})
}

// payout stages a transfer out of custody under the configured policy. It
// reports whether the amount left custody.
func (r *Registry) payout(ctx context.Context, tx *txn, op string, to domain.Identity, amount domain.Amount) (bool, error) {
	if err := r.ledger.Transfer(ctx, tx, to, amount); err != nil {
		if r.policy == PolicyAbort {
			return false, domain.ErrTransferFailed.WithCause(err)
		}
		r.logger.WarnContext(ctx, "payout failed; amount retained by platform",
			"op", op, "to", to, "amount", amount.String(), "error", err)
		return false, nil
	}
	return true, nil
}

// Credit mints amount into account and returns the new balance. Callers
// decide who may mint.
func (r *Registry) Credit(ctx context.Context, account domain.Identity, amount domain.Amount) (domain.Amount, error) {
	account = domain.Identity(strings.TrimSpace(string(account)))
	if account == "" {
		return 0, domain.InvalidArgument("account is required")
	}
	var balance domain.Amount
	err := r.mutate(ctx, func(tx *txn) error {
		if err := r.ledger.Credit(ctx, tx, account, amount); err != nil {
			return err
		}
		balance = tx.Balance(account)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *Registry) GetAgent(id domain.AgentID) (domain.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Agent(id)
}

func (r *Registry) GetInteraction(id domain.InteractionID) (domain.Interaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	interaction, ok := r.state.Interaction(id)
	if !ok {
		return domain.Interaction{}, false
	}
	return interaction.Clone(), true
}

func (r *Registry) GetUserInteractions(user domain.Identity) []domain.InteractionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneIDs(r.state.UserInteractions[user])
}

func (r *Registry) GetAgentInteractions(id domain.AgentID) []domain.InteractionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneIDs(r.state.AgentInteractions[id])
}

// ListAgents returns matching agents in id order.
func (r *Registry) ListAgents(filter domain.AgentFilter) []domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Agent, 0, len(r.state.Agents))
	for _, agent := range r.state.Agents {
		if filter.Matches(agent) {
			out = append(out, agent)
		}
	}
	return out
}

func (r *Registry) PlatformConfig() domain.PlatformConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Config
}

// Balance reports an account's committed custody balance.
func (r *Registry) Balance(account domain.Identity) domain.Amount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Balance(account)
}

func (r *Registry) Summary() domain.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Summarize()
}

// Snapshot returns a deep copy of the committed state.
func (r *Registry) Snapshot() domain.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

func cloneIDs(ids []domain.InteractionID) []domain.InteractionID {
	if len(ids) == 0 {
		return []domain.InteractionID{}
	}
	return slices.Clone(ids)
}
