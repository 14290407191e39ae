// Package ledger applies the marketplace's custody rules to native balances.
// Value attached to a call is collected into the escrow account and payouts
// leave escrow through Transfer. Balances live in the registry state, so every
// move is staged on the caller's domain.Book and persisted with the call.
package ledger

import (
	"context"
	"fmt"
	"math/bits"
	"strings"
	"sync"

	"github.com/gaganv007/polkaagents/internal/domain"
)

const DefaultEscrowAccount domain.Identity = "polkaagents:escrow"

var (
	ErrInsufficientFunds = &domain.AppError{Code: domain.CodeFailedPrecondition, Kind: "InsufficientFunds", Message: "insufficient funds"}
	ErrFrozenAccount     = &domain.AppError{Code: domain.CodeFailedPrecondition, Kind: "FrozenAccount", Message: "account is frozen"}
	ErrBalanceOverflow   = &domain.AppError{Code: domain.CodeFailedPrecondition, Kind: "BalanceOverflow", Message: "balance overflow"}
)

type Accounts struct {
	mu     sync.RWMutex
	escrow domain.Identity
	frozen map[domain.Identity]bool
}

func NewAccounts(escrow domain.Identity) *Accounts {
	escrow = domain.Identity(strings.TrimSpace(string(escrow)))
	if escrow == "" {
		escrow = DefaultEscrowAccount
	}
	return &Accounts{
		escrow: escrow,
		frozen: map[domain.Identity]bool{},
	}
}

func (a *Accounts) Escrow() domain.Identity {
	return a.escrow
}

// Collect moves a call's attached value from the caller into escrow.
func (a *Accounts) Collect(_ context.Context, book domain.Book, from domain.Identity, amount domain.Amount) error {
	if amount == 0 {
		return nil
	}
	return move(book, from, a.escrow, amount)
}

// Transfer pays out of escrow.
func (a *Accounts) Transfer(_ context.Context, book domain.Book, to domain.Identity, amount domain.Amount) error {
	if a.isFrozen(to) {
		return ErrFrozenAccount.WithCause(fmt.Errorf("recipient %s", to))
	}
	return move(book, a.escrow, to, amount)
}

// Credit adds to an account out of thin air. It backs the development faucet.
func (a *Accounts) Credit(_ context.Context, book domain.Book, account domain.Identity, amount domain.Amount) error {
	if strings.TrimSpace(string(account)) == "" {
		return domain.InvalidArgument("account is required")
	}
	sum, carry := bits.Add64(uint64(book.Balance(account)), uint64(amount), 0)
	if carry != 0 {
		return ErrBalanceOverflow.WithCause(fmt.Errorf("crediting %s", account))
	}
	book.SetBalance(account, domain.Amount(sum))
	return nil
}

// Freeze makes Transfer to the account fail until it is unfrozen.
func (a *Accounts) Freeze(account domain.Identity, frozen bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if frozen {
		a.frozen[account] = true
		return
	}
	delete(a.frozen, account)
}

func (a *Accounts) isFrozen(account domain.Identity) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frozen[account]
}

// move leaves book untouched when it fails.
func move(book domain.Book, from, to domain.Identity, amount domain.Amount) error {
	balance := book.Balance(from)
	if balance < amount {
		return ErrInsufficientFunds.WithCause(fmt.Errorf("%s holds %s, needs %s", from, balance, amount))
	}
	if from == to {
		return nil
	}
	sum, carry := bits.Add64(uint64(book.Balance(to)), uint64(amount), 0)
	if carry != 0 {
		return ErrBalanceOverflow.WithCause(fmt.Errorf("crediting %s", to))
	}
	book.SetBalance(from, balance-amount)
	book.SetBalance(to, domain.Amount(sum))
	return nil
}
