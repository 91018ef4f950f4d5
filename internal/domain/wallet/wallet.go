// Package wallet implements the reward wallet: one balance per user backed by
// an append-only transaction ledger. The balance always equals the running
// sum of transaction deltas and never goes negative by construction.
package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the user has no wallet.
	ErrNotFound = errors.New("wallet not found")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be greater than 0")
)

// Type enumerates the kinds of ledger entries.
type Type string

const (
	TypeReward     Type = "reward"
	TypeRefund     Type = "refund"
	TypeDeduction  Type = "deduction"
	TypePaymentUse Type = "payment_use"
)

// Wallet holds a user's current store-credit balance.
type Wallet struct {
	ID      string
	UserID  string
	Balance decimal.Decimal
}

// Transaction is an immutable ledger row. Amount is signed: positive for
// credits, negative for debits.
type Transaction struct {
	ID            string
	WalletID      string
	Type          Type
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	OrderID       string
	Description   string
	CreatedAt     time.Time
}

// Repository persists wallets and their append-only ledger.
type Repository interface {
	GetByUser(ctx context.Context, userID string) (*Wallet, error)
	// Apply runs fn with the wallet's current balance under a single-writer
	// critical section scoped to the wallet (creating the wallet if absent),
	// then appends the returned transaction and updates the balance to
	// BalanceAfter atomically. fn returning an error aborts without writes.
	Apply(ctx context.Context, userID string, fn ApplyFunc) (*Transaction, error)
}

// ApplyFunc computes a ledger entry from the current balance. The returned
// transaction must have Amount, BalanceBefore, and BalanceAfter populated.
type ApplyFunc func(balance decimal.Decimal) (Transaction, error)

// Ledger exposes the wallet operations the order lifecycle needs.
type Ledger struct {
	repo Repository
}

// NewLedger creates a Ledger backed by the given Repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Reward credits earned store credit, typically on order completion.
func (l *Ledger) Reward(ctx context.Context, userID string, amount decimal.Decimal, orderID, description string) (*Transaction, error) {
	return l.credit(ctx, userID, TypeReward, amount, orderID, description)
}

// Refund credits money returned to the user.
func (l *Ledger) Refund(ctx context.Context, userID string, amount decimal.Decimal, orderID, description string) (*Transaction, error) {
	return l.credit(ctx, userID, TypeRefund, amount, orderID, description)
}

// Deduct debits the wallet, clamping to the available balance instead of
// failing. The returned transaction's Amount reflects what was actually
// deducted; callers that care about a shortfall must compare it to the
// requested amount.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount decimal.Decimal, orderID, description string) (*Transaction, error) {
	return l.debit(ctx, userID, TypeDeduction, amount, orderID, description)
}

// Pay debits store credit used to pay for an order, clamped like Deduct.
func (l *Ledger) Pay(ctx context.Context, userID string, amount decimal.Decimal, orderID, description string) (*Transaction, error) {
	return l.debit(ctx, userID, TypePaymentUse, amount, orderID, description)
}

// Balance returns the user's current balance, zero when no wallet exists yet.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	w, err := l.repo.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, errors.Wrap(err, "get wallet")
	}
	return w.Balance, nil
}

func (l *Ledger) credit(ctx context.Context, userID string, t Type, amount decimal.Decimal, orderID, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	tx, err := l.repo.Apply(ctx, userID, func(balance decimal.Decimal) (Transaction, error) {
		return Transaction{
			Type:          t,
			Amount:        amount,
			BalanceBefore: balance,
			BalanceAfter:  balance.Add(amount),
			OrderID:       orderID,
			Description:   description,
		}, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply credit")
	}
	return tx, nil
}

func (l *Ledger) debit(ctx context.Context, userID string, t Type, amount decimal.Decimal, orderID, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	tx, err := l.repo.Apply(ctx, userID, func(balance decimal.Decimal) (Transaction, error) {
		debit := decimal.Min(amount, balance)
		return Transaction{
			Type:          t,
			Amount:        debit.Neg(),
			BalanceBefore: balance,
			BalanceAfter:  balance.Sub(debit),
			OrderID:       orderID,
			Description:   description,
		}, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply debit")
	}
	return tx, nil
}
