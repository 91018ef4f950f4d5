package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quanghm/orderflow/internal/domain/wallet"
)

const (
	getWalletByUserSQL = `SELECT id, user_id, balance FROM wallets WHERE user_id = $1`

	ensureWalletSQL = `INSERT INTO wallets (id, user_id, balance) VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING`

	lockWalletSQL = `SELECT id, balance FROM wallets WHERE user_id = $1 FOR UPDATE`

	insertWalletTxSQL = `INSERT INTO wallet_transactions
		(id, wallet_id, type, amount, balance_before, balance_after, order_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING created_at`

	updateWalletBalanceSQL = `UPDATE wallets SET balance = $2 WHERE id = $1`
)

var _ wallet.Repository = (*WalletRepository)(nil)

// WalletRepository implements wallet.Repository backed by PostgreSQL. Apply
// serializes concurrent mutations of one wallet with a row lock so the
// ledger's balance_before/balance_after chain stays gapless.
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository returns a WalletRepository that uses the given pool.
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// GetByUser returns the user's wallet.
func (r *WalletRepository) GetByUser(ctx context.Context, userID string) (*wallet.Wallet, error) {
	rows, err := r.pool.Query(ctx, getWalletByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("getting wallet for user %q: %w", userID, err)
	}

	w, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (wallet.Wallet, error) {
		var w wallet.Wallet
		err := row.Scan(&w.ID, &w.UserID, &w.Balance)
		return w, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrNotFound
		}
		return nil, fmt.Errorf("getting wallet for user %q: %w", userID, err)
	}
	return &w, nil
}

// Apply creates the wallet if absent, locks its row, runs fn with the current
// balance, then appends the returned transaction and stores the new balance.
// Everything happens in one database transaction.
func (r *WalletRepository) Apply(ctx context.Context, userID string, fn wallet.ApplyFunc) (*wallet.Transaction, error) {
	dbtx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning wallet transaction: %w", err)
	}
	defer dbtx.Rollback(ctx) //nolint:errcheck

	if _, err := dbtx.Exec(ctx, ensureWalletSQL, uuid.NewString(), userID); err != nil {
		return nil, fmt.Errorf("ensuring wallet for user %q: %w", userID, err)
	}

	var (
		walletID string
		balance  decimal.Decimal
	)
	if err := dbtx.QueryRow(ctx, lockWalletSQL, userID).Scan(&walletID, &balance); err != nil {
		return nil, fmt.Errorf("locking wallet for user %q: %w", userID, err)
	}

	entry, err := fn(balance)
	if err != nil {
		return nil, err
	}
	entry.ID = uuid.NewString()
	entry.WalletID = walletID

	err = dbtx.QueryRow(ctx, insertWalletTxSQL,
		entry.ID, entry.WalletID, entry.Type, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.OrderID, entry.Description,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting wallet transaction: %w", err)
	}

	if _, err := dbtx.Exec(ctx, updateWalletBalanceSQL, walletID, entry.BalanceAfter); err != nil {
		return nil, fmt.Errorf("updating wallet balance: %w", err)
	}

	if err := dbtx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing wallet transaction: %w", err)
	}
	return &entry, nil
}
