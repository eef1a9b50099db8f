package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

var (
	// ErrInsufficientFunds is returned by Debit when the balance cannot cover the amount
	ErrInsufficientFunds = errors.New("insufficient diamonds")
	// ErrInvalidAmount is returned by Debit for a non-positive amount
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrPlayerNotFound is returned when the player row does not exist
	ErrPlayerNotFound = errors.New("player not found")
)

// Debit removes amount from the player's balance within an existing tx.
// It locks the player row, refuses to go below zero and records a ledger entry.
func Debit(ctx context.Context, tx store.Tx, playerID string, amount int64, reason models.LedgerReason, reference string) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("tx is nil")
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	player, err := tx.PlayerForUpdate(ctx, playerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrPlayerNotFound
		}
		return 0, fmt.Errorf("lock player %s: %w", playerID, err)
	}
	if player.Balance < amount {
		return player.Balance, ErrInsufficientFunds
	}

	balance, err := tx.AddBalance(ctx, playerID, -amount)
	if err != nil {
		return 0, fmt.Errorf("debit player %s: %w", playerID, err)
	}
	if err := record(ctx, tx, playerID, -amount, balance, reason, reference); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds amount to the player's balance within an existing tx.
// Refunds and rewards are unconditional; a non-positive amount is a no-op.
func Credit(ctx context.Context, tx store.Tx, playerID string, amount int64, reason models.LedgerReason, reference string) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("tx is nil")
	}
	if amount <= 0 {
		player, err := tx.Player(ctx, playerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, ErrPlayerNotFound
			}
			return 0, err
		}
		return player.Balance, nil
	}

	balance, err := tx.AddBalance(ctx, playerID, amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrPlayerNotFound
		}
		return 0, fmt.Errorf("credit player %s: %w", playerID, err)
	}
	if err := record(ctx, tx, playerID, amount, balance, reason, reference); err != nil {
		return 0, err
	}
	return balance, nil
}

// Payout is one player's share of a batch credit
type Payout struct {
	PlayerID string
	Amount   int64
}

// CreditMany applies several payouts in one tx, in the order given
func CreditMany(ctx context.Context, tx store.Tx, payouts []Payout, reason models.LedgerReason, reference string) error {
	for _, p := range payouts {
		if _, err := Credit(ctx, tx, p.PlayerID, p.Amount, reason, reference); err != nil {
			return err
		}
	}
	return nil
}

func record(ctx context.Context, tx store.Tx, playerID string, amount, balanceAfter int64, reason models.LedgerReason, reference string) error {
	err := tx.InsertLedgerEntry(ctx, models.LedgerEntry{
		PlayerID:     playerID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Reason:       reason,
		Reference:    reference,
	})
	if err != nil {
		return fmt.Errorf("insert ledger entry for %s: %w", playerID, err)
	}
	return nil
}
