package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/teamclash/backend/internal/accounts"
	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

var (
	ErrPlayerNotFound = accounts.ErrPlayerNotFound
	ErrInvalidRank    = errors.New("rank must not be negative")
)

// HashToken bcrypt-hashes an admin token for ADMIN_TOKEN_HASH
func HashToken(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hashed), nil
}

// VerifyToken checks if the provided token matches the stored hash
func VerifyToken(hashedToken, plainToken string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(plainToken)) == nil
}

// AdjustRank overwrites a player's skill rank. Queue entries keep the snapshot
// taken when they joined.
func AdjustRank(ctx context.Context, st store.Store, playerID string, rank int) (models.Player, error) {
	if rank < 0 {
		return models.Player{}, ErrInvalidRank
	}

	var player models.Player
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.PlayerForUpdate(ctx, playerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrPlayerNotFound
			}
			return err
		}
		if err := tx.SetRank(ctx, playerID, rank); err != nil {
			return err
		}
		p.Rank = rank
		player = p
		return nil
	})
	if err != nil {
		return models.Player{}, err
	}

	zerolog.Ctx(ctx).Info().Str("player_id", playerID).Int("rank", rank).Msg("admin adjusted rank")
	return player, nil
}

// GrantDiamonds credits a player outside of matchmaking and records it in the ledger.
func GrantDiamonds(ctx context.Context, st store.Store, playerID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, accounts.ErrInvalidAmount
	}

	var balance int64
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		balance, err = accounts.Credit(ctx, tx, playerID, amount, models.ReasonAdminGrant, "")
		return err
	})
	if err != nil {
		return 0, err
	}

	zerolog.Ctx(ctx).Info().Str("player_id", playerID).Int64("amount", amount).Int64("balance", balance).Msg("admin granted diamonds")
	return balance, nil
}
