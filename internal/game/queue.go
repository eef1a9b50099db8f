package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/teamclash/backend/internal/accounts"
	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

// JoinResult is what a successful JoinQueue reports back to the caller
type JoinResult struct {
	Entry            models.QueueEntry `json:"entry"`
	RemainingBalance int64             `json:"remainingDiamonds"`
	QueueCount       int               `json:"queueCount"`
	NeedPlayers      int               `json:"needPlayers"`
}

// LeaveResult reports whether a queue entry was removed and refunded
type LeaveResult struct {
	Left       bool  `json:"left"`
	Balance    int64 `json:"diamonds"`
	QueueCount int   `json:"queueCount"`
}

// QueueStatus is the pull-based view of the queue for one player
type QueueStatus struct {
	InQueue     bool               `json:"inQueue"`
	Entry       *models.QueueEntry `json:"queueEntry"`
	QueueCount  int                `json:"queueCount"`
	NeedPlayers int                `json:"needPlayers"`
}

// JoinQueue charges the entry cost and enqueues the player in one transaction.
func JoinQueue(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, playerID string, now time.Time) (JoinResult, error) {
	var res JoinResult

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		player, err := tx.PlayerForUpdate(ctx, playerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrPlayerNotFound
			}
			return fmt.Errorf("load player: %w", err)
		}

		if _, err := tx.QueueEntry(ctx, playerID); err == nil {
			return ErrAlreadyQueued
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check queue entry: %w", err)
		}

		if _, err := tx.ActiveRecordForPlayer(ctx, playerID); err == nil {
			return ErrInActiveRoom
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check active room: %w", err)
		}

		balance := player.Balance
		if rules.EntryCost > 0 {
			balance, err = accounts.Debit(ctx, tx, playerID, rules.EntryCost, models.ReasonMatchEntry, "")
			if err != nil {
				return err
			}
		}

		entry := models.QueueEntry{PlayerID: playerID, RankSnapshot: player.Rank, EntryCost: rules.EntryCost, JoinedAt: now}
		if err := tx.InsertQueueEntry(ctx, entry); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrAlreadyQueued
			}
			return fmt.Errorf("insert queue entry: %w", err)
		}

		count, err := tx.QueueCount(ctx)
		if err != nil {
			return fmt.Errorf("count queue: %w", err)
		}

		res = JoinResult{
			Entry:            entry,
			RemainingBalance: balance,
			QueueCount:       count,
			NeedPlayers:      rules.NeedPlayers(count),
		}
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}

	zerolog.Ctx(ctx).Info().
		Str("player_id", playerID).
		Int64("cost", rules.EntryCost).
		Int("queue_count", res.QueueCount).
		Msg("player joined match queue")

	notifyQueueUpdate(ctx, bc, rules, res.QueueCount)
	return res, nil
}

// LeaveQueue removes the player's entry and refunds what the join charged.
// A player with no entry is not an error; Left is false and nothing changes.
func LeaveQueue(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, playerID string) (LeaveResult, error) {
	var (
		res    LeaveResult
		refund int64
	)

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		entry, err := tx.DeleteQueueEntry(ctx, playerID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("delete queue entry: %w", err)
			}
			player, err := tx.Player(ctx, playerID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ErrPlayerNotFound
				}
				return fmt.Errorf("load player: %w", err)
			}
			res = LeaveResult{Left: false, Balance: player.Balance}
			return nil
		}

		balance, err := accounts.Credit(ctx, tx, playerID, entry.EntryCost, models.ReasonMatchRefund, "")
		if err != nil {
			return err
		}
		count, err := tx.QueueCount(ctx)
		if err != nil {
			return fmt.Errorf("count queue: %w", err)
		}
		refund = entry.EntryCost
		res = LeaveResult{Left: true, Balance: balance, QueueCount: count}
		return nil
	})
	if err != nil {
		return LeaveResult{}, err
	}

	if res.Left {
		zerolog.Ctx(ctx).Info().
			Str("player_id", playerID).
			Int64("refund", refund).
			Int("queue_count", res.QueueCount).
			Msg("player left match queue")
		notifyQueueUpdate(ctx, bc, rules, res.QueueCount)
	}
	return res, nil
}

// PeekReady returns the oldest capacity entries without removing them.
// The rows stay claimed by tx until it ends.
func PeekReady(ctx context.Context, tx store.Tx, capacity int) ([]models.QueueEntry, error) {
	entries, err := tx.OldestQueueEntries(ctx, capacity)
	if err != nil {
		return nil, fmt.Errorf("peek queue: %w", err)
	}
	return entries, nil
}

// GetQueueStatus reads the player's entry and the queue length concurrently.
func GetQueueStatus(ctx context.Context, st store.Store, rules Rules, playerID string) (QueueStatus, error) {
	var (
		entry *models.QueueEntry
		count int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return st.RunInTx(gctx, func(tx store.Tx) error {
			e, err := tx.QueueEntry(gctx, playerID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load queue entry: %w", err)
			}
			entry = &e
			return nil
		})
	})
	g.Go(func() error {
		return st.RunInTx(gctx, func(tx store.Tx) error {
			n, err := tx.QueueCount(gctx)
			if err != nil {
				return fmt.Errorf("count queue: %w", err)
			}
			count = n
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return QueueStatus{}, err
	}

	return QueueStatus{
		InQueue:     entry != nil,
		Entry:       entry,
		QueueCount:  count,
		NeedPlayers: rules.NeedPlayers(count),
	}, nil
}

// ExpireQueue removes every entry older than the queue timeout and refunds
// them as one batch. It returns the number of refunded players.
func ExpireQueue(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, now time.Time) (int, error) {
	cutoff := now.Add(-rules.QueueTimeout)

	var (
		expired []models.QueueEntry
		count   int
	)
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		stale, err := tx.QueueEntriesJoinedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("list stale entries: %w", err)
		}
		if len(stale) == 0 {
			return nil
		}

		ids := make([]string, len(stale))
		for i, e := range stale {
			ids[i] = e.PlayerID
		}
		deleted, err := tx.DeleteQueueEntries(ctx, ids)
		if err != nil {
			return fmt.Errorf("delete stale entries: %w", err)
		}

		if err := accounts.CreditMany(ctx, tx, entryRefunds(deleted), models.ReasonMatchRefund, ""); err != nil {
			return err
		}

		count, err = tx.QueueCount(ctx)
		if err != nil {
			return fmt.Errorf("count queue: %w", err)
		}
		expired = deleted
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	zerolog.Ctx(ctx).Info().
		Int("expired", len(expired)).
		Int("queue_count", count).
		Msg("expired stale queue entries")

	notifyQueueUpdate(ctx, bc, rules, count)
	return len(expired), nil
}

// Connect marks the player online
func Connect(ctx context.Context, st store.Store, playerID string) error {
	return st.RunInTx(ctx, func(tx store.Tx) error {
		return setOnline(ctx, tx, playerID, true)
	})
}

// Disconnect marks the player offline and silently leaves the queue,
// refunding the entry cost if they were waiting.
func Disconnect(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, playerID string) error {
	if _, err := LeaveQueue(ctx, st, bc, rules, playerID); err != nil {
		return err
	}
	return st.RunInTx(ctx, func(tx store.Tx) error {
		return setOnline(ctx, tx, playerID, false)
	})
}

func setOnline(ctx context.Context, tx store.Tx, playerID string, online bool) error {
	if err := tx.SetOnline(ctx, playerID, online); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPlayerNotFound
		}
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}
