package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

func TestFailedTxLeavesNoTrace(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.CreatePlayer(ctx, models.Player{ID: "p1", Balance: 10})
	}))

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AddBalance(ctx, "p1", -10); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.Player(ctx, "p1")
		assert.Equal(t, int64(10), p.Balance)
		return err
	}))
}

func TestFailNextFiresOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	s.FailNext("QueueCount", boom)

	count := func() error {
		return s.RunInTx(ctx, func(tx store.Tx) error {
			_, err := tx.QueueCount(ctx)
			return err
		})
	}
	assert.ErrorIs(t, count(), boom)
	assert.NoError(t, count())
}

func TestDuplicateAndMissingRows(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.CreatePlayer(ctx, models.Player{ID: "p1"}); err != nil {
			return err
		}
		return tx.CreatePlayer(ctx, models.Player{ID: "p1"})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		_, err := tx.DeleteQueueEntry(ctx, "nobody")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
