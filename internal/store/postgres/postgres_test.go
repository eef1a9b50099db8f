package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestRunInTxCommits(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO players`).
		WithArgs("p1", "alice", "Al", int64(100), 1200, 0, 0, false, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		return tx.CreatePlayer(ctx, models.Player{ID: "p1", Username: "alice", Nickname: "Al", Balance: 100, Rank: 1200, CreatedAt: created})
	})
	require.NoError(t, err)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	st, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := st.RunInTx(context.Background(), func(store.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestCommitSerializationFailureIsConflict(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	err := st.RunInTx(context.Background(), func(store.Tx) error { return nil })
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPlayerForUpdateMissingIsNotFound(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM players WHERE id = \$1 FOR UPDATE`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		_, err := tx.PlayerForUpdate(ctx, "ghost")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertQueueEntryDuplicate(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()
	joined := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_queue`).
		WithArgs("p1", 1500, int64(10), joined).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertQueueEntry(ctx, models.QueueEntry{PlayerID: "p1", RankSnapshot: 1500, EntryCost: 10, JoinedAt: joined})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestOldestQueueEntriesSkipsLockedRows(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`ORDER BY joined_at, player_id\s+LIMIT \$1\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"player_id", "rank_snapshot", "entry_cost", "joined_at"}).
			AddRow("a", 1800, int64(10), t0).
			AddRow("b", 1700, int64(25), t0.Add(time.Second)))
	mock.ExpectCommit()

	var got []models.QueueEntry
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		got, err = tx.OldestQueueEntries(ctx, 2)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].PlayerID)
	assert.Equal(t, 1700, got[1].RankSnapshot)
	assert.Equal(t, int64(25), got[1].EntryCost)
}

func TestDeleteQueueEntriesReturnsRemovedRows(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM match_queue WHERE player_id = ANY\(\$1\) RETURNING`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"player_id", "rank_snapshot", "entry_cost", "joined_at"}).
			AddRow("a", 1800, int64(10), time.Now()))
	mock.ExpectCommit()

	var got []models.QueueEntry
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		got, err = tx.DeleteQueueEntries(ctx, []string{"a", "b"})
		return err
	})
	require.NoError(t, err)
	assert.Len(t, got, 1, "b was already gone")

	// an empty batch never reaches the database
	mock.ExpectBegin()
	mock.ExpectCommit()
	err = st.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		got, err = tx.DeleteQueueEntries(ctx, nil)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAddBalanceReturnsNewBalance(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE players SET balance = balance \+ \$1 WHERE id = \$2 RETURNING balance`).
		WithArgs(int64(-10), "p1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(40)))
	mock.ExpectCommit()

	var balance int64
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		balance, err = tx.AddBalance(ctx, "p1", -10)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestUpdatesOnMissingRowAreNotFound(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE players SET rank = \$1 WHERE id = \$2`).
		WithArgs(1300, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		return tx.SetRank(ctx, "ghost", 1300)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRoomRemovesChildrenFirst(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM game_records WHERE room_id = \$1`).WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 16))
	mock.ExpectExec(`DELETE FROM teams WHERE room_id = \$1`).WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 8))
	mock.ExpectExec(`DELETE FROM game_rooms WHERE id = \$1`).WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		return tx.DeleteRoom(ctx, "r1")
	})
	require.NoError(t, err)
}
