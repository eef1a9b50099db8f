package game

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
	"github.com/teamclash/backend/internal/store/memstore"
)

type fixture struct {
	ctx   context.Context
	st    *memstore.Store
	rec   *events.Recorder
	rules Rules
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		ctx:   context.Background(),
		st:    memstore.New(),
		rec:   &events.Recorder{},
		rules: DefaultRules(),
	}
}

func (f *fixture) addPlayer(t *testing.T, id string, balance int64, rank int) {
	t.Helper()
	err := f.st.RunInTx(f.ctx, func(tx store.Tx) error {
		return tx.CreatePlayer(f.ctx, models.Player{
			ID:        id,
			Username:  id,
			Nickname:  "nick-" + id,
			Balance:   balance,
			Rank:      rank,
			CreatedAt: epoch,
		})
	})
	require.NoError(t, err)
}

// addPlayers creates n players named prefix00.. with descending ranks.
func (f *fixture) addPlayers(t *testing.T, prefix string, n int, balance int64) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%s%02d", prefix, i)
		f.addPlayer(t, ids[i], balance, 2000-i*50)
	}
	return ids
}

// joinAll queues the players one second apart starting at start.
func (f *fixture) joinAll(t *testing.T, ids []string, start time.Time) {
	t.Helper()
	for i, id := range ids {
		_, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, id, start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err, "join %s", id)
	}
}

func (f *fixture) player(t *testing.T, id string) models.Player {
	t.Helper()
	var p models.Player
	err := f.st.RunInTx(f.ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.Player(f.ctx, id)
		return err
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	return f.player(t, id).Balance
}

func (f *fixture) queueLen(t *testing.T) int {
	t.Helper()
	var n int
	err := f.st.RunInTx(f.ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.QueueCount(f.ctx)
		return err
	})
	require.NoError(t, err)
	return n
}

func (f *fixture) ledger(t *testing.T, id string) []models.LedgerEntry {
	t.Helper()
	var entries []models.LedgerEntry
	err := f.st.RunInTx(f.ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.LedgerEntries(f.ctx, id)
		return err
	})
	require.NoError(t, err)
	return entries
}

func (f *fixture) roomParts(t *testing.T, roomID string) ([]models.Team, []models.Record) {
	t.Helper()
	var (
		teams   []models.Team
		records []models.Record
	)
	err := f.st.RunInTx(f.ctx, func(tx store.Tx) error {
		var err error
		if teams, err = tx.TeamsByRoom(f.ctx, roomID); err != nil {
			return err
		}
		records, err = tx.RecordsByRoom(f.ctx, roomID)
		return err
	})
	require.NoError(t, err)
	return teams, records
}
