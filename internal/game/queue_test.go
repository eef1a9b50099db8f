package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/models"
)

func TestJoinThenLeaveRestoresBalance(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "alice", 50, 1000)

	res, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "alice", epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.RemainingBalance)
	assert.Equal(t, 1, res.QueueCount)
	assert.Equal(t, 15, res.NeedPlayers)
	assert.Equal(t, 1000, res.Entry.RankSnapshot)
	assert.Equal(t, int64(40), f.balance(t, "alice"))

	left, err := LeaveQueue(f.ctx, f.st, f.rec, f.rules, "alice")
	require.NoError(t, err)
	assert.True(t, left.Left)
	assert.Equal(t, int64(50), left.Balance)
	assert.Equal(t, int64(50), f.balance(t, "alice"))
	assert.Equal(t, 0, f.queueLen(t))

	ledger := f.ledger(t, "alice")
	require.Len(t, ledger, 2)
	assert.Equal(t, models.ReasonMatchEntry, ledger[0].Reason)
	assert.Equal(t, int64(-10), ledger[0].Amount)
	assert.Equal(t, models.ReasonMatchRefund, ledger[1].Reason)
	assert.Equal(t, int64(50), ledger[1].BalanceAfter)
}

func TestRepeatedJoinLeaveCyclesKeepBalance(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "alice", 25, 1000)

	for i := 0; i < 5; i++ {
		_, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "alice", epoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		_, err = LeaveQueue(f.ctx, f.st, f.rec, f.rules, "alice")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(25), f.balance(t, "alice"))
}

func TestJoinInsufficientFundsIffBalanceBelowCost(t *testing.T) {
	tests := []struct {
		balance int64
		wantErr bool
	}{
		{0, true},
		{9, true},
		{10, false},
		{11, false},
	}

	for _, tc := range tests {
		f := newFixture(t)
		f.addPlayer(t, "bob", tc.balance, 1200)

		_, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "bob", epoch)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInsufficientFunds, "balance %d", tc.balance)
			assert.Equal(t, tc.balance, f.balance(t, "bob"), "no partial debit")
			assert.Equal(t, 0, f.queueLen(t))
			assert.Empty(t, f.ledger(t, "bob"))
			assert.Empty(t, f.rec.Deliveries())
			continue
		}
		require.NoError(t, err, "balance %d", tc.balance)
		assert.Equal(t, tc.balance-10, f.balance(t, "bob"))
		assert.Equal(t, 1, f.queueLen(t))
	}
}

func TestJoinTwiceIsAlreadyQueued(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "carol", 100, 1000)

	_, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "carol", epoch)
	require.NoError(t, err)
	_, err = JoinQueue(f.ctx, f.st, f.rec, f.rules, "carol", epoch.Add(time.Second))
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, int64(90), f.balance(t, "carol"))
	assert.Equal(t, 1, f.queueLen(t))
}

func TestJoinUnknownPlayer(t *testing.T) {
	f := newFixture(t)
	_, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "ghost", epoch)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestJoinWhileSeatedInUnfinishedRoom(t *testing.T) {
	f := newFixture(t)
	ids := f.addPlayers(t, "p", 16, 100)
	f.joinAll(t, ids, epoch)
	_, err := FormMatch(f.ctx, f.st, f.rec, f.rules, epoch.Add(time.Minute))
	require.NoError(t, err)

	_, err = JoinQueue(f.ctx, f.st, f.rec, f.rules, ids[0], epoch.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrInActiveRoom)
	assert.Equal(t, int64(90), f.balance(t, ids[0]))
}

func TestJoinWithFreeEntrySkipsLedger(t *testing.T) {
	f := newFixture(t)
	f.rules.EntryCost = 0
	f.addPlayer(t, "dave", 0, 1000)

	res, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "dave", epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.RemainingBalance)
	assert.Empty(t, f.ledger(t, "dave"))
}

func TestLeaveWithoutEntryIsNoop(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "erin", 30, 1000)

	res, err := LeaveQueue(f.ctx, f.st, f.rec, f.rules, "erin")
	require.NoError(t, err)
	assert.False(t, res.Left)
	assert.Equal(t, int64(30), res.Balance)
	assert.Empty(t, f.rec.Deliveries())

	_, err = LeaveQueue(f.ctx, f.st, f.rec, f.rules, "ghost")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestJoinAndLeaveBroadcastQueueUpdate(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "a", 50, 1000)
	f.addPlayer(t, "b", 50, 1000)

	f.joinAll(t, []string{"a", "b"}, epoch)
	_, err := LeaveQueue(f.ctx, f.st, f.rec, f.rules, "a")
	require.NoError(t, err)

	updates := f.rec.OfType(events.QueueUpdate)
	require.Len(t, updates, 3)
	want := []events.QueueUpdatePayload{
		{QueueCount: 1, NeedPlayers: 15},
		{QueueCount: 2, NeedPlayers: 14},
		{QueueCount: 1, NeedPlayers: 15},
	}
	for i, u := range updates {
		assert.Equal(t, events.AudienceAll, u.To.Kind)
		assert.Equal(t, want[i], u.Event.Data)
	}
}

func TestGetQueueStatus(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "a", 50, 1100)
	f.addPlayer(t, "b", 50, 900)
	f.joinAll(t, []string{"a"}, epoch)

	status, err := GetQueueStatus(f.ctx, f.st, f.rules, "a")
	require.NoError(t, err)
	assert.True(t, status.InQueue)
	require.NotNil(t, status.Entry)
	assert.Equal(t, 1100, status.Entry.RankSnapshot)
	assert.Equal(t, 1, status.QueueCount)
	assert.Equal(t, 15, status.NeedPlayers)

	status, err = GetQueueStatus(f.ctx, f.st, f.rules, "b")
	require.NoError(t, err)
	assert.False(t, status.InQueue)
	assert.Nil(t, status.Entry)
	assert.Equal(t, 1, status.QueueCount)
}

func TestExpireQueueRefundsOnlyStaleEntries(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "old1", 50, 1000)
	f.addPlayer(t, "old2", 50, 1000)
	f.addPlayer(t, "fresh", 50, 1000)

	f.joinAll(t, []string{"old1", "old2"}, epoch)
	_, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "fresh", epoch.Add(4*time.Minute))
	require.NoError(t, err)

	n, err := ExpireQueue(f.ctx, f.st, f.rec, f.rules, epoch.Add(f.rules.QueueTimeout+2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, int64(50), f.balance(t, "old1"))
	assert.Equal(t, int64(50), f.balance(t, "old2"))
	assert.Equal(t, int64(40), f.balance(t, "fresh"))
	assert.Equal(t, 1, f.queueLen(t))

	updates := f.rec.OfType(events.QueueUpdate)
	last := updates[len(updates)-1]
	assert.Equal(t, events.QueueUpdatePayload{QueueCount: 1, NeedPlayers: 15}, last.Event.Data)

	// nothing left to expire
	n, err = ExpireQueue(f.ctx, f.st, f.rec, f.rules, epoch.Add(f.rules.QueueTimeout+2*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefundsReturnWhatTheJoinCharged(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "leaver", 50, 1000)
	f.addPlayer(t, "stale", 50, 1000)
	f.joinAll(t, []string{"leaver", "stale"}, epoch)

	// the price changes while both are waiting
	f.rules.EntryCost = 25

	left, err := LeaveQueue(f.ctx, f.st, f.rec, f.rules, "leaver")
	require.NoError(t, err)
	assert.Equal(t, int64(50), left.Balance)
	ledger := f.ledger(t, "leaver")
	assert.Equal(t, int64(10), ledger[len(ledger)-1].Amount)

	n, err := ExpireQueue(f.ctx, f.st, f.rec, f.rules, epoch.Add(f.rules.QueueTimeout+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(50), f.balance(t, "stale"))

	// a join at the new price refunds the new price
	res, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "leaver", epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Entry.EntryCost)
	assert.Equal(t, int64(25), res.RemainingBalance)

	f.rules.EntryCost = 5
	left, err = LeaveQueue(f.ctx, f.st, f.rec, f.rules, "leaver")
	require.NoError(t, err)
	assert.Equal(t, int64(50), left.Balance)
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture(t)
	f.addPlayer(t, "frank", 50, 1000)

	require.NoError(t, Connect(f.ctx, f.st, "frank"))
	assert.True(t, f.player(t, "frank").IsOnline)

	f.joinAll(t, []string{"frank"}, epoch)
	require.NoError(t, Disconnect(f.ctx, f.st, f.rec, f.rules, "frank"))

	p := f.player(t, "frank")
	assert.False(t, p.IsOnline)
	assert.Equal(t, int64(50), p.Balance)
	assert.Equal(t, 0, f.queueLen(t))

	// a second disconnect has nothing to refund
	require.NoError(t, Disconnect(f.ctx, f.st, f.rec, f.rules, "frank"))
	assert.Equal(t, int64(50), f.balance(t, "frank"))

	assert.ErrorIs(t, Connect(f.ctx, f.st, "ghost"), ErrPlayerNotFound)
}
