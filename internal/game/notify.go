package game

import (
	"context"

	"github.com/google/uuid"

	"github.com/teamclash/backend/internal/events"
)

func newID() string {
	return uuid.NewString()
}

func notify(ctx context.Context, bc events.Broadcaster, to events.Audience, name string, data interface{}) {
	if bc == nil {
		return
	}
	bc.Broadcast(ctx, to, events.Event{Type: name, Data: data})
}

func notifyQueueUpdate(ctx context.Context, bc events.Broadcaster, rules Rules, queueCount int) {
	notify(ctx, bc, events.ToAll(), events.QueueUpdate, events.QueueUpdatePayload{
		QueueCount:  queueCount,
		NeedPlayers: rules.NeedPlayers(queueCount),
	})
}
