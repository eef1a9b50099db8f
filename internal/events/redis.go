package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel carries events between replicas
const DefaultChannel = "match_events"

const publishTimeout = 2 * time.Second

type envelope struct {
	To    Audience `json:"to"`
	Event Event    `json:"event"`
}

type rawEnvelope struct {
	To    Audience `json:"to"`
	Event struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"event"`
}

// RedisPublisher publishes events on a redis channel so every replica's
// websocket hub can deliver them to its own connections.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisPublisher(rdb *redis.Client, channel string, log zerolog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		log:     log.With().Str("component", "events").Logger(),
	}
}

func (p *RedisPublisher) Broadcast(ctx context.Context, to Audience, e Event) {
	b, err := json.Marshal(envelope{To: to, Event: e})
	if err != nil {
		p.log.Error().Err(err).Str("type", e.Type).Msg("marshal event")
		return
	}

	// the caller's request may already be gone; delivery should still be attempted
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	n, err := p.rdb.Publish(ctx, p.channel, b).Result()
	if err != nil {
		p.log.Warn().Err(err).Str("type", e.Type).Msg("publish event failed")
		return
	}
	p.log.Debug().Str("type", e.Type).Str("audience", string(to.Kind)).Int64("subscribers", n).Msg("event published")
}

// StartRelay subscribes to channel and hands every decoded event to target
// until ctx is cancelled. It returns once the subscription is confirmed.
func StartRelay(ctx context.Context, rdb *redis.Client, channel string, target Broadcaster, log zerolog.Logger) error {
	if channel == "" {
		channel = DefaultChannel
	}
	log = log.With().Str("component", "events").Str("channel", channel).Logger()

	sub := rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		log.Info().Msg("event relay started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("event relay stopped")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env rawEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Warn().Err(err).Msg("invalid event payload")
					continue
				}
				target.Broadcast(ctx, env.To, Event{Type: env.Event.Type, Data: env.Event.Data})
			}
		}
	}()
	return nil
}
