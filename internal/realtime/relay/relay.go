// Package relay carries accepted publishes to the hubs that deliver them.
// Local delivers to the node's own hub; Redis fans out over a pub/sub channel
// so every realtime node sharing the channel delivers to its subscribers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Relay interface {
	Publish(ctx context.Context, msg broadcast.Message) error
}

// Target is the local delivery end, normally *hub.Hub.
type Target interface {
	Publish(msg broadcast.Message) int
}

type Local struct {
	target Target
}

func NewLocal(target Target) *Local {
	return &Local{target: target}
}

func (l *Local) Publish(_ context.Context, msg broadcast.Message) error {
	l.target.Publish(msg)
	return nil
}

type Redis struct {
	client  *redis.Client
	channel string
	target  Target
}

func NewRedis(client *redis.Client, channel string, target Target) *Redis {
	return &Redis{client: client, channel: channel, target: target}
}

func (r *Redis) Publish(ctx context.Context, msg broadcast.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and delivers every message to the local
// target until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Msg("redis relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var msg broadcast.Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				log.Warn().Err(err).Str("channel", r.channel).Msg("discard undecodable relay message")
				continue
			}
			if err := msg.Validate(); err != nil {
				log.Warn().Err(err).Str("channel", r.channel).Msg("discard invalid relay message")
				continue
			}
			r.target.Publish(msg)
		}
	}
}
