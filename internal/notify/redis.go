package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis pub/sub channel replicas share.
const DefaultChannel = "bets:changes"

// RedisNotifier publishes signals to a Redis channel so other replicas can
// refresh their snapshots.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

// NewRedisNotifier creates a notifier publishing on channel. origin tags
// every outgoing signal so Subscribe can skip this instance's own changes.
func NewRedisNotifier(rdb *redis.Client, channel, origin string, log *zap.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{rdb: rdb, channel: channel, origin: origin, log: log.Named("pubsub")}
}

func (n *RedisNotifier) Notify(ctx context.Context, s Signal) {
	s.Origin = n.origin
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, data).Err(); err != nil {
		n.log.Warn("publish failed", zap.String("entity", s.Entity), zap.Error(err))
	}
}

// Subscribe delivers signals from other instances to fn until ctx is done.
// It returns once the subscription is established.
func (n *RedisNotifier) Subscribe(ctx context.Context, fn func(context.Context, Signal)) error {
	sub := n.rdb.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var s Signal
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					n.log.Warn("unmarshal signal", zap.Error(err))
					continue
				}
				if s.Origin == n.origin {
					continue
				}
				fn(ctx, s)
			}
		}
	}()
	return nil
}
