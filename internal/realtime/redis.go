package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	minResubscribeDelay = 500 * time.Millisecond
	maxResubscribeDelay = 30 * time.Second
)

// Notifier is told which topics changed after a confirmed write.
type Notifier interface {
	Notify(ctx context.Context, topics ...Topic)
}

// pubSubClient is the slice of *redis.Client the broadcaster uses.
type pubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type changeMessage struct {
	Topics []string `json:"topics"`
}

// RedisBroadcaster shares change notifications between API instances over a pub/sub channel.
// While subscribed, every instance, the publisher included, hears the message on Run and
// reloads its local hub. While not subscribed, Notify feeds the local hub directly.
type RedisBroadcaster struct {
	client    pubSubClient
	channel   string
	local     Notifier
	logger    *zap.Logger
	listening atomic.Bool
}

// NewRedisBroadcaster wires a broadcaster in front of the local hub.
func NewRedisBroadcaster(client *redis.Client, channel string, local Notifier, logger *zap.Logger) *RedisBroadcaster {
	return newRedisBroadcaster(client, channel, local, logger)
}

func newRedisBroadcaster(client pubSubClient, channel string, local Notifier, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, channel: channel, local: local, logger: logger}
}

// Listening reports whether Run currently holds a subscription.
func (b *RedisBroadcaster) Listening() bool {
	return b.listening.Load()
}

// Notify publishes the topics. The local hub is notified directly when this instance is not
// subscribed, when publishing fails, or when nobody received the message.
func (b *RedisBroadcaster) Notify(ctx context.Context, topics ...Topic) {
	if len(topics) == 0 {
		return
	}
	if !b.listening.Load() {
		b.local.Notify(ctx, topics...)
		return
	}
	msg := changeMessage{Topics: make([]string, 0, len(topics))}
	for _, topic := range topics {
		msg.Topics = append(msg.Topics, topic.String())
	}
	payload, err := json.Marshal(msg)
	var receivers int64
	if err == nil {
		receivers, err = b.client.Publish(context.WithoutCancel(ctx), b.channel, payload).Result()
	}
	switch {
	case err != nil:
		b.logger.Warn("publish change notification failed", zap.String("channel", b.channel), zap.Error(err))
		b.local.Notify(ctx, topics...)
	case receivers == 0:
		b.logger.Warn("change notification had no receivers", zap.String("channel", b.channel))
		b.local.Notify(ctx, topics...)
	}
}

// Run keeps a subscription open until ctx is done, resubscribing with backoff when the
// connection drops, and forwards channel messages to the local hub.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	delay := minResubscribeDelay
	for {
		err := b.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = minResubscribeDelay
		}
		b.logger.Warn("change listener interrupted, retrying",
			zap.String("channel", b.channel), zap.Duration("retry_in", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxResubscribeDelay {
			delay = maxResubscribeDelay
		}
	}
}

// listen returns nil when the message channel closes and an error when subscribing fails.
func (b *RedisBroadcaster) listen(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.listening.Store(true)
	defer b.listening.Store(false)
	b.logger.Info("listening for change notifications", zap.String("channel", b.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			topics, err := decodeChange(msg.Payload)
			if err != nil {
				b.logger.Warn("discarding change notification", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			b.local.Notify(ctx, topics...)
		}
	}
}

func decodeChange(payload string) ([]Topic, error) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, err
	}
	topics := make([]Topic, 0, len(msg.Topics))
	for _, raw := range msg.Topics {
		topic, err := ParseTopic(raw)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}
