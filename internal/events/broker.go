package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/pkg/logger"
)

const (
	dmChannelsTopic    = "chat:dm-channels"
	messageTopicPrefix = "chat:messages:"
	firehoseTopic      = "chat:events"

	typingTTL = 30 * time.Second
)

// MessageEvent is published whenever a message is created or edited in a
// channel. Edited messages carry Edited=true and are ignored by the DM
// listener.
type MessageEvent struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	ChannelID string `json:"channelId"`
	CreatedAt int64  `json:"createdAt"`
	Edited    bool   `json:"edited,omitempty"`
}

// ChannelEvent is published when a DM channel is created or its member set
// changes.
type ChannelEvent struct {
	ChannelID string   `json:"channelId"`
	MemberIDs []string `json:"memberIds"`
}

// Subscription is a live feed that must be cancelled by its owner exactly
// once; Cancel is safe to call more than once.
type Subscription interface {
	Cancel()
}

type Broker struct {
	client *redis.Client
}

func NewBroker(host string, port int, password string, db int) (*Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Event broker initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Broker{client: client}, nil
}

func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) PublishMessage(ctx context.Context, ev MessageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal message event: %w", err)
	}

	if err := b.client.Publish(ctx, messageTopicPrefix+ev.ChannelID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish message event: %w", err)
	}
	// Best-effort fanout for observers; the per-channel topic is the one
	// that matters for correctness.
	if err := b.client.Publish(ctx, firehoseTopic, payload).Err(); err != nil {
		logger.Warn("Failed to publish to event firehose", zap.Error(err))
	}

	return nil
}

func (b *Broker) PublishChannelUpsert(ctx context.Context, ev ChannelEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal channel event: %w", err)
	}
	if err := b.client.Publish(ctx, dmChannelsTopic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish channel event: %w", err)
	}
	return nil
}

// SubscribeDMChannels delivers DM-channel add/modify events until cancelled.
func (b *Broker) SubscribeDMChannels(ctx context.Context, handler func(ChannelEvent)) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, dmChannelsTopic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to dm channels: %w", err)
	}

	sub := newSubscription(pubsub)
	go func() {
		for msg := range pubsub.Channel() {
			var ev ChannelEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("Malformed channel event", zap.Error(err))
				continue
			}
			handler(ev)
		}
	}()

	return sub, nil
}

// SubscribeChannelMessages delivers message events for one channel until
// cancelled. Each channel's handler runs on its own goroutine, so handlers
// for different channels are not serialized against each other.
func (b *Broker) SubscribeChannelMessages(ctx context.Context, channelID string, handler func(MessageEvent)) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, messageTopicPrefix+channelID)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channelID, err)
	}

	sub := newSubscription(pubsub)
	go func() {
		for msg := range pubsub.Channel() {
			var ev MessageEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("Malformed message event",
					zap.String("channel_id", channelID), zap.Error(err))
				continue
			}
			handler(ev)
		}
	}()

	return sub, nil
}

// SubscribeFirehose delivers every message event raw, for observer surfaces
// like the websocket feed.
func (b *Broker) SubscribeFirehose(ctx context.Context, handler func([]byte)) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, firehoseTopic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to event firehose: %w", err)
	}

	sub := newSubscription(pubsub)
	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	return sub, nil
}

// SetTyping flips the typing indicator for a user in a channel. The key
// carries a TTL so a crashed writer cannot leave the indicator stuck.
func (b *Broker) SetTyping(ctx context.Context, channelID, userID string, typing bool) error {
	key := fmt.Sprintf("typing:%s:%s", channelID, userID)
	if typing {
		if err := b.client.Set(ctx, key, time.Now().UnixMilli(), typingTTL).Err(); err != nil {
			return fmt.Errorf("failed to set typing indicator: %w", err)
		}
	} else {
		if err := b.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to clear typing indicator: %w", err)
		}
	}
	return nil
}

func (b *Broker) IsTyping(ctx context.Context, channelID, userID string) (bool, error) {
	key := fmt.Sprintf("typing:%s:%s", channelID, userID)
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read typing indicator: %w", err)
	}
	return n > 0, nil
}

type pubsubSubscription struct {
	pubsub *redis.PubSub
	once   sync.Once
}

func newSubscription(ps *redis.PubSub) *pubsubSubscription {
	return &pubsubSubscription{pubsub: ps}
}

func (s *pubsubSubscription) Cancel() {
	s.once.Do(func() {
		if err := s.pubsub.Close(); err != nil {
			logger.Warn("Failed to close subscription", zap.Error(err))
		}
	})
}
