package listener

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/events"
	"github.com/teamchat-ai/backend/internal/metrics"
	"github.com/teamchat-ai/backend/internal/rag"
	"github.com/teamchat-ai/backend/internal/storage/models"
	"github.com/teamchat-ai/backend/pkg/logger"
)

const apologyMessage = "I'm sorry, I encountered an error processing your message. Please try again."

const handleTimeout = 2 * time.Minute

type QueryService interface {
	ProcessQuery(ctx context.Context, query string) (*rag.Response, error)
}

type Store interface {
	CreateMessage(ctx context.Context, msg *models.ChatMessage) (string, error)
	ListDMChannelsWithMember(ctx context.Context, userID string) ([]models.DMChannel, error)
}

type EventSource interface {
	SubscribeDMChannels(ctx context.Context, handler func(events.ChannelEvent)) (events.Subscription, error)
	SubscribeChannelMessages(ctx context.Context, channelID string, handler func(events.MessageEvent)) (events.Subscription, error)
	PublishMessage(ctx context.Context, ev events.MessageEvent) error
	SetTyping(ctx context.Context, channelID, userID string, typing bool) error
}

// Listener watches every DM channel that includes the AI identity and
// answers new messages through the RAG service. One instance exists per
// process; Start and Stop are idempotent and Stop releases every held
// subscription.
type Listener struct {
	aiUserID string
	rag      QueryService
	store    Store
	source   EventSource

	mu          sync.Mutex
	running     bool
	generation  uint64
	startTime   int64
	channelSub  events.Subscription
	messageSubs map[string]events.Subscription
}

func New(aiUserID string, ragService QueryService, store Store, source EventSource) *Listener {
	return &Listener{
		aiUserID:    aiUserID,
		rag:         ragService,
		store:       store,
		source:      source,
		messageSubs: make(map[string]events.Subscription),
	}
}

// Start subscribes to the DM-channel set and to every existing DM channel
// that includes the AI identity. Calling Start while running is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		logger.Info("DM listener already running")
		return nil
	}
	// Claim the running state before subscribing so a concurrent Start
	// cannot pass the check above and subscribe a second time.
	l.running = true
	generation := l.generation
	// Messages older than this are never answered, so a restart does not
	// replay history.
	l.startTime = time.Now().UnixMilli()
	l.mu.Unlock()

	channelSub, err := l.source.SubscribeDMChannels(ctx, func(ev events.ChannelEvent) {
		if !contains(ev.MemberIDs, l.aiUserID) {
			return
		}
		l.listenToChannel(ev.ChannelID)
	})
	if err != nil {
		l.mu.Lock()
		if l.generation == generation {
			l.running = false
		}
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	if !l.running || l.generation != generation {
		// Stop ran while the subscription was being set up; release the
		// handle instead of installing it into a stopped (or restarted)
		// listener.
		l.mu.Unlock()
		channelSub.Cancel()
		return nil
	}
	l.channelSub = channelSub
	l.mu.Unlock()

	// Pick up channels that existed before we subscribed.
	existing, err := l.store.ListDMChannelsWithMember(ctx, l.aiUserID)
	if err != nil {
		logger.Warn("Failed to list existing DM channels", zap.Error(err))
	} else {
		for _, ch := range existing {
			l.listenToChannel(ch.ID)
		}
	}

	logger.Info("DM listener started", zap.String("ai_user_id", l.aiUserID))
	return nil
}

// Stop cancels the channel-set subscription and every per-channel
// subscription. Safe to call repeatedly and from any state.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.channelSub != nil {
		l.channelSub.Cancel()
		l.channelSub = nil
	}

	for channelID, sub := range l.messageSubs {
		// A nil entry is a slot reserved by an in-flight listenToChannel;
		// that call cancels its own subscription once it sees running=false.
		if sub != nil {
			sub.Cancel()
		}
		delete(l.messageSubs, channelID)
	}

	metrics.ActiveChannelListeners.Set(0)
	l.running = false
	// Invalidate any listenToChannel still blocked in its subscribe call,
	// including across a later restart.
	l.generation++

	logger.Info("DM listener stopped")
}

func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Listener) ActiveChannels() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messageSubs)
}

// listenToChannel opens the per-channel message subscription, at most one
// per channel.
func (l *Listener) listenToChannel(channelID string) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	if _, active := l.messageSubs[channelID]; active {
		l.mu.Unlock()
		logger.Debug("Channel already has an active listener", zap.String("channel_id", channelID))
		return
	}
	// Reserve the slot before subscribing so concurrent channel events
	// cannot double-register.
	l.messageSubs[channelID] = nil
	generation := l.generation
	l.mu.Unlock()

	sub, err := l.source.SubscribeChannelMessages(context.Background(), channelID, func(ev events.MessageEvent) {
		l.handleNewMessage(ev)
	})

	l.mu.Lock()
	if err != nil {
		if l.generation == generation {
			delete(l.messageSubs, channelID)
		}
		l.mu.Unlock()
		logger.Error("Failed to subscribe to channel messages",
			zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	if !l.running || l.generation != generation {
		// Stop ran while the subscription was being set up; nothing may
		// survive it, so release the handle instead of installing it. The
		// generation check also covers a stop/restart cycle, where the
		// reserved slot now belongs to the new run.
		if l.generation == generation {
			delete(l.messageSubs, channelID)
		}
		l.mu.Unlock()
		sub.Cancel()
		return
	}
	l.messageSubs[channelID] = sub
	metrics.ActiveChannelListeners.Set(float64(len(l.messageSubs)))
	l.mu.Unlock()

	logger.Info("Listening to DM channel", zap.String("channel_id", channelID))
}

func (l *Listener) handleNewMessage(ev events.MessageEvent) {
	// Never respond to our own messages.
	if ev.UserID == l.aiUserID {
		return
	}
	if ev.Edited {
		return
	}

	l.mu.Lock()
	startTime := l.startTime
	l.mu.Unlock()
	if ev.CreatedAt <= startTime {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	logger.Info("Handling DM",
		zap.String("channel_id", ev.ChannelID),
		zap.String("user_id", ev.UserID),
	)

	if err := l.source.SetTyping(ctx, ev.ChannelID, l.aiUserID, true); err != nil {
		logger.Warn("Failed to set typing indicator", zap.Error(err))
	}
	defer func() {
		if err := l.source.SetTyping(ctx, ev.ChannelID, l.aiUserID, false); err != nil {
			logger.Warn("Failed to clear typing indicator", zap.Error(err))
		}
	}()

	start := time.Now()
	resp, err := l.rag.ProcessQuery(ctx, ev.Content)
	metrics.QueryDuration.WithLabelValues("listener").Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error("RAG query failed, sending apology",
			zap.String("channel_id", ev.ChannelID), zap.Error(err))
		l.postResponse(ctx, ev.ChannelID, apologyMessage)
		metrics.ListenerResponses.WithLabelValues("error").Inc()
		return
	}

	l.postResponse(ctx, ev.ChannelID, resp.Response)
	metrics.ListenerResponses.WithLabelValues("ok").Inc()
}

func (l *Listener) postResponse(ctx context.Context, channelID, content string) {
	msg := &models.ChatMessage{
		Content:   content,
		UserID:    l.aiUserID,
		ChannelID: channelID,
		CreatedAt: time.Now().UnixMilli(),
	}

	id, err := l.store.CreateMessage(ctx, msg)
	if err != nil {
		logger.Error("Failed to post response",
			zap.String("channel_id", channelID), zap.Error(err))
		return
	}

	if err := l.source.PublishMessage(ctx, events.MessageEvent{
		MessageID: id,
		Content:   content,
		UserID:    l.aiUserID,
		ChannelID: channelID,
		CreatedAt: msg.CreatedAt,
	}); err != nil {
		logger.Warn("Failed to publish response event", zap.Error(err))
	}
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
