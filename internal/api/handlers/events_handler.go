package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/events"
	"github.com/teamchat-ai/backend/pkg/logger"
)

// EventsHandler relays the message-event firehose to websocket clients, so
// an operator console can watch listener activity live.
type EventsHandler struct {
	broker *events.Broker
}

func NewEventsHandler(broker *events.Broker) *EventsHandler {
	return &EventsHandler{broker: broker}
}

func (h *EventsHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	payloads := make(chan []byte, 64)
	sub, err := h.broker.SubscribeFirehose(context.Background(), func(payload []byte) {
		select {
		case payloads <- payload:
		default:
			// Slow consumer; drop rather than block the broker.
		}
	})
	if err != nil {
		logger.Error("Failed to subscribe websocket client", zap.Error(err))
		c.Close()
		return
	}

	defer func() {
		sub.Cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// Reader goroutine detects client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case payload := <-payloads:
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("Failed to write websocket message", zap.Error(err))
				return
			}
		}
	}
}
