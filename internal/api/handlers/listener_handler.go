package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/listener"
	"github.com/teamchat-ai/backend/pkg/logger"
)

type ListenerHandler struct {
	listener *listener.Listener
}

func NewListenerHandler(l *listener.Listener) *ListenerHandler {
	return &ListenerHandler{listener: l}
}

func (h *ListenerHandler) HandleControl(c *fiber.Ctx) error {
	var req struct {
		Action string `json:"action"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	switch req.Action {
	case "start":
		if err := h.listener.Start(c.Context()); err != nil {
			logger.Error("Failed to start listener", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "Failed to start listener",
				"details": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "Listener started"})

	case "stop":
		h.listener.Stop()
		return c.JSON(fiber.Map{"status": "Listener stopped"})

	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": `Invalid action. Use "start" or "stop".`,
		})
	}
}

func (h *ListenerHandler) HandleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"running":        h.listener.Running(),
		"activeChannels": h.listener.ActiveChannels(),
	})
}
