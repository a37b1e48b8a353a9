package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/metrics"
	"github.com/teamchat-ai/backend/internal/rag"
	"github.com/teamchat-ai/backend/pkg/logger"
)

type QueryHandler struct {
	ragService *rag.Service
}

func NewQueryHandler(ragService *rag.Service) *QueryHandler {
	return &QueryHandler{
		ragService: ragService,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid query",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid query",
		})
	}

	start := time.Now()
	response, err := h.ragService.ProcessQuery(c.Context(), req.Query)
	metrics.QueryDuration.WithLabelValues("api").Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.JSON(response)
}
