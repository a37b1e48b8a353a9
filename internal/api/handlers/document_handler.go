package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/ingestion"
	"github.com/teamchat-ai/backend/internal/storage/sqlite"
	"github.com/teamchat-ai/backend/pkg/logger"
)

type DocumentHandler struct {
	pipeline *ingestion.DocumentPipeline
	store    *sqlite.Client
}

func NewDocumentHandler(pipeline *ingestion.DocumentPipeline, store *sqlite.Client) *DocumentHandler {
	return &DocumentHandler{
		pipeline: pipeline,
		store:    store,
	}
}

// HandleProcess runs the ingestion pipeline for an already-uploaded
// document.
func (h *DocumentHandler) HandleProcess(c *fiber.Ctx) error {
	documentID := c.Params("id")
	if documentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Document id is required",
		})
	}

	doc, err := h.store.GetDocument(c.Context(), documentID)
	if err != nil {
		logger.Error("Failed to load document", zap.String("document_id", documentID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load document",
		})
	}
	if doc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	result, err := h.pipeline.Ingest(c.Context(), doc)
	if err != nil {
		logger.Error("Document ingestion failed",
			zap.String("document_id", documentID), zap.Error(err))

		status := fiber.StatusInternalServerError
		if errors.Is(err, ingestion.ErrUnsupportedFileType) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"documentId":      documentID,
		"textLength":      result.TextLength,
		"totalChunks":     result.TotalChunks,
		"processedChunks": result.ProcessedChunks,
	})
}
