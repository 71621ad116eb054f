package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/reveriehq/reverie/pkg/export"
	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/upload"
)

// ErrorResponse is the JSON body for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ExportResponse is the JSON body for a completed export request.
type ExportResponse struct {
	URL   string `json:"url,omitempty"`
	State string `json:"state"`
	Count int    `json:"count,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// IngestRequest is the JSON body for capturing one thought event. Either the
// raw provider payload or pre-extracted reasoning text must be present.
type IngestRequest struct {
	ConversationKey string          `json:"conversation_key"`
	TriggerID       string          `json:"trigger_id"`
	Reasoning       string          `json:"reasoning"`
	Payload         json.RawMessage `json:"payload"`
	Response        string          `json:"response"`
	UserMessage     string          `json:"user_message"`
	CreatedAt       time.Time       `json:"created_at"`
}

// handleIngest records one thought event. A raw provider payload takes
// precedence and goes through reasoning extraction; otherwise the reasoning
// text is recorded as-is. Returns 202: capture is asynchronous and payloads
// without reasoning are absorbed, not errors.
func (s *Server) handleIngest(c *fiber.Ctx) error {
	var req IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.ConversationKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "conversation_key is required"})
	}
	if len(req.Payload) == 0 && req.Reasoning == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "payload or reasoning is required"})
	}

	if len(req.Payload) > 0 {
		s.capturer.OnResponse(req.ConversationKey, req.TriggerID, req.Payload, req.UserMessage, req.CreatedAt)
	} else {
		s.capturer.OnReasoning(req.ConversationKey, req.TriggerID, req.Reasoning, req.Response, req.UserMessage, req.CreatedAt)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// conversationKey reads the key query parameter. Keys contain slashes
// ("session/scene"), so they travel as a query value rather than a path
// segment.
func conversationKey(c *fiber.Ctx) (string, error) {
	key := c.Query("key")
	if key == "" {
		return "", errors.New("key query parameter required")
	}
	return key, nil
}

// handleLatest returns the most recent thought record for a conversation key.
func (s *Server) handleLatest(c *fiber.Ctx) error {
	key, err := conversationKey(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	rec, err := s.capturer.Latest(c.Context(), key)
	if err != nil {
		if storage.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "no thoughts captured for this key"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read latest thought"})
	}

	return c.JSON(rec)
}

// handleSince returns records newer than the "after" timestamp (RFC3339),
// capped by "limit". Pending cache state is flushed first so the read
// observes every captured record.
func (s *Server) handleSince(c *fiber.Ctx) error {
	key, err := conversationKey(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	var after time.Time
	if raw := c.Query("after"); raw != "" {
		after, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "after must be RFC3339"})
		}
	}
	limit := c.QueryInt("limit", 0)

	ctx := c.Context()
	if s.flusher != nil {
		if err := s.flusher.FlushKey(ctx, key); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to flush pending thoughts"})
		}
	}

	records, err := s.storer.ReadSince(ctx, key, after, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read thoughts"})
	}

	return c.JSON(fiber.Map{
		"count":    len(records),
		"thoughts": records,
	})
}

// handleExport runs an incremental export for a conversation key.
func (s *Server) handleExport(c *fiber.Ctx) error {
	key, err := conversationKey(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	result, err := s.pipeline.Export(c.Context(), key)
	if err != nil {
		var (
			cooldown *export.CooldownError
			missing  *upload.MissingCredentialsError
		)
		switch {
		case errors.Is(err, export.ErrExportInFlight):
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
		case errors.As(err, &cooldown):
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{Error: err.Error()})
		case errors.As(err, &missing):
			return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "export upload credentials not configured"})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "export failed"})
		}
	}

	if result.State == export.StateNothingEver {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "no thoughts captured for this key"})
	}

	return c.JSON(ExportResponse{
		URL:   result.URL,
		State: result.State.String(),
		Count: result.Count,
	})
}
