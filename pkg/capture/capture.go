// Package capture is the ingestion and query boundary: it turns provider
// responses into thought records and serves latest-trace lookups.
package capture

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/cache"
	"github.com/reveriehq/reverie/pkg/extract"
	"github.com/reveriehq/reverie/pkg/thought"
	"github.com/reveriehq/reverie/pkg/utils"
)

const defaultMaxReasoningLen = 4000

// Config is the configuration options for the capture service.
type Config struct {
	// Cache is the cache layer every captured record lands in.
	Cache *cache.Service

	// MaxReasoningLen truncates reasoning text in Latest responses
	// (defaults to 4000). Stored records are never truncated.
	MaxReasoningLen int

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Service ingests reasoning traces and answers latest-trace queries. The
// caller of OnReasoning/OnResponse only ever blocks for the in-memory cache
// write; malformed input is logged and absorbed.
type Service struct {
	config Config
	logger *zap.Logger
}

// New creates a capture service.
func New(config Config) (*Service, error) {
	if config.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if config.MaxReasoningLen <= 0 {
		config.MaxReasoningLen = defaultMaxReasoningLen
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Service{config: config, logger: config.Logger}, nil
}

// OnReasoning records one captured reasoning event. Never returns an error:
// input that cannot form a record is logged and dropped.
func (s *Service) OnReasoning(key, triggerID, reasoning, response, userMessage string, at time.Time) {
	if key == "" {
		s.logger.Warn("dropping reasoning event without a conversation key")
		return
	}
	if reasoning == "" {
		s.logger.Debug("dropping event without reasoning text",
			zap.String("key", key),
		)
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.config.Cache.PutLatest(&thought.Record{
		ConversationKey: key,
		TriggerID:       triggerID,
		Reasoning:       reasoning,
		Response:        response,
		UserMessage:     userMessage,
		CreatedAt:       at,
	})
}

// OnResponse extracts reasoning from a raw provider payload and records it.
// Payloads without a reasoning field are dropped silently (most models emit
// none).
func (s *Service) OnResponse(key, triggerID string, payload []byte, userMessage string, at time.Time) {
	reasoning := extract.Reasoning(payload)
	if reasoning == "" {
		s.logger.Debug("provider payload carries no reasoning",
			zap.String("key", key),
		)
		return
	}

	s.OnReasoning(key, triggerID, reasoning, extract.ResponseText(payload), userMessage, at)
}

// Latest returns the most recent record for key with its reasoning text
// truncated for display. Absence is storage.NotFoundError.
func (s *Service) Latest(ctx context.Context, key string) (*thought.Record, error) {
	rec, err := s.config.Cache.GetLatest(ctx, key)
	if err != nil {
		return nil, err
	}

	// Copy before truncating; the cached record stays intact.
	display := *rec
	display.Reasoning = utils.Truncate(display.Reasoning, s.config.MaxReasoningLen)
	return &display, nil
}
