package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/pulsemap/internal/llm"
)

const extractPrompt = `You read short chat messages from a self-tracking app and pull out behavioral signals.

Allowed signal types: %s

Message:
%s

Respond with ONLY a JSON array (it may be empty):
[
    {"signal_type": "one of the allowed types", "intensity": 1-5, "confidence": 0.0-1.0}
]

intensity: 5 = overwhelming / very strong, 1 = barely present.
confidence: how sure you are the message expresses the signal at all.`

const maxMessageChars = 2000

// Message is a stored chat message awaiting or past extraction.
type Message struct {
	ID        string
	UserID    string
	Body      string
	Source    Source
	Extracted bool
	CreatedAt time.Time
}

// Store is the persistence the extractor needs.
type Store interface {
	GetUnextractedMessages(userID string) ([]Message, error)
	UpsertSignals(userID string, signals []Signal) error
	MarkMessageExtracted(messageID string) error
}

// ExtractResult summarizes an extraction run.
type ExtractResult struct {
	Messages int
	Signals  int
	Errors   int
}

// Extractor asks an LLM for raw signal candidates and stores the normalized result.
type Extractor struct {
	store      Store
	provider   llm.Provider
	normalizer *Normalizer
	logger     *zap.Logger
}

// NewExtractor creates an extractor. provider may be nil, in which case
// messages are marked extracted with zero signals.
func NewExtractor(store Store, provider llm.Provider, normalizer *Normalizer, logger *zap.Logger) *Extractor {
	if normalizer == nil {
		normalizer = defaultNormalizer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{store: store, provider: provider, normalizer: normalizer, logger: logger}
}

// ExtractPending processes every message of userID that has not been extracted yet.
func (e *Extractor) ExtractPending(ctx context.Context, userID string) *ExtractResult {
	messages, err := e.store.GetUnextractedMessages(userID)
	if err != nil {
		e.logger.Error("loading pending messages", zap.String("user_id", userID), zap.Error(err))
		return &ExtractResult{Errors: 1}
	}

	r := &ExtractResult{}
	for _, msg := range messages {
		signals, err := e.ExtractMessage(ctx, msg)
		if err != nil {
			e.logger.Error("extracting message", zap.String("message_id", msg.ID), zap.Error(err))
			r.Errors++
			continue
		}
		r.Messages++
		r.Signals += len(signals)
	}

	e.logger.Info("extraction complete",
		zap.String("user_id", userID),
		zap.Int("messages", r.Messages),
		zap.Int("signals", r.Signals),
		zap.Int("errors", r.Errors))
	return r
}

// ExtractMessage extracts, normalizes and upserts the signals of one message.
// Re-running it for the same message overwrites rather than duplicates.
// Only storage failures are returned; LLM failures yield zero signals.
func (e *Extractor) ExtractMessage(ctx context.Context, msg Message) ([]Signal, error) {
	signals := e.candidates(ctx, msg)

	source := msg.Source
	if source == "" {
		source = SourceChat
	}
	for i := range signals {
		signals[i].MessageID = msg.ID
		signals[i].Source = source
		signals[i].CreatedAt = msg.CreatedAt
	}

	if len(signals) > 0 {
		if err := e.store.UpsertSignals(msg.UserID, signals); err != nil {
			return nil, fmt.Errorf("storing signals: %w", err)
		}
	}
	if err := e.store.MarkMessageExtracted(msg.ID); err != nil {
		return nil, fmt.Errorf("marking message extracted: %w", err)
	}

	e.logger.Debug("extracted message",
		zap.String("message_id", msg.ID),
		zap.Int("signals", len(signals)))
	return signals, nil
}

func (e *Extractor) candidates(ctx context.Context, msg Message) []Signal {
	body := strings.TrimSpace(msg.Body)
	if body == "" || e.provider == nil {
		return []Signal{}
	}
	body = llm.Truncate(body, maxMessageChars)

	names := make([]string, len(Types))
	for i, t := range Types {
		names[i] = string(t)
	}
	prompt := fmt.Sprintf(extractPrompt, strings.Join(names, ", "), body)

	responseText, err := e.provider.Generate(ctx, prompt, 256)
	if err != nil {
		e.logger.Warn("signal extraction call failed", zap.String("message_id", msg.ID), zap.Error(err))
		return []Signal{}
	}
	return e.normalizer.ParseResponseText(responseText)
}
