package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
	"github.com/TobiSchelling/pulsemap/internal/insight"
	"github.com/TobiSchelling/pulsemap/internal/signal"
)

// Experience granted per activity.
const (
	xpCheckIn       = 10
	xpQuestCreated  = 5
	xpQuestComplete = 50
)

// IngestResult reports a stored message and the signals found in it.
type IngestResult struct {
	Message signal.Message
	Signals []signal.Signal
}

// IngestMessage stores a chat message and extracts its signals immediately.
func (p *Pipeline) IngestMessage(ctx context.Context, userID, body string) (*IngestResult, error) {
	if _, err := p.user(userID); err != nil {
		return nil, err
	}
	msg, err := p.db.InsertMessage(signal.Message{
		UserID:    userID,
		Body:      body,
		Source:    signal.SourceChat,
		CreatedAt: p.now(),
	})
	if err != nil {
		return nil, err
	}
	signals, err := p.extractor.ExtractMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.Extracted = true
	p.refresh(ctx, userID)
	return &IngestResult{Message: msg, Signals: signals}, nil
}

// RecordCheckIn stores a daily check-in. A note is queued for extraction
// under the daily_pulse source.
func (p *Pipeline) RecordCheckIn(ctx context.Context, userID string, percentage float64, note string) (*behaviormap.CheckIn, error) {
	if _, err := p.user(userID); err != nil {
		return nil, err
	}
	at := p.now()
	c, err := p.db.InsertCheckIn(behaviormap.CheckIn{UserID: userID, Percentage: percentage, Note: note, CreatedAt: at})
	if err != nil {
		return nil, err
	}
	if _, err := p.db.InsertEvent(insight.Event{UserID: userID, Type: insight.EventCheckIn, CreatedAt: at}); err != nil {
		return nil, err
	}
	if err := p.queueNote(userID, note, signal.SourceDailyPulse); err != nil {
		return nil, err
	}
	if err := p.db.AddXP(userID, xpCheckIn); err != nil {
		return nil, err
	}
	p.refresh(ctx, userID)
	return &c, nil
}

// RecordEvent stores an activity event stamped now.
func (p *Pipeline) RecordEvent(ctx context.Context, userID, eventType string, meta insight.Metadata) (*insight.Event, error) {
	if _, err := p.user(userID); err != nil {
		return nil, err
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("event type is required")
	}
	e, err := p.db.InsertEvent(insight.Event{UserID: userID, Type: eventType, Metadata: meta, CreatedAt: p.now()})
	if err != nil {
		return nil, err
	}
	p.refresh(ctx, userID)
	return &e, nil
}

// AddQuest creates a quest and records its creation.
func (p *Pipeline) AddQuest(ctx context.Context, userID, title, category string) (*behaviormap.Quest, error) {
	if _, err := p.user(userID); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("quest title is required")
	}
	at := p.now()
	q, err := p.db.InsertQuest(behaviormap.Quest{UserID: userID, Title: title, Category: category, CreatedAt: at})
	if err != nil {
		return nil, err
	}
	if _, err := p.db.InsertEvent(insight.Event{
		UserID:    userID,
		Type:      insight.EventQuestCreated,
		Metadata:  insight.Metadata{Category: category, Topic: title},
		CreatedAt: at,
	}); err != nil {
		return nil, err
	}
	if err := p.queueNote(userID, title, signal.SourceQuestCreate); err != nil {
		return nil, err
	}
	if err := p.db.AddXP(userID, xpQuestCreated); err != nil {
		return nil, err
	}
	p.refresh(ctx, userID)
	return &q, nil
}

// ProgressQuest sets a quest's progress and logs the work as an event.
func (p *Pipeline) ProgressQuest(ctx context.Context, questID string, progress float64, note string) (*behaviormap.Quest, error) {
	q, err := p.quest(questID)
	if err != nil {
		return nil, err
	}
	at := p.now()
	if err := p.db.UpdateQuestProgress(questID, progress, at); err != nil {
		return nil, err
	}
	if _, err := p.db.InsertEvent(insight.Event{
		UserID:    q.UserID,
		Type:      insight.EventLogAdded,
		Metadata:  insight.Metadata{Category: q.Category, Topic: q.Title},
		CreatedAt: at,
	}); err != nil {
		return nil, err
	}
	if err := p.queueNote(q.UserID, note, signal.SourceQuestProgress); err != nil {
		return nil, err
	}
	p.refresh(ctx, q.UserID)
	return p.db.GetQuest(questID)
}

// CompleteQuest finishes a quest, records the completion and grants experience.
// Completing an already completed quest changes nothing.
func (p *Pipeline) CompleteQuest(ctx context.Context, questID, note string) (*behaviormap.Quest, error) {
	q, err := p.quest(questID)
	if err != nil {
		return nil, err
	}
	if q.Completed {
		return q, nil
	}
	at := p.now()
	if err := p.db.CompleteQuest(questID, at); err != nil {
		return nil, err
	}
	if _, err := p.db.InsertEvent(insight.Event{
		UserID:    q.UserID,
		Type:      insight.EventQuestCompleted,
		Metadata:  insight.Metadata{Category: q.Category, Topic: q.Title},
		CreatedAt: at,
	}); err != nil {
		return nil, err
	}
	if err := p.queueNote(q.UserID, note, signal.SourceQuestCompletion); err != nil {
		return nil, err
	}
	if err := p.db.AddXP(q.UserID, xpQuestComplete); err != nil {
		return nil, err
	}
	p.logger.Info("quest completed", zap.String("quest_id", questID), zap.String("user_id", q.UserID))
	p.refresh(ctx, q.UserID)
	return p.db.GetQuest(questID)
}

// refresh rebuilds the stored insight state after new activity. The activity
// is already stored, so a failure is logged and left to the next trigger.
func (p *Pipeline) refresh(ctx context.Context, userID string) {
	if _, err := p.RefreshInsights(ctx, userID); err != nil {
		p.logger.Warn("refreshing insights", zap.String("user_id", userID), zap.Error(err))
	}
}

// queueNote stores free text for the next extraction run.
func (p *Pipeline) queueNote(userID, note string, source signal.Source) error {
	if strings.TrimSpace(note) == "" {
		return nil
	}
	_, err := p.db.InsertMessage(signal.Message{UserID: userID, Body: note, Source: source, CreatedAt: p.now()})
	return err
}

func (p *Pipeline) quest(questID string) (*behaviormap.Quest, error) {
	q, err := p.db.GetQuest(questID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("quest %s not found", questID)
	}
	return q, nil
}
