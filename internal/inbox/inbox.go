// Package inbox turns delivered conversation messages into prospect updates.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/autoreset"
	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/prospect"
	"github.com/xaenox/prospect-bot/internal/storage"
	"github.com/xaenox/prospect-bot/internal/tasks"
	"github.com/xaenox/prospect-bot/internal/traits"
)

// Notifier is told when a prospect newly satisfies every enabled trait.
type Notifier interface {
	NotifyQualified(ctx context.Context, analysis models.ProspectAnalysis) error
}

// Result describes what handling one message did.
type Result struct {
	MessageID string           `json:"message_id"`
	Outcome   prospect.Outcome `json:"outcome"`
	Qualified bool             `json:"qualified"`
	// Duplicate is set when the message id was already recorded and nothing
	// else was done.
	Duplicate bool `json:"duplicate"`
}

type Processor struct {
	messages storage.MessageStore
	traits   *traits.Service
	analyzer *prospect.Analyzer
	tracker  *autoreset.Tracker
	tasks    *tasks.Service
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewProcessor wires the inbox. notifier may be nil.
func NewProcessor(
	messages storage.MessageStore,
	traitService *traits.Service,
	analyzer *prospect.Analyzer,
	tracker *autoreset.Tracker,
	taskService *tasks.Service,
	notifier Notifier,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		messages: messages,
		traits:   traitService,
		analyzer: analyzer,
		tracker:  tracker,
		tasks:    taskService,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle records msg and updates the prospect it belongs to. Received
// messages are analysed and reopen the reply task; sent messages complete it.
// The message row is written first and claims msg.MessageID, so a redelivered
// message changes nothing.
func (p *Processor) Handle(ctx context.Context, msg models.InboundMessage) (Result, error) {
	if msg.ProspectID == "" {
		return Result{}, &models.ConfigError{Field: "prospect_id", Reason: "must not be empty"}
	}
	if !msg.Direction.Valid() {
		return Result{}, &models.ConfigError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", msg.Direction)}
	}

	result := Result{MessageID: msg.MessageID}
	if result.MessageID == "" {
		result.MessageID = uuid.New().String()
	}

	var (
		enabled    []models.Trait
		revealed   models.Classification
		analysable bool
	)
	if msg.Direction == models.DirectionReceived {
		var err error
		if enabled, err = p.traits.LoadEnabled(ctx); err != nil {
			return Result{}, err
		}
		revealed, analysable = p.analyzer.Classify(ctx, msg.Text, enabled)
	}

	inserted, err := p.saveMessage(ctx, result.MessageID, msg, revealed.MetTraits)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		p.logger.Info("Duplicate message ignored",
			zap.String("message_id", result.MessageID),
			zap.String("prospect_id", msg.ProspectID))
		result.Duplicate = true
		return result, nil
	}

	if err := p.apply(ctx, msg, enabled, revealed, analysable, &result); err != nil {
		// Release the id so a redelivery is processed again.
		if delErr := p.messages.DeleteMessage(ctx, result.MessageID); delErr != nil {
			p.logger.Error("Failed to release message after error",
				zap.Error(delErr),
				zap.String("message_id", result.MessageID))
		}
		return Result{}, err
	}

	if result.Qualified && p.notifier != nil {
		if err := p.notifier.NotifyQualified(ctx, result.Outcome.Analysis); err != nil {
			p.logger.Error("Failed to notify owner",
				zap.Error(err),
				zap.String("prospect_id", msg.ProspectID))
		}
	}

	p.logger.Debug("Message processed",
		zap.String("message_id", result.MessageID),
		zap.String("prospect_id", msg.ProspectID),
		zap.String("direction", string(msg.Direction)),
		zap.Bool("qualified", result.Qualified))
	return result, nil
}

func (p *Processor) apply(
	ctx context.Context,
	msg models.InboundMessage,
	enabled []models.Trait,
	revealed models.Classification,
	analysable bool,
	result *Result,
) error {
	switch msg.Direction {
	case models.DirectionReceived:
		if analysable {
			outcome, err := p.analyzer.Apply(ctx, msg.ProspectID, msg.DisplayName, revealed, enabled)
			if err != nil {
				return err
			}
			result.Outcome = outcome
		} else {
			result.Outcome = prospect.SkippedOutcome(msg.ProspectID)
			if err := p.tracker.Touch(ctx, msg.ProspectID, msg.Direction); err != nil {
				return err
			}
		}
		if err := p.tasks.Open(ctx, msg.ProspectID, models.TaskPendingReply); err != nil {
			return err
		}

		total := len(enabled)
		points := result.Outcome.Analysis.MatchPoints
		result.Qualified = total > 0 && points == total && result.Outcome.PreviousPoints < total

	case models.DirectionSent:
		if err := p.tracker.Touch(ctx, msg.ProspectID, msg.Direction); err != nil {
			return err
		}
		if _, err := p.tasks.Complete(ctx, msg.ProspectID, models.TaskPendingReply, msg.Direction); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) saveMessage(ctx context.Context, id string, msg models.InboundMessage, met []string) (bool, error) {
	createdAt := msg.ReceivedAt
	if createdAt.IsZero() {
		createdAt = p.now()
	}
	if met == nil {
		met = []string{}
	}
	inserted, err := p.messages.SaveMessage(ctx, &models.Message{
		ID:         id,
		ProspectID: msg.ProspectID,
		Content:    msg.Text,
		Direction:  msg.Direction,
		MetTraits:  met,
		CreatedAt:  createdAt.UTC(),
	})
	if err != nil {
		return false, models.NewPersistenceError("save message", err)
	}
	return inserted, nil
}
