// Package prospect accumulates the ICP traits each prospect reveals over a conversation.
package prospect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/classifier"
	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/storage"
)

const maxMergeAttempts = 5

// ActivityToucher records prospect activity.
type ActivityToucher interface {
	Touch(ctx context.Context, prospectID string, direction models.Direction) error
}

// Outcome is the result of analysing one message.
type Outcome struct {
	// Message holds the traits revealed by this message alone.
	Message models.Classification `json:"message"`
	// Analysis is the cumulative record after the merge.
	Analysis models.ProspectAnalysis `json:"analysis"`
	// PreviousPoints is the record's match points before the merge.
	PreviousPoints int `json:"previous_points"`
	// Skipped is set when there was nothing to analyse and nothing was written.
	Skipped bool `json:"skipped"`
}

type Analyzer struct {
	store      storage.AnalysisStore
	classifier classifier.Classifier
	activity   ActivityToucher
	logger     *zap.Logger
	now        func() time.Time
}

func NewAnalyzer(store storage.AnalysisStore, clf classifier.Classifier, activity ActivityToucher, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		store:      store,
		classifier: clf,
		activity:   activity,
		logger:     logger,
		now:        time.Now,
	}
}

// AnalyzeAndUpdate classifies text and unions the met traits into the
// prospect's record. Traits are never removed here; concurrent calls for the
// same prospect are serialized by the record version and retried.
func (a *Analyzer) AnalyzeAndUpdate(ctx context.Context, prospectID, displayName, text string, enabled []models.Trait) (Outcome, error) {
	result, ok := a.Classify(ctx, text, enabled)
	if !ok {
		return SkippedOutcome(prospectID), nil
	}
	return a.Apply(ctx, prospectID, displayName, result, enabled)
}

// Classify returns the traits text reveals without writing anything. ok is
// false when the text is blank or no trait is enabled.
func (a *Analyzer) Classify(ctx context.Context, text string, enabled []models.Trait) (models.Classification, bool) {
	if strings.TrimSpace(text) == "" || !anyEnabled(enabled) {
		return models.Classification{MetTraits: []string{}, Strategy: models.StrategyKeyword}, false
	}
	return a.classifier.Classify(ctx, text, enabled), true
}

// SkippedOutcome is the outcome of a message that had nothing to analyse.
func SkippedOutcome(prospectID string) Outcome {
	return Outcome{
		Message: models.Classification{MetTraits: []string{}, Strategy: models.StrategyKeyword},
		Analysis: models.ProspectAnalysis{
			ProspectID: prospectID,
			MetTraits:  []string{},
		},
		Skipped: true,
	}
}

// Apply records the prospect's activity and merges an existing
// classification into its record.
func (a *Analyzer) Apply(ctx context.Context, prospectID, displayName string, result models.Classification, enabled []models.Trait) (Outcome, error) {
	if err := a.activity.Touch(ctx, prospectID, models.DirectionReceived); err != nil {
		return Outcome{}, err
	}

	for attempt := 1; attempt <= maxMergeAttempts; attempt++ {
		record, err := a.load(ctx, prospectID)
		if err != nil {
			return Outcome{}, err
		}

		previous := MatchPoints(record.MetTraits, enabled)
		record.MetTraits = Union(record.MetTraits, result.MetTraits)
		record.MatchPoints = MatchPoints(record.MetTraits, enabled)
		record.LastAnalyzedAt = a.now().UTC()
		if displayName != "" {
			record.DisplayName = displayName
		}

		err = a.store.SaveAnalysis(ctx, record)
		if errors.Is(err, storage.ErrConflict) {
			a.logger.Debug("Analysis changed concurrently, retrying",
				zap.String("prospect_id", prospectID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Outcome{}, models.NewPersistenceError("save analysis", err)
		}

		a.logger.Info("Prospect analysed",
			zap.String("prospect_id", prospectID),
			zap.String("strategy", string(result.Strategy)),
			zap.Strings("met_traits", result.MetTraits),
			zap.Int("match_points", record.MatchPoints))
		return Outcome{Message: result, Analysis: *record, PreviousPoints: previous}, nil
	}

	return Outcome{}, models.NewPersistenceError("save analysis",
		fmt.Errorf("prospect %s: %w after %d attempts", prospectID, storage.ErrConflict, maxMergeAttempts))
}

// Get returns the prospect's record with match points computed against enabled.
func (a *Analyzer) Get(ctx context.Context, prospectID string, enabled []models.Trait) (*models.ProspectAnalysis, error) {
	record, err := a.store.GetAnalysis(ctx, prospectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, models.NewPersistenceError("load analysis", err)
	}
	record.MatchPoints = MatchPoints(record.MetTraits, enabled)
	return record, nil
}

// List returns every record with match points computed against enabled.
func (a *Analyzer) List(ctx context.Context, enabled []models.Trait) ([]models.ProspectAnalysis, error) {
	records, err := a.store.ListAnalyses(ctx)
	if err != nil {
		return nil, models.NewPersistenceError("list analyses", err)
	}
	for i := range records {
		records[i].MatchPoints = MatchPoints(records[i].MetTraits, enabled)
	}
	return records, nil
}

func (a *Analyzer) load(ctx context.Context, prospectID string) (*models.ProspectAnalysis, error) {
	record, err := a.store.GetAnalysis(ctx, prospectID)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.ProspectAnalysis{ProspectID: prospectID, MetTraits: []string{}}, nil
	}
	if err != nil {
		return nil, models.NewPersistenceError("load analysis", err)
	}
	return record, nil
}

func anyEnabled(traits []models.Trait) bool {
	for _, t := range traits {
		if t.Enabled {
			return true
		}
	}
	return false
}

// Union appends the names in added that are missing from existing, keeping order.
func Union(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]bool, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// MatchPoints counts the met traits that are currently enabled.
func MatchPoints(met []string, enabled []models.Trait) int {
	on := make(map[string]bool, len(enabled))
	for _, t := range enabled {
		if t.Enabled {
			on[t.Name] = true
		}
	}

	n := 0
	for _, name := range met {
		if on[name] {
			n++
			delete(on, name)
		}
	}
	return n
}
