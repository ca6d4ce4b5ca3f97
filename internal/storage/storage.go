package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/prospect-bot/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by SaveAnalysis when the stored version moved on.
	ErrConflict = errors.New("version conflict")
)

// Storage is everything the service persists.
type Storage interface {
	TraitStore
	KeywordStore
	AnalysisStore
	ActivityStore
	TaskStore
	SettingsStore
	MessageStore
	Close() error
}

type TraitStore interface {
	// LoadTraits returns the stored traits ordered by position, or an empty slice.
	LoadTraits(ctx context.Context) ([]models.Trait, error)
	SaveTraits(ctx context.Context, traits []models.Trait) error
}

type KeywordStore interface {
	KeywordOverrides(ctx context.Context) (map[string][]string, error)
	// SaveKeywordOverrides replaces the whole override set.
	SaveKeywordOverrides(ctx context.Context, overrides map[string][]string) error
}

type AnalysisStore interface {
	GetAnalysis(ctx context.Context, prospectID string) (*models.ProspectAnalysis, error)
	// SaveAnalysis writes a only if the stored version still equals a.Version,
	// then bumps a.Version. A zero version means the record must not exist yet.
	SaveAnalysis(ctx context.Context, a *models.ProspectAnalysis) error
	ListAnalyses(ctx context.Context) ([]models.ProspectAnalysis, error)
	// ResetAnalysis clears the record if the prospect's last activity is still
	// before cutoff and the record is not already empty.
	ResetAnalysis(ctx context.Context, prospectID string, cutoff time.Time) (bool, error)
}

type ActivityStore interface {
	TouchActivity(ctx context.Context, prospectID string, direction models.Direction, at time.Time) error
	GetActivity(ctx context.Context, prospectID string) (*models.ProspectActivity, error)
	// ListInactive returns prospects idle since before cutoff that still hold traits.
	ListInactive(ctx context.Context, cutoff time.Time) ([]string, error)
	CountInactive(ctx context.Context, cutoff time.Time) (int, error)
}

type TaskStore interface {
	GetTask(ctx context.Context, prospectID, taskType string) (*models.TaskStatus, error)
	SaveTask(ctx context.Context, task *models.TaskStatus) error
	ListTasks(ctx context.Context, taskType string) ([]models.TaskStatus, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type MessageStore interface {
	// SaveMessage inserts msg and reports false, writing nothing, when a
	// message with the same id is already stored.
	SaveMessage(ctx context.Context, msg *models.Message) (bool, error)
	DeleteMessage(ctx context.Context, id string) error
	ListMessages(ctx context.Context, prospectID string, limit int) ([]models.Message, error)
}
