// Package autoreset clears accumulated trait matches of prospects that went
// quiet for longer than the configured threshold.
package autoreset

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/storage"
)

const (
	MinResetHours     = 1
	MaxResetHours     = 168
	DefaultResetHours = 48

	// ResetHoursSetting is the settings key holding the configured threshold.
	ResetHoursSetting = "autoreset.reset_hours"
)

// Store is what the sweep needs from storage.
type Store interface {
	storage.ActivityStore
	storage.SettingsStore
	ResetAnalysis(ctx context.Context, prospectID string, cutoff time.Time) (bool, error)
}

// ValidateResetHours enforces the inclusive [1, 168] range.
func ValidateResetHours(hours int) error {
	if hours < MinResetHours || hours > MaxResetHours {
		return &models.ConfigError{
			Field:  "reset_hours",
			Reason: fmt.Sprintf("%d is outside %d-%d", hours, MinResetHours, MaxResetHours),
		}
	}
	return nil
}

// Cutoff is shared by Sweep and Stats so preview and execution agree.
func Cutoff(now time.Time, hours int) time.Time {
	return now.UTC().Add(-time.Duration(hours) * time.Hour)
}

type Service struct {
	store        Store
	defaultHours int
	logger       *zap.Logger
	now          func() time.Time
}

// NewService builds the AutoReset service. defaultHours is used until the
// owner stores a threshold; an invalid value falls back to 48.
func NewService(store Store, defaultHours int, logger *zap.Logger) *Service {
	if ValidateResetHours(defaultHours) != nil {
		defaultHours = DefaultResetHours
	}
	return &Service{
		store:        store,
		defaultHours: defaultHours,
		logger:       logger,
		now:          time.Now,
	}
}

// ResetHours returns the stored threshold, or the default when none is stored.
func (s *Service) ResetHours(ctx context.Context) (int, error) {
	raw, err := s.store.GetSetting(ctx, ResetHoursSetting)
	if errors.Is(err, storage.ErrNotFound) {
		return s.defaultHours, nil
	}
	if err != nil {
		return 0, models.NewPersistenceError("load reset hours", err)
	}

	hours, err := strconv.Atoi(raw)
	if err != nil || ValidateResetHours(hours) != nil {
		s.logger.Warn("Ignoring invalid stored reset hours", zap.String("value", raw))
		return s.defaultHours, nil
	}
	return hours, nil
}

// UpdateResetHours validates before writing; a rejected value leaves the
// stored configuration untouched.
func (s *Service) UpdateResetHours(ctx context.Context, hours int) error {
	if err := ValidateResetHours(hours); err != nil {
		return err
	}
	if err := s.store.SetSetting(ctx, ResetHoursSetting, strconv.Itoa(hours)); err != nil {
		return models.NewPersistenceError("save reset hours", err)
	}
	s.logger.Info("Updated reset hours", zap.Int("hours", hours))
	return nil
}

// Stats counts the prospects a sweep with the same threshold would reset.
func (s *Service) Stats(ctx context.Context, hours int) (models.ResetStats, error) {
	if err := ValidateResetHours(hours); err != nil {
		return models.ResetStats{}, err
	}

	cutoff := Cutoff(s.now(), hours)
	n, err := s.store.CountInactive(ctx, cutoff)
	if err != nil {
		return models.ResetStats{}, models.NewPersistenceError("count inactive prospects", err)
	}
	return models.ResetStats{InactiveCount: n, CutoffTime: cutoff, ThresholdHours: hours}, nil
}

// Sweep clears the traits of every prospect idle since before the cutoff.
// It stops at the first store error or cancellation and returns how many
// prospects were reset so far; those stay reset.
func (s *Service) Sweep(ctx context.Context, hours int) (int, error) {
	if err := ValidateResetHours(hours); err != nil {
		return 0, err
	}

	cutoff := Cutoff(s.now(), hours)
	ids, err := s.store.ListInactive(ctx, cutoff)
	if err != nil {
		return 0, models.NewPersistenceError("list inactive prospects", err)
	}

	count := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return count, fmt.Errorf("sweep interrupted after %d resets: %w", count, err)
		}
		reset, err := s.store.ResetAnalysis(ctx, id, cutoff)
		if err != nil {
			return count, models.NewPersistenceError(fmt.Sprintf("reset prospect %s", id), err)
		}
		if reset {
			count++
		}
	}

	s.logger.Info("AutoReset sweep finished",
		zap.Int("reset", count),
		zap.Int("threshold_hours", hours),
		zap.Time("cutoff", cutoff))
	return count, nil
}

// SweepConfigured runs Sweep with the stored threshold.
func (s *Service) SweepConfigured(ctx context.Context) (int, error) {
	hours, err := s.ResetHours(ctx)
	if err != nil {
		return 0, err
	}
	return s.Sweep(ctx, hours)
}
