// Package traits loads and saves the owner's ideal customer traits.
package traits

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/classifier"
	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/storage"
)

type Service struct {
	store  storage.TraitStore
	logger *zap.Logger
}

func NewService(store storage.TraitStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Load returns the stored traits, or the default four when nothing is stored.
func (s *Service) Load(ctx context.Context) ([]models.Trait, error) {
	traits, err := s.store.LoadTraits(ctx)
	if err != nil {
		return nil, models.NewPersistenceError("load traits", err)
	}
	if len(traits) == 0 {
		return models.DefaultTraits(), nil
	}
	return traits, nil
}

// LoadEnabled returns the enabled traits in position order.
func (s *Service) LoadEnabled(ctx context.Context) ([]models.Trait, error) {
	traits, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Enabled(traits), nil
}

// Save overwrites the stored list. Names are trimmed, later duplicates of a
// name are dropped and positions are renumbered in order.
func (s *Service) Save(ctx context.Context, traits []models.Trait) ([]models.Trait, error) {
	if len(traits) == 0 {
		return nil, &models.ConfigError{Field: "traits", Reason: "at least one trait is required"}
	}

	ordered := make([]models.Trait, len(traits))
	copy(ordered, traits)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	seen := make(map[string]bool, len(ordered))
	cleaned := make([]models.Trait, 0, len(ordered))
	for _, t := range ordered {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, &models.ConfigError{Field: "traits", Reason: "trait name must not be empty"}
		}
		key := classifier.Normalize(name)
		if seen[key] {
			s.logger.Warn("Dropping duplicate trait", zap.String("trait", name))
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, models.Trait{Name: name, Enabled: t.Enabled, Position: len(cleaned)})
	}

	if err := s.store.SaveTraits(ctx, cleaned); err != nil {
		return nil, models.NewPersistenceError("save traits", err)
	}
	return cleaned, nil
}

// Enabled filters traits to the enabled ones, ordered by position.
func Enabled(traits []models.Trait) []models.Trait {
	out := make([]models.Trait, 0, len(traits))
	for _, t := range traits {
		if t.Enabled {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
