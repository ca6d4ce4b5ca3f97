package classifier

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
)

// Classifier decides which traits a block of prospect text satisfies.
type Classifier interface {
	Classify(ctx context.Context, text string, traits []models.Trait) models.Classification
}

// KeywordStrategy matches normalized keywords as plain substrings, so
// "pagar" also matches inside "pagaremos".
type KeywordStrategy struct {
	index *KeywordIndex
}

func NewKeywordStrategy(index *KeywordIndex) *KeywordStrategy {
	return &KeywordStrategy{index: index}
}

// Classify is a pure function of its inputs. Met traits follow trait order.
func (s *KeywordStrategy) Classify(text string, traits []models.Trait) models.Classification {
	content := Normalize(text)
	met := []string{}

	for _, trait := range traits {
		if !trait.Enabled {
			continue
		}
		for _, kw := range s.index.KeywordsFor(trait.Name) {
			if strings.Contains(content, kw) {
				met = append(met, trait.Name)
				break
			}
		}
	}

	return models.Classification{
		MatchPoints: len(met),
		MetTraits:   met,
		Strategy:    models.StrategyKeyword,
	}
}

// Engine picks a strategy per call: the LLM when a credential is configured,
// otherwise keywords. Any LLM failure falls back to keywords.
type Engine struct {
	keywords KeywordSource
	llm      *LLMStrategy
	logger   *zap.Logger
}

// NewEngine builds an Engine. llm may be nil, which is the normal state when
// no API key is configured.
func NewEngine(keywords KeywordSource, llm *LLMStrategy, logger *zap.Logger) *Engine {
	return &Engine{
		keywords: keywords,
		llm:      llm,
		logger:   logger,
	}
}

// Classify never fails; the worst case is an empty classification.
func (e *Engine) Classify(ctx context.Context, text string, traits []models.Trait) models.Classification {
	enabled := enabledOnly(traits)
	if strings.TrimSpace(text) == "" || len(enabled) == 0 {
		return models.Classification{MetTraits: []string{}, Strategy: models.StrategyKeyword}
	}

	if e.llm != nil {
		result, err := e.llm.Classify(ctx, text, enabled)
		if err == nil {
			return result
		}
		e.logger.Warn("LLM classification failed, falling back to keywords", zap.Error(err))
	}

	return NewKeywordStrategy(e.index(ctx)).Classify(text, enabled)
}

func (e *Engine) index(ctx context.Context) *KeywordIndex {
	if e.keywords == nil {
		return NewKeywordIndex(nil)
	}
	overrides, err := e.keywords.KeywordOverrides(ctx)
	if err != nil {
		e.logger.Error("Failed to load keyword overrides, using defaults", zap.Error(err))
		return NewKeywordIndex(nil)
	}
	return NewKeywordIndex(overrides)
}

func enabledOnly(traits []models.Trait) []models.Trait {
	out := make([]models.Trait, 0, len(traits))
	for _, t := range traits {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}
