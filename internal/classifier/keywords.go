package classifier

import (
	"context"
	"strings"

	"github.com/xaenox/prospect-bot/internal/models"
)

// KeywordSource supplies the owner's keyword overrides.
type KeywordSource interface {
	KeywordOverrides(ctx context.Context) (map[string][]string, error)
}

// DefaultKeywords is the built-in keyword set for the canonical traits.
func DefaultKeywords() models.KeywordSet {
	return models.KeywordSet{
		models.TraitInterested: {
			"interesa", "interesado", "interesada", "quiero", "me gustaria",
			"informacion", "mas info", "precio", "cuanto cuesta", "cuanto vale",
			"interested", "i want", "how much", "pricing",
		},
		models.TraitHasBudget: {
			"presupuesto", "pagar", "pago", "invertir", "inversion", "dinero",
			"tarjeta", "budget", "pay", "afford", "invest",
		},
		models.TraitDecisionMaker: {
			"mi negocio", "mi empresa", "soy el dueno", "soy la duena", "soy dueno",
			"yo decido", "fundador", "fundadora", "gerente", "director",
			"owner", "founder", "ceo", "my business", "my company",
		},
		models.TraitUrgentNeed: {
			"urgente", "cuanto antes", "lo antes posible", "esta semana", "hoy mismo",
			"ahora mismo", "necesito ya", "asap", "urgent", "right away", "this week",
		},
	}
}

// KeywordIndex resolves the keywords of a trait: an owner override wins,
// then the built-in default for the exact name, then nothing.
type KeywordIndex struct {
	defaults  models.KeywordSet
	overrides map[string][]string
}

func NewKeywordIndex(overrides map[string][]string) *KeywordIndex {
	return &KeywordIndex{
		defaults:  DefaultKeywords(),
		overrides: overrides,
	}
}

// KeywordsFor returns the normalized keywords for traitName. An unknown trait
// yields an empty list and is simply never satisfied.
func (k *KeywordIndex) KeywordsFor(traitName string) []string {
	if kws := cleanKeywords(k.overrides[traitName]); len(kws) > 0 {
		return kws
	}
	return cleanKeywords(k.defaults[traitName])
}

func cleanKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		kw = strings.TrimSpace(Normalize(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
