package models

// Trait is one characteristic of the account owner's ideal customer.
type Trait struct {
	Name     string `json:"name" yaml:"name"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Position int    `json:"position" yaml:"position"`
}

// KeywordSet maps a trait name to the substrings that satisfy it.
type KeywordSet map[string][]string

const (
	TraitInterested    = "Interested in our product"
	TraitHasBudget     = "Has budget"
	TraitDecisionMaker = "Decision maker"
	TraitUrgentNeed    = "Urgent need"
)

// DefaultTraits is the list used when the owner has not configured any.
func DefaultTraits() []Trait {
	return []Trait{
		{Name: TraitInterested, Enabled: true, Position: 0},
		{Name: TraitHasBudget, Enabled: true, Position: 1},
		{Name: TraitDecisionMaker, Enabled: true, Position: 2},
		{Name: TraitUrgentNeed, Enabled: true, Position: 3},
	}
}

// TraitNames returns the names of traits in order.
func TraitNames(traits []Trait) []string {
	names := make([]string, 0, len(traits))
	for _, t := range traits {
		names = append(names, t.Name)
	}
	return names
}
