package prospect

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/autoreset"
	"github.com/xaenox/prospect-bot/internal/classifier"
	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/storage"
)

var exampleTraits = []models.Trait{
	{Name: "Interested", Enabled: true, Position: 0},
	{Name: "Has budget", Enabled: true, Position: 1},
}

type exampleKeywords struct{}

func (exampleKeywords) KeywordOverrides(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{
		"Interested": {"interesa", "quiero"},
		"Has budget": {"presupuesto", "pagar"},
	}, nil
}

func newTestAnalyzer(store *storage.MemoryStorage) *Analyzer {
	engine := classifier.NewEngine(exampleKeywords{}, nil, zap.NewNop())
	return NewAnalyzer(store, engine, autoreset.NewTracker(store), zap.NewNop())
}

func TestAnalyzeExampleScenario(t *testing.T) {
	store := storage.NewMemoryStorage()
	a := newTestAnalyzer(store)
	ctx := context.Background()

	out, err := a.AnalyzeAndUpdate(ctx, "p1", "Ana", "me interesa pero no tengo presupuesto", exampleTraits)
	require.NoError(t, err)
	assert.Equal(t, []string{"Interested", "Has budget"}, out.Analysis.MetTraits)
	assert.Equal(t, 2, out.Analysis.MatchPoints)
	assert.Equal(t, "Ana", out.Analysis.DisplayName)
	assert.Zero(t, out.PreviousPoints)

	out, err = a.AnalyzeAndUpdate(ctx, "p1", "", "hola", exampleTraits)
	require.NoError(t, err)
	assert.Empty(t, out.Message.MetTraits)
	assert.Equal(t, []string{"Interested", "Has budget"}, out.Analysis.MetTraits, "accumulated traits survive")
	assert.Equal(t, 2, out.Analysis.MatchPoints)
	assert.Equal(t, 2, out.PreviousPoints)
	assert.Equal(t, "Ana", out.Analysis.DisplayName)

	_, err = store.GetActivity(ctx, "p1")
	assert.NoError(t, err, "activity is recorded")
}

func TestAnalyzeIsMonotonic(t *testing.T) {
	a := newTestAnalyzer(storage.NewMemoryStorage())
	ctx := context.Background()

	var previous []string
	for _, text := range []string{"quiero saber", "hola", "puedo pagar", "gracias"} {
		out, err := a.AnalyzeAndUpdate(ctx, "p1", "", text, exampleTraits)
		require.NoError(t, err)
		assert.Subset(t, out.Analysis.MetTraits, previous, "after %q", text)
		assert.Equal(t, MatchPoints(out.Analysis.MetTraits, exampleTraits), out.Analysis.MatchPoints)
		previous = out.Analysis.MetTraits
	}
	assert.Equal(t, []string{"Interested", "Has budget"}, previous)
}

func TestAnalyzeSkipsEmptyInput(t *testing.T) {
	store := storage.NewMemoryStorage()
	a := newTestAnalyzer(store)
	ctx := context.Background()

	disabled := []models.Trait{{Name: "Interested", Enabled: false}}
	for _, tc := range []struct {
		text   string
		traits []models.Trait
	}{
		{"", exampleTraits},
		{"   ", exampleTraits},
		{"me interesa", nil},
		{"me interesa", disabled},
	} {
		out, err := a.AnalyzeAndUpdate(ctx, "p1", "", tc.text, tc.traits)
		require.NoError(t, err)
		assert.True(t, out.Skipped)
		assert.Zero(t, out.Analysis.MatchPoints)
		assert.Empty(t, out.Analysis.MetTraits)
	}

	_, err := store.GetAnalysis(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "nothing persisted")
	_, err = store.GetActivity(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMatchPointsCountsOnlyEnabled(t *testing.T) {
	traits := []models.Trait{
		{Name: "Interested", Enabled: true},
		{Name: "Has budget", Enabled: false},
	}
	assert.Equal(t, 1, MatchPoints([]string{"Interested", "Has budget", "Removed"}, traits))
	assert.Equal(t, 1, MatchPoints([]string{"Interested", "Interested"}, traits))
	assert.Zero(t, MatchPoints(nil, traits))
}

func TestGetRecomputesPoints(t *testing.T) {
	a := newTestAnalyzer(storage.NewMemoryStorage())
	ctx := context.Background()
	_, err := a.AnalyzeAndUpdate(ctx, "p1", "", "me interesa pagar", exampleTraits)
	require.NoError(t, err)

	onlyBudget := []models.Trait{
		{Name: "Interested", Enabled: false},
		{Name: "Has budget", Enabled: true},
	}
	got, err := a.Get(ctx, "p1", onlyBudget)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MatchPoints)

	list, err := a.List(ctx, onlyBudget)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].MatchPoints)

	_, err = a.Get(ctx, "missing", exampleTraits)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type fixedClassifier map[string][]string

func (f fixedClassifier) Classify(ctx context.Context, text string, traits []models.Trait) models.Classification {
	return models.Classification{MetTraits: f[text], MatchPoints: len(f[text]), Strategy: models.StrategyKeyword}
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	store := storage.NewMemoryStorage()
	traits := models.DefaultTraits()
	clf := fixedClassifier{}
	for _, tr := range traits {
		clf[tr.Name] = []string{tr.Name}
	}
	a := NewAnalyzer(store, clf, autoreset.NewTracker(store), zap.NewNop())

	var wg sync.WaitGroup
	for _, tr := range traits {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := a.AnalyzeAndUpdate(context.Background(), "p1", "", text, traits)
			assert.NoError(t, err)
		}(tr.Name)
	}
	wg.Wait()

	got, err := store.GetAnalysis(context.Background(), "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, models.TraitNames(traits), got.MetTraits)
	assert.Equal(t, len(traits), got.MatchPoints)
}

type conflictingStore struct {
	*storage.MemoryStorage
	conflicts int
	err       error
}

func (c *conflictingStore) SaveAnalysis(ctx context.Context, a *models.ProspectAnalysis) error {
	if c.err != nil {
		return c.err
	}
	if c.conflicts > 0 {
		c.conflicts--
		return storage.ErrConflict
	}
	return c.MemoryStorage.SaveAnalysis(ctx, a)
}

func TestAnalyzeRetriesConflicts(t *testing.T) {
	mem := storage.NewMemoryStorage()
	store := &conflictingStore{MemoryStorage: mem, conflicts: 2}
	a := NewAnalyzer(store, classifier.NewEngine(exampleKeywords{}, nil, zap.NewNop()), autoreset.NewTracker(mem), zap.NewNop())

	out, err := a.AnalyzeAndUpdate(context.Background(), "p1", "", "quiero", exampleTraits)
	require.NoError(t, err)
	assert.Equal(t, []string{"Interested"}, out.Analysis.MetTraits)
	assert.Zero(t, store.conflicts)
}

func TestAnalyzeGivesUpAfterRepeatedConflicts(t *testing.T) {
	mem := storage.NewMemoryStorage()
	store := &conflictingStore{MemoryStorage: mem, conflicts: maxMergeAttempts}
	a := NewAnalyzer(store, classifier.NewEngine(exampleKeywords{}, nil, zap.NewNop()), autoreset.NewTracker(mem), zap.NewNop())

	_, err := a.AnalyzeAndUpdate(context.Background(), "p1", "", "quiero", exampleTraits)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestAnalyzeSurfacesStoreFailure(t *testing.T) {
	mem := storage.NewMemoryStorage()
	store := &conflictingStore{MemoryStorage: mem, err: errors.New("connection refused")}
	a := NewAnalyzer(store, classifier.NewEngine(exampleKeywords{}, nil, zap.NewNop()), autoreset.NewTracker(mem), zap.NewNop())

	_, err := a.AnalyzeAndUpdate(context.Background(), "p1", "", "quiero", exampleTraits)
	var perr *models.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save analysis", perr.Op)
}

func TestUnionKeepsOrder(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Union([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, []string{}, Union(nil, nil))
}
