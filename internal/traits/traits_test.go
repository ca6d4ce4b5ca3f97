package traits

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/storage"
)

type brokenStore struct{}

func (brokenStore) LoadTraits(ctx context.Context) ([]models.Trait, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) SaveTraits(ctx context.Context, traits []models.Trait) error {
	return errors.New("connection refused")
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	svc := NewService(storage.NewMemoryStorage(), zap.NewNop())

	got, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTraits(), got)
	assert.Len(t, got, 4)
}

func TestSaveNormalizesList(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	saved, err := svc.Save(ctx, []models.Trait{
		{Name: " Has budget ", Enabled: true, Position: 5},
		{Name: "Interested", Enabled: false, Position: 1},
		{Name: "has BUDGET", Enabled: false, Position: 9},
	})
	require.NoError(t, err)

	want := []models.Trait{
		{Name: "Interested", Enabled: false, Position: 0},
		{Name: "Has budget", Enabled: true, Position: 1},
	}
	assert.Equal(t, want, saved)

	loaded, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, loaded)

	enabled, err := svc.LoadEnabled(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Trait{want[1]}, enabled)
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Save(ctx, nil)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	_, err = svc.Save(ctx, []models.Trait{{Name: "ok"}, {Name: "   "}})
	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "traits", cfgErr.Field)

	stored, err := store.LoadTraits(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored, "rejected input must not reach the store")
}

func TestStoreFailuresArePersistenceErrors(t *testing.T) {
	svc := NewService(brokenStore{}, zap.NewNop())

	_, err := svc.Load(context.Background())
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	_, err = svc.Save(context.Background(), models.DefaultTraits())
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}
