package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
)

func openTestSQLite(t *testing.T) Storage {
	t.Helper()
	s, err := NewSQLiteStorage(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openTestMemory(t *testing.T) Storage {
	t.Helper()
	return NewMemoryStorage()
}

var backends = map[string]func(t *testing.T) Storage{
	"memory": openTestMemory,
	"sqlite": openTestSQLite,
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestTraitsRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		traits, err := s.LoadTraits(ctx)
		require.NoError(t, err)
		assert.Empty(t, traits)

		want := []models.Trait{
			{Name: "Has budget", Enabled: false, Position: 1},
			{Name: "Interested", Enabled: true, Position: 0},
		}
		require.NoError(t, s.SaveTraits(ctx, want))

		got, err := s.LoadTraits(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.Trait{want[1], want[0]}, got)

		// Save overwrites wholesale.
		require.NoError(t, s.SaveTraits(ctx, []models.Trait{{Name: "Only", Enabled: true}}))
		got, err = s.LoadTraits(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.Trait{{Name: "Only", Enabled: true}}, got)
	})
}

func TestKeywordOverridesReplace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		require.NoError(t, s.SaveKeywordOverrides(ctx, map[string][]string{
			"Interested": {"interesa", "quiero"},
			"Has budget": {"presupuesto"},
		}))
		require.NoError(t, s.SaveKeywordOverrides(ctx, map[string][]string{
			"Interested": {"me gusta"},
		}))

		got, err := s.KeywordOverrides(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{"Interested": {"me gusta"}}, got)
	})
}

func TestSaveAnalysisOptimisticVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		_, err := s.GetAnalysis(ctx, "p1")
		assert.ErrorIs(t, err, ErrNotFound)

		a := &models.ProspectAnalysis{
			ProspectID:     "p1",
			DisplayName:    "Ana",
			MatchPoints:    1,
			MetTraits:      []string{"Interested"},
			LastAnalyzedAt: now,
		}
		require.NoError(t, s.SaveAnalysis(ctx, a))
		assert.Equal(t, int64(1), a.Version)

		// A second insert of the same prospect conflicts.
		dup := &models.ProspectAnalysis{ProspectID: "p1", LastAnalyzedAt: now}
		assert.ErrorIs(t, s.SaveAnalysis(ctx, dup), ErrConflict)

		stale, err := s.GetAnalysis(ctx, "p1")
		require.NoError(t, err)
		fresh, err := s.GetAnalysis(ctx, "p1")
		require.NoError(t, err)

		fresh.MetTraits = append(fresh.MetTraits, "Has budget")
		fresh.MatchPoints = 2
		require.NoError(t, s.SaveAnalysis(ctx, fresh))
		assert.Equal(t, int64(2), fresh.Version)

		stale.DisplayName = "overwritten"
		assert.ErrorIs(t, s.SaveAnalysis(ctx, stale), ErrConflict)

		got, err := s.GetAnalysis(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Ana", got.DisplayName)
		assert.Equal(t, []string{"Interested", "Has budget"}, got.MetTraits)
		assert.Equal(t, 2, got.MatchPoints)
		assert.True(t, got.LastAnalyzedAt.Equal(now))
	})
}

func TestInactiveAndReset(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		now := time.Now().UTC()
		cutoff := now.Add(-48 * time.Hour)

		seed := func(id string, lastMessage time.Time, traits []string) {
			require.NoError(t, s.TouchActivity(ctx, id, models.DirectionReceived, lastMessage))
			require.NoError(t, s.SaveAnalysis(ctx, &models.ProspectAnalysis{
				ProspectID:     id,
				MatchPoints:    len(traits),
				MetTraits:      traits,
				LastAnalyzedAt: lastMessage,
			}))
		}
		seed("old", now.Add(-50*time.Hour), []string{"Interested"})
		seed("recent", now.Add(-40*time.Hour), []string{"Interested"})
		seed("old-empty", now.Add(-72*time.Hour), []string{})
		// Activity without analysis is never a reset candidate.
		require.NoError(t, s.TouchActivity(ctx, "no-analysis", models.DirectionSent, now.Add(-100*time.Hour)))

		ids, err := s.ListInactive(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, ids)

		n, err := s.CountInactive(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		reset, err := s.ResetAnalysis(ctx, "recent", cutoff)
		require.NoError(t, err)
		assert.False(t, reset)

		reset, err = s.ResetAnalysis(ctx, "old", cutoff)
		require.NoError(t, err)
		assert.True(t, reset)

		a, err := s.GetAnalysis(ctx, "old")
		require.NoError(t, err)
		assert.Empty(t, a.MetTraits)
		assert.Zero(t, a.MatchPoints)
		assert.Equal(t, int64(2), a.Version)

		act, err := s.GetActivity(ctx, "old")
		require.NoError(t, err, "activity record must survive a reset")
		assert.Equal(t, models.DirectionReceived, act.LastDirection)

		reset, err = s.ResetAnalysis(ctx, "old", cutoff)
		require.NoError(t, err)
		assert.False(t, reset, "already empty records are not reset twice")
	})
}

func TestTasksRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		_, err := s.GetTask(ctx, "p1", models.TaskPendingReply)
		assert.ErrorIs(t, err, ErrNotFound)

		task := &models.TaskStatus{
			ProspectID:      "p1",
			TaskType:        models.TaskPendingReply,
			IsCompleted:     true,
			CompletedAt:     &now,
			LastMessageType: models.DirectionSent,
			UpdatedAt:       now,
		}
		require.NoError(t, s.SaveTask(ctx, task))
		require.NoError(t, s.SaveTask(ctx, &models.TaskStatus{
			ProspectID:      "p2",
			TaskType:        models.TaskPendingReply,
			LastMessageType: models.DirectionReceived,
			UpdatedAt:       now,
		}))

		got, err := s.GetTask(ctx, "p1", models.TaskPendingReply)
		require.NoError(t, err)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(now))
		assert.True(t, got.IsCompleted)
		assert.Equal(t, models.DirectionSent, got.LastMessageType)

		got.IsCompleted = false
		got.CompletedAt = nil
		require.NoError(t, s.SaveTask(ctx, got))

		tasks, err := s.ListTasks(ctx, models.TaskPendingReply)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "p1", tasks[0].ProspectID)
		assert.False(t, tasks[0].IsCompleted)
		assert.Nil(t, tasks[0].CompletedAt)
	})
}

func TestSettingsAndMessages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		_, err := s.GetSetting(ctx, "autoreset.reset_hours")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.SetSetting(ctx, "autoreset.reset_hours", "48"))
		require.NoError(t, s.SetSetting(ctx, "autoreset.reset_hours", "72"))
		v, err := s.GetSetting(ctx, "autoreset.reset_hours")
		require.NoError(t, err)
		assert.Equal(t, "72", v)

		base := time.Now().UTC()
		for i, text := range []string{"hola", "me interesa", "gracias"} {
			inserted, err := s.SaveMessage(ctx, &models.Message{
				ID:         text,
				ProspectID: "p1",
				Content:    text,
				Direction:  models.DirectionReceived,
				CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
			assert.True(t, inserted)
		}

		inserted, err := s.SaveMessage(ctx, &models.Message{
			ID:         "hola",
			ProspectID: "p1",
			Content:    "hola otra vez",
			Direction:  models.DirectionReceived,
			CreatedAt:  base.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.False(t, inserted, "duplicate id is not stored")

		msgs, err := s.ListMessages(ctx, "p1", 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "gracias", msgs[0].Content)
		assert.Equal(t, "me interesa", msgs[1].Content)
		assert.Empty(t, msgs[0].MetTraits)

		require.NoError(t, s.DeleteMessage(ctx, "gracias"))
		require.NoError(t, s.DeleteMessage(ctx, "never-stored"))
		msgs, err = s.ListMessages(ctx, "p1", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "me interesa", msgs[0].Content)
		assert.Equal(t, "hola", msgs[1].Content)
	})
}
