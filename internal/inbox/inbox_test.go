package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/autoreset"
	"github.com/xaenox/prospect-bot/internal/classifier"
	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/prospect"
	"github.com/xaenox/prospect-bot/internal/storage"
	"github.com/xaenox/prospect-bot/internal/tasks"
	"github.com/xaenox/prospect-bot/internal/traits"
)

type recordingNotifier struct {
	notified []models.ProspectAnalysis
	err      error
}

func (r *recordingNotifier) NotifyQualified(ctx context.Context, analysis models.ProspectAnalysis) error {
	r.notified = append(r.notified, analysis)
	return r.err
}

func newTestProcessor(t *testing.T) (*Processor, *storage.MemoryStorage, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemoryStorage()
	logger := zap.NewNop()

	traitService := traits.NewService(store, logger)
	_, err := traitService.Save(context.Background(), []models.Trait{
		{Name: "Interested", Enabled: true, Position: 0},
		{Name: "Has budget", Enabled: true, Position: 1},
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveKeywordOverrides(context.Background(), map[string][]string{
		"Interested": {"interesa", "quiero"},
		"Has budget": {"presupuesto", "pagar"},
	}))

	tracker := autoreset.NewTracker(store)
	engine := classifier.NewEngine(store, nil, logger)
	analyzer := prospect.NewAnalyzer(store, engine, tracker, logger)
	notifier := &recordingNotifier{}
	return NewProcessor(store, traitService, analyzer, tracker, tasks.NewService(store, logger), notifier, logger), store, notifier
}

func TestHandleReceivedMessage(t *testing.T) {
	p, store, notifier := newTestProcessor(t)
	ctx := context.Background()

	res, err := p.Handle(ctx, models.InboundMessage{
		ProspectID:  "p1",
		DisplayName: "Ana",
		Text:        "me interesa",
		Direction:   models.DirectionReceived,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, []string{"Interested"}, res.Outcome.Analysis.MetTraits)
	assert.False(t, res.Qualified)
	assert.Empty(t, notifier.notified)

	task, err := store.GetTask(ctx, "p1", models.TaskPendingReply)
	require.NoError(t, err)
	assert.False(t, task.IsCompleted)
	assert.Equal(t, models.DirectionReceived, task.LastMessageType)

	msgs, err := store.ListMessages(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, res.MessageID, msgs[0].ID)
	assert.Equal(t, []string{"Interested"}, msgs[0].MetTraits)
}

func TestHandleNotifiesOnceWhenQualified(t *testing.T) {
	p, _, notifier := newTestProcessor(t)
	ctx := context.Background()

	for _, text := range []string{"me interesa", "puedo pagar", "quiero pagar ya"} {
		_, err := p.Handle(ctx, models.InboundMessage{ProspectID: "p1", Text: text, Direction: models.DirectionReceived})
		require.NoError(t, err)
	}

	require.Len(t, notifier.notified, 1)
	assert.Equal(t, 2, notifier.notified[0].MatchPoints)
}

func TestHandleNotifierFailureIsNotFatal(t *testing.T) {
	p, _, notifier := newTestProcessor(t)
	notifier.err = errors.New("telegram down")

	res, err := p.Handle(context.Background(), models.InboundMessage{
		ProspectID: "p1",
		Text:       "me interesa y tengo presupuesto",
		Direction:  models.DirectionReceived,
	})
	require.NoError(t, err)
	assert.True(t, res.Qualified)
}

func TestHandleSentMessageCompletesTask(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	ctx := context.Background()

	_, err := p.Handle(ctx, models.InboundMessage{ProspectID: "p1", Text: "hola", Direction: models.DirectionReceived})
	require.NoError(t, err)

	res, err := p.Handle(ctx, models.InboundMessage{ProspectID: "p1", Text: "te escribo mañana", Direction: models.DirectionSent})
	require.NoError(t, err)
	assert.True(t, res.Outcome.Analysis.Empty())

	task, err := store.GetTask(ctx, "p1", models.TaskPendingReply)
	require.NoError(t, err)
	assert.True(t, task.IsCompleted)
	assert.Equal(t, models.DirectionSent, task.LastMessageType)

	act, err := store.GetActivity(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionSent, act.LastDirection)

	_, err = store.GetAnalysis(ctx, "p1")
	require.NoError(t, err, "the earlier received message created the record")
}

func TestHandleEmptyTextStillTouchesActivity(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	res, err := p.Handle(ctx, models.InboundMessage{ProspectID: "p1", Direction: models.DirectionReceived, ReceivedAt: at})
	require.NoError(t, err)
	assert.True(t, res.Outcome.Skipped)

	_, err = store.GetActivity(ctx, "p1")
	assert.NoError(t, err)
	_, err = store.GetAnalysis(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	msgs, err := store.ListMessages(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].CreatedAt.Equal(at))
}

func TestHandleRejectsBadInput(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	_, err := p.Handle(context.Background(), models.InboundMessage{Text: "hola", Direction: models.DirectionReceived})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	_, err = p.Handle(context.Background(), models.InboundMessage{ProspectID: "p1", Text: "hola", Direction: "forwarded"})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestHandleIgnoresRedelivery(t *testing.T) {
	p, store, notifier := newTestProcessor(t)
	ctx := context.Background()

	inbound := models.InboundMessage{MessageID: "mid.in", ProspectID: "p1", Text: "me interesa y tengo presupuesto", Direction: models.DirectionReceived}
	reply := models.InboundMessage{MessageID: "mid.out", ProspectID: "p1", Text: "te llamo", Direction: models.DirectionSent}

	_, err := p.Handle(ctx, inbound)
	require.NoError(t, err)
	first, err := p.Handle(ctx, reply)
	require.NoError(t, err)
	assert.Equal(t, "mid.out", first.MessageID)
	assert.False(t, first.Duplicate)

	done, err := store.GetTask(ctx, "p1", models.TaskPendingReply)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	for _, msg := range []models.InboundMessage{inbound, reply} {
		res, err := p.Handle(ctx, msg)
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.Equal(t, msg.MessageID, res.MessageID)
	}

	task, err := store.GetTask(ctx, "p1", models.TaskPendingReply)
	require.NoError(t, err)
	assert.True(t, task.IsCompleted, "replayed inbound message must not reopen the task")
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.CompletedAt.Equal(*done.CompletedAt))

	msgs, err := store.ListMessages(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Len(t, notifier.notified, 1)
}

type failingTaskStore struct {
	*storage.MemoryStorage
	fail bool
}

func (s *failingTaskStore) SaveTask(ctx context.Context, task *models.TaskStatus) error {
	if s.fail {
		return errors.New("connection reset")
	}
	return s.MemoryStorage.SaveTask(ctx, task)
}

func TestHandleReleasesMessageOnFailure(t *testing.T) {
	store := storage.NewMemoryStorage()
	logger := zap.NewNop()
	taskStore := &failingTaskStore{MemoryStorage: store, fail: true}
	tracker := autoreset.NewTracker(store)
	analyzer := prospect.NewAnalyzer(store, classifier.NewEngine(store, nil, logger), tracker, logger)
	p := NewProcessor(store, traits.NewService(store, logger), analyzer, tracker, tasks.NewService(taskStore, logger), nil, logger)
	ctx := context.Background()

	reply := models.InboundMessage{MessageID: "mid.out", ProspectID: "p1", Text: "te llamo", Direction: models.DirectionSent}

	_, err := p.Handle(ctx, reply)
	require.ErrorIs(t, err, models.ErrStoreUnavailable)

	msgs, err := store.ListMessages(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	taskStore.fail = false
	res, err := p.Handle(ctx, reply)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	task, err := store.GetTask(ctx, "p1", models.TaskPendingReply)
	require.NoError(t, err)
	assert.True(t, task.IsCompleted)
}
