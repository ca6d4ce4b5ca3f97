package autoreset

import (
	"context"
	"time"

	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/storage"
)

// Tracker records the last time a message was exchanged with a prospect.
type Tracker struct {
	store storage.ActivityStore
	now   func() time.Time
}

func NewTracker(store storage.ActivityStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Touch upserts the prospect's last activity to now.
func (t *Tracker) Touch(ctx context.Context, prospectID string, direction models.Direction) error {
	err := t.store.TouchActivity(ctx, prospectID, direction, t.now().UTC())
	return models.NewPersistenceError("touch activity", err)
}
