// Package tasks tracks the owner's "reply to this prospect" tasks and decides
// which of them are visible.
package tasks

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/storage"
)

// RecontactWindow is how long a task the owner completed by replying stays
// hidden before it reopens.
const RecontactWindow = 24 * time.Hour

// IsVisible reports whether task should be listed at now. Open tasks are
// always visible. A completed task is visible again only when the owner sent
// the last message more than RecontactWindow ago; tasks completed by a
// received message never reopen.
func IsVisible(task models.TaskStatus, now time.Time) bool {
	if !task.IsCompleted {
		return true
	}
	if task.LastMessageType != models.DirectionSent || task.CompletedAt == nil {
		return false
	}
	return now.Sub(*task.CompletedAt) > RecontactWindow
}

type Service struct {
	store  storage.TaskStore
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store storage.TaskStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Resolve applies IsVisible and persists the reopen of a completed task, so
// later reads see it as open without recomputing.
func (s *Service) Resolve(ctx context.Context, task models.TaskStatus) (models.TaskStatus, bool, error) {
	now := s.now().UTC()
	if !IsVisible(task, now) {
		return task, false, nil
	}
	if !task.IsCompleted {
		return task, true, nil
	}

	task.IsCompleted = false
	task.CompletedAt = nil
	task.UpdatedAt = now
	if err := s.store.SaveTask(ctx, &task); err != nil {
		return task, true, models.NewPersistenceError("reopen task", err)
	}
	s.logger.Info("Task reopened after recontact window",
		zap.String("prospect_id", task.ProspectID),
		zap.String("task_type", task.TaskType))
	return task, true, nil
}

// Pending returns the visible tasks of taskType.
func (s *Service) Pending(ctx context.Context, taskType string) ([]models.TaskStatus, error) {
	all, err := s.store.ListTasks(ctx, taskType)
	if err != nil {
		return nil, models.NewPersistenceError("list tasks", err)
	}

	visible := make([]models.TaskStatus, 0, len(all))
	for _, task := range all {
		resolved, ok, err := s.Resolve(ctx, task)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, resolved)
		}
	}
	return visible, nil
}

// Open marks the task as awaiting the owner, creating it when missing.
func (s *Service) Open(ctx context.Context, prospectID, taskType string) error {
	now := s.now().UTC()
	task := models.TaskStatus{
		ProspectID:      prospectID,
		TaskType:        taskType,
		LastMessageType: models.DirectionReceived,
		UpdatedAt:       now,
	}
	return models.NewPersistenceError("open task", s.store.SaveTask(ctx, &task))
}

// Complete closes the task, recording who sent the message that closed it.
func (s *Service) Complete(ctx context.Context, prospectID, taskType string, direction models.Direction) (models.TaskStatus, error) {
	if !direction.Valid() {
		return models.TaskStatus{}, &models.ConfigError{Field: "direction", Reason: "must be sent or received"}
	}

	now := s.now().UTC()
	task := models.TaskStatus{
		ProspectID:      prospectID,
		TaskType:        taskType,
		IsCompleted:     true,
		CompletedAt:     &now,
		LastMessageType: direction,
		UpdatedAt:       now,
	}
	if err := s.store.SaveTask(ctx, &task); err != nil {
		return models.TaskStatus{}, models.NewPersistenceError("complete task", err)
	}
	return task, nil
}

// Get returns the task resolved against the recontact window.
func (s *Service) Get(ctx context.Context, prospectID, taskType string) (models.TaskStatus, bool, error) {
	task, err := s.store.GetTask(ctx, prospectID, taskType)
	if errors.Is(err, storage.ErrNotFound) {
		return models.TaskStatus{}, false, err
	}
	if err != nil {
		return models.TaskStatus{}, false, models.NewPersistenceError("load task", err)
	}
	return s.Resolve(ctx, *task)
}
