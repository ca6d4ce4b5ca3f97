package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/prospect-bot/internal/models"
)

type taskKey struct {
	prospectID string
	taskType   string
}

// MemoryStorage keeps everything in process memory. Used for local runs and tests.
type MemoryStorage struct {
	mu         sync.RWMutex
	traits     []models.Trait
	keywords   map[string][]string
	analyses   map[string]*models.ProspectAnalysis
	activities map[string]*models.ProspectActivity
	tasks      map[taskKey]*models.TaskStatus
	settings   map[string]string
	messages   map[string][]models.Message
	messageIDs map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		keywords:   make(map[string][]string),
		analyses:   make(map[string]*models.ProspectAnalysis),
		activities: make(map[string]*models.ProspectActivity),
		tasks:      make(map[taskKey]*models.TaskStatus),
		settings:   make(map[string]string),
		messages:   make(map[string][]models.Message),
		messageIDs: make(map[string]string),
	}
}

// Trait methods
func (s *MemoryStorage) LoadTraits(ctx context.Context) ([]models.Trait, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	traits := slices.Clone(s.traits)
	sort.SliceStable(traits, func(i, j int) bool { return traits[i].Position < traits[j].Position })
	if traits == nil {
		traits = []models.Trait{}
	}
	return traits, nil
}

func (s *MemoryStorage) SaveTraits(ctx context.Context, traits []models.Trait) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.traits = slices.Clone(traits)
	return nil
}

// Keyword methods
func (s *MemoryStorage) KeywordOverrides(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(s.keywords))
	for name, kws := range s.keywords {
		out[name] = slices.Clone(kws)
	}
	return out, nil
}

func (s *MemoryStorage) SaveKeywordOverrides(ctx context.Context, overrides map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keywords = make(map[string][]string, len(overrides))
	for name, kws := range overrides {
		s.keywords[name] = slices.Clone(kws)
	}
	return nil
}

// Analysis methods
func (s *MemoryStorage) GetAnalysis(ctx context.Context, prospectID string) (*models.ProspectAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.analyses[prospectID]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneAnalysis(a), nil
}

func (s *MemoryStorage) SaveAnalysis(ctx context.Context, a *models.ProspectAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.analyses[a.ProspectID]
	switch {
	case !exists && a.Version != 0:
		return ErrConflict
	case exists && current.Version != a.Version:
		return ErrConflict
	}

	a.Version++
	s.analyses[a.ProspectID] = cloneAnalysis(a)
	return nil
}

func (s *MemoryStorage) ListAnalyses(ctx context.Context) ([]models.ProspectAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ProspectAnalysis, 0, len(s.analyses))
	for _, a := range s.analyses {
		out = append(out, *cloneAnalysis(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchPoints != out[j].MatchPoints {
			return out[i].MatchPoints > out[j].MatchPoints
		}
		return out[i].ProspectID < out[j].ProspectID
	})
	return out, nil
}

func (s *MemoryStorage) ResetAnalysis(ctx context.Context, prospectID string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inactiveLocked(prospectID, cutoff) {
		return false, nil
	}
	a := s.analyses[prospectID]
	a.MetTraits = []string{}
	a.MatchPoints = 0
	a.Version++
	return true, nil
}

// Activity methods
func (s *MemoryStorage) TouchActivity(ctx context.Context, prospectID string, direction models.Direction, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activities[prospectID] = &models.ProspectActivity{
		ProspectID:    prospectID,
		LastMessageAt: at,
		LastDirection: direction,
	}
	return nil
}

func (s *MemoryStorage) GetActivity(ctx context.Context, prospectID string) (*models.ProspectActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	act, exists := s.activities[prospectID]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *act
	return &cp, nil
}

func (s *MemoryStorage) ListInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id := range s.activities {
		if s.inactiveLocked(id, cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStorage) CountInactive(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.ListInactive(ctx, cutoff)
	return len(ids), err
}

// inactiveLocked must be called with s.mu held.
func (s *MemoryStorage) inactiveLocked(prospectID string, cutoff time.Time) bool {
	act, exists := s.activities[prospectID]
	if !exists || !act.LastMessageAt.Before(cutoff) {
		return false
	}
	a, exists := s.analyses[prospectID]
	return exists && !a.Empty()
}

// Task methods
func (s *MemoryStorage) GetTask(ctx context.Context, prospectID, taskType string) (*models.TaskStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskKey{prospectID, taskType}]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryStorage) SaveTask(ctx context.Context, task *models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[taskKey{task.ProspectID, task.TaskType}] = cloneTask(task)
	return nil
}

func (s *MemoryStorage) ListTasks(ctx context.Context, taskType string) ([]models.TaskStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TaskStatus
	for key, task := range s.tasks {
		if key.taskType == taskType {
			out = append(out, *cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProspectID < out[j].ProspectID })
	return out, nil
}

// Settings methods
func (s *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.settings[key]
	if !exists {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

// Message methods
func (s *MemoryStorage) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messageIDs[msg.ID]; exists {
		return false, nil
	}
	cp := *msg
	cp.MetTraits = slices.Clone(msg.MetTraits)
	s.messages[msg.ProspectID] = append(s.messages[msg.ProspectID], cp)
	s.messageIDs[msg.ID] = msg.ProspectID
	return true, nil
}

func (s *MemoryStorage) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prospectID, exists := s.messageIDs[id]
	if !exists {
		return nil
	}
	delete(s.messageIDs, id)
	s.messages[prospectID] = slices.DeleteFunc(s.messages[prospectID], func(m models.Message) bool {
		return m.ID == id
	})
	return nil
}

// ListMessages returns the newest messages first.
func (s *MemoryStorage) ListMessages(ctx context.Context, prospectID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[prospectID]
	out := make([]models.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, msgs[i])
	}
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func cloneAnalysis(a *models.ProspectAnalysis) *models.ProspectAnalysis {
	cp := *a
	cp.MetTraits = slices.Clone(a.MetTraits)
	if cp.MetTraits == nil {
		cp.MetTraits = []string{}
	}
	return &cp
}

func cloneTask(t *models.TaskStatus) *models.TaskStatus {
	cp := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
