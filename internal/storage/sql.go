package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
)

// SQLStorage implements Storage on top of any database/sql driver whose
// dialect accepts the shared schema (PostgreSQL and SQLite).
// Timestamps are stored as unix milliseconds and string lists as JSON text.
type SQLStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type traitRow struct {
	Position int    `db:"position"`
	Name     string `db:"name"`
	Enabled  bool   `db:"enabled"`
}

type keywordRow struct {
	TraitName string `db:"trait_name"`
	Keywords  string `db:"keywords"`
}

type analysisRow struct {
	ProspectID     string `db:"prospect_id"`
	DisplayName    string `db:"display_name"`
	MatchPoints    int    `db:"match_points"`
	MetTraits      string `db:"met_traits"`
	LastAnalyzedAt int64  `db:"last_analyzed_at"`
	Version        int64  `db:"version"`
}

type activityRow struct {
	ProspectID    string `db:"prospect_id"`
	LastMessageAt int64  `db:"last_message_at"`
	LastDirection string `db:"last_direction"`
}

type taskRow struct {
	ProspectID      string        `db:"prospect_id"`
	TaskType        string        `db:"task_type"`
	IsCompleted     bool          `db:"is_completed"`
	CompletedAt     sql.NullInt64 `db:"completed_at"`
	LastMessageType string        `db:"last_message_type"`
	UpdatedAt       int64         `db:"updated_at"`
}

type messageRow struct {
	ID         string `db:"id"`
	ProspectID string `db:"prospect_id"`
	Content    string `db:"content"`
	Direction  string `db:"direction"`
	MetTraits  string `db:"met_traits"`
	CreatedAt  int64  `db:"created_at"`
}

// inactiveCondition selects prospects idle since before the cutoff that still hold traits.
const inactiveCondition = `
	FROM prospect_activity a
	JOIN prospect_analysis p ON p.prospect_id = a.prospect_id
	WHERE a.last_message_at < ? AND (p.match_points > 0 OR p.met_traits <> '[]')`

func newSQLStorage(db *sqlx.DB, logger *zap.Logger) *SQLStorage {
	return &SQLStorage{db: db, logger: logger}
}

func (s *SQLStorage) q(query string) string {
	return s.db.Rebind(query)
}

// Trait methods
func (s *SQLStorage) LoadTraits(ctx context.Context) ([]models.Trait, error) {
	var rows []traitRow
	err := s.db.SelectContext(ctx, &rows, `SELECT position, name, enabled FROM traits ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("error loading traits: %w", err)
	}

	traits := make([]models.Trait, 0, len(rows))
	for _, r := range rows {
		traits = append(traits, models.Trait{Name: r.Name, Enabled: r.Enabled, Position: r.Position})
	}
	return traits, nil
}

func (s *SQLStorage) SaveTraits(ctx context.Context, traits []models.Trait) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM traits`); err != nil {
			return fmt.Errorf("error clearing traits: %w", err)
		}
		insert := s.q(`INSERT INTO traits (position, name, enabled) VALUES (?, ?, ?)`)
		for _, t := range traits {
			if _, err := tx.ExecContext(ctx, insert, t.Position, t.Name, t.Enabled); err != nil {
				return fmt.Errorf("error saving trait %q: %w", t.Name, err)
			}
		}
		return nil
	})
}

// Keyword methods
func (s *SQLStorage) KeywordOverrides(ctx context.Context) (map[string][]string, error) {
	var rows []keywordRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT trait_name, keywords FROM keyword_overrides`); err != nil {
		return nil, fmt.Errorf("error loading keyword overrides: %w", err)
	}

	out := make(map[string][]string, len(rows))
	for _, r := range rows {
		kws, err := decodeList(r.Keywords)
		if err != nil {
			return nil, fmt.Errorf("error decoding keywords for %q: %w", r.TraitName, err)
		}
		out[r.TraitName] = kws
	}
	return out, nil
}

func (s *SQLStorage) SaveKeywordOverrides(ctx context.Context, overrides map[string][]string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keyword_overrides`); err != nil {
			return fmt.Errorf("error clearing keyword overrides: %w", err)
		}
		insert := s.q(`INSERT INTO keyword_overrides (trait_name, keywords) VALUES (?, ?)`)
		for name, kws := range overrides {
			if _, err := tx.ExecContext(ctx, insert, name, encodeList(kws)); err != nil {
				return fmt.Errorf("error saving keywords for %q: %w", name, err)
			}
		}
		return nil
	})
}

// Analysis methods
func (s *SQLStorage) GetAnalysis(ctx context.Context, prospectID string) (*models.ProspectAnalysis, error) {
	var row analysisRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT prospect_id, display_name, match_points, met_traits, last_analyzed_at, version
		FROM prospect_analysis WHERE prospect_id = ?`), prospectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading analysis: %w", err)
	}
	return row.model()
}

func (s *SQLStorage) SaveAnalysis(ctx context.Context, a *models.ProspectAnalysis) error {
	var (
		res sql.Result
		err error
	)
	if a.Version == 0 {
		res, err = s.db.ExecContext(ctx, s.q(`
			INSERT INTO prospect_analysis (prospect_id, display_name, match_points, met_traits, last_analyzed_at, version)
			VALUES (?, ?, ?, ?, ?, 1)
			ON CONFLICT (prospect_id) DO NOTHING`),
			a.ProspectID, a.DisplayName, a.MatchPoints, encodeList(a.MetTraits), a.LastAnalyzedAt.UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx, s.q(`
			UPDATE prospect_analysis
			SET display_name = ?, match_points = ?, met_traits = ?, last_analyzed_at = ?, version = version + 1
			WHERE prospect_id = ? AND version = ?`),
			a.DisplayName, a.MatchPoints, encodeList(a.MetTraits), a.LastAnalyzedAt.UnixMilli(), a.ProspectID, a.Version)
	}
	if err != nil {
		return fmt.Errorf("error saving analysis: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}

	a.Version++
	return nil
}

func (s *SQLStorage) ListAnalyses(ctx context.Context) ([]models.ProspectAnalysis, error) {
	var rows []analysisRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT prospect_id, display_name, match_points, met_traits, last_analyzed_at, version
		FROM prospect_analysis
		ORDER BY match_points DESC, prospect_id`)
	if err != nil {
		return nil, fmt.Errorf("error listing analyses: %w", err)
	}

	out := make([]models.ProspectAnalysis, 0, len(rows))
	for _, r := range rows {
		a, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *SQLStorage) ResetAnalysis(ctx context.Context, prospectID string, cutoff time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE prospect_analysis
		SET met_traits = '[]', match_points = 0, version = version + 1
		WHERE prospect_id = ?
		  AND (match_points > 0 OR met_traits <> '[]')
		  AND EXISTS (
			SELECT 1 FROM prospect_activity a
			WHERE a.prospect_id = prospect_analysis.prospect_id AND a.last_message_at < ?
		  )`), prospectID, cutoff.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("error resetting analysis: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}
	return affected > 0, nil
}

// Activity methods
func (s *SQLStorage) TouchActivity(ctx context.Context, prospectID string, direction models.Direction, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO prospect_activity (prospect_id, last_message_at, last_direction)
		VALUES (?, ?, ?)
		ON CONFLICT (prospect_id) DO UPDATE
		SET last_message_at = excluded.last_message_at, last_direction = excluded.last_direction`),
		prospectID, at.UnixMilli(), string(direction))
	if err != nil {
		return fmt.Errorf("error touching activity: %w", err)
	}
	return nil
}

func (s *SQLStorage) GetActivity(ctx context.Context, prospectID string) (*models.ProspectActivity, error) {
	var row activityRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT prospect_id, last_message_at, last_direction
		FROM prospect_activity WHERE prospect_id = ?`), prospectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading activity: %w", err)
	}
	return &models.ProspectActivity{
		ProspectID:    row.ProspectID,
		LastMessageAt: fromMillis(row.LastMessageAt),
		LastDirection: models.Direction(row.LastDirection),
	}, nil
}

func (s *SQLStorage) ListInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.q(`SELECT a.prospect_id`+inactiveCondition+` ORDER BY a.prospect_id`), cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("error listing inactive prospects: %w", err)
	}
	return ids, nil
}

func (s *SQLStorage) CountInactive(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*)`+inactiveCondition), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("error counting inactive prospects: %w", err)
	}
	return n, nil
}

// Task methods
func (s *SQLStorage) GetTask(ctx context.Context, prospectID, taskType string) (*models.TaskStatus, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT prospect_id, task_type, is_completed, completed_at, last_message_type, updated_at
		FROM task_status WHERE prospect_id = ? AND task_type = ?`), prospectID, taskType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading task: %w", err)
	}
	return row.model(), nil
}

func (s *SQLStorage) SaveTask(ctx context.Context, task *models.TaskStatus) error {
	var completedAt sql.NullInt64
	if task.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: task.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO task_status (prospect_id, task_type, is_completed, completed_at, last_message_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (prospect_id, task_type) DO UPDATE
		SET is_completed = excluded.is_completed,
		    completed_at = excluded.completed_at,
		    last_message_type = excluded.last_message_type,
		    updated_at = excluded.updated_at`),
		task.ProspectID, task.TaskType, task.IsCompleted, completedAt, string(task.LastMessageType), task.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("error saving task: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListTasks(ctx context.Context, taskType string) ([]models.TaskStatus, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT prospect_id, task_type, is_completed, completed_at, last_message_type, updated_at
		FROM task_status WHERE task_type = ? ORDER BY prospect_id`), taskType)
	if err != nil {
		return nil, fmt.Errorf("error listing tasks: %w", err)
	}

	out := make([]models.TaskStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.model())
	}
	return out, nil
}

// Settings methods
func (s *SQLStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.q(`SELECT value FROM settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error loading setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLStorage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("error saving setting %q: %w", key, err)
	}
	return nil
}

// Message methods
func (s *SQLStorage) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO messages (id, prospect_id, content, direction, met_traits, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		msg.ID, msg.ProspectID, msg.Content, string(msg.Direction), encodeList(msg.MetTraits), msg.CreatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("error saving message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error saving message: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStorage) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM messages WHERE id = ?`), id); err != nil {
		return fmt.Errorf("error deleting message %s: %w", id, err)
	}
	return nil
}

func (s *SQLStorage) ListMessages(ctx context.Context, prospectID string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, prospect_id, content, direction, met_traits, created_at
		FROM messages WHERE prospect_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{prospectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}

	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		traits, err := decodeList(r.MetTraits)
		if err != nil {
			return nil, fmt.Errorf("error decoding message %s: %w", r.ID, err)
		}
		out = append(out, models.Message{
			ID:         r.ID,
			ProspectID: r.ProspectID,
			Content:    r.Content,
			Direction:  models.Direction(r.Direction),
			MetTraits:  traits,
			CreatedAt:  fromMillis(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func (r analysisRow) model() (*models.ProspectAnalysis, error) {
	traits, err := decodeList(r.MetTraits)
	if err != nil {
		return nil, fmt.Errorf("error decoding traits of %s: %w", r.ProspectID, err)
	}
	return &models.ProspectAnalysis{
		ProspectID:     r.ProspectID,
		DisplayName:    r.DisplayName,
		MatchPoints:    r.MatchPoints,
		MetTraits:      traits,
		LastAnalyzedAt: fromMillis(r.LastAnalyzedAt),
		Version:        r.Version,
	}, nil
}

func (r taskRow) model() *models.TaskStatus {
	task := &models.TaskStatus{
		ProspectID:      r.ProspectID,
		TaskType:        r.TaskType,
		IsCompleted:     r.IsCompleted,
		LastMessageType: models.Direction(r.LastMessageType),
		UpdatedAt:       fromMillis(r.UpdatedAt),
	}
	if r.CompletedAt.Valid {
		at := fromMillis(r.CompletedAt.Int64)
		task.CompletedAt = &at
	}
	return task
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func decodeList(raw string) ([]string, error) {
	list := []string{}
	if raw == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
