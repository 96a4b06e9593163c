package pgclaims

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

// GetUserSettings отдаёт настройки пользователя; промах — значения
// по умолчанию, а не ошибка.
func (s *Storage) GetUserSettings(ctx context.Context, userID uint64) (*models.UserSettings, error) {
	var u models.UserSettings
	err := s.db.QueryRow(ctx, `
SELECT user_id, email, full_name, min_drop_cents, extractor_mode
FROM user_settings
WHERE user_id = $1
`, userID).Scan(&u.UserID, &u.Email, &u.FullName, &u.MinDropCents, &u.ExtractorMode)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.UserSettings{UserID: userID, MinDropCents: 500, ExtractorMode: "rules"}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user settings")
	}
	return &u, nil
}

func (s *Storage) UpsertUserSettings(ctx context.Context, u *models.UserSettings) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO user_settings (user_id, email, full_name, min_drop_cents, extractor_mode)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id)
DO UPDATE SET
  email = EXCLUDED.email,
  full_name = EXCLUDED.full_name,
  min_drop_cents = EXCLUDED.min_drop_cents,
  extractor_mode = EXCLUDED.extractor_mode
`, u.UserID, u.Email, u.FullName, u.MinDropCents, u.ExtractorMode)
	return errors.Wrap(err, "upsert user settings")
}

// ListUserIDs возвращает пользователей с настроенным ящиком: по ним
// ходит почтовый проход.
func (s *Storage) ListUserIDs(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, errors.Wrap(err, "select user ids")
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan user id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreateNotification(ctx context.Context, userID uint64, kind, message string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO notifications (user_id, kind, message, created_at)
VALUES ($1,$2,$3, now())
`, userID, kind, message)
	return errors.Wrap(err, "insert notification")
}

func (s *Storage) ListNotifications(ctx context.Context, userID uint64, limit, offset int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, user_id, kind, message, created_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select notifications")
	}
	defer rows.Close()

	out := []*models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		out = append(out, &n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// RecordExtractionRun пишет запись аудита одного прохода по ящику.
func (s *Storage) RecordExtractionRun(ctx context.Context, run models.ExtractionRun) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO extraction_runs (user_id, messages_scanned, purchases_created, error, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, run.UserID, run.MessagesScanned, run.PurchasesCreated, run.Error,
		run.StartedAt.UTC(), run.FinishedAt.UTC())
	return errors.Wrap(err, "insert extraction run")
}

func (s *Storage) ListExtractionRuns(ctx context.Context, userID uint64, limit int) ([]*models.ExtractionRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
SELECT id, user_id, messages_scanned, purchases_created, error, started_at, finished_at
FROM extraction_runs
WHERE user_id = $1
ORDER BY started_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select extraction runs")
	}
	defer rows.Close()

	out := []*models.ExtractionRun{}
	for rows.Next() {
		var r models.ExtractionRun
		if err := rows.Scan(&r.ID, &r.UserID, &r.MessagesScanned, &r.PurchasesCreated,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "scan extraction run")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// LastExtractionAt — время последнего прохода по ящику пользователя,
// нулевое время, если проходов не было.
func (s *Storage) LastExtractionAt(ctx context.Context, userID uint64) (time.Time, error) {
	var t *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT MAX(finished_at) FROM extraction_runs WHERE user_id = $1`, userID).Scan(&t)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "select last extraction")
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}
