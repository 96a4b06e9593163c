package pgclaims

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

const purchaseColumns = `
  id, user_id, product_name, retailer,
  purchase_cents, current_cents, lowest_cents, lowest_at,
  purchased_at, product_url, instrument_id, protection_end,
  status, source, source_message_id,
  last_checked_at, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

func scanPurchase(row pgx.Row) (*models.TrackedPurchase, error) {
	var p models.TrackedPurchase
	err := row.Scan(
		&p.ID, &p.UserID, &p.ProductName, &p.Retailer,
		&p.PurchaseCents, &p.CurrentCents, &p.LowestCents, &p.LowestAt,
		&p.PurchasedAt, &p.ProductURL, &p.InstrumentID, &p.ProtectionEnd,
		&p.Status, &p.Source, &p.SourceMessageID,
		&p.LastCheckedAt, &p.NextCheckAt, &p.CheckFailCount, &p.LastError,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePurchase идемпотентен по (user_id, source_message_id): повторная
// обработка того же письма возвращает уже созданную покупку. Новая
// покупка засевается первым наблюдением по цене покупки и ставится в
// очередь на немедленную проверку.
func (s *Storage) CreatePurchase(ctx context.Context, in models.PurchaseCreateInput, protectionEnd *time.Time) (*models.TrackedPurchase, bool, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	var inserted bool
	// xmax = 0 отличает вставку от конфликта.
	err = tx.QueryRow(ctx, `
INSERT INTO purchases (
  user_id, product_name, retailer,
  purchase_cents, current_cents, lowest_cents,
  purchased_at, product_url, instrument_id, protection_end,
  status, source, source_message_id,
  next_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$4,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12,$12)
ON CONFLICT (user_id, source_message_id) WHERE source_message_id IS NOT NULL
DO UPDATE SET updated_at = purchases.updated_at
RETURNING id, (xmax = 0)
`, in.UserID, in.ProductName, in.Retailer, in.PurchaseCents,
		in.PurchasedAt.UTC(), in.ProductURL, in.InstrumentID, protectionEnd,
		models.PurchaseStatusMonitoring, in.Source, in.SourceMessageID, now).Scan(&id, &inserted)
	if err != nil {
		return nil, false, errors.Wrap(err, "insert purchase")
	}

	if inserted {
		_, err = tx.Exec(ctx, `
INSERT INTO price_observations (purchase_id, cents, source, observed_at)
VALUES ($1,$2,$3,$4)
`, id, in.PurchaseCents, "purchase", in.PurchasedAt.UTC())
		if err != nil {
			return nil, false, errors.Wrap(err, "seed observation")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit tx")
	}

	p, err := s.GetPurchase(ctx, id)
	return p, inserted, err
}

func (s *Storage) GetPurchase(ctx context.Context, id uint64) (*models.TrackedPurchase, error) {
	p, err := scanPurchase(s.db.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select purchase")
	}
	return p, nil
}

func (s *Storage) ListPurchases(ctx context.Context, userID uint64, status string, limit, offset int) ([]*models.TrackedPurchase, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE user_id = $1 AND ($2 = '' OR status = $2)
ORDER BY id DESC
LIMIT $3 OFFSET $4
`, userID, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select purchases")
	}
	defer rows.Close()

	out := []*models.TrackedPurchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan purchase")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// LinkInstrument привязывает карту к покупке и пересчитывает защитное окно.
func (s *Storage) LinkInstrument(ctx context.Context, purchaseID, instrumentID uint64, protectionEnd time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE purchases
SET instrument_id = $2, protection_end = $3, updated_at = now()
WHERE id = $1
`, purchaseID, instrumentID, protectionEnd.UTC())
	return errors.Wrap(err, "link instrument")
}

// RecheckNow ставит покупку в начало очереди проверки цены.
func (s *Storage) RecheckNow(ctx context.Context, purchaseID uint64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE purchases SET next_check_at = now(), updated_at = now() WHERE id = $1`, purchaseID)
	return errors.Wrap(err, "recheck purchase")
}

// активные для мониторинга статусы
var monitorableStatuses = []string{
	models.PurchaseStatusMonitoring,
	models.PurchaseStatusPriceDropDetected,
	models.PurchaseStatusClaimEligible,
}

// ClaimDuePurchases выбирает пачку покупок, готовых к проверке цены,
// и "бронирует" их, чтобы они не попадали в повторную выборку, пока
// воркер их обрабатывает. SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDuePurchases(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.TrackedPurchase, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE next_check_at <= $1
  AND status = ANY($2)
ORDER BY next_check_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), monitorableStatuses, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due purchases")
	}
	defer rows.Close()

	var picked []*models.TrackedPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due purchase")
		}
		picked = append(picked, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, p := range picked {
		_, err := tx.Exec(ctx,
			`UPDATE purchases SET next_check_at = $2, updated_at = now() WHERE id = $1`, p.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease purchase")
		}
		p.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// PriceCheck — результат одной проверки цены.
type PriceCheck struct {
	PurchaseID uint64
	CheckedAt  time.Time

	Cents  int64
	Source string

	NextCheckAt time.Time

	Error *string
}

// ApplyPriceCheck записывает результат проверки: наблюдение добавляется
// всегда при успехе, текущая цена обновляется, минимум двигается только
// строго вниз. Ошибка увеличивает счётчик неудач и не трогает цены.
func (s *Storage) ApplyPriceCheck(ctx context.Context, upd PriceCheck) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if upd.Error != nil && *upd.Error != "" {
		_, err := tx.Exec(ctx, `
UPDATE purchases
SET
  last_checked_at = $2,
  check_fail_count = check_fail_count + 1,
  last_error = $3,
  next_check_at = $4,
  updated_at = now()
WHERE id = $1
`, upd.PurchaseID, upd.CheckedAt.UTC(), *upd.Error, upd.NextCheckAt.UTC())
		if err != nil {
			return errors.Wrap(err, "update purchase (error)")
		}
	} else {
		_, err := tx.Exec(ctx, `
UPDATE purchases
SET
  current_cents = $3,
  lowest_cents = LEAST(lowest_cents, $3),
  lowest_at = CASE WHEN $3 < lowest_cents THEN $2 ELSE lowest_at END,
  last_checked_at = $2,
  check_fail_count = 0,
  last_error = NULL,
  next_check_at = $4,
  updated_at = now()
WHERE id = $1
`, upd.PurchaseID, upd.CheckedAt.UTC(), upd.Cents, upd.NextCheckAt.UTC())
		if err != nil {
			return errors.Wrap(err, "update purchase (ok)")
		}

		_, err = tx.Exec(ctx, `
INSERT INTO price_observations (purchase_id, cents, source, observed_at)
VALUES ($1,$2,$3,$4)
`, upd.PurchaseID, upd.Cents, upd.Source, upd.CheckedAt.UTC())
		if err != nil {
			return errors.Wrap(err, "insert observation")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// SetPurchaseStatusIf — условный переход статуса. Возвращает false,
// если статус уже не expected: конкурирующий переход выиграл.
func (s *Storage) SetPurchaseStatusIf(ctx context.Context, purchaseID uint64, expected, next string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE purchases SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
`, purchaseID, expected, next)
	if err != nil {
		return false, errors.Wrap(err, "set purchase status")
	}
	return tag.RowsAffected() == 1, nil
}

// ExpiredPurchase — покупка, чьё защитное окно истекло на этом проходе.
type ExpiredPurchase struct {
	ID          uint64
	UserID      uint64
	ProductName string
}

// ExpireLapsedPurchases переводит покупки с истёкшим окном в EXPIRED.
func (s *Storage) ExpireLapsedPurchases(ctx context.Context, now time.Time) ([]ExpiredPurchase, error) {
	rows, err := s.db.Query(ctx, `
UPDATE purchases
SET status = $2, updated_at = now()
WHERE protection_end IS NOT NULL
  AND protection_end <= $1
  AND status = ANY($3)
RETURNING id, user_id, product_name
`, now.UTC(), models.PurchaseStatusExpired, monitorableStatuses)
	if err != nil {
		return nil, errors.Wrap(err, "expire purchases")
	}
	defer rows.Close()

	var out []ExpiredPurchase
	for rows.Next() {
		var e ExpiredPurchase
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProductName); err != nil {
			return nil, errors.Wrap(err, "scan expired purchase")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListObservations(ctx context.Context, purchaseID uint64, limit, offset int) ([]*models.PriceObservation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, purchase_id, cents, source, observed_at
FROM price_observations
WHERE purchase_id = $1
ORDER BY observed_at DESC
LIMIT $2 OFFSET $3
`, purchaseID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select observations")
	}
	defer rows.Close()

	out := []*models.PriceObservation{}
	for rows.Next() {
		var o models.PriceObservation
		if err := rows.Scan(&o.ID, &o.PurchaseID, &o.Cents, &o.Source, &o.ObservedAt); err != nil {
			return nil, errors.Wrap(err, "scan observation")
		}
		out = append(out, &o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
