package pgclaims

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

// ErrActiveClaimExists — у покупки уже есть незакрытая заявка.
var ErrActiveClaimExists = errors.New("active claim already exists")

const claimColumns = `
  id, purchase_id, instrument_id,
  original_cents, new_cents, claimed_cents,
  status, channel_used, destination,
  provider_message_id, confirmation_token,
  document_ref, price_evidence_ref, submission_proof_ref,
  filed_at, next_attempt_at, created_at, updated_at`

func scanClaim(row pgx.Row) (*models.Claim, error) {
	var c models.Claim
	err := row.Scan(
		&c.ID, &c.PurchaseID, &c.InstrumentID,
		&c.OriginalCents, &c.NewCents, &c.ClaimedCents,
		&c.Status, &c.ChannelUsed, &c.Destination,
		&c.ProviderMessageID, &c.ConfirmationToken,
		&c.DocumentRef, &c.PriceEvidenceRef, &c.SubmissionProofRef,
		&c.FiledAt, &c.NextAttemptAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateClaim создаёт заявку в статусе READY_TO_FILE. Вторая активная
// заявка на ту же покупку упирается в частичный уникальный индекс и
// возвращает ErrActiveClaimExists.
func (s *Storage) CreateClaim(ctx context.Context, in models.ClaimCreateInput, nextAttemptAt time.Time) (*models.Claim, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO claims (
  purchase_id, instrument_id,
  original_cents, new_cents, claimed_cents,
  status, next_attempt_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING id
`, in.PurchaseID, in.InstrumentID,
		in.OriginalCents, in.NewCents, in.ClaimedCents,
		models.ClaimStatusReadyToFile, nextAttemptAt.UTC(), now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_claims_active" {
			return nil, ErrActiveClaimExists
		}
		return nil, errors.Wrap(err, "insert claim")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO claim_status_history (claim_id, status, note, at)
VALUES ($1,$2,$3,$4)
`, id, models.ClaimStatusReadyToFile, "claim created", now)
	if err != nil {
		return nil, errors.Wrap(err, "insert claim history")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetClaim(ctx, id)
}

func (s *Storage) GetClaim(ctx context.Context, id uint64) (*models.Claim, error) {
	c, err := scanClaim(s.db.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select claim")
	}
	return c, nil
}

// GetActiveClaimByPurchase возвращает (nil, nil), если активной заявки нет.
func (s *Storage) GetActiveClaimByPurchase(ctx context.Context, purchaseID uint64) (*models.Claim, error) {
	c, err := scanClaim(s.db.QueryRow(ctx, `
SELECT `+claimColumns+`
FROM claims
WHERE purchase_id = $1 AND NOT (status = ANY($2))
`, purchaseID, models.ClaimTerminalStatuses))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active claim")
	}
	return c, nil
}

func (s *Storage) ListClaims(ctx context.Context, userID uint64, status string, limit, offset int) ([]*models.Claim, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT `+claimColumns+`
FROM claims
WHERE purchase_id IN (SELECT id FROM purchases WHERE user_id = $1)
  AND ($2 = '' OR status = $2)
ORDER BY id DESC
LIMIT $3 OFFSET $4
`, userID, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select claims")
	}
	defer rows.Close()

	out := []*models.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan claim")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// SetClaimStatusIf — условный переход статуса заявки с записью в журнал.
// Возвращает false, если статус уже не expected.
func (s *Storage) SetClaimStatusIf(ctx context.Context, claimID uint64, expected, next, note string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE claims SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
`, claimID, expected, next)
	if err != nil {
		return false, errors.Wrap(err, "set claim status")
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
INSERT INTO claim_status_history (claim_id, status, note, at)
VALUES ($1,$2,$3, now())
`, claimID, next, note)
	if err != nil {
		return false, errors.Wrap(err, "insert claim history")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

// UpdateClaimFiling сохраняет результат успешной подачи.
func (s *Storage) UpdateClaimFiling(ctx context.Context, c *models.Claim, note string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
UPDATE claims
SET
  status = $2,
  channel_used = $3,
  destination = $4,
  provider_message_id = $5,
  confirmation_token = $6,
  document_ref = $7,
  price_evidence_ref = $8,
  submission_proof_ref = $9,
  filed_at = $10,
  updated_at = now()
WHERE id = $1
`, c.ID, c.Status, c.ChannelUsed, c.Destination,
		c.ProviderMessageID, c.ConfirmationToken,
		c.DocumentRef, c.PriceEvidenceRef, c.SubmissionProofRef, c.FiledAt)
	if err != nil {
		return errors.Wrap(err, "update claim filing")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO claim_status_history (claim_id, status, note, at)
VALUES ($1,$2,$3, now())
`, c.ID, c.Status, note)
	if err != nil {
		return errors.Wrap(err, "insert claim history")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// RecordFilingFailure отодвигает следующую попытку и пишет причину в журнал.
func (s *Storage) RecordFilingFailure(ctx context.Context, claimID uint64, nextAttemptAt time.Time, note string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
UPDATE claims SET next_attempt_at = $2, updated_at = now() WHERE id = $1
`, claimID, nextAttemptAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update claim attempt")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO claim_status_history (claim_id, status, note, at)
SELECT $1, status, $2, now() FROM claims WHERE id = $1
`, claimID, note)
	if err != nil {
		return errors.Wrap(err, "insert claim history")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// FileNow ставит заявку в начало очереди подачи.
func (s *Storage) FileNow(ctx context.Context, claimID uint64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE claims SET next_attempt_at = now(), updated_at = now() WHERE id = $1`, claimID)
	return errors.Wrap(err, "file claim now")
}

// DueFiling — заявка, готовая к подаче, вместе со всем нужным файлеру.
type DueFiling struct {
	Claim      *models.Claim
	Purchase   *models.TrackedPurchase
	Instrument *models.PaymentInstrument
}

// ClaimDueFilings выбирает READY_TO_FILE заявки не старше maxAge с
// включённой автоподачей и непросроченным окном, и бронирует их
// на lease. SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueFilings(ctx context.Context, now time.Time, maxAge time.Duration, limit int, lease time.Duration) ([]DueFiling, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT c.id
FROM claims c
JOIN purchases p ON p.id = c.purchase_id
JOIN payment_instruments i ON i.id = c.instrument_id
WHERE c.status = $1
  AND c.next_attempt_at <= $2
  AND c.created_at > $3
  AND i.auto_claim_enabled
  AND p.protection_end IS NOT NULL AND p.protection_end > $2
ORDER BY c.next_attempt_at ASC
LIMIT $4
FOR UPDATE OF c SKIP LOCKED
`, models.ClaimStatusReadyToFile, now.UTC(), now.UTC().Add(-maxAge), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due filings")
	}

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due filing")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, id := range ids {
		_, err := tx.Exec(ctx,
			`UPDATE claims SET next_attempt_at = $2, updated_at = now() WHERE id = $1`, id, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease claim")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	out := make([]DueFiling, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetClaim(ctx, id)
		if err != nil || c == nil {
			return nil, errors.Wrapf(err, "load claim %d", id)
		}
		p, err := s.GetPurchase(ctx, c.PurchaseID)
		if err != nil || p == nil {
			return nil, errors.Wrapf(err, "load purchase %d", c.PurchaseID)
		}
		i, err := s.GetInstrument(ctx, c.InstrumentID)
		if err != nil || i == nil {
			return nil, errors.Wrapf(err, "load instrument %d", c.InstrumentID)
		}
		c.NextAttemptAt = leaseUntil
		out = append(out, DueFiling{Claim: c, Purchase: p, Instrument: i})
	}
	return out, nil
}

// ExpiredClaim — заявка, закрытая по истечении защитного окна.
type ExpiredClaim struct {
	ID         uint64
	PurchaseID uint64
	UserID     uint64
}

// ExpireStaleClaims закрывает незаподанные заявки по покупкам с
// истёкшим окном. Перевод в EXPIRED, как и любой другой переход,
// оставляет запись в журнале статусов; история и статус пишутся
// одной транзакцией.
func (s *Storage) ExpireStaleClaims(ctx context.Context, now time.Time) ([]ExpiredClaim, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
UPDATE claims c
SET status = $2, updated_at = now()
FROM purchases p
WHERE p.id = c.purchase_id
  AND c.status IN ($3, $4)
  AND p.protection_end IS NOT NULL
  AND p.protection_end <= $1
RETURNING c.id, c.purchase_id, p.user_id
`, now.UTC(), models.ClaimStatusExpired, models.ClaimStatusDraft, models.ClaimStatusReadyToFile)
	if err != nil {
		return nil, errors.Wrap(err, "expire claims")
	}

	var expired []ExpiredClaim
	for rows.Next() {
		var e ExpiredClaim
		if err := rows.Scan(&e.ID, &e.PurchaseID, &e.UserID); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan expired claim")
		}
		expired = append(expired, e)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	for _, e := range expired {
		_, err := tx.Exec(ctx, `
INSERT INTO claim_status_history (claim_id, status, note, at)
VALUES ($1, $2, 'protection window ended before filing', now())
`, e.ID, models.ClaimStatusExpired)
		if err != nil {
			return nil, errors.Wrap(err, "insert claim history")
		}
	}

	return expired, errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) ListClaimHistory(ctx context.Context, claimID uint64) ([]*models.ClaimStatusEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, claim_id, status, note, at
FROM claim_status_history
WHERE claim_id = $1
ORDER BY at ASC, id ASC
`, claimID)
	if err != nil {
		return nil, errors.Wrap(err, "select claim history")
	}
	defer rows.Close()

	out := []*models.ClaimStatusEntry{}
	for rows.Next() {
		var e models.ClaimStatusEntry
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.Status, &e.Note, &e.At); err != nil {
			return nil, errors.Wrap(err, "scan claim history")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
