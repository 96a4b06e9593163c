package pgclaims

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

const instrumentColumns = `
  id, user_id, nickname, network, issuer, last4,
  protection_days, max_claim_cents,
  claim_channel, claim_destination, auto_claim_enabled,
  created_at, updated_at`

func scanInstrument(row pgx.Row) (*models.PaymentInstrument, error) {
	var i models.PaymentInstrument
	err := row.Scan(
		&i.ID, &i.UserID, &i.Nickname, &i.Network, &i.Issuer, &i.Last4,
		&i.ProtectionDays, &i.MaxClaimCents,
		&i.ClaimChannel, &i.ClaimDestination, &i.AutoClaimEnabled,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// CreateInstrument идемпотентен по (user_id, last4, issuer): повторное
// создание возвращает существующую запись.
func (s *Storage) CreateInstrument(ctx context.Context, in models.InstrumentCreateInput) (*models.PaymentInstrument, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO payment_instruments (
  user_id, nickname, network, issuer, last4,
  protection_days, max_claim_cents,
  claim_channel, claim_destination, auto_claim_enabled,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (user_id, last4, issuer)
DO UPDATE SET updated_at = payment_instruments.updated_at
RETURNING id
`, in.UserID, in.Nickname, in.Network, in.Issuer, in.Last4,
		in.ProtectionDays, in.MaxClaimCents,
		in.ClaimChannel, in.ClaimDestination, in.AutoClaimEnabled, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert instrument")
	}

	return s.GetInstrument(ctx, id)
}

func (s *Storage) GetInstrument(ctx context.Context, id uint64) (*models.PaymentInstrument, error) {
	i, err := scanInstrument(s.db.QueryRow(ctx,
		`SELECT `+instrumentColumns+` FROM payment_instruments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select instrument")
	}
	return i, nil
}

// GetInstrumentByLast4 возвращает (nil, nil), если инструмента нет.
func (s *Storage) GetInstrumentByLast4(ctx context.Context, userID uint64, last4 string) (*models.PaymentInstrument, error) {
	i, err := scanInstrument(s.db.QueryRow(ctx, `
SELECT `+instrumentColumns+`
FROM payment_instruments
WHERE user_id = $1 AND last4 = $2
ORDER BY id
LIMIT 1
`, userID, last4))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select instrument by last4")
	}
	return i, nil
}

func (s *Storage) ListInstruments(ctx context.Context, userID uint64) ([]*models.PaymentInstrument, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+instrumentColumns+` FROM payment_instruments WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select instruments")
	}
	defer rows.Close()

	out := []*models.PaymentInstrument{}
	for rows.Next() {
		i, err := scanInstrument(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan instrument")
		}
		out = append(out, i)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpdateInstrument(ctx context.Context, i *models.PaymentInstrument) error {
	_, err := s.db.Exec(ctx, `
UPDATE payment_instruments
SET
  nickname = $2,
  protection_days = $3,
  max_claim_cents = $4,
  claim_channel = $5,
  claim_destination = $6,
  auto_claim_enabled = $7,
  updated_at = now()
WHERE id = $1
`, i.ID, i.Nickname, i.ProtectionDays, i.MaxClaimCents,
		i.ClaimChannel, i.ClaimDestination, i.AutoClaimEnabled)
	return errors.Wrap(err, "update instrument")
}

// DeleteInstrument падает на FK RESTRICT, если на карту ссылаются покупки.
func (s *Storage) DeleteInstrument(ctx context.Context, id uint64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM payment_instruments WHERE id = $1`, id)
	return errors.Wrap(err, "delete instrument")
}
