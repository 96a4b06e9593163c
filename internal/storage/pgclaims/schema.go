package pgclaims

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS user_settings (
  user_id BIGINT PRIMARY KEY,
  email TEXT NOT NULL DEFAULT '',
  full_name TEXT NOT NULL DEFAULT '',
  min_drop_cents BIGINT NOT NULL DEFAULT 500,
  extractor_mode TEXT NOT NULL DEFAULT 'rules'
)`,
		`
CREATE TABLE IF NOT EXISTS payment_instruments (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  nickname TEXT NOT NULL,
  network TEXT NOT NULL,
  issuer TEXT NOT NULL,
  last4 TEXT NOT NULL,
  protection_days INT NOT NULL,
  max_claim_cents BIGINT NOT NULL,
  claim_channel TEXT NOT NULL DEFAULT '',
  claim_destination TEXT NOT NULL DEFAULT '',
  auto_claim_enabled BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (user_id, last4, issuer)
)`,
		`
CREATE TABLE IF NOT EXISTS purchases (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  product_name TEXT NOT NULL,
  retailer TEXT NOT NULL,
  purchase_cents BIGINT NOT NULL,
  current_cents BIGINT NOT NULL,
  lowest_cents BIGINT NOT NULL,
  lowest_at TIMESTAMPTZ NULL,
  purchased_at TIMESTAMPTZ NOT NULL,
  product_url TEXT NULL,
  instrument_id BIGINT NULL REFERENCES payment_instruments(id) ON DELETE RESTRICT,
  protection_end TIMESTAMPTZ NULL,
  status TEXT NOT NULL,
  source TEXT NOT NULL,
  source_message_id TEXT NULL,
  last_checked_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Идемпотентность извлечения: одно письмо даёт одну покупку.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_purchases_source_message
  ON purchases(user_id, source_message_id) WHERE source_message_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_next_check_at ON purchases(next_check_at)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id)`,
		`
CREATE TABLE IF NOT EXISTS price_observations (
  id BIGSERIAL PRIMARY KEY,
  purchase_id BIGINT NOT NULL REFERENCES purchases(id) ON DELETE CASCADE,
  cents BIGINT NOT NULL,
  source TEXT NOT NULL,
  observed_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_price_observations_purchase ON price_observations(purchase_id, observed_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS claims (
  id BIGSERIAL PRIMARY KEY,
  purchase_id BIGINT NOT NULL REFERENCES purchases(id) ON DELETE CASCADE,
  instrument_id BIGINT NOT NULL REFERENCES payment_instruments(id) ON DELETE RESTRICT,
  original_cents BIGINT NOT NULL,
  new_cents BIGINT NOT NULL,
  claimed_cents BIGINT NOT NULL,
  status TEXT NOT NULL,
  channel_used TEXT NULL,
  destination TEXT NULL,
  provider_message_id TEXT NULL,
  confirmation_token TEXT NULL,
  document_ref TEXT NULL,
  price_evidence_ref TEXT NULL,
  submission_proof_ref TEXT NULL,
  filed_at TIMESTAMPTZ NULL,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Одна активная заявка на покупку. Терминальные статусы не в счёт.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_claims_active
  ON claims(purchase_id) WHERE status NOT IN ('DENIED','EXPIRED')`,
		`CREATE INDEX IF NOT EXISTS idx_claims_next_attempt_at ON claims(next_attempt_at)`,
		`
CREATE TABLE IF NOT EXISTS claim_status_history (
  id BIGSERIAL PRIMARY KEY,
  claim_id BIGINT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_status_history_claim ON claim_status_history(claim_id, at)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  kind TEXT NOT NULL,
  message TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS extraction_runs (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  messages_scanned INT NOT NULL,
  purchases_created INT NOT NULL,
  error TEXT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
