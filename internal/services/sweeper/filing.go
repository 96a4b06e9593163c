package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/messages"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	"github.com/tatolapchik-bit/price-protection-bot/internal/storage/pgclaims"
)

// runFilingSweep подаёт назревшие заявки. Подача последовательная:
// портальные сессии тяжёлые, параллелить их незачем.
func (s *Sweeper) runFilingSweep(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	due, err := s.repo.ClaimDueFilings(ctx, now, s.cfg.FilingMaxAge, s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		slog.Error("claim due filings", "error", err.Error())
		s.noteError(err)
		return
	}

	for _, d := range due {
		if err := s.fileOne(ctx, d); err != nil {
			s.noteError(err)
			slog.Error("file claim", "claim_id", d.Claim.ID, "error", err.Error())
		}
	}
}

func (s *Sweeper) fileOne(ctx context.Context, d pgclaims.DueFiling) error {
	user, err := s.repo.GetUserSettings(ctx, d.Purchase.UserID)
	if err != nil {
		return err
	}

	res, err := s.filer.File(ctx, d.Claim, d.Purchase, d.Instrument, user)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvariantViolation) {
			// Заявка уже ушла другим путём; попыток больше не надо.
			slog.Info("filing skipped", "claim_id", d.Claim.ID, "error", err.Error())
			return nil
		}
		if ferr := s.repo.RecordFilingFailure(ctx, d.Claim.ID,
			time.Now().UTC().Add(s.cfg.FilingRetryDelay), err.Error()); ferr != nil {
			return ferr
		}
		if errors.Is(err, pipeline.ErrChannelFailure) {
			// Все каналы исчерпаны: без уведомления пользователь так и
			// не узнает, что заявку надо подать вручную.
			msg := fmt.Sprintf("%s: automatic filing failed on every channel, file manually (see /api/v1/purchases/%d/filing-instructions)",
				d.Purchase.ProductName, d.Purchase.ID)
			if nerr := s.repo.CreateNotification(ctx, d.Purchase.UserID, "claim_manual_action", msg); nerr != nil {
				slog.Warn("manual action notification", "claim_id", d.Claim.ID, "error", nerr.Error())
			}
		}
		return err
	}

	s.totalFiled.Add(1)
	return s.publishClaimUpdated(ctx, messages.ClaimUpdated{
		ClaimID:     d.Claim.ID,
		PurchaseID:  d.Purchase.ID,
		UserID:      d.Purchase.UserID,
		Status:      res.Status,
		Channel:     res.Channel,
		Destination: res.Destination,
		Note:        res.Note,
		At:          time.Now().UTC(),
	})
}

func (s *Sweeper) publishClaimUpdated(ctx context.Context, msg messages.ClaimUpdated) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}
	return s.publishWithRetry(ctx, s.claimsTopic, []byte(fmt.Sprintf("%d", msg.ClaimID)), b)
}
