package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/extractor"
	"github.com/tatolapchik-bit/price-protection-bot/internal/issuers"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
)

// runMailboxSweep проходит по ящикам всех пользователей и извлекает
// покупки из писем. Сбой одного пользователя не трогает остальных.
func (s *Sweeper) runMailboxSweep(ctx context.Context) {
	if s.mail == nil {
		return
	}
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	userIDs, err := s.repo.ListUserIDs(ctx)
	if err != nil {
		slog.Error("list users", "error", err.Error())
		s.noteError(err)
		return
	}

	for _, userID := range userIDs {
		if err := s.sweepUserMailbox(ctx, userID); err != nil {
			s.noteError(err)
			slog.Error("mailbox sweep", "user_id", userID, "error", err.Error())
		}
	}
}

func (s *Sweeper) sweepUserMailbox(ctx context.Context, userID uint64) error {
	started := time.Now().UTC()
	run := models.ExtractionRun{UserID: userID, StartedAt: started}

	err := s.extractUserPurchases(ctx, userID, &run)
	if err != nil {
		e := err.Error()
		run.Error = &e
	}
	run.FinishedAt = time.Now().UTC()

	if rerr := s.repo.RecordExtractionRun(ctx, run); rerr != nil {
		slog.Warn("record extraction run", "user_id", userID, "error", rerr.Error())
	}
	return err
}

func (s *Sweeper) extractUserPurchases(ctx context.Context, userID uint64, run *models.ExtractionRun) error {
	settings, err := s.repo.GetUserSettings(ctx, userID)
	if err != nil {
		return err
	}

	client, err := s.mail.ForUser(ctx, userID)
	if err != nil {
		return err
	}

	since, err := s.repo.LastExtractionAt(ctx, userID)
	if err != nil {
		return err
	}
	if since.IsZero() {
		since = time.Now().UTC().Add(-s.cfg.MailLookback)
	}

	msgs, err := client.ListMessages(ctx, s.cfg.MailQuery, since, s.cfg.MailBatchLimit)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotConnected) {
			// Токен истёк: проход по этому ящику терминально пропущен.
			return err
		}
		return pipeline.SourceUnavailable(err, "list messages")
	}
	run.MessagesScanned = int32(len(msgs))

	strategy := s.rules
	if settings.ExtractorMode == "semantic" && s.semantic != nil {
		strategy = s.semantic
	}

	for _, msg := range msgs {
		candidates, err := strategy.Extract(ctx, msg)
		if err != nil {
			// Неразобранное письмо пропускаем и не возвращаемся к нему.
			slog.Warn("extract message", "user_id", userID, "message_id", msg.ID, "error", err.Error())
			continue
		}
		for i, c := range candidates {
			created, err := s.createFromCandidate(ctx, userID, msg.ID, i, c)
			if err != nil {
				slog.Warn("create purchase", "user_id", userID, "message_id", msg.ID, "error", err.Error())
				continue
			}
			if created {
				run.PurchasesCreated++
				s.totalExtracted.Add(1)
			}
		}
	}
	return nil
}

func (s *Sweeper) createFromCandidate(ctx context.Context, userID uint64, messageID string, idx int, c extractor.Candidate) (bool, error) {
	var inst *models.PaymentInstrument
	if s.matcher != nil && c.Card != nil {
		inst = s.matcher.Match(ctx, userID, *c.Card)
	}

	days := issuers.Lookup("UNKNOWN").Terms.ProtectionDays
	var instID *uint64
	if inst != nil {
		instID = &inst.ID
		if inst.ProtectionDays > 0 {
			days = inst.ProtectionDays
		}
	}

	purchasedAt := c.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = time.Now().UTC()
	}
	end := purchasedAt.Add(time.Duration(days) * 24 * time.Hour)

	// Несколько кандидатов из одного письма различаются суффиксом.
	sourceID := messageID
	if idx > 0 {
		sourceID = fmt.Sprintf("%s#%d", messageID, idx)
	}

	var urlPtr *string
	if c.ProductURL != "" {
		urlPtr = &c.ProductURL
	}

	_, created, err := s.repo.CreatePurchase(ctx, models.PurchaseCreateInput{
		UserID:          userID,
		ProductName:     c.ProductName,
		Retailer:        c.Retailer,
		PurchaseCents:   c.PriceCents,
		PurchasedAt:     purchasedAt,
		ProductURL:      urlPtr,
		InstrumentID:    instID,
		Source:          models.PurchaseSourceEmail,
		SourceMessageID: &sourceID,
	}, &end)
	return created, err
}
