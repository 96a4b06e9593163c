package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/messages"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

// runExpirySweep закрывает покупки с истёкшим защитным окном и
// зависшие неподанные заявки по ним.
func (s *Sweeper) runExpirySweep(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	expired, err := s.repo.ExpireLapsedPurchases(ctx, now)
	if err != nil {
		slog.Error("expire purchases", "error", err.Error())
		s.noteError(err)
		return
	}
	for _, e := range expired {
		msg := fmt.Sprintf("%s: protection window ended, monitoring stopped", e.ProductName)
		if err := s.repo.CreateNotification(ctx, e.UserID, "purchase_expired", msg); err != nil {
			slog.Warn("expiry notification", "purchase_id", e.ID, "error", err.Error())
		}
	}

	claims, err := s.repo.ExpireStaleClaims(ctx, now)
	if err != nil {
		slog.Error("expire claims", "error", err.Error())
		s.noteError(err)
		return
	}
	for _, c := range claims {
		// Событие доходит до пользователя через ApplyClaimUpdated.
		err := s.publishClaimUpdated(ctx, messages.ClaimUpdated{
			ClaimID:    c.ID,
			PurchaseID: c.PurchaseID,
			UserID:     c.UserID,
			Status:     models.ClaimStatusExpired,
			Note:       "protection window ended before filing",
			At:         now,
		})
		if err != nil {
			slog.Warn("publish claim expiry", "claim_id", c.ID, "error", err.Error())
			s.noteError(err)
		}
	}
	if len(expired) > 0 || len(claims) > 0 {
		slog.Info("expiry sweep", "purchases", len(expired), "claims", len(claims))
	}
}
