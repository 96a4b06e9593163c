package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/messages"
	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

func (s *Sweeper) runPriceSweep(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	items, err := s.repo.ClaimDuePurchases(ctx, now, s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		slog.Error("claim due purchases", "error", err.Error())
		s.noteError(err)
		return
	}
	s.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, p := range items {
		sem <- struct{}{}
		wg.Add(1)
		pCopy := p
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := s.checkOne(ctx, pCopy); err != nil {
				s.noteError(err)
				slog.Error("check price", "purchase_id", pCopy.ID, "error", err.Error())
			}
			s.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (s *Sweeper) checkOne(ctx context.Context, p *models.TrackedPurchase) error {
	now := time.Now().UTC()

	msg := messages.PriceChecked{
		PurchaseID: p.ID,
		CheckedAt:  now,
	}

	if p.ProductURL == nil || *p.ProductURL == "" {
		// Без ссылки цену не проверить: ждём до ручной правки покупки.
		e := "no product url"
		msg.Error = &e
		msg.NextCheckAt = now.Add(24 * time.Hour)
		return s.publishPriceChecked(ctx, msg)
	}

	if s.rl != nil && s.cfg.RateLimitPerMinute > 0 {
		domain := pricesource.Domain(*p.ProductURL)
		minuteKey := fmt.Sprintf("rl:source:%s:%s", domain, now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.cfg.RateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Слишком много запросов к источнику в минуту: притормозим.
			slog.Warn("rate limit exceeded", "domain", domain, "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	res, err := s.prices.GetPrice(reqCtx, *p.ProductURL)
	cancel()

	if err != nil {
		e := err.Error()
		msg.Error = &e
		nextFail := p.CheckFailCount + 1
		msg.NextCheckAt = now.Add(s.planner.BackoffDelay(nextFail))
	} else {
		msg.Cents = res.Cents
		msg.Source = res.Source
		msg.NextCheckAt = now.Add(s.planner.NextCheckDelay(p.Status))
	}

	return s.publishPriceChecked(ctx, msg)
}

func (s *Sweeper) publishPriceChecked(ctx context.Context, msg messages.PriceChecked) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}
	return s.publishWithRetry(ctx, s.pricesTopic, []byte(fmt.Sprintf("%d", msg.PurchaseID)), b)
}

// Kafka может быть не готова сразу после старта docker compose.
// Для устойчивости делаем небольшой retry.
func (s *Sweeper) publishWithRetry(ctx context.Context, topic string, key, value []byte) error {
	var pubErr error
	for i := 0; i < 10; i++ {
		if err := s.producer.Publish(ctx, topic, key, value); err == nil {
			return nil
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	return pubErr
}
