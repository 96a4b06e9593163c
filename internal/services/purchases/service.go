// Package purchases — api-сторона пайплайна: портфель покупок и карт,
// применение результатов проверки цены из Kafka.
package purchases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/messages"
	"github.com/tatolapchik-bit/price-protection-bot/internal/cache"
	"github.com/tatolapchik-bit/price-protection-bot/internal/issuers"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/monitor"
	"github.com/tatolapchik-bit/price-protection-bot/internal/storage/pgclaims"
)

type Repository interface {
	CreatePurchase(ctx context.Context, in models.PurchaseCreateInput, protectionEnd *time.Time) (*models.TrackedPurchase, bool, error)
	GetPurchase(ctx context.Context, id uint64) (*models.TrackedPurchase, error)
	ListPurchases(ctx context.Context, userID uint64, status string, limit, offset int) ([]*models.TrackedPurchase, error)
	ListObservations(ctx context.Context, purchaseID uint64, limit, offset int) ([]*models.PriceObservation, error)
	RecheckNow(ctx context.Context, purchaseID uint64) error
	LinkInstrument(ctx context.Context, purchaseID, instrumentID uint64, protectionEnd time.Time) error
	ApplyPriceCheck(ctx context.Context, upd pgclaims.PriceCheck) error
	SetPurchaseStatusIf(ctx context.Context, purchaseID uint64, expected, next string) (bool, error)

	CreateInstrument(ctx context.Context, in models.InstrumentCreateInput) (*models.PaymentInstrument, error)
	GetInstrument(ctx context.Context, id uint64) (*models.PaymentInstrument, error)
	ListInstruments(ctx context.Context, userID uint64) ([]*models.PaymentInstrument, error)
	UpdateInstrument(ctx context.Context, i *models.PaymentInstrument) error
	DeleteInstrument(ctx context.Context, id uint64) error

	CreateClaim(ctx context.Context, in models.ClaimCreateInput, nextAttemptAt time.Time) (*models.Claim, error)

	GetUserSettings(ctx context.Context, userID uint64) (*models.UserSettings, error)
	UpsertUserSettings(ctx context.Context, u *models.UserSettings) error
	CreateNotification(ctx context.Context, userID uint64, kind, message string) error
	ListNotifications(ctx context.Context, userID uint64, limit, offset int) ([]*models.Notification, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func currentKey(id uint64) string {
	return fmt.Sprintf("purchase:%d:current", id)
}

func notifiedKey(id uint64) string {
	return fmt.Sprintf("purchase:%d:lastnotified", id)
}

// CreatePurchase валидирует вход и считает защитное окно по привязанной
// карте (либо по условиям UNKNOWN, если карты нет).
func (s *Service) CreatePurchase(ctx context.Context, in models.PurchaseCreateInput) (*models.TrackedPurchase, error) {
	if in.UserID == 0 {
		return nil, errors.New("userId is required")
	}
	if in.ProductName == "" {
		return nil, errors.New("productName is required")
	}
	if in.Retailer == "" {
		return nil, errors.New("retailer is required")
	}
	if in.PurchaseCents <= 0 {
		return nil, errors.New("purchaseCents must be positive")
	}
	if in.PurchasedAt.IsZero() {
		in.PurchasedAt = time.Now().UTC()
	}
	if in.Source == "" {
		in.Source = models.PurchaseSourceManual
	}

	days := issuers.Lookup("UNKNOWN").Terms.ProtectionDays
	if in.InstrumentID != nil {
		inst, err := s.repo.GetInstrument(ctx, *in.InstrumentID)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			return nil, errors.Errorf("instrument %d not found", *in.InstrumentID)
		}
		if inst.ProtectionDays > 0 {
			days = inst.ProtectionDays
		}
	}
	end := in.PurchasedAt.UTC().Add(time.Duration(days) * 24 * time.Hour)

	p, _, err := s.repo.CreatePurchase(ctx, in, &end)
	return p, err
}

func (s *Service) GetPurchase(ctx context.Context, id uint64) (*models.TrackedPurchase, error) {
	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var p models.TrackedPurchase
			if json.Unmarshal(b, &p) == nil {
				return &p, nil
			}
		}
	}

	p, err := s.repo.GetPurchase(ctx, id)
	if err != nil || p == nil {
		return p, err
	}
	s.cachePurchase(ctx, p)
	return p, nil
}

func (s *Service) cachePurchase(ctx context.Context, p *models.TrackedPurchase) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, _ := json.Marshal(p)
	_ = s.cache.Set(ctx, currentKey(p.ID), b, s.currentTTL)
}

func (s *Service) ListPurchases(ctx context.Context, userID uint64, status string, limit, offset int) ([]*models.TrackedPurchase, error) {
	if userID == 0 {
		return nil, errors.New("userId is required")
	}
	return s.repo.ListPurchases(ctx, userID, status, limit, offset)
}

func (s *Service) ListObservations(ctx context.Context, purchaseID uint64, limit, offset int) ([]*models.PriceObservation, error) {
	return s.repo.ListObservations(ctx, purchaseID, limit, offset)
}

// RecheckPurchase ставит покупку в начало очереди проверки цены.
func (s *Service) RecheckPurchase(ctx context.Context, purchaseID uint64) error {
	if purchaseID == 0 {
		return errors.New("purchaseId is required")
	}
	return s.repo.RecheckNow(ctx, purchaseID)
}

// LinkInstrument привязывает карту к покупке и пересчитывает защитное
// окно от даты покупки по условиям карты.
func (s *Service) LinkInstrument(ctx context.Context, purchaseID, instrumentID uint64) (*models.TrackedPurchase, error) {
	p, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("purchase not found")
	}
	inst, err := s.repo.GetInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, errors.New("instrument not found")
	}
	if inst.UserID != p.UserID {
		return nil, errors.New("instrument belongs to another user")
	}

	days := inst.ProtectionDays
	if days <= 0 {
		days = issuers.Lookup("UNKNOWN").Terms.ProtectionDays
	}
	end := p.PurchasedAt.Add(time.Duration(days) * 24 * time.Hour)
	if err := s.repo.LinkInstrument(ctx, purchaseID, instrumentID, end); err != nil {
		return nil, err
	}
	s.dropCachedPurchase(ctx, purchaseID)
	return s.repo.GetPurchase(ctx, purchaseID)
}

// ApplyPriceChecked применяет сообщение воркера: наблюдение, пороговое
// правило, переходы статуса, заведение заявки и уведомление.
func (s *Service) ApplyPriceChecked(ctx context.Context, msg messages.PriceChecked) error {
	if msg.PurchaseID == 0 {
		return errors.New("purchase_id is required")
	}
	if msg.CheckedAt.IsZero() {
		msg.CheckedAt = time.Now().UTC()
	}
	if msg.NextCheckAt.IsZero() {
		// fallback: воркер не прислал план следующей проверки
		msg.NextCheckAt = msg.CheckedAt.Add(6 * time.Hour)
	}

	if err := s.repo.ApplyPriceCheck(ctx, pgclaims.PriceCheck{
		PurchaseID:  msg.PurchaseID,
		CheckedAt:   msg.CheckedAt,
		Cents:       msg.Cents,
		Source:      msg.Source,
		NextCheckAt: msg.NextCheckAt,
		Error:       msg.Error,
	}); err != nil {
		return err
	}

	if msg.Error != nil && *msg.Error != "" {
		return nil
	}

	p, err := s.repo.GetPurchase(ctx, msg.PurchaseID)
	if err != nil {
		return err
	}
	if p == nil {
		return errors.Errorf("purchase %d not found", msg.PurchaseID)
	}

	var inst *models.PaymentInstrument
	if p.InstrumentID != nil {
		if inst, err = s.repo.GetInstrument(ctx, *p.InstrumentID); err != nil {
			return err
		}
	}
	settings, err := s.repo.GetUserSettings(ctx, p.UserID)
	if err != nil {
		return err
	}

	d := monitor.Evaluate(p, inst, msg.Cents, settings.MinDropCents, msg.CheckedAt)

	if d.StatusChanged {
		moved, err := s.repo.SetPurchaseStatusIf(ctx, p.ID, p.Status, d.Status)
		if err != nil {
			return err
		}
		if !moved {
			// Конкурирующий переход выиграл: не трогаем ни заявку,
			// ни уведомление.
			slog.Info("purchase status already moved", "purchase_id", p.ID)
			s.dropCachedPurchase(ctx, p.ID)
			return nil
		}
		p.Status = d.Status
	}

	if d.CreateClaim {
		_, err := s.repo.CreateClaim(ctx, models.ClaimCreateInput{
			PurchaseID:    p.ID,
			InstrumentID:  *p.InstrumentID,
			OriginalCents: p.PurchaseCents,
			NewCents:      msg.Cents,
			ClaimedCents:  d.ClaimedCents,
		}, msg.CheckedAt)
		if err != nil && !errors.Is(err, pgclaims.ErrActiveClaimExists) {
			return err
		}
	}

	if d.DropCents > 0 && d.Status != models.PurchaseStatusMonitoring {
		s.notifyDrop(ctx, p, msg.Cents, d)
	}

	p.CurrentCents = msg.Cents
	s.cachePurchase(ctx, p)
	return nil
}

// notifyDrop шлёт уведомление о падении цены не чаще одного раза на
// каждое новое значение цены: немёртвая цена не спамит пользователя.
func (s *Service) notifyDrop(ctx context.Context, p *models.TrackedPurchase, cents int64, d monitor.Decision) {
	if s.cache != nil {
		changed, err := s.cache.SetIfChanged(ctx, notifiedKey(p.ID),
			[]byte(fmt.Sprintf("%d", cents)), 30*24*time.Hour)
		if err == nil && !changed {
			return
		}
	}

	kind := "price_drop"
	msg := fmt.Sprintf("%s: price dropped to %s (down %s)",
		p.ProductName, money.FormatUSD(cents), money.FormatUSD(d.DropCents))
	if d.CreateClaim {
		kind = "claim_eligible"
		msg = fmt.Sprintf("%s: price dropped to %s, claim for %s queued",
			p.ProductName, money.FormatUSD(cents), money.FormatUSD(d.ClaimedCents))
	}
	if err := s.repo.CreateNotification(ctx, p.UserID, kind, msg); err != nil {
		slog.Warn("create notification", "purchase_id", p.ID, "error", err.Error())
	}
}

func (s *Service) dropCachedPurchase(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	// Перезапишем при следующем чтении; TTL секунда, чтобы не держать
	// устаревший статус.
	_ = s.cache.Set(ctx, currentKey(id), nil, time.Second)
}

// ==== карты ====

func (s *Service) CreateInstrument(ctx context.Context, in models.InstrumentCreateInput) (*models.PaymentInstrument, error) {
	if in.UserID == 0 {
		return nil, errors.New("userId is required")
	}
	if len(in.Last4) != 4 {
		return nil, errors.New("last4 must be 4 digits")
	}

	iss := issuers.Lookup(in.Issuer)
	if in.Issuer == "" {
		in.Issuer = iss.ID
	}
	if in.Network == "" {
		in.Network = iss.Network
	}
	if in.ProtectionDays <= 0 {
		in.ProtectionDays = iss.Terms.ProtectionDays
	}
	if in.MaxClaimCents <= 0 {
		in.MaxClaimCents = iss.Terms.MaxClaimCents
	}
	if in.Nickname == "" {
		in.Nickname = iss.Name + " •" + in.Last4
	}
	return s.repo.CreateInstrument(ctx, in)
}

func (s *Service) GetInstrument(ctx context.Context, id uint64) (*models.PaymentInstrument, error) {
	return s.repo.GetInstrument(ctx, id)
}

func (s *Service) ListInstruments(ctx context.Context, userID uint64) ([]*models.PaymentInstrument, error) {
	if userID == 0 {
		return nil, errors.New("userId is required")
	}
	return s.repo.ListInstruments(ctx, userID)
}

func (s *Service) UpdateInstrument(ctx context.Context, i *models.PaymentInstrument) error {
	if i.ID == 0 {
		return errors.New("instrument id is required")
	}
	return s.repo.UpdateInstrument(ctx, i)
}

func (s *Service) DeleteInstrument(ctx context.Context, id uint64) error {
	if id == 0 {
		return errors.New("instrument id is required")
	}
	return s.repo.DeleteInstrument(ctx, id)
}

// ==== настройки и уведомления ====

func (s *Service) GetUserSettings(ctx context.Context, userID uint64) (*models.UserSettings, error) {
	return s.repo.GetUserSettings(ctx, userID)
}

func (s *Service) UpdateUserSettings(ctx context.Context, u *models.UserSettings) error {
	if u.UserID == 0 {
		return errors.New("userId is required")
	}
	if u.MinDropCents <= 0 {
		u.MinDropCents = monitor.DefaultMinDropCents
	}
	if u.ExtractorMode == "" {
		u.ExtractorMode = "rules"
	}
	return s.repo.UpsertUserSettings(ctx, u)
}

func (s *Service) ListNotifications(ctx context.Context, userID uint64, limit, offset int) ([]*models.Notification, error) {
	if userID == 0 {
		return nil, errors.New("userId is required")
	}
	return s.repo.ListNotifications(ctx, userID, limit, offset)
}
