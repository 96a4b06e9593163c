// Package cards привязывает фрагментарные сведения о карте из письма
// к платёжному инструменту пользователя.
package cards

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tatolapchik-bit/price-protection-bot/internal/issuers"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

// Evidence — что удалось извлечь о карте из текста: последние четыре
// цифры и, опционально, текстовая подсказка о сети/банке.
type Evidence struct {
	Last4 string
	Hint  string
}

type InstrumentStore interface {
	// GetInstrumentByLast4 возвращает (nil, nil), если инструмента нет.
	GetInstrumentByLast4(ctx context.Context, userID uint64, last4 string) (*models.PaymentInstrument, error)
	CreateInstrument(ctx context.Context, in models.InstrumentCreateInput) (*models.PaymentInstrument, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID uint64, kind, message string) error
}

type Matcher struct {
	store    InstrumentStore
	notifier Notifier
}

func New(store InstrumentStore, notifier Notifier) *Matcher {
	return &Matcher{store: store, notifier: notifier}
}

// Match разрешает улики в инструмент пользователя.
//
// Точное совпадение по last-4 возвращается как есть, без дальнейших
// догадок. Иначе подсказка классифицируется через справочник эмитентов
// и инструмент создаётся автоматически с условиями по умолчанию и
// включённой автоподачей. Любой сбой даёт nil: покупка не должна
// потеряться из-за неудачи с картой.
func (m *Matcher) Match(ctx context.Context, userID uint64, ev Evidence) *models.PaymentInstrument {
	if ev.Last4 == "" {
		return nil
	}

	existing, err := m.store.GetInstrumentByLast4(ctx, userID, ev.Last4)
	if err != nil {
		slog.Error("card match lookup", "user_id", userID, "last4", ev.Last4, "error", err.Error())
		return nil
	}
	if existing != nil {
		return existing
	}

	iss := issuers.ClassifyHint(ev.Hint)
	created, err := m.store.CreateInstrument(ctx, models.InstrumentCreateInput{
		UserID:           userID,
		Nickname:         fmt.Sprintf("%s •%s", iss.Name, ev.Last4),
		Network:          iss.Network,
		Issuer:           iss.ID,
		Last4:            ev.Last4,
		ProtectionDays:   iss.Terms.ProtectionDays,
		MaxClaimCents:    iss.Terms.MaxClaimCents,
		ClaimChannel:     iss.Channel,
		ClaimDestination: iss.ClaimEmail,
		AutoClaimEnabled: true,
	})
	if err != nil {
		slog.Error("card auto-provision", "user_id", userID, "last4", ev.Last4, "error", err.Error())
		return nil
	}

	if m.notifier != nil {
		msg := fmt.Sprintf("Added card ending in %s (%s) from your email. Review its protection terms if needed.", ev.Last4, iss.Name)
		if err := m.notifier.Notify(ctx, userID, "card_added", msg); err != nil {
			slog.Warn("card added notice", "user_id", userID, "error", err.Error())
		}
	}
	return created
}
