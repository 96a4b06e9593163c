// Package extractor превращает входящее письмо в кандидатов-покупки.
// Две взаимозаменяемые стратегии: детерминированные правила по
// ритейлерам и делегированное семантическое извлечение.
package extractor

import (
	"context"
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/cards"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
)

// Candidate — одна извлечённая покупка. PriceCents == 0 означает мусор,
// такие кандидаты отбрасываются молча: большинство писем — не чеки.
type Candidate struct {
	ProductName string
	Retailer    string
	PriceCents  int64
	OrderID     string
	ProductURL  string
	PurchasedAt time.Time
	Card        *cards.Evidence
}

type Strategy interface {
	// Extract возвращает ноль и более кандидатов. Ошибка означает сбой
	// стратегии, а не "письмо не является покупкой".
	Extract(ctx context.Context, msg mailbox.Message) ([]Candidate, error)
}
