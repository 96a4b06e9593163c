package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/cards"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
)

// SemanticItem — одна позиция, возвращённая семантическим извлечением.
type SemanticItem struct {
	Name       string `json:"name"`
	Price      string `json:"price"`
	Quantity   int    `json:"quantity"`
	ProductURL string `json:"product_url,omitempty"`
}

// SemanticResult — структурный вердикт семантического вызова.
type SemanticResult struct {
	IsPurchase   bool           `json:"is_purchase"`
	Reason       string         `json:"reason,omitempty"`
	Retailer     string         `json:"retailer,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	PurchaseDate string         `json:"purchase_date,omitempty"` // YYYY-MM-DD
	Category     string         `json:"category,omitempty"`
	CardLast4    string         `json:"card_last4,omitempty"`
	CardHint     string         `json:"card_hint,omitempty"`
	Items        []SemanticItem `json:"items,omitempty"`
}

type SemanticClient interface {
	ExtractPurchase(ctx context.Context, subject, body string) (*SemanticResult, error)
}

// PriceParser разрывает цикл с пакетом money в тестах; в проде это
// money.ParseCents.
type PriceParser func(string) (int64, error)

// SemanticStrategy — делегированное извлечение: дешёвый префильтр
// отсекает явно нерелевантную почту до дорогого семантического вызова.
type SemanticStrategy struct {
	client SemanticClient
	parse  PriceParser
}

func NewSemantic(client SemanticClient, parse PriceParser) *SemanticStrategy {
	return &SemanticStrategy{client: client, parse: parse}
}

var knownSenderDomains = []string{
	"amazon.com", "bestbuy.com", "walmart.com", "target.com",
	"ebay.com", "costco.com", "homedepot.com", "newegg.com",
}

// PreFilter решает, стоит ли письмо семантического вызова.
func PreFilter(msg mailbox.Message) bool {
	from := strings.ToLower(msg.From)
	for _, d := range knownSenderDomains {
		if strings.Contains(from, d) {
			return true
		}
	}
	text := strings.ToLower(msg.Subject + " " + msg.Body)
	hits := 0
	for _, w := range purchaseVocab {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return hits >= 2
}

func (s *SemanticStrategy) Extract(ctx context.Context, msg mailbox.Message) ([]Candidate, error) {
	if !PreFilter(msg) {
		return nil, nil
	}

	res, err := s.client.ExtractPurchase(ctx, msg.Subject, msg.Body)
	if err != nil {
		return nil, err
	}
	if !res.IsPurchase {
		return nil, nil
	}

	purchasedAt := msg.Date
	if res.PurchaseDate != "" {
		if t, err := time.Parse("2006-01-02", res.PurchaseDate); err == nil {
			purchasedAt = t.UTC()
		}
	}

	var card *cards.Evidence
	if res.CardLast4 != "" {
		card = &cards.Evidence{Last4: res.CardLast4, Hint: res.CardHint}
	}

	var out []Candidate
	for _, it := range res.Items {
		cents, err := s.parse(it.Price)
		if err != nil || cents <= 0 {
			// Кривые и нулевые позиции отбрасываются молча.
			continue
		}
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		out = append(out, Candidate{
			ProductName: it.Name,
			Retailer:    res.Retailer,
			PriceCents:  cents * int64(qty),
			OrderID:     res.OrderID,
			ProductURL:  it.ProductURL,
			PurchasedAt: purchasedAt,
			Card:        card,
		})
	}
	return out, nil
}
