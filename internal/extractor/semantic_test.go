package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
)

type fakeSemantic struct {
	res   *SemanticResult
	err   error
	calls int
}

func (f *fakeSemantic) ExtractPurchase(ctx context.Context, subject, body string) (*SemanticResult, error) {
	f.calls++
	return f.res, f.err
}

func TestSemantic_PreFilterShortCircuits(t *testing.T) {
	fc := &fakeSemantic{res: &SemanticResult{IsPurchase: true}}
	s := NewSemantic(fc, money.ParseCents)

	out, err := s.Extract(context.Background(), mailbox.Message{
		From:    "someone@random.example.com",
		Subject: "Lunch on Friday?",
		Body:    "See you then.",
	})
	require.NoError(t, err)
	require.Empty(t, out)
	// Семантический вызов не делался: префильтр отсёк письмо.
	require.Zero(t, fc.calls)
}

func TestSemantic_MapsItems(t *testing.T) {
	fc := &fakeSemantic{res: &SemanticResult{
		IsPurchase:   true,
		Retailer:     "Best Buy",
		OrderID:      "BBY01-123456",
		PurchaseDate: "2026-02-14",
		CardLast4:    "4242",
		CardHint:     "Chase Visa",
		Items: []SemanticItem{
			{Name: "4K Monitor", Price: "$299.99", Quantity: 1, ProductURL: "https://bestbuy.com/p/1"},
			{Name: "HDMI Cable", Price: "$9.99", Quantity: 2},
			{Name: "Broken", Price: "n/a"},
		},
	}}
	s := NewSemantic(fc, money.ParseCents)

	out, err := s.Extract(context.Background(), mailbox.Message{
		From:    "orders@bestbuy.com",
		Subject: "Your order receipt",
		Body:    "receipt purchase",
		Date:    time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, out, 2) // нечитаемая позиция отброшена молча

	require.Equal(t, "4K Monitor", out[0].ProductName)
	require.Equal(t, int64(29999), out[0].PriceCents)
	require.Equal(t, "Best Buy", out[0].Retailer)
	require.Equal(t, time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC), out[0].PurchasedAt)
	require.NotNil(t, out[0].Card)
	require.Equal(t, "4242", out[0].Card.Last4)

	// Количество умножает цену позиции.
	require.Equal(t, int64(1998), out[1].PriceCents)
}

func TestSemantic_NotAPurchase(t *testing.T) {
	fc := &fakeSemantic{res: &SemanticResult{IsPurchase: false, Reason: "shipping notice"}}
	s := NewSemantic(fc, money.ParseCents)

	out, err := s.Extract(context.Background(), mailbox.Message{
		From:    "orders@amazon.com",
		Subject: "Your order update",
		Body:    "order receipt",
	})
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, 1, fc.calls)
}
