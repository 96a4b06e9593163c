package pagesource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	renderfake "github.com/tatolapchik-bit/price-protection-bot/internal/render/fake"
)

func TestGetPrice_DomainRuleWins(t *testing.T) {
	eng := renderfake.New()
	eng.Texts[".a-price .a-offscreen"] = "$49.99"
	eng.Texts[".price"] = "$99.99"

	c := New(eng)
	res, err := c.GetPrice(context.Background(), "https://www.amazon.com/dp/B000")
	require.NoError(t, err)
	require.Equal(t, int64(4999), res.Cents)
	require.Equal(t, "page:amazon.com", res.Source)
	require.Zero(t, eng.OpenSessions, "session must be closed")
}

func TestGetPrice_FallsBackToGeneric(t *testing.T) {
	eng := renderfake.New()
	eng.Texts[".price"] = "$12.00"

	c := New(eng)
	res, err := c.GetPrice(context.Background(), "https://shop.example.com/item/1")
	require.NoError(t, err)
	require.Equal(t, int64(1200), res.Cents)
	require.Equal(t, "page:generic", res.Source)
}

func TestGetPrice_UnparseableTextSkipsSelector(t *testing.T) {
	eng := renderfake.New()
	eng.Texts["#priceblock_ourprice"] = "See price in cart"
	eng.Texts[".price"] = "$5.00"

	c := New(eng)
	res, err := c.GetPrice(context.Background(), "https://amazon.com/dp/B001")
	require.NoError(t, err)
	require.Equal(t, int64(500), res.Cents)
}

func TestGetPrice_WasNowTextIsNotAPrice(t *testing.T) {
	eng := renderfake.New()
	eng.Texts[".price"] = "Was $99.99 Now $79.99"

	c := New(eng)
	_, err := c.GetPrice(context.Background(), "https://shop.example.com/item/2")
	require.ErrorIs(t, err, pipeline.ErrParseFailure)
}

func TestGetPrice_NoPriceFound(t *testing.T) {
	eng := renderfake.New()
	c := New(eng)

	_, err := c.GetPrice(context.Background(), "https://shop.example.com/x")
	require.ErrorIs(t, err, pipeline.ErrParseFailure)
	require.Zero(t, eng.OpenSessions)
}
