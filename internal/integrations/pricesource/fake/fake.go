// Package fake — детерминированный источник цен для тестов и демо.
package fake

import (
	"context"
	"hash/fnv"

	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource"
)

// Client считает цену хэшем от URL: стабильна между вызовами,
// примерно каждый пятый товар "дешевеет".
type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) GetPrice(ctx context.Context, productURL string) (pricesource.Result, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(productURL))
	v := h.Sum32()

	cents := int64(v%20000) + 500
	if v%5 == 0 {
		cents = cents / 2
	}
	return pricesource.Result{Cents: cents, Source: "fake"}, nil
}
