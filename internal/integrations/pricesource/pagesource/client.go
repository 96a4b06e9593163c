// Package pagesource достаёт цену прямо со страницы товара через
// разделяемый движок рендеринга: сначала доменные правила (первое
// совпадение с разбираемой ценой выигрывает), затем общий эвристический
// набор "похоже на контейнер с ценой".
package pagesource

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	"github.com/tatolapchik-bit/price-protection-bot/internal/render"
)

// Доменные правила. Порядок внутри списка важен.
var domainSelectors = map[string][]string{
	"amazon.com": {
		".a-price .a-offscreen",
		"#priceblock_ourprice",
		"#corePrice_feature_div .a-price-whole",
	},
	"bestbuy.com": {
		".priceView-hero-price span",
		".priceView-customer-price span",
	},
	"walmart.com": {
		"[itemprop=price]",
		"[data-automation-id=product-price] span",
	},
	"target.com": {
		"[data-test=product-price]",
	},
}

// Общий набор — последняя линия обороны.
var genericSelectors = []string{
	"[itemprop=price]",
	".product-price",
	".price-current",
	".price",
	"#price",
}

type Client struct {
	engine  render.Engine
	timeout time.Duration
}

func New(engine render.Engine) *Client {
	return &Client{engine: engine, timeout: 25 * time.Second}
}

func (c *Client) GetPrice(ctx context.Context, productURL string) (res pricesource.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.engine.NewSession(ctx)
	if err != nil {
		return pricesource.Result{}, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.Warn("close render session", "error", cerr.Error())
		}
	}()

	if err := sess.Navigate(ctx, productURL); err != nil {
		return pricesource.Result{}, err
	}

	domain := pricesource.Domain(productURL)
	if cents, ok := c.trySelectors(ctx, sess, domainSelectors[domain]); ok {
		return pricesource.Result{Cents: cents, Source: "page:" + domain}, nil
	}
	if cents, ok := c.trySelectors(ctx, sess, genericSelectors); ok {
		return pricesource.Result{Cents: cents, Source: "page:generic"}, nil
	}
	return pricesource.Result{}, pipeline.ParseFailure(errors.New("no selector yielded a price"), domain)
}

func (c *Client) trySelectors(ctx context.Context, sess render.Session, selectors []string) (int64, bool) {
	for _, sel := range selectors {
		text, err := sess.Text(ctx, sel)
		if err != nil {
			if !errors.Is(err, render.ErrElementNotFound) {
				slog.Warn("price selector", "selector", sel, "error", err.Error())
			}
			continue
		}
		cents, err := money.ParseCents(text)
		if err != nil || cents <= 0 {
			// Текст нашёлся, но ценой не является: пробуем следующий.
			continue
		}
		return cents, true
	}
	return 0, false
}
