// Package apisource читает цену из структурного прайс-API,
// сконфигурированного для конкретных доменов.
package apisource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type priceResp struct {
	Status string `json:"status"`
	Price  string `json:"price"`
}

func (c *Client) GetPrice(ctx context.Context, productURL string) (pricesource.Result, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return pricesource.Result{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/price"

	q := u.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("url", productURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return pricesource.Result{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return pricesource.Result{}, pipeline.SourceUnavailable(err, "price api request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return pricesource.Result{}, pipeline.SourceUnavailable(fmt.Errorf("price api http %d", resp.StatusCode), "price api request")
	}

	var r priceResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return pricesource.Result{}, errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return pricesource.Result{}, pipeline.ParseFailure(fmt.Errorf("price api status=%s", r.Status), "price api")
	}

	cents, err := money.ParseCents(r.Price)
	if err != nil {
		return pricesource.Result{}, pipeline.ParseFailure(err, "price api value")
	}
	return pricesource.Result{
		Cents:  cents,
		Source: "api:" + pricesource.Domain(productURL),
	}, nil
}
