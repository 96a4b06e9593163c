// Package semantichttp — клиент сервиса семантического извлечения
// покупок из текста письма (LLM за HTTP API).
package semantichttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/extractor"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
)

type Client struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

func New(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = "purchase-extract-v2"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type extractRequest struct {
	Model   string `json:"model"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c *Client) ExtractPurchase(ctx context.Context, subject, body string) (*extractor.SemanticResult, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return nil, errors.Wrap(pipeline.ErrConfigurationError, "semantic extraction not configured")
	}

	b, err := json.Marshal(extractRequest{Model: c.model, Subject: subject, Body: body})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, pipeline.SourceUnavailable(err, "semantic extract")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, pipeline.SourceUnavailable(fmt.Errorf("semantic api http %d", resp.StatusCode), "semantic extract")
	}

	var r extractor.SemanticResult
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return &r, nil
}
