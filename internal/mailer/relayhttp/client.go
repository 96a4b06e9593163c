// Package relayhttp отправляет письма через сервисный почтовый релей
// (запасной транспорт, когда личный ящик пользователя недоступен).
package relayhttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/mailer"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
)

type Client struct {
	baseURL string
	apiKey  string
	from    string
	httpc   *http.Client
}

// New создаёт клиент релея. from — сервисный адрес отправителя,
// используется, когда в сообщении он не задан.
func New(baseURL, apiKey, from string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		httpc: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type relayAttachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Content  string `json:"content"` // base64
}

type relayRequest struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments []relayAttachment `json:"attachments,omitempty"`
}

type relayResponse struct {
	MessageID string `json:"message_id"`
}

func (c *Client) Send(ctx context.Context, m mailer.Message) (string, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return "", errors.Wrap(pipeline.ErrConfigurationError, "mail relay not configured")
	}

	rr := relayRequest{
		From:    m.From,
		To:      m.To,
		Subject: m.Subject,
		Body:    m.Body,
	}
	if rr.From == "" {
		rr.From = c.from
	}
	for _, a := range m.Attachments {
		rr.Attachments = append(rr.Attachments, relayAttachment{
			Filename: a.Filename,
			MIMEType: a.MIMEType,
			Content:  base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	body, err := json.Marshal(rr)
	if err != nil {
		return "", errors.Wrap(err, "marshal relay request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("mail relay http %d", resp.StatusCode)
	}

	var r relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	return r.MessageID, nil
}
