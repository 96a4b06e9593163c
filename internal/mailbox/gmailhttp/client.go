// Package gmailhttp — клиент Gmail-совместимого REST API получения почты.
package gmailhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://gmail.googleapis.com/gmail/v1"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type listResp struct {
	Messages []struct {
		ID       string `json:"id"`
		From     string `json:"from"`
		Subject  string `json:"subject"`
		Body     string `json:"body"`
		Internal int64  `json:"internalDate"` // unix millis
	} `json:"messages"`
}

func (c *Client) ListMessages(ctx context.Context, query string, since time.Time, limit int) ([]mailbox.Message, error) {
	if c.token == "" {
		return nil, mailbox.ErrNotConnected
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path += "/users/me/messages"

	q := u.Query()
	q.Set("q", query)
	q.Set("after", strconv.FormatInt(since.Unix(), 10))
	q.Set("maxResults", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, mailbox.ErrNotConnected
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("mail api http %d", resp.StatusCode)
	}

	var r listResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	out := make([]mailbox.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, mailbox.Message{
			ID:      m.ID,
			From:    m.From,
			Subject: m.Subject,
			Body:    m.Body,
			Date:    time.UnixMilli(m.Internal).UTC(),
		})
	}
	return out, nil
}
