// Package usermail отправляет письма через почтовый API самого
// пользователя (OAuth). Письмо уходит из личного ящика держателя карты.
package usermail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/mailer"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
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
			Timeout: 20 * time.Second,
		},
	}
}

type sendResp struct {
	ID string `json:"id"`
}

func (c *Client) Send(ctx context.Context, m mailer.Message) (string, error) {
	if c.token == "" {
		return "", errors.Wrap(pipeline.ErrConfigurationError, "user mail token missing")
	}

	raw, err := buildMIME(m)
	if err != nil {
		return "", errors.Wrap(err, "build mime")
	}

	body, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString(raw),
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal send body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/me/messages/send", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("user mail api http %d", resp.StatusCode)
	}

	var r sendResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	return r.ID, nil
}

func buildMIME(m mailer.Message) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Type", "text/plain; charset=UTF-8")
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(m.Body)); err != nil {
		return nil, err
	}

	for _, a := range m.Attachments {
		hdr := textproto.MIMEHeader{}
		ct := a.MIMEType
		if ct == "" {
			ct = "application/octet-stream"
		}
		hdr.Set("Content-Type", ct)
		hdr.Set("Content-Transfer-Encoding", "base64")
		hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString(a.Content)
		if _, err := part.Write([]byte(enc)); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
