// Package browserhttp — клиент HTTP API браузерного сайдкара
// (управляемый headless-браузер как отдельный сервис).
package browserhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	"github.com/tatolapchik-bit/price-protection-bot/internal/render"
)

type Engine struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Engine {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	return &Engine{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (e *Engine) NewSession(ctx context.Context) (render.Session, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := e.call(ctx, http.MethodPost, "/sessions", nil, &out); err != nil {
		return nil, pipeline.SourceUnavailable(err, "open browser session")
	}
	return &session{eng: e, id: out.ID}, nil
}

func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.call(ctx, http.MethodPost, "/shutdown", nil, nil)
}

type session struct {
	eng *Engine
	id  string
}

func (s *session) Navigate(ctx context.Context, pageURL string) error {
	err := s.eng.call(ctx, http.MethodPost, s.path("/navigate"), map[string]string{"url": pageURL}, nil)
	if err != nil {
		return pipeline.SourceUnavailable(err, "navigate")
	}
	return nil
}

func (s *session) SetContent(ctx context.Context, html string) error {
	return errors.Wrap(
		s.eng.call(ctx, http.MethodPost, s.path("/content"), map[string]string{"html": html}, nil),
		"set content")
}

func (s *session) Text(ctx context.Context, selector string) (string, error) {
	var out struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	p := s.path("/text") + "?selector=" + url.QueryEscape(selector)
	if err := s.eng.call(ctx, http.MethodGet, p, nil, &out); err != nil {
		return "", pipeline.SourceUnavailable(err, "query text")
	}
	if !out.Found {
		return "", render.ErrElementNotFound
	}
	return out.Text, nil
}

func (s *session) PageText(ctx context.Context) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := s.eng.call(ctx, http.MethodGet, s.path("/page-text"), nil, &out); err != nil {
		return "", pipeline.SourceUnavailable(err, "page text")
	}
	return out.Text, nil
}

func (s *session) Fill(ctx context.Context, selector, value string) error {
	return s.interact(ctx, "/fill", map[string]string{"selector": selector, "value": value})
}

func (s *session) Click(ctx context.Context, selector string) error {
	return s.interact(ctx, "/click", map[string]string{"selector": selector})
}

func (s *session) Select(ctx context.Context, selector, value string) error {
	return s.interact(ctx, "/select", map[string]string{"selector": selector, "value": value})
}

func (s *session) Upload(ctx context.Context, selector, filename string, content []byte) error {
	return s.interact(ctx, "/upload", map[string]any{
		"selector": selector,
		"filename": filename,
		"content":  content, // json кодирует []byte как base64
	})
}

func (s *session) interact(ctx context.Context, action string, body any) error {
	var out struct {
		Found bool `json:"found"`
	}
	if err := s.eng.call(ctx, http.MethodPost, s.path(action), body, &out); err != nil {
		return pipeline.SourceUnavailable(err, action)
	}
	if !out.Found {
		return render.ErrElementNotFound
	}
	return nil
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.eng.baseURL+s.path("/screenshot"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	resp, err := s.eng.httpc.Do(req)
	if err != nil {
		return nil, pipeline.SourceUnavailable(err, "screenshot")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("browser sidecar http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.eng.call(ctx, http.MethodDelete, "/sessions/"+s.id, nil, nil)
}

func (s *session) path(suffix string) string {
	return "/sessions/" + s.id + suffix
}

func (e *Engine) call(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal body")
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("browser sidecar http %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decode")
		}
	}
	return nil
}
