// Package fake — скриптуемый движок рендеринга для тестов.
package fake

import (
	"context"
	"sync"

	"github.com/tatolapchik-bit/price-protection-bot/internal/render"
)

// Engine исполняет сценарий: Texts отдаются по селектору, Fail задаёт
// селекторы, на которых взаимодействие "не находит" элемент.
type Engine struct {
	mu sync.Mutex

	Texts      map[string]string // selector -> text
	PageBody   string
	Fail       map[string]bool // selector -> not found
	Shot       []byte
	SessionErr error

	Sessions      int
	OpenSessions  int
	Actions       []string
	LastContent   string
	ClosedEngine  bool
}

func New() *Engine {
	return &Engine{
		Texts: map[string]string{},
		Fail:  map[string]bool{},
		Shot:  []byte("png"),
	}
}

func (e *Engine) NewSession(ctx context.Context) (render.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.SessionErr != nil {
		return nil, e.SessionErr
	}
	e.Sessions++
	e.OpenSessions++
	return &session{eng: e}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ClosedEngine = true
	return nil
}

type session struct {
	eng *Engine
}

func (s *session) record(action string) {
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	s.eng.Actions = append(s.eng.Actions, action)
}

func (s *session) Navigate(ctx context.Context, url string) error {
	s.record("navigate:" + url)
	return nil
}

func (s *session) SetContent(ctx context.Context, html string) error {
	s.eng.mu.Lock()
	s.eng.LastContent = html
	s.eng.mu.Unlock()
	s.record("content")
	return nil
}

func (s *session) Text(ctx context.Context, selector string) (string, error) {
	s.record("text:" + selector)
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	if t, ok := s.eng.Texts[selector]; ok {
		return t, nil
	}
	return "", render.ErrElementNotFound
}

func (s *session) PageText(ctx context.Context) (string, error) {
	s.record("page-text")
	return s.eng.PageBody, nil
}

func (s *session) Fill(ctx context.Context, selector, value string) error {
	s.record("fill:" + selector + "=" + value)
	return s.failIf(selector)
}

func (s *session) Click(ctx context.Context, selector string) error {
	s.record("click:" + selector)
	return s.failIf(selector)
}

func (s *session) Select(ctx context.Context, selector, value string) error {
	s.record("select:" + selector)
	return s.failIf(selector)
}

func (s *session) Upload(ctx context.Context, selector, filename string, content []byte) error {
	s.record("upload:" + selector)
	return s.failIf(selector)
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	s.record("screenshot")
	return s.eng.Shot, nil
}

func (s *session) Close() error {
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	s.eng.OpenSessions--
	return nil
}

func (s *session) failIf(selector string) error {
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	if s.eng.Fail[selector] {
		return render.ErrElementNotFound
	}
	return nil
}
