// Package render описывает headless-движок рендеринга страниц.
// Движок дорогой в запуске, поэтому живёт как один разделяемый
// экземпляр; каждый логический прогон открывает собственную
// изолированную сессию (вкладку) и обязан закрыть её на всех путях.
package render

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrElementNotFound — нужный элемент на странице не найден.
var ErrElementNotFound = errors.New("element not found")

type Engine interface {
	// NewSession открывает изолированную вкладку.
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

type Session interface {
	Navigate(ctx context.Context, url string) error
	// SetContent рендерит переданный HTML вместо перехода по URL.
	SetContent(ctx context.Context, html string) error
	// Text возвращает текст первого элемента по селектору.
	Text(ctx context.Context, selector string) (string, error)
	// PageText возвращает весь видимый текст страницы.
	PageText(ctx context.Context) (string, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Select(ctx context.Context, selector, value string) error
	Upload(ctx context.Context, selector, filename string, content []byte) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Lazy оборачивает фабрику движка в лениво создаваемый singleton.
// Первый NewSession запускает движок; Close останавливает его, если
// он был запущен.
type Lazy struct {
	factory func() (Engine, error)

	mu   sync.Mutex
	eng  Engine
	done bool
}

func NewLazy(factory func() (Engine, error)) *Lazy {
	return &Lazy{factory: factory}
}

func (l *Lazy) NewSession(ctx context.Context) (Session, error) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return nil, errors.New("render engine closed")
	}
	if l.eng == nil {
		eng, err := l.factory()
		if err != nil {
			l.mu.Unlock()
			return nil, errors.Wrap(err, "start render engine")
		}
		l.eng = eng
	}
	eng := l.eng
	l.mu.Unlock()
	return eng.NewSession(ctx)
}

func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = true
	if l.eng == nil {
		return nil
	}
	err := l.eng.Close()
	l.eng = nil
	return err
}
