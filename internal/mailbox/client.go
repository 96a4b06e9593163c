// Package mailbox описывает получение входящей почты пользователя.
package mailbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotConnected — почтовый ящик не подключён или OAuth-токен истёк.
// Для текущего прохода это терминальная ошибка; обновление токена —
// забота внешнего коллаборатора.
var ErrNotConnected = errors.New("mailbox not connected")

// Message — нормализованное входящее письмо.
type Message struct {
	ID      string
	From    string
	Subject string
	Body    string
	Date    time.Time
}

type Client interface {
	// ListMessages возвращает письма, подходящие под запрос, не старше since.
	ListMessages(ctx context.Context, query string, since time.Time, limit int) ([]Message, error)
}
