// Package mailer описывает отправку исходящей почты с вложениями.
// Два взаимозаменяемых транспорта: от имени пользователя (личный ящик,
// заявка выглядит как письмо от держателя карты) и сервисный релей.
package mailer

import "context"

type Attachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

type Message struct {
	From        string
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type Sender interface {
	// Send возвращает transport-specific идентификатор сообщения.
	Send(ctx context.Context, m Message) (string, error)
}
