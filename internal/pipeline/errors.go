// Package pipeline содержит общую таксономию ошибок пайплайна защиты цены.
package pipeline

import "github.com/pkg/errors"

// Классы ошибок. Обработчики различают их через errors.Is.
var (
	// ErrSourceUnavailable — источник цены или портал недоступен/таймаут.
	// Восстановимая ошибка: повтор на следующем проходе.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrParseFailure — текст не подошёл ни под один известный паттерн.
	// Элемент пропускается, с тем же входом не повторяется.
	ErrParseFailure = errors.New("parse failure")

	// ErrChannelFailure — один канал подачи заявки не сработал.
	// Каскад переходит к следующему каналу.
	ErrChannelFailure = errors.New("channel failure")

	// ErrInvariantViolation — попытка создать вторую активную заявку
	// или подать заявку не в подходящем статусе. Не повторяется.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConfigurationError — не хватает обязательных внешних настроек.
	// Фатально для операции, не повторяется.
	ErrConfigurationError = errors.New("configuration error")
)

// SourceUnavailable оборачивает err как восстановимую ошибку источника.
func SourceUnavailable(err error, msg string) error {
	return errors.Wrap(wrapClass(ErrSourceUnavailable, err), msg)
}

// ParseFailure помечает err как ошибку разбора.
func ParseFailure(err error, msg string) error {
	return errors.Wrap(wrapClass(ErrParseFailure, err), msg)
}

// ChannelFailure помечает err как отказ одного канала подачи.
func ChannelFailure(err error, msg string) error {
	return errors.Wrap(wrapClass(ErrChannelFailure, err), msg)
}

type classified struct {
	class error
	cause error
}

func (c *classified) Error() string {
	if c.cause == nil {
		return c.class.Error()
	}
	return c.class.Error() + ": " + c.cause.Error()
}

func (c *classified) Is(target error) bool { return target == c.class }

func (c *classified) Unwrap() error { return c.cause }

func wrapClass(class, cause error) error {
	return &classified{class: class, cause: cause}
}
