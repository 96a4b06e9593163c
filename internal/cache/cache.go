package cache

import (
	"context"
	"time"
)

// BytesCache — best-effort кэш байтов. Реализация может быть недоступна,
// вызывающий код обязан переживать ошибки кэша.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfChanged пишет значение, только если оно отличается от текущего.
	SetIfChanged(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
