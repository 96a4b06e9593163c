// Package pricesource получает текущую цену товара по его URL.
package pricesource

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Result — одно успешное чтение цены.
type Result struct {
	Cents  int64
	Source string // "api:<domain>" | "page:<domain>" | "page:generic" | "fake"
}

type Client interface {
	GetPrice(ctx context.Context, productURL string) (Result, error)
}

// Domain извлекает нормализованный домен из URL товара.
func Domain(productURL string) string {
	u, err := url.Parse(productURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	return host
}

// Router выбирает стратегию по домену: структурный API, если он
// сконфигурирован для домена, иначе точечный поиск по странице.
type Router struct {
	api        Client
	apiDomains map[string]bool
	page       Client
}

func NewRouter(api Client, apiDomains []string, page Client) *Router {
	m := make(map[string]bool, len(apiDomains))
	for _, d := range apiDomains {
		m[strings.ToLower(d)] = true
	}
	return &Router{api: api, apiDomains: m, page: page}
}

func (r *Router) GetPrice(ctx context.Context, productURL string) (Result, error) {
	d := Domain(productURL)
	if d == "" {
		return Result{}, errors.Errorf("bad product url %q", productURL)
	}
	if r.api != nil && r.apiDomains[d] {
		return r.api.GetPrice(ctx, productURL)
	}
	if r.page == nil {
		return Result{}, errors.New("no price source for domain " + d)
	}
	return r.page.GetPrice(ctx, productURL)
}
