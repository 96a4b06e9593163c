// Package money работает с денежными суммами в центах (int64).
// Плавающая точка не используется, чтобы пороговые сравнения не
// "плавали" на границе.
package money

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// tokenRe выделяет числовые токены: группировка тысяч пробелом
// ("1 299,99") либо цифры, сцепленные точками/запятыми ("1,299.99").
var tokenRe = regexp.MustCompile(`[0-9]{1,3}(?:[ \x{00A0}][0-9]{3})+(?:[.,][0-9]+)?|[0-9]+(?:[.,][0-9]+)*`)

// ParseCents разбирает текст цены ("$1,299.99", "59.99", "1 299,99 ₽")
// в центы. Принимается ровно один числовой токен: текст вида
// "Was $99.99 Now $79.99" — это ошибка разбора, а не склейка цифр.
func ParseCents(s string) (int64, error) {
	tokens := tokenRe.FindAllString(s, -1)
	if len(tokens) == 0 {
		return 0, errors.Errorf("no numeric token in %q", s)
	}
	if len(tokens) > 1 {
		return 0, errors.Errorf("multiple numeric tokens in %q", s)
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == '.' || r == ',':
			return r
		default:
			return -1
		}
	}, tokens[0])

	// Последний разделитель с 1-2 цифрами после него считаем десятичным,
	// остальные точки/запятые — разделители тысяч.
	lastSep := strings.LastIndexAny(cleaned, ".,")
	intPart := cleaned
	fracPart := ""
	if lastSep >= 0 {
		tail := cleaned[lastSep+1:]
		if len(tail) >= 1 && len(tail) <= 2 {
			intPart = cleaned[:lastSep]
			fracPart = tail
		}
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %q", s)
	}
	cents := whole * 100
	if fracPart != "" {
		f, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse %q", s)
		}
		if len(fracPart) == 1 {
			f *= 10
		}
		cents += f
	}
	return cents, nil
}

// FormatUSD печатает центы как "$12.34".
func FormatUSD(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
