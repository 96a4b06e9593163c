package extractor

import (
	"context"
	"regexp"
	"strings"

	"github.com/tatolapchik-bit/price-protection-bot/internal/cards"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
)

// retailerRule — набор паттернов одного ритейлера.
type retailerRule struct {
	name      string
	senderRe  *regexp.Regexp
	subjectRe *regexp.Regexp
	orderIDRe *regexp.Regexp
	productRe *regexp.Regexp // захват названия товара из темы
}

var retailerRules = []retailerRule{
	{
		name:      "Amazon",
		senderRe:  regexp.MustCompile(`(?i)@amazon\.`),
		subjectRe: regexp.MustCompile(`(?i)(order|shipped|confirmation)`),
		orderIDRe: regexp.MustCompile(`(?i)order\s*#?\s*(\d{3}-\d{7}-\d{7})`),
		productRe: regexp.MustCompile(`(?i)your (?:amazon )?order of ["“]?(.+?)["”]?(?:\.{3})?$`),
	},
	{
		name:      "Best Buy",
		senderRe:  regexp.MustCompile(`(?i)@(emailinfo\.)?bestbuy\.com`),
		subjectRe: regexp.MustCompile(`(?i)(order|purchase|receipt)`),
		orderIDRe: regexp.MustCompile(`(?i)order\s*(?:number|#)[:\s]*(BBY\d{2}-\d+|\d{10})`),
	},
	{
		name:      "Walmart",
		senderRe:  regexp.MustCompile(`(?i)@walmart\.com`),
		subjectRe: regexp.MustCompile(`(?i)(order|thanks for your purchase)`),
		orderIDRe: regexp.MustCompile(`(?i)order\s*#?\s*(\d{7}-\d{6,})`),
	},
	{
		name:      "Target",
		senderRe:  regexp.MustCompile(`(?i)@(oe\.)?target\.com`),
		subjectRe: regexp.MustCompile(`(?i)order`),
		orderIDRe: regexp.MustCompile(`(?i)order\s*#?\s*(\d{10,})`),
	},
}

var (
	priceRe   = regexp.MustCompile(`\$\s?\d{1,3}(?:,\d{3})*(?:\.\d{2})?`)
	urlRe     = regexp.MustCompile(`https?://[^\s<>"']+`)
	orderIDRe = regexp.MustCompile(`(?i)order\s*(?:number|id|#)?[:\s]*#?\s*([A-Z0-9][A-Z0-9-]{4,})`)

	last4Res = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ending\s+in\s+(\d{4})`),
		regexp.MustCompile(`(?i)card\s+ending\s+(\d{4})`),
		regexp.MustCompile(`(?i)[x*•]{2,}\s?(\d{4})`),
	}

	paymentVocab  = []string{"payment", "card", "charged", "billing", "visa", "mastercard", "amex", "american express", "discover"}
	purchaseVocab = []string{"order", "receipt", "purchase", "confirmation", "shipped", "invoice"}

	// Служебные ссылки, которые точно не ведут на товар.
	junkLinkVocab = []string{"unsubscribe", "privacy", "preferences", "terms", "help", "support", "track", "feedback", "login", "signin"}
)

// RulesStrategy — детерминированное извлечение по правилам ритейлеров.
type RulesStrategy struct{}

func NewRules() *RulesStrategy { return &RulesStrategy{} }

func (s *RulesStrategy) Extract(ctx context.Context, msg mailbox.Message) ([]Candidate, error) {
	rule, ok := matchRetailer(msg)
	if !ok {
		return nil, nil
	}

	// Эвристика: наибольшая извлечённая сумма — итог заказа.
	total := highestPrice(msg.Body)
	if total <= 0 {
		return nil, nil
	}

	c := Candidate{
		Retailer:    rule.name,
		PriceCents:  total,
		ProductName: productName(rule, msg),
		OrderID:     orderID(rule, msg.Body),
		ProductURL:  productURL(msg.Body),
		PurchasedAt: msg.Date,
		Card:        cardEvidence(msg.Body),
	}
	return []Candidate{c}, nil
}

func matchRetailer(msg mailbox.Message) (retailerRule, bool) {
	for _, r := range retailerRules {
		if r.senderRe.MatchString(msg.From) && r.subjectRe.MatchString(msg.Subject) {
			return r, true
		}
	}
	// Неизвестный отправитель: берём письмо только при явной покупочной
	// лексике в теме, ритейлер — из домена отправителя.
	low := strings.ToLower(msg.Subject)
	for _, w := range purchaseVocab {
		if strings.Contains(low, w) {
			return retailerRule{name: senderDomain(msg.From)}, true
		}
	}
	return retailerRule{}, false
}

func senderDomain(from string) string {
	at := strings.LastIndex(from, "@")
	if at < 0 {
		return "Unknown Retailer"
	}
	d := strings.Trim(from[at+1:], "> ")
	d = strings.TrimSuffix(d, ".com")
	parts := strings.Split(d, ".")
	if len(parts) > 0 && parts[len(parts)-1] != "" {
		d = parts[len(parts)-1]
	}
	if d == "" {
		return "Unknown Retailer"
	}
	return strings.ToUpper(d[:1]) + d[1:]
}

func highestPrice(body string) int64 {
	var max int64
	for _, m := range priceRe.FindAllString(body, -1) {
		cents, err := money.ParseCents(m)
		if err != nil {
			continue
		}
		if cents > max {
			max = cents
		}
	}
	return max
}

func productName(rule retailerRule, msg mailbox.Message) string {
	if rule.productRe != nil {
		if m := rule.productRe.FindStringSubmatch(msg.Subject); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	subj := strings.TrimSpace(msg.Subject)
	for _, prefix := range []string{"Your order of ", "Order confirmation: ", "Receipt for "} {
		if strings.HasPrefix(subj, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(subj, prefix))
		}
	}
	if subj != "" {
		return subj
	}
	return "Order from " + rule.name
}

func orderID(rule retailerRule, body string) string {
	if rule.orderIDRe != nil {
		if m := rule.orderIDRe.FindStringSubmatch(body); len(m) > 1 {
			return m[1]
		}
	}
	if m := orderIDRe.FindStringSubmatch(body); len(m) > 1 {
		// Токен без единой цифры — скорее всего обычное слово после "order".
		if strings.ContainsAny(m[1], "0123456789") {
			return m[1]
		}
	}
	return ""
}

// productURL ищет ссылку на товар рядом со строкой цены: ближняя по
// строкам не-служебная ссылка выигрывает.
func productURL(body string) string {
	lines := strings.Split(body, "\n")
	priceLine := -1
	for i, line := range lines {
		if priceRe.MatchString(line) {
			priceLine = i
			break
		}
	}

	best := ""
	bestDist := len(lines) + 1
	for i, line := range lines {
		for _, link := range urlRe.FindAllString(line, -1) {
			if isJunkLink(link) {
				continue
			}
			dist := 0
			if priceLine >= 0 {
				dist = abs(i - priceLine)
			}
			if best == "" || dist < bestDist {
				best = strings.TrimRight(link, ".,)")
				bestDist = dist
			}
		}
	}
	return best
}

func isJunkLink(link string) bool {
	low := strings.ToLower(link)
	for _, w := range junkLinkVocab {
		if strings.Contains(low, w) {
			return true
		}
	}
	return false
}

// cardEvidence ищет last-4 в строках с платёжной лексикой; строка
// совпадения целиком становится подсказкой о сети/банке.
func cardEvidence(body string) *cards.Evidence {
	for _, line := range strings.Split(body, "\n") {
		low := strings.ToLower(line)
		payment := false
		for _, w := range paymentVocab {
			if strings.Contains(low, w) {
				payment = true
				break
			}
		}
		if !payment {
			continue
		}
		for _, re := range last4Res {
			if m := re.FindStringSubmatch(line); len(m) > 1 {
				return &cards.Evidence{Last4: m[1], Hint: strings.TrimSpace(line)}
			}
		}
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
