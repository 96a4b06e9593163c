// Package issuers хранит справочник сетей и банков-эмитентов:
// условия защиты цены, канал подачи заявки и адреса назначения.
package issuers

import (
	"strings"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

// Terms — условия защиты цены по умолчанию для эмитента.
type Terms struct {
	ProtectionDays int32
	MaxClaimCents  int64
}

// PortalStep — один шаг автоматизации портала эмитента.
// Value может содержать плейсхолдеры {{amount}}, {{last4}}, {{product}},
// {{retailer}}, {{originalPrice}}, {{newPrice}}, {{purchaseDate}}.
type PortalStep struct {
	Action   string // "navigate" | "click" | "select" | "fill" | "upload" | "submit"
	Selector string
	Value    string
}

// Issuer — запись справочника для одного эмитента или сети.
type Issuer struct {
	ID            string
	Name          string
	Network       string
	Channel       string
	ClaimEmail    string
	PortalURL     string
	Phone         string
	Terms         Terms
	EmailSubject  string // шаблон темы письма; {{last4}} подставляется
	EmailGreeting string
	PortalSteps   []PortalStep
}

// Generic fallback: применяется, когда эмитент не распознан.
var unknownIssuer = Issuer{
	ID:            "UNKNOWN",
	Name:          "Unknown Issuer",
	Network:       "OTHER",
	Channel:       models.ClaimChannelEmail,
	ClaimEmail:    "disputes@cardservices.example.com",
	Terms:         Terms{ProtectionDays: 60, MaxClaimCents: 25000},
	EmailSubject:  "Price Protection Claim - Card Ending {{last4}}",
	EmailGreeting: "Dear Card Services Team,",
}

var registry = map[string]Issuer{
	"CHASE": {
		ID: "CHASE", Name: "Chase", Network: "VISA",
		Channel:       models.ClaimChannelEmail,
		ClaimEmail:    "priceprotection@chase.example.com",
		Phone:         "1-888-320-9961",
		Terms:         Terms{ProtectionDays: 90, MaxClaimCents: 50000},
		EmailSubject:  "Price Protection Benefit Claim - Card Ending {{last4}}",
		EmailGreeting: "Dear Chase Benefits Administrator,",
	},
	"CITI": {
		ID: "CITI", Name: "Citi", Network: "MASTERCARD",
		Channel:       models.ClaimChannelPortal,
		ClaimEmail:    "pricerewind@citi.example.com",
		PortalURL:     "https://www.citipricerewind.example.com/claim",
		Terms:         Terms{ProtectionDays: 60, MaxClaimCents: 20000},
		EmailSubject:  "Citi Price Rewind Claim - Card Ending {{last4}}",
		EmailGreeting: "Dear Citi Price Rewind Team,",
		PortalSteps: []PortalStep{
			{Action: "navigate", Value: "https://www.citipricerewind.example.com/claim"},
			{Action: "fill", Selector: "#cardLast4", Value: "{{last4}}"},
			{Action: "fill", Selector: "#productName", Value: "{{product}}"},
			{Action: "fill", Selector: "#retailer", Value: "{{retailer}}"},
			{Action: "fill", Selector: "#purchasePrice", Value: "{{originalPrice}}"},
			{Action: "fill", Selector: "#currentPrice", Value: "{{newPrice}}"},
			{Action: "fill", Selector: "#purchaseDate", Value: "{{purchaseDate}}"},
			{Action: "upload", Selector: "input[type=file]", Value: "{{evidence}}"},
			{Action: "click", Selector: "#agreeTerms"},
			{Action: "submit", Selector: "#submitClaim"},
		},
	},
	"AMEX": {
		ID: "AMEX", Name: "American Express", Network: "AMEX",
		Channel:       models.ClaimChannelEmail,
		ClaimEmail:    "purchaseprotection@aexp.example.com",
		Phone:         "1-800-322-1277",
		Terms:         Terms{ProtectionDays: 90, MaxClaimCents: 30000},
		EmailSubject:  "Purchase Price Protection Claim - Card Ending {{last4}}",
		EmailGreeting: "Dear American Express Claims Department,",
	},
	"BANK_OF_AMERICA": {
		ID: "BANK_OF_AMERICA", Name: "Bank of America", Network: "VISA",
		Channel:       models.ClaimChannelEmail,
		ClaimEmail:    "cardbenefits@bofa.example.com",
		Terms:         Terms{ProtectionDays: 60, MaxClaimCents: 25000},
		EmailSubject:  "Price Protection Claim - Card Ending {{last4}}",
		EmailGreeting: "Dear Card Benefits Team,",
	},
	"CAPITAL_ONE": {
		ID: "CAPITAL_ONE", Name: "Capital One", Network: "MASTERCARD",
		Channel:       models.ClaimChannelEmail,
		ClaimEmail:    "benefits@capitalone.example.com",
		Terms:         Terms{ProtectionDays: 60, MaxClaimCents: 25000},
		EmailSubject:  "Price Protection Claim - Card Ending {{last4}}",
		EmailGreeting: "Dear Capital One Benefits Team,",
	},
	"WELLS_FARGO": {
		ID: "WELLS_FARGO", Name: "Wells Fargo", Network: "VISA",
		Channel:       models.ClaimChannelPhone,
		ClaimEmail:    "cardservices@wf.example.com",
		Phone:         "1-800-869-3557",
		Terms:         Terms{ProtectionDays: 60, MaxClaimCents: 25000},
		EmailSubject:  "Price Protection Claim - Card Ending {{last4}}",
		EmailGreeting: "Dear Wells Fargo Card Services,",
	},
	"DISCOVER": {
		ID: "DISCOVER", Name: "Discover", Network: "DISCOVER",
		Channel:       models.ClaimChannelEmail,
		ClaimEmail:    "priceprotection@discover.example.com",
		Terms:         Terms{ProtectionDays: 90, MaxClaimCents: 50000},
		EmailSubject:  "Price Protection Claim - Discover Card Ending {{last4}}",
		EmailGreeting: "Dear Discover Customer Protection,",
	},
	"UNKNOWN": unknownIssuer,
}

// Сетевые fallback-адреса: если у эмитента нет своего адреса подачи,
// письмо уходит на адрес сети.
var networkClaimEmails = map[string]string{
	"VISA":       "claims@visa.example.com",
	"MASTERCARD": "claims@mastercard.example.com",
	"AMEX":       "purchaseprotection@aexp.example.com",
	"DISCOVER":   "priceprotection@discover.example.com",
}

// Lookup возвращает запись справочника. Промах отдаёт запись UNKNOWN,
// а не ошибку: пайплайн не должен останавливаться на незнакомом банке.
func Lookup(id string) Issuer {
	if iss, ok := registry[strings.ToUpper(id)]; ok {
		return iss
	}
	return unknownIssuer
}

// NetworkClaimEmail возвращает адрес подачи на уровне сети, если он есть.
func NetworkClaimEmail(network string) (string, bool) {
	addr, ok := networkClaimEmails[strings.ToUpper(network)]
	return addr, ok
}

// hintRule — правило классификации текстовой подсказки из письма.
// Сети идут раньше названий банков: "Chase Visa" должен дать VISA-эмитента
// CHASE, а просто "Visa" — неизвестного эмитента сети VISA.
type hintRule struct {
	substr string
	issuer string
}

var hintRules = []hintRule{
	{"american express", "AMEX"},
	{"amex", "AMEX"},
	{"discover", "DISCOVER"},
	{"chase", "CHASE"},
	{"citi", "CITI"},
	{"bank of america", "BANK_OF_AMERICA"},
	{"bofa", "BANK_OF_AMERICA"},
	{"capital one", "CAPITAL_ONE"},
	{"wells fargo", "WELLS_FARGO"},
}

// ClassifyHint сопоставляет свободный текст подсказки с эмитентом.
// Неизвестная подсказка даёт UNKNOWN.
func ClassifyHint(hint string) Issuer {
	low := strings.ToLower(hint)
	for _, r := range hintRules {
		if strings.Contains(low, r.substr) {
			return Lookup(r.issuer)
		}
	}
	// Голое название сети без банка: неизвестный эмитент этой сети.
	for _, n := range []string{"visa", "mastercard"} {
		if strings.Contains(low, n) {
			iss := unknownIssuer
			iss.Network = strings.ToUpper(n)
			return iss
		}
	}
	return unknownIssuer
}
