// Package filing подаёт заявки на возмещение: каскад каналов
// портал -> почта пользователя -> сервисный релей, и инструкции
// для ручной подачи там, где автоматика не применима.
package filing

import (
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/issuers"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

// Instructions — что нужно держателю карты для ручной подачи заявки.
type Instructions struct {
	Channel           string   `json:"channel"`
	Destination       string   `json:"destination"`
	Phone             string   `json:"phone,omitempty"`
	PortalURL         string   `json:"portal_url,omitempty"`
	RequiredDocuments []string `json:"required_documents"`
	DaysRemaining     int      `json:"days_remaining"`
	Deadline          *string  `json:"deadline,omitempty"`
}

var requiredDocuments = []string{
	"Original purchase receipt or order confirmation",
	"Proof of the lower advertised price (screenshot or printed ad)",
	"Card statement showing the purchase",
}

// BuildInstructions собирает инструкции по подаче для покупки.
func BuildInstructions(p *models.TrackedPurchase, inst *models.PaymentInstrument, now time.Time) Instructions {
	iss := issuers.Lookup(inst.Issuer)

	channel := iss.Channel
	if inst.ClaimChannel != "" {
		channel = inst.ClaimChannel
	}

	out := Instructions{
		Channel:           channel,
		Destination:       Destination(inst, iss),
		Phone:             iss.Phone,
		PortalURL:         iss.PortalURL,
		RequiredDocuments: requiredDocuments,
	}
	if p.ProtectionEnd != nil {
		d := p.ProtectionEnd.Format("2006-01-02")
		out.Deadline = &d
		if remaining := int(p.ProtectionEnd.Sub(now).Hours() / 24); remaining > 0 {
			out.DaysRemaining = remaining
		}
	}
	return out
}

// Destination выбирает адрес подачи: переопределение на карте,
// затем адрес эмитента, затем адрес сети, затем общий fallback.
func Destination(inst *models.PaymentInstrument, iss issuers.Issuer) string {
	if inst.ClaimDestination != "" {
		return inst.ClaimDestination
	}
	if iss.ClaimEmail != "" {
		return iss.ClaimEmail
	}
	network := iss.Network
	if inst.Network != "" {
		network = inst.Network
	}
	if addr, ok := issuers.NetworkClaimEmail(network); ok {
		return addr
	}
	return issuers.Lookup("UNKNOWN").ClaimEmail
}
