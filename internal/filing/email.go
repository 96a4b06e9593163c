package filing

import (
	"fmt"
	"strings"
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/issuers"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
)

// claimFacts — данные заявки, подставляемые в письмо и в портал.
type claimFacts struct {
	Cardholder    string
	Last4         string
	Product       string
	Retailer      string
	PurchaseDate  string
	OriginalPrice string
	NewPrice      string
	ClaimedAmount string
	ProductURL    string
}

func newClaimFacts(claim *models.Claim, p *models.TrackedPurchase, inst *models.PaymentInstrument, cardholder string) claimFacts {
	f := claimFacts{
		Cardholder:    cardholder,
		Last4:         inst.Last4,
		Product:       p.ProductName,
		Retailer:      p.Retailer,
		PurchaseDate:  p.PurchasedAt.Format("2006-01-02"),
		OriginalPrice: money.FormatUSD(claim.OriginalCents),
		NewPrice:      money.FormatUSD(claim.NewCents),
		ClaimedAmount: money.FormatUSD(claim.ClaimedCents),
	}
	if p.ProductURL != nil {
		f.ProductURL = *p.ProductURL
	}
	return f
}

func (f claimFacts) portalVars(evidenceName string) map[string]string {
	return map[string]string{
		"last4":         f.Last4,
		"product":       f.Product,
		"retailer":      f.Retailer,
		"originalPrice": f.OriginalPrice,
		"newPrice":      f.NewPrice,
		"purchaseDate":  f.PurchaseDate,
		"amount":        f.ClaimedAmount,
		"evidence":      evidenceName,
	}
}

// buildClaimEmail собирает тему и тело письма-заявки. Приветствие и
// тема зависят от эмитента, структура тела фиксированная.
func buildClaimEmail(iss issuers.Issuer, f claimFacts, now time.Time) (subject, body string) {
	subject = strings.ReplaceAll(iss.EmailSubject, "{{last4}}", f.Last4)
	if subject == "" {
		subject = "Price Protection Claim - Card Ending " + f.Last4
	}

	var b strings.Builder
	fmt.Fprintln(&b, iss.EmailGreeting)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "I am filing a price protection claim for a purchase made with my %s card ending in %s.\n\n", iss.Name, f.Last4)
	fmt.Fprintf(&b, "Product:           %s\n", f.Product)
	fmt.Fprintf(&b, "Retailer:          %s\n", f.Retailer)
	fmt.Fprintf(&b, "Purchase date:     %s\n", f.PurchaseDate)
	fmt.Fprintf(&b, "Purchase price:    %s\n", f.OriginalPrice)
	fmt.Fprintf(&b, "Current price:     %s\n", f.NewPrice)
	fmt.Fprintf(&b, "Claimed amount:    %s\n", f.ClaimedAmount)
	if f.ProductURL != "" {
		fmt.Fprintf(&b, "Advertised at:     %s\n", f.ProductURL)
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "A claim summary and evidence of the lower advertised price are attached.")
	fmt.Fprintln(&b, "Please credit the difference to my account.")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Sincerely,")
	fmt.Fprintln(&b, f.Cardholder)
	fmt.Fprintf(&b, "Sent %s\n", now.UTC().Format("2006-01-02"))
	return subject, b.String()
}
