// Package monitor — чистая логика оценки наблюдения цены: без I/O
// решает, меняется ли статус покупки и нужна ли заявка.
package monitor

import (
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

// DefaultMinDropCents — минимальное падение цены по умолчанию ($5).
const DefaultMinDropCents = 500

// Decision — результат оценки одного наблюдения.
type Decision struct {
	Status        string
	StatusChanged bool
	// CreateClaim true, когда покупка стала CLAIM_ELIGIBLE и требуется
	// завести заявку. Сумма уже ограничена капом инструмента.
	CreateClaim  bool
	ClaimedCents int64
	DropCents    int64
}

// пред-состояния, из которых наблюдение цены может двигать статус
var movable = map[string]bool{
	models.PurchaseStatusMonitoring:        true,
	models.PurchaseStatusPriceDropDetected: true,
	models.PurchaseStatusClaimEligible:     true,
}

// Evaluate применяет пороговое правило и защитное окно.
//
// Падение имеет значение только при drop >= threshold. Если при этом
// привязан инструмент и окно ещё действует — CLAIM_ELIGIBLE; если
// порог есть, а окна или инструмента нет — PRICE_DROP_DETECTED;
// иначе статус не меняется.
func Evaluate(p *models.TrackedPurchase, inst *models.PaymentInstrument, newCents, thresholdCents int64, now time.Time) Decision {
	if thresholdCents <= 0 {
		thresholdCents = DefaultMinDropCents
	}
	d := Decision{Status: p.Status, DropCents: p.PurchaseCents - newCents}

	if !movable[p.Status] {
		return d
	}
	if d.DropCents < thresholdCents {
		return d
	}

	if inst != nil && p.InsideProtectionWindow(now) {
		d.Status = models.PurchaseStatusClaimEligible
		d.StatusChanged = d.Status != p.Status
		d.CreateClaim = true
		// Сумма считается от наблюдения-триггера, а не от исторического
		// lowest: заявка должна совпадать с ценой на приложенном
		// доказательстве, даже если раньше цена опускалась ниже.
		d.ClaimedCents = ClaimAmount(p.PurchaseCents, newCents, inst.MaxClaimCents)
		return d
	}

	d.Status = models.PurchaseStatusPriceDropDetected
	d.StatusChanged = d.Status != p.Status
	return d
}

// ClaimAmount — возмещаемая сумма: разница цен, ограниченная капом.
func ClaimAmount(purchaseCents, newCents, capCents int64) int64 {
	diff := purchaseCents - newCents
	if capCents > 0 && diff > capCents {
		return capCents
	}
	return diff
}
