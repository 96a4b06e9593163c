package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

func purchase(status string, purchaseCents int64, protectionEnd *time.Time) *models.TrackedPurchase {
	return &models.TrackedPurchase{
		PurchaseCents: purchaseCents,
		Status:        status,
		ProtectionEnd: protectionEnd,
	}
}

func TestEvaluate_EligibleInsideWindow(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(30 * 24 * time.Hour)
	inst := &models.PaymentInstrument{MaxClaimCents: 50000, AutoClaimEnabled: true}

	d := Evaluate(purchase(models.PurchaseStatusMonitoring, 10000, &end), inst, 8000, 500, now)
	require.True(t, d.StatusChanged)
	require.Equal(t, models.PurchaseStatusClaimEligible, d.Status)
	require.True(t, d.CreateClaim)
	require.Equal(t, int64(2000), d.ClaimedCents)
}

func TestEvaluate_AmountFromTriggeringObservation(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(time.Hour)
	inst := &models.PaymentInstrument{MaxClaimCents: 50000}

	// Цена когда-то опускалась до 7000, но заявка считается по текущему
	// наблюдению.
	p := purchase(models.PurchaseStatusMonitoring, 10000, &end)
	p.LowestCents = 7000

	d := Evaluate(p, inst, 8000, 500, now)
	require.True(t, d.CreateClaim)
	require.Equal(t, int64(2000), d.ClaimedCents)
}

func TestEvaluate_CapApplies(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(time.Hour)
	inst := &models.PaymentInstrument{MaxClaimCents: 1500}

	d := Evaluate(purchase(models.PurchaseStatusMonitoring, 10000, &end), inst, 8000, 500, now)
	require.Equal(t, int64(1500), d.ClaimedCents)
}

func TestEvaluate_WindowLapsed(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(-time.Hour)
	inst := &models.PaymentInstrument{MaxClaimCents: 50000}

	d := Evaluate(purchase(models.PurchaseStatusMonitoring, 10000, &end), inst, 8000, 500, now)
	require.Equal(t, models.PurchaseStatusPriceDropDetected, d.Status)
	require.False(t, d.CreateClaim)
}

func TestEvaluate_NoInstrument(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(time.Hour)

	d := Evaluate(purchase(models.PurchaseStatusMonitoring, 10000, &end), nil, 8000, 500, now)
	require.Equal(t, models.PurchaseStatusPriceDropDetected, d.Status)
	require.False(t, d.CreateClaim)
}

func TestEvaluate_BelowThresholdUnchanged(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(time.Hour)
	inst := &models.PaymentInstrument{MaxClaimCents: 50000}

	d := Evaluate(purchase(models.PurchaseStatusMonitoring, 10000, &end), inst, 9700, 500, now)
	require.Equal(t, models.PurchaseStatusMonitoring, d.Status)
	require.False(t, d.StatusChanged)
	require.False(t, d.CreateClaim)
}

func TestEvaluate_ExactThresholdQualifies(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(time.Hour)
	inst := &models.PaymentInstrument{MaxClaimCents: 50000}

	// drop == threshold считается (>=, в центах, без плавающей точки)
	d := Evaluate(purchase(models.PurchaseStatusMonitoring, 10000, &end), inst, 9500, 500, now)
	require.Equal(t, models.PurchaseStatusClaimEligible, d.Status)
}

func TestEvaluate_FiledIsImmovable(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(time.Hour)
	inst := &models.PaymentInstrument{MaxClaimCents: 50000}

	d := Evaluate(purchase(models.PurchaseStatusClaimFiled, 10000, &end), inst, 5000, 500, now)
	require.Equal(t, models.PurchaseStatusClaimFiled, d.Status)
	require.False(t, d.StatusChanged)
	require.False(t, d.CreateClaim)
}

func TestClaimAmount(t *testing.T) {
	require.Equal(t, int64(2000), ClaimAmount(10000, 8000, 50000))
	require.Equal(t, int64(1500), ClaimAmount(10000, 8000, 1500))
	require.Equal(t, int64(2000), ClaimAmount(10000, 8000, 0)) // нет капа
}

func TestPlanner_Backoff(t *testing.T) {
	p := DefaultPlanner()
	require.Equal(t, 15*time.Minute, p.BackoffDelay(1))
	require.Equal(t, 1*time.Hour, p.BackoffDelay(2))
	require.Equal(t, 4*time.Hour, p.BackoffDelay(3))
	require.Equal(t, 24*time.Hour, p.BackoffDelay(100))
}

func TestPlanner_SettledDelay(t *testing.T) {
	p := DefaultPlanner()
	require.Equal(t, 30*24*time.Hour, p.NextCheckDelay(models.PurchaseStatusClaimFiled))
	require.Equal(t, 30*24*time.Hour, p.NextCheckDelay(models.PurchaseStatusExpired))
}

func TestPlanner_MonitoringJitterWithinWindow(t *testing.T) {
	cfg := DefaultPlannerConfig()
	p := NewPlanner(cfg, nil)
	for i := 0; i < 50; i++ {
		d := p.NextCheckDelay(models.PurchaseStatusMonitoring)
		require.GreaterOrEqual(t, d, cfg.MonitoringMinDelay)
		require.LessOrEqual(t, d, cfg.MonitoringMaxDelay)
	}
}
