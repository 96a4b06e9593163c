package monitor

import (
	"math/rand"
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	// Покупки в активном мониторинге проверяются в этом окне.
	MonitoringMinDelay time.Duration // default: 6 hours
	MonitoringMaxDelay time.Duration // default: 12 hours

	// CLAIM_FILED и терминальные статусы перепроверять незачем.
	SettledDelay time.Duration // default: 30 days

	Backoff1 time.Duration // default: 15 minutes
	Backoff2 time.Duration // default: 1 hour
	Backoff3 time.Duration // default: 4 hours
	Backoff4 time.Duration // default: 24 hours
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MonitoringMinDelay: 6 * time.Hour,
		MonitoringMaxDelay: 12 * time.Hour,
		SettledDelay:       30 * 24 * time.Hour,

		Backoff1: 15 * time.Minute,
		Backoff2: 1 * time.Hour,
		Backoff3: 4 * time.Hour,
		Backoff4: 24 * time.Hour,
	}
}

// Planner выбирает момент следующей проверки цены: джиттер внутри окна
// размазывает нагрузку по источникам, лестница backoff разгружает
// отвечающий ошибками источник.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.MonitoringMinDelay <= 0 {
		cfg.MonitoringMinDelay = def.MonitoringMinDelay
	}
	if cfg.MonitoringMaxDelay <= 0 {
		cfg.MonitoringMaxDelay = def.MonitoringMaxDelay
	}
	if cfg.MonitoringMaxDelay < cfg.MonitoringMinDelay {
		cfg.MonitoringMaxDelay = cfg.MonitoringMinDelay
	}
	if cfg.SettledDelay <= 0 {
		cfg.SettledDelay = def.SettledDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Planner) NextCheckDelay(status string) time.Duration {
	switch status {
	case models.PurchaseStatusMonitoring,
		models.PurchaseStatusPriceDropDetected,
		models.PurchaseStatusClaimEligible:
		min := p.cfg.MonitoringMinDelay
		max := p.cfg.MonitoringMaxDelay
		if max == min {
			return min
		}
		secMin := int(min.Seconds())
		secMax := int(max.Seconds())
		return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
	default:
		return p.cfg.SettledDelay
	}
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
