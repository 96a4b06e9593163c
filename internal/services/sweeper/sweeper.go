// Package sweeper — плановые проходы воркера: проверка цен, подача
// заявок, истечение окон, разбор почтового ящика.
package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/cards"
	"github.com/tatolapchik-bit/price-protection-bot/internal/extractor"
	"github.com/tatolapchik-bit/price-protection-bot/internal/filing"
	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/monitor"
	"github.com/tatolapchik-bit/price-protection-bot/internal/storage/pgclaims"
)

type Repository interface {
	ClaimDuePurchases(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.TrackedPurchase, error)
	ClaimDueFilings(ctx context.Context, now time.Time, maxAge time.Duration, limit int, lease time.Duration) ([]pgclaims.DueFiling, error)
	RecordFilingFailure(ctx context.Context, claimID uint64, nextAttemptAt time.Time, note string) error
	ExpireLapsedPurchases(ctx context.Context, now time.Time) ([]pgclaims.ExpiredPurchase, error)
	ExpireStaleClaims(ctx context.Context, now time.Time) ([]pgclaims.ExpiredClaim, error)
	CreateNotification(ctx context.Context, userID uint64, kind, message string) error

	ListUserIDs(ctx context.Context) ([]uint64, error)
	GetUserSettings(ctx context.Context, userID uint64) (*models.UserSettings, error)
	CreatePurchase(ctx context.Context, in models.PurchaseCreateInput, protectionEnd *time.Time) (*models.TrackedPurchase, bool, error)
	LastExtractionAt(ctx context.Context, userID uint64) (time.Time, error)
	RecordExtractionRun(ctx context.Context, run models.ExtractionRun) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// PriceSource — роутер источников цены.
type PriceSource interface {
	GetPrice(ctx context.Context, productURL string) (pricesource.Result, error)
}

// Filer подаёт одну заявку каскадом каналов.
type Filer interface {
	File(ctx context.Context, claim *models.Claim, p *models.TrackedPurchase, inst *models.PaymentInstrument, user *models.UserSettings) (*filing.Result, error)
}

// Mailboxes отдаёт почтовый клиент пользователя.
type Mailboxes interface {
	ForUser(ctx context.Context, userID uint64) (mailbox.Client, error)
}

// CardMatcher разрешает улики карты из письма в инструмент.
type CardMatcher interface {
	Match(ctx context.Context, userID uint64, ev cards.Evidence) *models.PaymentInstrument
}

type Settings struct {
	PriceInterval   time.Duration // default: 1 minute
	FilingInterval  time.Duration // default: 5 minutes
	ExpiryInterval  time.Duration // default: 1 hour
	MailboxInterval time.Duration // default: 30 minutes

	BatchSize   int           // default: 100
	Concurrency int           // default: 5
	Lease       time.Duration // default: 120s

	RateLimitPerMinute int64         // default: 30 per source domain
	RequestTimeout     time.Duration // default: 30s

	FilingMaxAge     time.Duration // default: 7 days
	FilingRetryDelay time.Duration // default: 6 hours

	MailQuery       string        // default: запрос по письмам-чекам
	MailLookback    time.Duration // default: 30 days при первом проходе
	MailBatchLimit  int           // default: 50
}

func (s Settings) withDefaults() Settings {
	if s.PriceInterval <= 0 {
		s.PriceInterval = time.Minute
	}
	if s.FilingInterval <= 0 {
		s.FilingInterval = 5 * time.Minute
	}
	if s.ExpiryInterval <= 0 {
		s.ExpiryInterval = time.Hour
	}
	if s.MailboxInterval <= 0 {
		s.MailboxInterval = 30 * time.Minute
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 5
	}
	if s.Lease <= 0 {
		s.Lease = 120 * time.Second
	}
	if s.RateLimitPerMinute <= 0 {
		s.RateLimitPerMinute = 30
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	if s.FilingMaxAge <= 0 {
		s.FilingMaxAge = 7 * 24 * time.Hour
	}
	if s.FilingRetryDelay <= 0 {
		s.FilingRetryDelay = 6 * time.Hour
	}
	if s.MailQuery == "" {
		s.MailQuery = `subject:(order OR receipt OR confirmation OR shipped)`
	}
	if s.MailLookback <= 0 {
		s.MailLookback = 30 * 24 * time.Hour
	}
	if s.MailBatchLimit <= 0 {
		s.MailBatchLimit = 50
	}
	return s
}

type Sweeper struct {
	repo     Repository
	producer Producer
	rl       RateLimiter
	prices   PriceSource
	filer    Filer
	mail     Mailboxes
	matcher  CardMatcher
	rules    extractor.Strategy
	semantic extractor.Strategy

	planner *monitor.Planner
	cfg     Settings

	pricesTopic string
	claimsTopic string

	triggerPrice   chan struct{}
	triggerFiling  chan struct{}
	triggerExpiry  chan struct{}
	triggerMailbox chan struct{}

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalClaimed      atomic.Int64
	totalProcessed    atomic.Int64
	totalFiled        atomic.Int64
	totalExtracted    atomic.Int64
	totalErrors       atomic.Int64
	inFlight          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, producer Producer, rl RateLimiter, prices PriceSource, filer Filer, pricesTopic, claimsTopic string) *Sweeper {
	return &Sweeper{
		repo: repo, producer: producer, rl: rl, prices: prices, filer: filer,
		planner:     monitor.DefaultPlanner(),
		cfg:         Settings{}.withDefaults(),
		pricesTopic: pricesTopic,
		claimsTopic: claimsTopic,

		triggerPrice:   make(chan struct{}, 1),
		triggerFiling:  make(chan struct{}, 1),
		triggerExpiry:  make(chan struct{}, 1),
		triggerMailbox: make(chan struct{}, 1),

		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(cfg Settings) *Sweeper {
	s.cfg = cfg.withDefaults()
	return s
}

func (s *Sweeper) WithPlanner(cfg monitor.PlannerConfig) *Sweeper {
	s.planner = monitor.NewPlanner(cfg, nil)
	return s
}

// WithMailbox включает почтовый проход.
func (s *Sweeper) WithMailbox(mail Mailboxes, matcher CardMatcher, rules, semantic extractor.Strategy) *Sweeper {
	s.mail = mail
	s.matcher = matcher
	s.rules = rules
	s.semantic = semantic
	return s
}

// TriggerPrices запускает внеочередной проход (best-effort, неблокирующий).
func (s *Sweeper) TriggerPrices()  { nudge(s.triggerPrice) }
func (s *Sweeper) TriggerFiling()  { nudge(s.triggerFiling) }
func (s *Sweeper) TriggerExpiry()  { nudge(s.triggerExpiry) }
func (s *Sweeper) TriggerMailbox() { nudge(s.triggerMailbox) }

func nudge(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalFiled     int64      `json:"totalFiled"`
	TotalExtracted int64      `json:"totalExtracted"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalFiled:     s.totalFiled.Load(),
		TotalExtracted: s.totalExtracted.Load(),
		TotalErrors:    s.totalErrors.Load(),
		InFlight:       s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) noteError(err error) {
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

// Run крутит все проходы до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) error {
	priceT := time.NewTicker(s.cfg.PriceInterval)
	defer priceT.Stop()
	filingT := time.NewTicker(s.cfg.FilingInterval)
	defer filingT.Stop()
	expiryT := time.NewTicker(s.cfg.ExpiryInterval)
	defer expiryT.Stop()
	mailT := time.NewTicker(s.cfg.MailboxInterval)
	defer mailT.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-priceT.C:
			s.runPriceSweep(ctx)
		case <-s.triggerPrice:
			s.runPriceSweep(ctx)
		case <-filingT.C:
			s.runFilingSweep(ctx)
		case <-s.triggerFiling:
			s.runFilingSweep(ctx)
		case <-expiryT.C:
			s.runExpirySweep(ctx)
		case <-s.triggerExpiry:
			s.runExpirySweep(ctx)
		case <-mailT.C:
			s.runMailboxSweep(ctx)
		case <-s.triggerMailbox:
			s.runMailboxSweep(ctx)
		}
	}
}
