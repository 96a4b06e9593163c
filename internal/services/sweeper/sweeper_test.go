package sweeper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/messages"
	"github.com/tatolapchik-bit/price-protection-bot/internal/cards"
	"github.com/tatolapchik-bit/price-protection-bot/internal/extractor"
	"github.com/tatolapchik-bit/price-protection-bot/internal/filing"
	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	"github.com/tatolapchik-bit/price-protection-bot/internal/storage/pgclaims"
)

type fakeRepo struct {
	due           []*models.TrackedPurchase
	dueFilings    []pgclaims.DueFiling
	expired       []pgclaims.ExpiredPurchase
	expiredClaims []pgclaims.ExpiredClaim
	userIDs       []uint64
	settings      map[uint64]*models.UserSettings
	lastExtract   time.Time

	claimCalls    int
	failures      []string
	notifications []string
	created       []models.PurchaseCreateInput
	createdFlags  []bool
	runs          []models.ExtractionRun
	seen          map[string]bool
}

func newRepo() *fakeRepo {
	return &fakeRepo{settings: map[uint64]*models.UserSettings{}, seen: map[string]bool{}}
}

func (r *fakeRepo) ClaimDuePurchases(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.TrackedPurchase, error) {
	r.claimCalls++
	out := r.due
	r.due = nil
	return out, nil
}

func (r *fakeRepo) ClaimDueFilings(ctx context.Context, now time.Time, maxAge time.Duration, limit int, lease time.Duration) ([]pgclaims.DueFiling, error) {
	out := r.dueFilings
	r.dueFilings = nil
	return out, nil
}

func (r *fakeRepo) RecordFilingFailure(ctx context.Context, claimID uint64, nextAttemptAt time.Time, note string) error {
	r.failures = append(r.failures, note)
	return nil
}

func (r *fakeRepo) ExpireLapsedPurchases(ctx context.Context, now time.Time) ([]pgclaims.ExpiredPurchase, error) {
	out := r.expired
	r.expired = nil
	return out, nil
}

func (r *fakeRepo) ExpireStaleClaims(ctx context.Context, now time.Time) ([]pgclaims.ExpiredClaim, error) {
	out := r.expiredClaims
	r.expiredClaims = nil
	return out, nil
}

func (r *fakeRepo) CreateNotification(ctx context.Context, userID uint64, kind, message string) error {
	r.notifications = append(r.notifications, kind)
	return nil
}

func (r *fakeRepo) ListUserIDs(ctx context.Context) ([]uint64, error) { return r.userIDs, nil }

func (r *fakeRepo) GetUserSettings(ctx context.Context, userID uint64) (*models.UserSettings, error) {
	if u, ok := r.settings[userID]; ok {
		return u, nil
	}
	return &models.UserSettings{UserID: userID, MinDropCents: 500, ExtractorMode: "rules"}, nil
}

func (r *fakeRepo) CreatePurchase(ctx context.Context, in models.PurchaseCreateInput, protectionEnd *time.Time) (*models.TrackedPurchase, bool, error) {
	created := true
	if in.SourceMessageID != nil {
		if r.seen[*in.SourceMessageID] {
			created = false
		}
		r.seen[*in.SourceMessageID] = true
	}
	if created {
		r.created = append(r.created, in)
	}
	r.createdFlags = append(r.createdFlags, created)
	return &models.TrackedPurchase{ID: uint64(len(r.created))}, created, nil
}

func (r *fakeRepo) LastExtractionAt(ctx context.Context, userID uint64) (time.Time, error) {
	return r.lastExtract, nil
}

func (r *fakeRepo) RecordExtractionRun(ctx context.Context, run models.ExtractionRun) error {
	r.runs = append(r.runs, run)
	return nil
}

type fakeProducer struct {
	topics []string
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.values = append(p.values, value)
	return nil
}

type fakeRL struct {
	allowed bool
	keys    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	return r.allowed, 1, nil
}

type fakePrices struct {
	cents int64
	err   error
	urls  []string
}

func (p *fakePrices) GetPrice(ctx context.Context, productURL string) (pricesource.Result, error) {
	p.urls = append(p.urls, productURL)
	if p.err != nil {
		return pricesource.Result{}, p.err
	}
	return pricesource.Result{Cents: p.cents, Source: "page:" + pricesource.Domain(productURL)}, nil
}

type fakeFiler struct {
	res *filing.Result
	err error
	n   int
}

func (f *fakeFiler) File(ctx context.Context, claim *models.Claim, p *models.TrackedPurchase, inst *models.PaymentInstrument, user *models.UserSettings) (*filing.Result, error) {
	f.n++
	return f.res, f.err
}

type fakeMailboxes struct {
	msgs []mailbox.Message
	err  error
}

func (m *fakeMailboxes) ForUser(ctx context.Context, userID uint64) (mailbox.Client, error) {
	return fakeMailClient{msgs: m.msgs, err: m.err}, nil
}

type fakeMailClient struct {
	msgs []mailbox.Message
	err  error
}

func (c fakeMailClient) ListMessages(ctx context.Context, query string, since time.Time, limit int) ([]mailbox.Message, error) {
	return c.msgs, c.err
}

type fakeMatcher struct {
	inst *models.PaymentInstrument
}

func (m *fakeMatcher) Match(ctx context.Context, userID uint64, ev cards.Evidence) *models.PaymentInstrument {
	return m.inst
}

func duePurchase(id uint64, url string) *models.TrackedPurchase {
	var u *string
	if url != "" {
		u = &url
	}
	return &models.TrackedPurchase{
		ID: id, UserID: 1, ProductURL: u,
		Status: models.PurchaseStatusMonitoring,
	}
}

func TestPriceSweep_PublishesResult(t *testing.T) {
	repo := newRepo()
	repo.due = []*models.TrackedPurchase{duePurchase(10, "https://www.amazon.com/dp/B0TEST")}
	fp := &fakeProducer{}
	rl := &fakeRL{allowed: true}
	prices := &fakePrices{cents: 8999}
	s := New(repo, fp, rl, prices, nil, "purchase.price_checked", "claim.updated")

	s.runPriceSweep(context.Background())

	require.Equal(t, []string{"purchase.price_checked"}, fp.topics)
	var msg messages.PriceChecked
	require.NoError(t, json.Unmarshal(fp.values[0], &msg))
	require.Equal(t, uint64(10), msg.PurchaseID)
	require.Equal(t, int64(8999), msg.Cents)
	require.Nil(t, msg.Error)
	require.False(t, msg.NextCheckAt.IsZero())

	// Лимит считается по домену источника.
	require.Len(t, rl.keys, 1)
	require.Contains(t, rl.keys[0], "rl:source:amazon.com:")

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalClaimed)
	require.Equal(t, int64(1), st.TotalProcessed)
	require.Equal(t, int64(0), st.TotalErrors)
}

func TestPriceSweep_SourceErrorPublishesBackoff(t *testing.T) {
	repo := newRepo()
	p := duePurchase(10, "https://www.bestbuy.com/site/x")
	p.CheckFailCount = 1
	repo.due = []*models.TrackedPurchase{p}
	fp := &fakeProducer{}
	prices := &fakePrices{err: pipeline.SourceUnavailable(errors.New("timeout"), "fetch")}
	s := New(repo, fp, nil, prices, nil, "purchase.price_checked", "claim.updated")

	s.runPriceSweep(context.Background())

	var msg messages.PriceChecked
	require.NoError(t, json.Unmarshal(fp.values[0], &msg))
	require.NotNil(t, msg.Error)
	// Вторая неудача подряд: ступень лестницы backoff, а не обычное окно.
	require.WithinDuration(t, time.Now().UTC().Add(time.Hour), msg.NextCheckAt, time.Minute)
}

func TestPriceSweep_NoURL(t *testing.T) {
	repo := newRepo()
	repo.due = []*models.TrackedPurchase{duePurchase(10, "")}
	fp := &fakeProducer{}
	s := New(repo, fp, nil, &fakePrices{}, nil, "purchase.price_checked", "claim.updated")

	s.runPriceSweep(context.Background())

	var msg messages.PriceChecked
	require.NoError(t, json.Unmarshal(fp.values[0], &msg))
	require.NotNil(t, msg.Error)
	require.Equal(t, "no product url", *msg.Error)
}

func dueFiling() pgclaims.DueFiling {
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	return pgclaims.DueFiling{
		Claim:      &models.Claim{ID: 7, PurchaseID: 5, Status: models.ClaimStatusReadyToFile, ClaimedCents: 3000},
		Purchase:   &models.TrackedPurchase{ID: 5, UserID: 1, ProtectionEnd: &end},
		Instrument: &models.PaymentInstrument{ID: 3, Issuer: "CHASE", Last4: "4242"},
	}
}

func TestFilingSweep_SuccessPublishes(t *testing.T) {
	repo := newRepo()
	repo.dueFilings = []pgclaims.DueFiling{dueFiling()}
	fp := &fakeProducer{}
	filer := &fakeFiler{res: &filing.Result{
		Status: models.ClaimStatusEmailSent, Channel: models.ClaimChannelEmail,
		Destination: "priceprotection@chase.example.com",
	}}
	s := New(repo, fp, nil, nil, filer, "purchase.price_checked", "claim.updated")

	s.runFilingSweep(context.Background())

	require.Equal(t, 1, filer.n)
	require.Equal(t, []string{"claim.updated"}, fp.topics)
	var msg messages.ClaimUpdated
	require.NoError(t, json.Unmarshal(fp.values[0], &msg))
	require.Equal(t, uint64(7), msg.ClaimID)
	require.Equal(t, models.ClaimStatusEmailSent, msg.Status)
	require.Equal(t, int64(1), s.Stats().TotalFiled)
}

func TestFilingSweep_FailureRecordsRetry(t *testing.T) {
	repo := newRepo()
	repo.dueFilings = []pgclaims.DueFiling{dueFiling()}
	fp := &fakeProducer{}
	filer := &fakeFiler{err: pipeline.ChannelFailure(errors.New("boom"), "all filing channels exhausted")}
	s := New(repo, fp, nil, nil, filer, "purchase.price_checked", "claim.updated")

	s.runFilingSweep(context.Background())

	require.Empty(t, fp.topics)
	require.Len(t, repo.failures, 1)
	require.Equal(t, int64(1), s.Stats().TotalErrors)
	// Исчерпание каскада видно пользователю: подавать придётся вручную.
	require.Equal(t, []string{"claim_manual_action"}, repo.notifications)
}

func TestFilingSweep_TransientFailureNoNotification(t *testing.T) {
	repo := newRepo()
	repo.dueFilings = []pgclaims.DueFiling{dueFiling()}
	filer := &fakeFiler{err: errors.New("portal timeout")}
	s := New(repo, &fakeProducer{}, nil, nil, filer, "p", "c")

	s.runFilingSweep(context.Background())

	require.Len(t, repo.failures, 1)
	require.Empty(t, repo.notifications)
}

func TestFilingSweep_InvariantSkipsQuietly(t *testing.T) {
	repo := newRepo()
	repo.dueFilings = []pgclaims.DueFiling{dueFiling()}
	filer := &fakeFiler{err: errors.Wrap(pipeline.ErrInvariantViolation, "already filed")}
	s := New(repo, &fakeProducer{}, nil, nil, filer, "p", "c")

	s.runFilingSweep(context.Background())

	require.Empty(t, repo.failures, "инвариант не ретраится")
	require.Equal(t, int64(0), s.Stats().TotalErrors)
}

func TestExpirySweep_Notifies(t *testing.T) {
	repo := newRepo()
	repo.expired = []pgclaims.ExpiredPurchase{{ID: 5, UserID: 1, ProductName: "Headphones"}}
	s := New(repo, &fakeProducer{}, nil, nil, nil, "p", "c")

	s.runExpirySweep(context.Background())
	require.Equal(t, []string{"purchase_expired"}, repo.notifications)
}

func TestExpirySweep_PublishesExpiredClaims(t *testing.T) {
	repo := newRepo()
	repo.expiredClaims = []pgclaims.ExpiredClaim{{ID: 7, PurchaseID: 5, UserID: 1}}
	fp := &fakeProducer{}
	s := New(repo, fp, nil, nil, nil, "purchase.price_checked", "claim.updated")

	s.runExpirySweep(context.Background())

	require.Equal(t, []string{"claim.updated"}, fp.topics)
	var msg messages.ClaimUpdated
	require.NoError(t, json.Unmarshal(fp.values[0], &msg))
	require.Equal(t, uint64(7), msg.ClaimID)
	require.Equal(t, uint64(1), msg.UserID)
	require.Equal(t, models.ClaimStatusExpired, msg.Status)
}

func TestMailboxSweep_ExtractsAndDedupes(t *testing.T) {
	repo := newRepo()
	repo.userIDs = []uint64{1}
	msgs := []mailbox.Message{{
		ID:      "m-1",
		From:    "auto-confirm@amazon.com",
		Subject: "Your Amazon.com order has shipped",
		Body: "Noise Cancelling Headphones\n" +
			"Order Total: $59.99\n" +
			"Paid with Visa card ending in 4242\n",
		Date: time.Now().UTC(),
	}}
	inst := &models.PaymentInstrument{ID: 3, ProtectionDays: 90}
	s := New(repo, &fakeProducer{}, nil, nil, nil, "p", "c").
		WithMailbox(&fakeMailboxes{msgs: msgs}, &fakeMatcher{inst: inst}, extractor.NewRules(), nil)

	s.runMailboxSweep(context.Background())

	require.Len(t, repo.created, 1)
	in := repo.created[0]
	require.Equal(t, int64(5999), in.PurchaseCents)
	require.Equal(t, models.PurchaseSourceEmail, in.Source)
	require.Equal(t, "m-1", *in.SourceMessageID)
	require.Equal(t, uint64(3), *in.InstrumentID)

	require.Len(t, repo.runs, 1)
	require.Equal(t, int32(1), repo.runs[0].MessagesScanned)
	require.Equal(t, int32(1), repo.runs[0].PurchasesCreated)
	require.Nil(t, repo.runs[0].Error)

	// Повторный проход того же письма не создаёт дубль.
	s.runMailboxSweep(context.Background())
	require.Len(t, repo.created, 1)
	require.Equal(t, int32(0), repo.runs[1].PurchasesCreated)
}

func TestMailboxSweep_DisconnectedRecordsRun(t *testing.T) {
	repo := newRepo()
	repo.userIDs = []uint64{1}
	s := New(repo, &fakeProducer{}, nil, nil, nil, "p", "c").
		WithMailbox(&fakeMailboxes{err: mailbox.ErrNotConnected}, nil, extractor.NewRules(), nil)

	s.runMailboxSweep(context.Background())

	require.Len(t, repo.runs, 1)
	require.NotNil(t, repo.runs[0].Error)
	require.Equal(t, int64(1), s.Stats().TotalErrors)
}

func TestSweeper_RunStopsOnContextCancel(t *testing.T) {
	repo := newRepo()
	s := New(repo, &fakeProducer{}, nil, &fakePrices{}, nil, "p", "c").
		WithSettings(Settings{PriceInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, repo.claimCalls, 1)
}
