package claims

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/messages"
	"github.com/tatolapchik-bit/price-protection-bot/internal/documents"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
)

type fakeRepo struct {
	claims      map[uint64]*models.Claim
	purchases   map[uint64]*models.TrackedPurchase
	instruments map[uint64]*models.PaymentInstrument
	history     map[uint64][]*models.ClaimStatusEntry

	created       []models.ClaimCreateInput
	filedNow      []uint64
	purchaseMoves []string
	notifications []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		claims:      map[uint64]*models.Claim{},
		purchases:   map[uint64]*models.TrackedPurchase{},
		instruments: map[uint64]*models.PaymentInstrument{},
		history:     map[uint64][]*models.ClaimStatusEntry{},
	}
}

func (r *fakeRepo) GetClaim(ctx context.Context, id uint64) (*models.Claim, error) {
	return r.claims[id], nil
}

func (r *fakeRepo) GetActiveClaimByPurchase(ctx context.Context, purchaseID uint64) (*models.Claim, error) {
	return nil, nil
}

func (r *fakeRepo) ListClaims(ctx context.Context, userID uint64, status string, limit, offset int) ([]*models.Claim, error) {
	return nil, nil
}

func (r *fakeRepo) CreateClaim(ctx context.Context, in models.ClaimCreateInput, nextAttemptAt time.Time) (*models.Claim, error) {
	r.created = append(r.created, in)
	c := &models.Claim{ID: uint64(len(r.created)), PurchaseID: in.PurchaseID, ClaimedCents: in.ClaimedCents, Status: models.ClaimStatusReadyToFile}
	r.claims[c.ID] = c
	return c, nil
}

func (r *fakeRepo) SetClaimStatusIf(ctx context.Context, claimID uint64, expected, next, note string) (bool, error) {
	c, ok := r.claims[claimID]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	r.history[claimID] = append(r.history[claimID], &models.ClaimStatusEntry{ClaimID: claimID, Status: next, Note: note})
	return true, nil
}

func (r *fakeRepo) ListClaimHistory(ctx context.Context, claimID uint64) ([]*models.ClaimStatusEntry, error) {
	return r.history[claimID], nil
}

func (r *fakeRepo) FileNow(ctx context.Context, claimID uint64) error {
	r.filedNow = append(r.filedNow, claimID)
	return nil
}

func (r *fakeRepo) GetPurchase(ctx context.Context, id uint64) (*models.TrackedPurchase, error) {
	return r.purchases[id], nil
}

func (r *fakeRepo) GetInstrument(ctx context.Context, id uint64) (*models.PaymentInstrument, error) {
	return r.instruments[id], nil
}

func (r *fakeRepo) SetPurchaseStatusIf(ctx context.Context, purchaseID uint64, expected, next string) (bool, error) {
	r.purchaseMoves = append(r.purchaseMoves, next)
	return true, nil
}

func (r *fakeRepo) CreateNotification(ctx context.Context, userID uint64, kind, message string) error {
	r.notifications = append(r.notifications, kind)
	return nil
}

func seed(r *fakeRepo) {
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	instID := uint64(3)
	r.instruments[3] = &models.PaymentInstrument{ID: 3, UserID: 1, Issuer: "CHASE", Last4: "4242", MaxClaimCents: 1500}
	r.purchases[5] = &models.TrackedPurchase{
		ID: 5, UserID: 1, ProductName: "Headphones",
		PurchaseCents: 10000, CurrentCents: 8000,
		InstrumentID: &instID, ProtectionEnd: &end,
		Status: models.PurchaseStatusPriceDropDetected,
	}
}

func TestCreateManualClaim_CapsAmount(t *testing.T) {
	repo := newFakeRepo()
	seed(repo)
	svc := New(repo, nil)

	c, err := svc.CreateManualClaim(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1500), c.ClaimedCents, "сумма ограничена капом карты")
}

func TestCreateManualClaim_Guards(t *testing.T) {
	repo := newFakeRepo()
	seed(repo)
	svc := New(repo, nil)

	// Нет падения цены.
	_, err := svc.CreateManualClaim(context.Background(), 5, 10000)
	require.ErrorIs(t, err, pipeline.ErrInvariantViolation)

	// Окно истекло.
	past := time.Now().UTC().Add(-time.Hour)
	repo.purchases[5].ProtectionEnd = &past
	_, err = svc.CreateManualClaim(context.Background(), 5, 8000)
	require.ErrorIs(t, err, pipeline.ErrInvariantViolation)

	// Нет карты.
	repo.purchases[5].ProtectionEnd = nil
	repo.purchases[5].InstrumentID = nil
	_, err = svc.CreateManualClaim(context.Background(), 5, 8000)
	require.ErrorIs(t, err, pipeline.ErrInvariantViolation)
}

func TestTriggerFile(t *testing.T) {
	repo := newFakeRepo()
	repo.claims[7] = &models.Claim{ID: 7, Status: models.ClaimStatusReadyToFile}
	svc := New(repo, nil)

	require.NoError(t, svc.TriggerFile(context.Background(), 7))
	require.Equal(t, []uint64{7}, repo.filedNow)

	repo.claims[7].Status = models.ClaimStatusFiled
	err := svc.TriggerFile(context.Background(), 7)
	require.ErrorIs(t, err, pipeline.ErrInvariantViolation)
}

func TestRecordDecision_FlowAndMirror(t *testing.T) {
	repo := newFakeRepo()
	repo.claims[7] = &models.Claim{ID: 7, PurchaseID: 5, Status: models.ClaimStatusEmailSent}
	svc := New(repo, nil)

	require.NoError(t, svc.RecordDecision(context.Background(), 7, models.ClaimStatusApproved, "issuer approved"))
	require.Equal(t, models.ClaimStatusApproved, repo.claims[7].Status)
	require.Equal(t, []string{models.PurchaseStatusClaimApproved}, repo.purchaseMoves)

	// Из APPROVED нельзя в DENIED.
	err := svc.RecordDecision(context.Background(), 7, models.ClaimStatusDenied, "late")
	require.ErrorIs(t, err, pipeline.ErrInvariantViolation)

	// Из APPROVED можно в MONEY_RECEIVED.
	require.NoError(t, svc.RecordDecision(context.Background(), 7, models.ClaimStatusMoneyReceived, "credited"))
}

func TestProofBundle(t *testing.T) {
	store := documents.NewFSStore(t.TempDir())
	require.NoError(t, store.Put("claims/7/summary-x.html", []byte("<html>")))

	repo := newFakeRepo()
	ref := "claims/7/summary-x.html"
	missing := "claims/7/proof-y.png"
	repo.claims[7] = &models.Claim{ID: 7, Status: models.ClaimStatusEmailSent, DocumentRef: &ref, SubmissionProofRef: &missing}
	repo.history[7] = []*models.ClaimStatusEntry{{ClaimID: 7, Status: models.ClaimStatusReadyToFile}}

	svc := New(repo, store)
	b, err := svc.ProofBundle(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, b.History, 1)
	require.Len(t, b.Artifacts, 2)
	require.Equal(t, []byte("<html>"), b.Artifacts[0].Content)
	require.Nil(t, b.Artifacts[1].Content, "пропавший файл не валит комплект")
}

func TestApplyClaimUpdated_Notifies(t *testing.T) {
	repo := newFakeRepo()
	repo.claims[7] = &models.Claim{ID: 7, PurchaseID: 5, ClaimedCents: 3000}
	svc := New(repo, nil)

	err := svc.ApplyClaimUpdated(context.Background(), messages.ClaimUpdated{
		ClaimID: 7, PurchaseID: 5, UserID: 1,
		Status: models.ClaimStatusEmailSent, Destination: "priceprotection@chase.example.com",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"claim_EMAIL_SENT"}, repo.notifications)
}

func TestApplyClaimUpdated_ExpiryNotifies(t *testing.T) {
	repo := newFakeRepo()
	repo.claims[7] = &models.Claim{ID: 7, PurchaseID: 5, ClaimedCents: 3000}
	svc := New(repo, nil)

	err := svc.ApplyClaimUpdated(context.Background(), messages.ClaimUpdated{
		ClaimID: 7, PurchaseID: 5, UserID: 1,
		Status: models.ClaimStatusExpired, Note: "protection window ended before filing",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"claim_EXPIRED"}, repo.notifications)
}
