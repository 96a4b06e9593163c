// Package claims — операции над заявками: ручное заведение, запуск
// подачи, инструкции, комплект доказательств, применение событий
// статуса из Kafka.
package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/messages"
	"github.com/tatolapchik-bit/price-protection-bot/internal/documents"
	"github.com/tatolapchik-bit/price-protection-bot/internal/filing"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/monitor"
)

type Repository interface {
	GetClaim(ctx context.Context, id uint64) (*models.Claim, error)
	GetActiveClaimByPurchase(ctx context.Context, purchaseID uint64) (*models.Claim, error)
	ListClaims(ctx context.Context, userID uint64, status string, limit, offset int) ([]*models.Claim, error)
	CreateClaim(ctx context.Context, in models.ClaimCreateInput, nextAttemptAt time.Time) (*models.Claim, error)
	SetClaimStatusIf(ctx context.Context, claimID uint64, expected, next, note string) (bool, error)
	ListClaimHistory(ctx context.Context, claimID uint64) ([]*models.ClaimStatusEntry, error)
	FileNow(ctx context.Context, claimID uint64) error

	GetPurchase(ctx context.Context, id uint64) (*models.TrackedPurchase, error)
	GetInstrument(ctx context.Context, id uint64) (*models.PaymentInstrument, error)
	SetPurchaseStatusIf(ctx context.Context, purchaseID uint64, expected, next string) (bool, error)
	CreateNotification(ctx context.Context, userID uint64, kind, message string) error
}

type Service struct {
	repo      Repository
	artifacts documents.ArtifactStore
}

func New(repo Repository, artifacts documents.ArtifactStore) *Service {
	return &Service{repo: repo, artifacts: artifacts}
}

func (s *Service) GetClaim(ctx context.Context, id uint64) (*models.Claim, error) {
	return s.repo.GetClaim(ctx, id)
}

func (s *Service) ListClaims(ctx context.Context, userID uint64, status string, limit, offset int) ([]*models.Claim, error) {
	if userID == 0 {
		return nil, errors.New("userId is required")
	}
	return s.repo.ListClaims(ctx, userID, status, limit, offset)
}

// CreateManualClaim заводит заявку по требованию пользователя, минуя
// пороговое правило. Окно и привязанная карта всё равно обязательны.
func (s *Service) CreateManualClaim(ctx context.Context, purchaseID uint64, newCents int64) (*models.Claim, error) {
	p, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Errorf("purchase %d not found", purchaseID)
	}
	if p.InstrumentID == nil {
		return nil, errors.Wrap(pipeline.ErrInvariantViolation, "purchase has no linked card")
	}
	if !p.InsideProtectionWindow(time.Now().UTC()) {
		return nil, errors.Wrap(pipeline.ErrInvariantViolation, "protection window lapsed")
	}
	if newCents <= 0 {
		newCents = p.CurrentCents
	}
	if newCents >= p.PurchaseCents {
		return nil, errors.Wrap(pipeline.ErrInvariantViolation, "no price drop to claim")
	}

	inst, err := s.repo.GetInstrument(ctx, *p.InstrumentID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, errors.Errorf("instrument %d not found", *p.InstrumentID)
	}

	return s.repo.CreateClaim(ctx, models.ClaimCreateInput{
		PurchaseID:    p.ID,
		InstrumentID:  inst.ID,
		OriginalCents: p.PurchaseCents,
		NewCents:      newCents,
		ClaimedCents:  monitor.ClaimAmount(p.PurchaseCents, newCents, inst.MaxClaimCents),
	}, time.Now().UTC())
}

// TriggerFile ставит заявку в начало очереди подачи воркера.
func (s *Service) TriggerFile(ctx context.Context, claimID uint64) error {
	c, err := s.repo.GetClaim(ctx, claimID)
	if err != nil {
		return err
	}
	if c == nil {
		return errors.Errorf("claim %d not found", claimID)
	}
	if c.Status != models.ClaimStatusReadyToFile {
		return errors.Wrapf(pipeline.ErrInvariantViolation, "claim %d in status %s", claimID, c.Status)
	}
	return s.repo.FileNow(ctx, claimID)
}

// FilingInstructions — инструкции для ручной подачи по покупке.
func (s *Service) FilingInstructions(ctx context.Context, purchaseID uint64) (*filing.Instructions, error) {
	p, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Errorf("purchase %d not found", purchaseID)
	}
	if p.InstrumentID == nil {
		return nil, errors.Wrap(pipeline.ErrInvariantViolation, "purchase has no linked card")
	}
	inst, err := s.repo.GetInstrument(ctx, *p.InstrumentID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, errors.Errorf("instrument %d not found", *p.InstrumentID)
	}
	in := filing.BuildInstructions(p, inst, time.Now().UTC())
	return &in, nil
}

// ProofArtifact — один артефакт из комплекта доказательств.
type ProofArtifact struct {
	Kind    string `json:"kind"`
	Ref     string `json:"ref"`
	Content []byte `json:"content,omitempty"`
}

// ProofBundle — заявка, её журнал статусов и собранные артефакты.
type ProofBundle struct {
	Claim     *models.Claim              `json:"claim"`
	History   []*models.ClaimStatusEntry `json:"history"`
	Artifacts []ProofArtifact            `json:"artifacts"`
}

func (s *Service) ProofBundle(ctx context.Context, claimID uint64) (*ProofBundle, error) {
	c, err := s.repo.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.Errorf("claim %d not found", claimID)
	}

	hist, err := s.repo.ListClaimHistory(ctx, claimID)
	if err != nil {
		return nil, err
	}

	bundle := &ProofBundle{Claim: c, History: hist}
	for _, a := range []struct {
		kind string
		ref  *string
	}{
		{"summary", c.DocumentRef},
		{"price_evidence", c.PriceEvidenceRef},
		{"submission_proof", c.SubmissionProofRef},
	} {
		if a.ref == nil || *a.ref == "" {
			continue
		}
		art := ProofArtifact{Kind: a.kind, Ref: *a.ref}
		if s.artifacts != nil {
			// Пропавший файл не валит весь комплект.
			if b, err := s.artifacts.Get(*a.ref); err == nil {
				art.Content = b
			}
		}
		bundle.Artifacts = append(bundle.Artifacts, art)
	}
	return bundle, nil
}

// переходы, которые заявка может получить извне (ответ эмитента)
var reviewTransitions = map[string][]string{
	models.ClaimStatusApproved:       {models.ClaimStatusEmailSent, models.ClaimStatusFiled, models.ClaimStatusPendingReview, models.ClaimStatusAdditionalInfo},
	models.ClaimStatusDenied:         {models.ClaimStatusEmailSent, models.ClaimStatusFiled, models.ClaimStatusPendingReview, models.ClaimStatusAdditionalInfo},
	models.ClaimStatusPendingReview:  {models.ClaimStatusEmailSent, models.ClaimStatusFiled},
	models.ClaimStatusAdditionalInfo: {models.ClaimStatusEmailSent, models.ClaimStatusFiled, models.ClaimStatusPendingReview},
	models.ClaimStatusMoneyReceived:  {models.ClaimStatusApproved},
}

// RecordDecision применяет ответ эмитента к заявке.
func (s *Service) RecordDecision(ctx context.Context, claimID uint64, next, note string) error {
	c, err := s.repo.GetClaim(ctx, claimID)
	if err != nil {
		return err
	}
	if c == nil {
		return errors.Errorf("claim %d not found", claimID)
	}

	allowed, ok := reviewTransitions[next]
	if !ok {
		return errors.Wrapf(pipeline.ErrInvariantViolation, "unknown decision status %s", next)
	}
	for _, from := range allowed {
		if c.Status != from {
			continue
		}
		moved, err := s.repo.SetClaimStatusIf(ctx, claimID, from, next, note)
		if err != nil {
			return err
		}
		if !moved {
			return errors.Wrapf(pipeline.ErrInvariantViolation, "claim %d moved concurrently", claimID)
		}
		s.mirrorToPurchase(ctx, c.PurchaseID, next)
		return nil
	}
	return errors.Wrapf(pipeline.ErrInvariantViolation, "cannot move claim %d from %s to %s", claimID, c.Status, next)
}

// mirrorToPurchase отражает исход заявки на статус покупки.
func (s *Service) mirrorToPurchase(ctx context.Context, purchaseID uint64, claimStatus string) {
	var next string
	switch claimStatus {
	case models.ClaimStatusApproved, models.ClaimStatusMoneyReceived:
		next = models.PurchaseStatusClaimApproved
	case models.ClaimStatusDenied:
		next = models.PurchaseStatusClaimDenied
	default:
		return
	}
	_, _ = s.repo.SetPurchaseStatusIf(ctx, purchaseID, models.PurchaseStatusClaimFiled, next)
}

// ApplyClaimUpdated превращает событие подачи в уведомление пользователю.
func (s *Service) ApplyClaimUpdated(ctx context.Context, msg messages.ClaimUpdated) error {
	if msg.ClaimID == 0 {
		return errors.New("claim_id is required")
	}

	c, err := s.repo.GetClaim(ctx, msg.ClaimID)
	if err != nil {
		return err
	}
	if c == nil {
		return errors.Errorf("claim %d not found", msg.ClaimID)
	}

	var text string
	switch msg.Status {
	case models.ClaimStatusFiled:
		text = fmt.Sprintf("Claim #%d for %s filed via issuer portal", c.ID, money.FormatUSD(c.ClaimedCents))
	case models.ClaimStatusEmailSent:
		text = fmt.Sprintf("Claim #%d for %s sent to %s", c.ID, money.FormatUSD(c.ClaimedCents), msg.Destination)
	case models.ClaimStatusExpired:
		text = fmt.Sprintf("Claim #%d expired before it could be filed", c.ID)
	default:
		text = fmt.Sprintf("Claim #%d moved to %s", c.ID, msg.Status)
	}
	return s.repo.CreateNotification(ctx, msg.UserID, "claim_"+msg.Status, text)
}
