package filing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/documents"
	"github.com/tatolapchik-bit/price-protection-bot/internal/issuers"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailer"
	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	"github.com/tatolapchik-bit/price-protection-bot/internal/render"
)

// Store — минимум персистентности, нужный файлеру.
type Store interface {
	// UpdateClaimFiling сохраняет результат подачи и добавляет запись
	// в журнал статусов.
	UpdateClaimFiling(ctx context.Context, c *models.Claim, note string) error
	SetPurchaseStatusIf(ctx context.Context, purchaseID uint64, expected, next string) (bool, error)
}

// Result — что произошло при подаче, для публикации события.
type Result struct {
	Status      string
	Channel     string
	Destination string
	Note        string
}

type Filer struct {
	engine  render.Engine
	primary mailer.Sender // почта от имени пользователя
	relay   mailer.Sender // сервисный релей
	docs    *documents.Builder
	store   Store
	now     func() time.Time
}

func New(engine render.Engine, primary, relay mailer.Sender, docs *documents.Builder, store Store) *Filer {
	return &Filer{
		engine:  engine,
		primary: primary,
		relay:   relay,
		docs:    docs,
		store:   store,
		now:     time.Now,
	}
}

// File подаёт заявку каскадом каналов. Порядок фиксированный:
// портал эмитента (если описан), письмо из ящика пользователя,
// сервисный релей. Первый успех завершает каскад; исчерпание всех
// каналов — ошибка ErrChannelFailure, заявка остаётся READY_TO_FILE.
func (f *Filer) File(ctx context.Context, claim *models.Claim, p *models.TrackedPurchase, inst *models.PaymentInstrument, user *models.UserSettings) (*Result, error) {
	if claim.Status != models.ClaimStatusReadyToFile && claim.Status != models.ClaimStatusDraft {
		return nil, errors.Wrapf(pipeline.ErrInvariantViolation, "claim %d in status %s", claim.ID, claim.Status)
	}

	iss := issuers.Lookup(inst.Issuer)
	facts := newClaimFacts(claim, p, inst, user.FullName)

	// Документы собираются до каскада: все каналы отправляют один
	// и тот же комплект.
	docRef, docContent, err := f.docs.BuildSummary(claim, p, inst, user.FullName)
	if err != nil {
		return nil, err
	}
	claim.DocumentRef = &docRef

	var evidence []byte
	if p.ProductURL != nil {
		if ref, shot := f.docs.CapturePriceEvidence(ctx, claim.ID, *p.ProductURL); ref != "" {
			claim.PriceEvidenceRef = &ref
			evidence = shot
		}
	}

	var failures []string
	record := func(channel string, err error) {
		slog.Warn("filing channel failed",
			"claim_id", claim.ID, "channel", channel, "error", err.Error())
		failures = append(failures, channel+": "+err.Error())
	}

	// Канал 1: портал.
	usePortal := iss.Channel == models.ClaimChannelPortal || inst.ClaimChannel == models.ClaimChannelPortal
	if usePortal && len(iss.PortalSteps) > 0 {
		token, shot, perr := runPortal(ctx, f.engine, iss, facts.portalVars("price-evidence.png"), evidence)
		if perr == nil {
			return f.finishPortal(ctx, claim, p, iss, token, shot)
		}
		record(models.ClaimChannelPortal, perr)
	}

	// Каналы 2 и 3: письмо. Адрес у обоих транспортов один.
	dest := Destination(inst, iss)
	subject, body := buildClaimEmail(iss, facts, f.now())
	msg := mailer.Message{
		From:    user.Email,
		To:      dest,
		Subject: subject,
		Body:    body,
		Attachments: []mailer.Attachment{
			{Filename: "claim-summary.html", MIMEType: "text/html", Content: docContent},
		},
	}
	if len(evidence) > 0 {
		msg.Attachments = append(msg.Attachments,
			mailer.Attachment{Filename: "price-evidence.png", MIMEType: "image/png", Content: evidence})
	}

	for _, tr := range []struct {
		name   string
		sender mailer.Sender
	}{
		{"primary mail", f.primary},
		{"relay mail", f.relay},
	} {
		if tr.sender == nil {
			continue
		}
		msgID, serr := tr.sender.Send(ctx, msg)
		if serr == nil {
			return f.finishEmail(ctx, claim, p, dest, msgID, subject, body)
		}
		record(tr.name, serr)
	}

	return nil, pipeline.ChannelFailure(
		errors.New(strings.Join(failures, "; ")), "all filing channels exhausted")
}

func (f *Filer) finishPortal(ctx context.Context, claim *models.Claim, p *models.TrackedPurchase, iss issuers.Issuer, token string, shot []byte) (*Result, error) {
	now := f.now()
	channel := models.ClaimChannelPortal
	claim.Status = models.ClaimStatusFiled
	claim.ChannelUsed = &channel
	claim.Destination = &iss.PortalURL
	claim.FiledAt = &now
	if token != "" {
		claim.ConfirmationToken = &token
	}
	if ref := f.docs.StoreProof(claim.ID, shot); ref != "" {
		claim.SubmissionProofRef = &ref
	}

	note := "filed via issuer portal"
	if token != "" {
		note += ", confirmation " + token
	}
	return f.persist(ctx, claim, p, note)
}

func (f *Filer) finishEmail(ctx context.Context, claim *models.Claim, p *models.TrackedPurchase, dest, msgID, subject, body string) (*Result, error) {
	now := f.now()
	channel := models.ClaimChannelEmail
	claim.Status = models.ClaimStatusEmailSent
	claim.ChannelUsed = &channel
	claim.Destination = &dest
	claim.ProviderMessageID = &msgID
	claim.FiledAt = &now
	if ref := f.docs.CaptureSubmissionProof(ctx, claim.ID, documents.ProofInput{
		Destination: dest,
		Channel:     channel,
		Subject:     subject,
		Body:        body,
		SentAt:      now,
	}); ref != "" {
		claim.SubmissionProofRef = &ref
	}

	return f.persist(ctx, claim, p, "claim email sent to "+dest)
}

func (f *Filer) persist(ctx context.Context, claim *models.Claim, p *models.TrackedPurchase, note string) (*Result, error) {
	if err := f.store.UpdateClaimFiling(ctx, claim, note); err != nil {
		return nil, err
	}
	// Покупка переводится условно: если статус уже ушёл, молча не трогаем.
	moved, err := f.store.SetPurchaseStatusIf(ctx, p.ID, models.PurchaseStatusClaimEligible, models.PurchaseStatusClaimFiled)
	if err != nil {
		return nil, err
	}
	if !moved {
		slog.Warn("purchase status already moved", "purchase_id", p.ID)
	}
	res := &Result{Status: claim.Status, Note: note}
	if claim.ChannelUsed != nil {
		res.Channel = *claim.ChannelUsed
	}
	if claim.Destination != nil {
		res.Destination = *claim.Destination
	}
	return res, nil
}
