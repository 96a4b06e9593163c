// Package documents собирает артефакты заявки: сводный документ,
// снимок страницы с новой ценой и подтверждение отправки.
package documents

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
	"github.com/tatolapchik-bit/price-protection-bot/internal/render"
)

var summaryTmpl = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Price Protection Claim</title></head>
<body>
<h1>Price Protection Claim</h1>
<h2>Cardholder</h2>
<p>{{.Cardholder}}<br>Card: {{.CardNickname}} ending in {{.Last4}} ({{.Network}})</p>
<h2>Purchase</h2>
<table border="1" cellpadding="4">
<tr><td>Product</td><td>{{.Product}}</td></tr>
<tr><td>Retailer</td><td>{{.Retailer}}</td></tr>
<tr><td>Purchase date</td><td>{{.PurchaseDate}}</td></tr>
<tr><td>Purchase price</td><td>{{.OriginalPrice}}</td></tr>
</table>
<h2>Price drop</h2>
<table border="1" cellpadding="4">
<tr><td>Current advertised price</td><td>{{.NewPrice}}</td></tr>
<tr><td>Difference</td><td>{{.Difference}}</td></tr>
<tr><td>Claimed amount</td><td><b>{{.ClaimedAmount}}</b></td></tr>
</table>
{{if .ProductURL}}<p>Advertised at: {{.ProductURL}}</p>{{end}}
<p>Generated {{.GeneratedAt}}</p>
</body>
</html>
`))

var proofTmpl = template.Must(template.New("proof").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Submission Proof</title></head>
<body>
<h1>Claim Submitted</h1>
<p><b>Sent to:</b> {{.Destination}}<br>
<b>Channel:</b> {{.Channel}}<br>
<b>Sent at:</b> {{.SentAt}}</p>
<h2>Message</h2>
<p><b>Subject:</b> {{.Subject}}</p>
<pre>{{.Body}}</pre>
</body>
</html>
`))

type summaryData struct {
	Cardholder    string
	CardNickname  string
	Last4         string
	Network       string
	Product       string
	Retailer      string
	PurchaseDate  string
	OriginalPrice string
	NewPrice      string
	Difference    string
	ClaimedAmount string
	ProductURL    string
	GeneratedAt   string
}

type Builder struct {
	engine render.Engine
	store  ArtifactStore
}

func NewBuilder(engine render.Engine, store ArtifactStore) *Builder {
	return &Builder{engine: engine, store: store}
}

// BuildSummary рендерит сводный документ заявки и кладёт его в
// хранилище под уникальной ссылкой (claim id + токен): повторная
// генерация при ретрае никогда не перепишет уже отправленный документ.
func (b *Builder) BuildSummary(claim *models.Claim, p *models.TrackedPurchase, inst *models.PaymentInstrument, cardholder string) (string, []byte, error) {
	data := summaryData{
		Cardholder:    cardholder,
		CardNickname:  inst.Nickname,
		Last4:         inst.Last4,
		Network:       inst.Network,
		Product:       p.ProductName,
		Retailer:      p.Retailer,
		PurchaseDate:  p.PurchasedAt.Format("2006-01-02"),
		OriginalPrice: money.FormatUSD(claim.OriginalCents),
		NewPrice:      money.FormatUSD(claim.NewCents),
		Difference:    money.FormatUSD(claim.OriginalCents - claim.NewCents),
		ClaimedAmount: money.FormatUSD(claim.ClaimedCents),
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if p.ProductURL != nil {
		data.ProductURL = *p.ProductURL
	}

	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, data); err != nil {
		return "", nil, errors.Wrap(err, "render summary")
	}

	ref := artifactRef(claim.ID, "summary", "html")
	if err := b.store.Put(ref, buf.Bytes()); err != nil {
		return "", nil, err
	}
	return ref, buf.Bytes(), nil
}

// CapturePriceEvidence делает снимок страницы товара с новой ценой.
// Отсутствие снимка не валит подачу: заявка уходит и без него.
func (b *Builder) CapturePriceEvidence(ctx context.Context, claimID uint64, productURL string) (string, []byte) {
	if b.engine == nil || productURL == "" {
		return "", nil
	}
	shot, err := b.capture(ctx, func(ctx context.Context, s render.Session) error {
		return s.Navigate(ctx, productURL)
	})
	if err != nil {
		slog.Warn("price evidence capture", "claim_id", claimID, "error", err.Error())
		return "", nil
	}
	ref := artifactRef(claimID, "evidence", "png")
	if err := b.store.Put(ref, shot); err != nil {
		slog.Warn("price evidence store", "claim_id", claimID, "error", err.Error())
		return "", nil
	}
	return ref, shot
}

// ProofInput — что именно было отправлено и куда.
type ProofInput struct {
	Destination string
	Channel     string
	Subject     string
	Body        string
	SentAt      time.Time
}

// CaptureSubmissionProof рендерит визуальное подтверждение отправки —
// независимое от квитанций почтового провайдера.
func (b *Builder) CaptureSubmissionProof(ctx context.Context, claimID uint64, in ProofInput) string {
	var buf bytes.Buffer
	if err := proofTmpl.Execute(&buf, map[string]string{
		"Destination": in.Destination,
		"Channel":     in.Channel,
		"Subject":     in.Subject,
		"Body":        in.Body,
		"SentAt":      in.SentAt.UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Warn("render proof", "claim_id", claimID, "error", err.Error())
		return ""
	}

	content := buf.Bytes()
	ext := "html"
	if b.engine != nil {
		if shot, err := b.capture(ctx, func(ctx context.Context, s render.Session) error {
			return s.SetContent(ctx, buf.String())
		}); err == nil {
			content = shot
			ext = "png"
		}
	}

	ref := artifactRef(claimID, "proof", ext)
	if err := b.store.Put(ref, content); err != nil {
		slog.Warn("proof store", "claim_id", claimID, "error", err.Error())
		return ""
	}
	return ref
}

// StoreProof сохраняет уже готовый снимок (финальный экран портала)
// как артефакт подтверждения подачи.
func (b *Builder) StoreProof(claimID uint64, shot []byte) string {
	if len(shot) == 0 {
		return ""
	}
	ref := artifactRef(claimID, "proof", "png")
	if err := b.store.Put(ref, shot); err != nil {
		slog.Warn("proof store", "claim_id", claimID, "error", err.Error())
		return ""
	}
	return ref
}

func (b *Builder) capture(ctx context.Context, load func(context.Context, render.Session) error) (shot []byte, err error) {
	sess, err := b.engine.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := load(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Screenshot(ctx)
}

func artifactRef(claimID uint64, kind, ext string) string {
	return fmt.Sprintf("claims/%d/%s-%s.%s", claimID, kind, uuid.NewString(), ext)
}
