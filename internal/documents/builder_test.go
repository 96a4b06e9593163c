package documents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	renderfake "github.com/tatolapchik-bit/price-protection-bot/internal/render/fake"
)

func testClaim() (*models.Claim, *models.TrackedPurchase, *models.PaymentInstrument) {
	url := "https://www.amazon.com/dp/B0TEST"
	claim := &models.Claim{
		ID:            17,
		PurchaseID:    5,
		OriginalCents: 12999,
		NewCents:      9999,
		ClaimedCents:  3000,
	}
	purchase := &models.TrackedPurchase{
		ID:          5,
		ProductName: "Noise Cancelling Headphones",
		Retailer:    "Amazon",
		PurchasedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		ProductURL:  &url,
	}
	inst := &models.PaymentInstrument{
		ID:       3,
		Nickname: "Chase Freedom",
		Last4:    "4242",
		Network:  "VISA",
	}
	return claim, purchase, inst
}

func TestBuilder_BuildSummary(t *testing.T) {
	store := NewFSStore(t.TempDir())
	b := NewBuilder(nil, store)

	claim, purchase, inst := testClaim()
	ref, content, err := b.BuildSummary(claim, purchase, inst, "Alex Morgan")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref, "claims/17/summary-"))
	require.True(t, strings.HasSuffix(ref, ".html"))

	html := string(content)
	require.Contains(t, html, "Alex Morgan")
	require.Contains(t, html, "ending in 4242")
	require.Contains(t, html, "Noise Cancelling Headphones")
	require.Contains(t, html, "$129.99")
	require.Contains(t, html, "$99.99")
	require.Contains(t, html, "$30.00")
	require.Contains(t, html, "https://www.amazon.com/dp/B0TEST")

	stored, err := store.Get(ref)
	require.NoError(t, err)
	require.Equal(t, content, stored)
}

func TestBuilder_BuildSummary_NeverOverwrites(t *testing.T) {
	store := NewFSStore(t.TempDir())
	b := NewBuilder(nil, store)

	claim, purchase, inst := testClaim()
	ref1, _, err := b.BuildSummary(claim, purchase, inst, "Alex Morgan")
	require.NoError(t, err)
	ref2, _, err := b.BuildSummary(claim, purchase, inst, "Alex Morgan")
	require.NoError(t, err)
	require.NotEqual(t, ref1, ref2)
}

func TestBuilder_CapturePriceEvidence(t *testing.T) {
	eng := renderfake.New()
	eng.Shot = []byte{0x89, 'P', 'N', 'G'}
	store := NewFSStore(t.TempDir())
	b := NewBuilder(eng, store)

	ref, shot := b.CapturePriceEvidence(context.Background(), 17, "https://www.amazon.com/dp/B0TEST")
	require.True(t, strings.HasPrefix(ref, "claims/17/evidence-"))
	require.Equal(t, eng.Shot, shot)
	require.Contains(t, eng.Actions, "navigate:https://www.amazon.com/dp/B0TEST")
	require.Zero(t, eng.OpenSessions)
}

func TestBuilder_CapturePriceEvidence_NoURL(t *testing.T) {
	eng := renderfake.New()
	b := NewBuilder(eng, NewFSStore(t.TempDir()))

	ref, shot := b.CapturePriceEvidence(context.Background(), 17, "")
	require.Empty(t, ref)
	require.Nil(t, shot)
	require.Zero(t, eng.Sessions)
}

func TestBuilder_CaptureSubmissionProof(t *testing.T) {
	eng := renderfake.New()
	store := NewFSStore(t.TempDir())
	b := NewBuilder(eng, store)

	ref := b.CaptureSubmissionProof(context.Background(), 17, ProofInput{
		Destination: "disputes@chase.com",
		Channel:     models.ClaimChannelEmail,
		Subject:     "Price Protection Claim",
		Body:        "claim body",
		SentAt:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	})
	require.True(t, strings.HasPrefix(ref, "claims/17/proof-"))
	require.True(t, strings.HasSuffix(ref, ".png"))
	require.Contains(t, eng.LastContent, "disputes@chase.com")
	require.Zero(t, eng.OpenSessions)
}

func TestBuilder_CaptureSubmissionProof_NoEngine(t *testing.T) {
	store := NewFSStore(t.TempDir())
	b := NewBuilder(nil, store)

	ref := b.CaptureSubmissionProof(context.Background(), 17, ProofInput{
		Destination: "disputes@chase.com",
		Channel:     models.ClaimChannelEmail,
		Subject:     "Price Protection Claim",
		SentAt:      time.Now(),
	})
	require.True(t, strings.HasSuffix(ref, ".html"))

	content, err := store.Get(ref)
	require.NoError(t, err)
	require.Contains(t, string(content), "disputes@chase.com")
}

func TestFSStore_PutRejectsExistingAndTraversal(t *testing.T) {
	store := NewFSStore(t.TempDir())
	require.NoError(t, store.Put("claims/1/a.html", []byte("x")))
	require.Error(t, store.Put("claims/1/a.html", []byte("y")))
	require.Error(t, store.Put("../outside", []byte("x")))
}
