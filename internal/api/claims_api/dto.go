package claims_api

import (
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/claims"
)

type purchaseDTO struct {
	ID             uint64     `json:"id"`
	UserID         uint64     `json:"userId"`
	ProductName    string     `json:"productName"`
	Retailer       string     `json:"retailer"`
	PurchaseCents  int64      `json:"purchaseCents"`
	CurrentCents   int64      `json:"currentCents"`
	LowestCents    int64      `json:"lowestCents"`
	LowestAt       *time.Time `json:"lowestAt,omitempty"`
	PurchasedAt    time.Time  `json:"purchasedAt"`
	ProductURL     string     `json:"productUrl,omitempty"`
	InstrumentID   *uint64    `json:"instrumentId,omitempty"`
	ProtectionEnd  *time.Time `json:"protectionEnd,omitempty"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	LastCheckedAt  *time.Time `json:"lastCheckedAt,omitempty"`
	NextCheckAt    time.Time  `json:"nextCheckAt"`
	CheckFailCount int32      `json:"checkFailCount,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toPurchaseDTO(p *models.TrackedPurchase) purchaseDTO {
	return purchaseDTO{
		ID:             p.ID,
		UserID:         p.UserID,
		ProductName:    p.ProductName,
		Retailer:       p.Retailer,
		PurchaseCents:  p.PurchaseCents,
		CurrentCents:   p.CurrentCents,
		LowestCents:    p.LowestCents,
		LowestAt:       p.LowestAt,
		PurchasedAt:    p.PurchasedAt,
		ProductURL:     derefString(p.ProductURL),
		InstrumentID:   p.InstrumentID,
		ProtectionEnd:  p.ProtectionEnd,
		Status:         p.Status,
		Source:         p.Source,
		LastCheckedAt:  p.LastCheckedAt,
		NextCheckAt:    p.NextCheckAt,
		CheckFailCount: p.CheckFailCount,
		LastError:      derefString(p.LastError),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

type instrumentDTO struct {
	ID               uint64    `json:"id"`
	UserID           uint64    `json:"userId"`
	Nickname         string    `json:"nickname"`
	Network          string    `json:"network"`
	Issuer           string    `json:"issuer"`
	Last4            string    `json:"last4"`
	ProtectionDays   int32     `json:"protectionDays"`
	MaxClaimCents    int64     `json:"maxClaimCents"`
	ClaimChannel     string    `json:"claimChannel,omitempty"`
	ClaimDestination string    `json:"claimDestination,omitempty"`
	AutoClaimEnabled bool      `json:"autoClaimEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toInstrumentDTO(i *models.PaymentInstrument) instrumentDTO {
	return instrumentDTO{
		ID:               i.ID,
		UserID:           i.UserID,
		Nickname:         i.Nickname,
		Network:          i.Network,
		Issuer:           i.Issuer,
		Last4:            i.Last4,
		ProtectionDays:   i.ProtectionDays,
		MaxClaimCents:    i.MaxClaimCents,
		ClaimChannel:     i.ClaimChannel,
		ClaimDestination: i.ClaimDestination,
		AutoClaimEnabled: i.AutoClaimEnabled,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
}

type claimDTO struct {
	ID                 uint64     `json:"id"`
	PurchaseID         uint64     `json:"purchaseId"`
	InstrumentID       uint64     `json:"instrumentId"`
	OriginalCents      int64      `json:"originalCents"`
	NewCents           int64      `json:"newCents"`
	ClaimedCents       int64      `json:"claimedCents"`
	Status             string     `json:"status"`
	ChannelUsed        string     `json:"channelUsed,omitempty"`
	Destination        string     `json:"destination,omitempty"`
	ProviderMessageID  string     `json:"providerMessageId,omitempty"`
	ConfirmationToken  string     `json:"confirmationToken,omitempty"`
	DocumentRef        string     `json:"documentRef,omitempty"`
	PriceEvidenceRef   string     `json:"priceEvidenceRef,omitempty"`
	SubmissionProofRef string     `json:"submissionProofRef,omitempty"`
	FiledAt            *time.Time `json:"filedAt,omitempty"`
	NextAttemptAt      time.Time  `json:"nextAttemptAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toClaimDTO(c *models.Claim) claimDTO {
	return claimDTO{
		ID:                 c.ID,
		PurchaseID:         c.PurchaseID,
		InstrumentID:       c.InstrumentID,
		OriginalCents:      c.OriginalCents,
		NewCents:           c.NewCents,
		ClaimedCents:       c.ClaimedCents,
		Status:             c.Status,
		ChannelUsed:        derefString(c.ChannelUsed),
		Destination:        derefString(c.Destination),
		ProviderMessageID:  derefString(c.ProviderMessageID),
		ConfirmationToken:  derefString(c.ConfirmationToken),
		DocumentRef:        derefString(c.DocumentRef),
		PriceEvidenceRef:   derefString(c.PriceEvidenceRef),
		SubmissionProofRef: derefString(c.SubmissionProofRef),
		FiledAt:            c.FiledAt,
		NextAttemptAt:      c.NextAttemptAt,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

type historyDTO struct {
	Status string    `json:"status"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

func toHistoryDTOs(hs []*models.ClaimStatusEntry) []historyDTO {
	out := make([]historyDTO, 0, len(hs))
	for _, h := range hs {
		out = append(out, historyDTO{Status: h.Status, Note: h.Note, At: h.At})
	}
	return out
}

type proofBundleDTO struct {
	Claim     claimDTO               `json:"claim"`
	History   []historyDTO           `json:"history"`
	Artifacts []claims.ProofArtifact `json:"artifacts"`
}

type observationDTO struct {
	ID         uint64    `json:"id"`
	PurchaseID uint64    `json:"purchaseId"`
	Cents      int64     `json:"cents"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observedAt"`
}

type notificationDTO struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"userId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
