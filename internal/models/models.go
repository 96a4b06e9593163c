package models

import "time"

// Статусы отслеживаемой покупки (жизненный цикл защиты цены).
const (
	PurchaseStatusMonitoring        = "MONITORING"
	PurchaseStatusPriceDropDetected = "PRICE_DROP_DETECTED"
	PurchaseStatusClaimEligible     = "CLAIM_ELIGIBLE"
	PurchaseStatusClaimFiled        = "CLAIM_FILED"
	PurchaseStatusClaimApproved     = "CLAIM_APPROVED"
	PurchaseStatusClaimDenied       = "CLAIM_DENIED"
	PurchaseStatusExpired           = "EXPIRED"
)

// Статусы заявки на возмещение.
const (
	ClaimStatusDraft           = "DRAFT"
	ClaimStatusReadyToFile     = "READY_TO_FILE"
	ClaimStatusEmailSent       = "EMAIL_SENT"
	ClaimStatusFiled           = "FILED"
	ClaimStatusPendingReview   = "PENDING_REVIEW"
	ClaimStatusApproved        = "APPROVED"
	ClaimStatusDenied          = "DENIED"
	ClaimStatusAdditionalInfo  = "ADDITIONAL_INFO_NEEDED"
	ClaimStatusMoneyReceived   = "MONEY_RECEIVED"
	ClaimStatusExpired         = "EXPIRED"
)

// Каналы подачи заявки.
const (
	ClaimChannelPortal = "PORTAL"
	ClaimChannelEmail  = "EMAIL"
	ClaimChannelPhone  = "PHONE"
)

// Происхождение покупки.
const (
	PurchaseSourceManual = "MANUAL"
	PurchaseSourceEmail  = "EMAIL"
)

// ClaimTerminalStatuses — статусы, при которых заявка больше не считается активной.
// Инвариант "одна активная заявка на покупку" считается относительно этого набора.
var ClaimTerminalStatuses = []string{ClaimStatusDenied, ClaimStatusExpired}

type PaymentInstrument struct {
	ID               uint64
	UserID           uint64
	Nickname         string
	Network          string
	Issuer           string
	Last4            string
	ProtectionDays   int32
	MaxClaimCents    int64
	ClaimChannel     string
	ClaimDestination string
	AutoClaimEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type TrackedPurchase struct {
	ID              uint64
	UserID          uint64
	ProductName     string
	Retailer        string
	PurchaseCents   int64
	CurrentCents    int64
	LowestCents     int64
	LowestAt        *time.Time
	PurchasedAt     time.Time
	ProductURL      *string
	InstrumentID    *uint64
	ProtectionEnd   *time.Time
	Status          string
	Source          string
	SourceMessageID *string
	LastCheckedAt   *time.Time
	NextCheckAt     time.Time
	CheckFailCount  int32
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InsideProtectionWindow сообщает, действует ли ещё защитное окно покупки.
func (p *TrackedPurchase) InsideProtectionWindow(now time.Time) bool {
	return p.ProtectionEnd != nil && now.Before(*p.ProtectionEnd)
}

// PriceObservation — одно зафиксированное наблюдение цены. Append-only.
type PriceObservation struct {
	ID         uint64
	PurchaseID uint64
	Cents      int64
	Source     string
	ObservedAt time.Time
}

type Claim struct {
	ID                 uint64
	PurchaseID         uint64
	InstrumentID       uint64
	OriginalCents      int64
	NewCents           int64
	ClaimedCents       int64
	Status             string
	ChannelUsed        *string
	Destination        *string
	ProviderMessageID  *string
	ConfirmationToken  *string
	DocumentRef        *string
	PriceEvidenceRef   *string
	SubmissionProofRef *string
	FiledAt            *time.Time
	NextAttemptAt      time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ClaimStatusEntry — запись append-only журнала статусов заявки.
type ClaimStatusEntry struct {
	ID      uint64
	ClaimID uint64
	Status  string
	Note    string
	At      time.Time
}

type Notification struct {
	ID        uint64
	UserID    uint64
	Kind      string
	Message   string
	CreatedAt time.Time
}

// ExtractionRun — append-only запись одного прохода по почтовому ящику.
type ExtractionRun struct {
	ID               uint64
	UserID           uint64
	MessagesScanned  int32
	PurchasesCreated int32
	Error            *string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// UserSettings — настройки пайплайна для пользователя.
type UserSettings struct {
	UserID        uint64
	Email         string
	FullName      string
	MinDropCents  int64
	ExtractorMode string // "rules" | "semantic"
}

type PurchaseCreateInput struct {
	UserID          uint64
	ProductName     string
	Retailer        string
	PurchaseCents   int64
	PurchasedAt     time.Time
	ProductURL      *string
	InstrumentID    *uint64
	Source          string
	SourceMessageID *string
}

type InstrumentCreateInput struct {
	UserID           uint64
	Nickname         string
	Network          string
	Issuer           string
	Last4            string
	ProtectionDays   int32
	MaxClaimCents    int64
	ClaimChannel     string
	ClaimDestination string
	AutoClaimEnabled bool
}

type ClaimCreateInput struct {
	PurchaseID    uint64
	InstrumentID  uint64
	OriginalCents int64
	NewCents      int64
	ClaimedCents  int64
}
