package pgclaims

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
)

func startStorage(t *testing.T) *Storage {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "claims_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/claims_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGClaims_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := startStorage(t)

	inst, err := st.CreateInstrument(ctx, models.InstrumentCreateInput{
		UserID: 1, Nickname: "Main card", Network: "VISA", Issuer: "CHASE",
		Last4: "4242", ProtectionDays: 90, MaxClaimCents: 50000,
		AutoClaimEnabled: true,
	})
	require.NoError(t, err)
	require.NotZero(t, inst.ID)

	// Повторное создание той же карты идемпотентно.
	again, err := st.CreateInstrument(ctx, models.InstrumentCreateInput{
		UserID: 1, Nickname: "Dup", Network: "VISA", Issuer: "CHASE", Last4: "4242",
	})
	require.NoError(t, err)
	require.Equal(t, inst.ID, again.ID)

	byLast4, err := st.GetInstrumentByLast4(ctx, 1, "4242")
	require.NoError(t, err)
	require.Equal(t, inst.ID, byLast4.ID)
	missing, err := st.GetInstrumentByLast4(ctx, 1, "9999")
	require.NoError(t, err)
	require.Nil(t, missing)

	msgID := "msg-1"
	end := time.Now().UTC().Add(60 * 24 * time.Hour)
	p, created, err := st.CreatePurchase(ctx, models.PurchaseCreateInput{
		UserID: 1, ProductName: "Headphones", Retailer: "Amazon",
		PurchaseCents: 12999, PurchasedAt: time.Now().UTC().Add(-24 * time.Hour),
		InstrumentID: &inst.ID, Source: models.PurchaseSourceEmail, SourceMessageID: &msgID,
	}, &end)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.PurchaseStatusMonitoring, p.Status)
	require.Equal(t, int64(12999), p.CurrentCents)

	// То же письмо второй раз не создаёт дубль.
	p2, created2, err := st.CreatePurchase(ctx, models.PurchaseCreateInput{
		UserID: 1, ProductName: "Headphones copy", Retailer: "Amazon",
		PurchaseCents: 1, PurchasedAt: time.Now().UTC(),
		Source: models.PurchaseSourceEmail, SourceMessageID: &msgID,
	}, &end)
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, p.ID, p2.ID)

	// Первое наблюдение засеяно ценой покупки.
	obs, err := st.ListObservations(ctx, p.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	require.Equal(t, int64(12999), obs[0].Cents)

	// ClaimDuePurchases + lease.
	now := time.Now().UTC()
	lease := 10 * time.Second
	due, err := st.ClaimDuePurchases(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.WithinDuration(t, now.Add(lease), due[0].NextCheckAt, 2*time.Second)

	// Проверка цены: минимум двигается только вниз.
	require.NoError(t, st.ApplyPriceCheck(ctx, PriceCheck{
		PurchaseID: p.ID, CheckedAt: now, Cents: 9999, Source: "page:amazon.com",
		NextCheckAt: now.Add(6 * time.Hour),
	}))
	require.NoError(t, st.ApplyPriceCheck(ctx, PriceCheck{
		PurchaseID: p.ID, CheckedAt: now.Add(time.Minute), Cents: 11999, Source: "page:amazon.com",
		NextCheckAt: now.Add(6 * time.Hour),
	}))
	p, err = st.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(11999), p.CurrentCents)
	require.Equal(t, int64(9999), p.LowestCents)

	// Условный переход: проигравший видит false.
	moved, err := st.SetPurchaseStatusIf(ctx, p.ID, models.PurchaseStatusMonitoring, models.PurchaseStatusClaimEligible)
	require.NoError(t, err)
	require.True(t, moved)
	moved, err = st.SetPurchaseStatusIf(ctx, p.ID, models.PurchaseStatusMonitoring, models.PurchaseStatusPriceDropDetected)
	require.NoError(t, err)
	require.False(t, moved)

	// Одна активная заявка на покупку.
	claim, err := st.CreateClaim(ctx, models.ClaimCreateInput{
		PurchaseID: p.ID, InstrumentID: inst.ID,
		OriginalCents: 12999, NewCents: 9999, ClaimedCents: 3000,
	}, now)
	require.NoError(t, err)
	require.Equal(t, models.ClaimStatusReadyToFile, claim.Status)

	_, err = st.CreateClaim(ctx, models.ClaimCreateInput{
		PurchaseID: p.ID, InstrumentID: inst.ID,
		OriginalCents: 12999, NewCents: 8999, ClaimedCents: 4000,
	}, now)
	require.ErrorIs(t, err, ErrActiveClaimExists)

	active, err := st.GetActiveClaimByPurchase(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, claim.ID, active.ID)

	// Очередь подачи.
	filings, err := st.ClaimDueFilings(ctx, now.Add(time.Second), 7*24*time.Hour, 10, lease)
	require.NoError(t, err)
	require.Len(t, filings, 1)
	require.Equal(t, claim.ID, filings[0].Claim.ID)
	require.Equal(t, p.ID, filings[0].Purchase.ID)
	require.Equal(t, inst.ID, filings[0].Instrument.ID)

	// Подача: статус, журнал, условный переход покупки.
	channel := models.ClaimChannelEmail
	dest := "priceprotection@chase.example.com"
	filedAt := time.Now().UTC()
	claim.Status = models.ClaimStatusEmailSent
	claim.ChannelUsed = &channel
	claim.Destination = &dest
	claim.FiledAt = &filedAt
	require.NoError(t, st.UpdateClaimFiling(ctx, claim, "claim email sent"))

	got, err := st.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.Equal(t, models.ClaimStatusEmailSent, got.Status)
	require.Equal(t, dest, *got.Destination)

	hist, err := st.ListClaimHistory(ctx, claim.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, models.ClaimStatusReadyToFile, hist[0].Status)
	require.Equal(t, models.ClaimStatusEmailSent, hist[1].Status)

	ok, err := st.SetClaimStatusIf(ctx, claim.ID, models.ClaimStatusEmailSent, models.ClaimStatusApproved, "issuer replied")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.SetClaimStatusIf(ctx, claim.ID, models.ClaimStatusEmailSent, models.ClaimStatusDenied, "late transition")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPGClaims_ExpiryAndAudit(t *testing.T) {
	ctx := context.Background()
	st := startStorage(t)

	inst, err := st.CreateInstrument(ctx, models.InstrumentCreateInput{
		UserID: 2, Nickname: "Card", Network: "VISA", Issuer: "UNKNOWN", Last4: "1111",
		AutoClaimEnabled: true, ProtectionDays: 60, MaxClaimCents: 25000,
	})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	p, _, err := st.CreatePurchase(ctx, models.PurchaseCreateInput{
		UserID: 2, ProductName: "Old purchase", Retailer: "Target",
		PurchaseCents: 5000, PurchasedAt: time.Now().UTC().Add(-90 * 24 * time.Hour),
		InstrumentID: &inst.ID, Source: models.PurchaseSourceManual,
	}, &past)
	require.NoError(t, err)

	stale, err := st.CreateClaim(ctx, models.ClaimCreateInput{
		PurchaseID: p.ID, InstrumentID: inst.ID,
		OriginalCents: 5000, NewCents: 4000, ClaimedCents: 1000,
	}, time.Now().UTC())
	require.NoError(t, err)

	expired, err := st.ExpireLapsedPurchases(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, p.ID, expired[0].ID)

	staleClaims, err := st.ExpireStaleClaims(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, staleClaims, 1)
	require.Equal(t, stale.ID, staleClaims[0].ID)
	require.Equal(t, p.ID, staleClaims[0].PurchaseID)
	require.Equal(t, uint64(2), staleClaims[0].UserID)

	// Переход в EXPIRED тоже попадает в журнал статусов.
	hist, err := st.ListClaimHistory(ctx, stale.ID)
	require.NoError(t, err)
	require.NotEmpty(t, hist)
	last := hist[len(hist)-1]
	require.Equal(t, models.ClaimStatusExpired, last.Status)
	require.Contains(t, last.Note, "protection window ended")

	// После закрытия старой заявки новая создаётся без конфликта.
	_, err = st.CreateClaim(ctx, models.ClaimCreateInput{
		PurchaseID: p.ID, InstrumentID: inst.ID,
		OriginalCents: 5000, NewCents: 3000, ClaimedCents: 2000,
	}, time.Now().UTC())
	require.NoError(t, err)

	// Настройки и аудит.
	require.NoError(t, st.UpsertUserSettings(ctx, &models.UserSettings{
		UserID: 2, Email: "u2@example.com", FullName: "User Two",
		MinDropCents: 1000, ExtractorMode: "semantic",
	}))
	u, err := st.GetUserSettings(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1000), u.MinDropCents)
	def, err := st.GetUserSettings(ctx, 777)
	require.NoError(t, err)
	require.Equal(t, int64(500), def.MinDropCents)
	require.Equal(t, "rules", def.ExtractorMode)

	require.NoError(t, st.CreateNotification(ctx, 2, "price_drop", "price dropped"))
	ns, err := st.ListNotifications(ctx, 2, 10, 0)
	require.NoError(t, err)
	require.Len(t, ns, 1)

	started := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.RecordExtractionRun(ctx, models.ExtractionRun{
		UserID: 2, MessagesScanned: 12, PurchasesCreated: 3,
		StartedAt: started, FinishedAt: time.Now().UTC(),
	}))
	runs, err := st.ListExtractionRuns(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, int32(3), runs[0].PurchasesCreated)

	lastAt, err := st.LastExtractionAt(ctx, 2)
	require.NoError(t, err)
	require.False(t, lastAt.IsZero())
}
