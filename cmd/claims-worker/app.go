package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tatolapchik-bit/price-protection-bot/config"
	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/kafka"
	"github.com/tatolapchik-bit/price-protection-bot/internal/cache/rediscache"
	"github.com/tatolapchik-bit/price-protection-bot/internal/cards"
	"github.com/tatolapchik-bit/price-protection-bot/internal/documents"
	"github.com/tatolapchik-bit/price-protection-bot/internal/extractor"
	"github.com/tatolapchik-bit/price-protection-bot/internal/filing"
	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource"
	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource/apisource"
	pricefake "github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource/fake"
	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/pricesource/pagesource"
	"github.com/tatolapchik-bit/price-protection-bot/internal/integrations/semantichttp"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailbox/gmailhttp"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailer"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailer/relayhttp"
	"github.com/tatolapchik-bit/price-protection-bot/internal/mailer/usermail"
	"github.com/tatolapchik-bit/price-protection-bot/internal/money"
	"github.com/tatolapchik-bit/price-protection-bot/internal/render"
	"github.com/tatolapchik-bit/price-protection-bot/internal/render/browserhttp"
	renderfake "github.com/tatolapchik-bit/price-protection-bot/internal/render/fake"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/monitor"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/sweeper"
	"github.com/tatolapchik-bit/price-protection-bot/internal/storage/pgclaims"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (*pgclaims.Storage, func(), error)
	newProducer    func(cfg *config.Config) sweeper.Producer
	newRateLimiter func(cfg *config.Config) sweeper.RateLimiter
	newEngine      func(cfg *config.Config) render.Engine
	newPriceSource func(cfg *config.Config, engine render.Engine) sweeper.PriceSource
	newPrimaryMail func(cfg *config.Config) mailer.Sender
	newRelayMail   func(cfg *config.Config) mailer.Sender
	newMailboxes   func(cfg *config.Config) sweeper.Mailboxes
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (*pgclaims.Storage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgclaims.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) sweeper.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) sweeper.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newEngine: func(cfg *config.Config) render.Engine {
			// Без сконфигурированного sidecar используем локальный fake.
			if cfg.PriceBot.BrowserBaseURL == "" {
				return renderfake.New()
			}
			base := cfg.PriceBot.BrowserBaseURL
			return render.NewLazy(func() (render.Engine, error) {
				return browserhttp.New(base), nil
			})
		},
		newPriceSource: func(cfg *config.Config, engine render.Engine) sweeper.PriceSource {
			if cfg.PriceBot.PriceAPIBaseURL == "" && cfg.PriceBot.BrowserBaseURL == "" {
				return pricefake.New()
			}
			var api pricesource.Client
			if cfg.PriceBot.PriceAPIBaseURL != "" {
				api = apisource.New(cfg.PriceBot.PriceAPIBaseURL, cfg.PriceBot.PriceAPIKey)
			}
			return pricesource.NewRouter(api, cfg.PriceBot.PriceAPIDomains, pagesource.New(engine))
		},
		newPrimaryMail: func(cfg *config.Config) mailer.Sender {
			if cfg.PriceBot.UserMailBaseURL == "" {
				return nil
			}
			return usermail.New(cfg.PriceBot.UserMailBaseURL, cfg.PriceBot.UserMailToken)
		},
		newRelayMail: func(cfg *config.Config) mailer.Sender {
			if cfg.PriceBot.RelayBaseURL == "" {
				return nil
			}
			return relayhttp.New(cfg.PriceBot.RelayBaseURL, cfg.PriceBot.RelayAPIKey, cfg.PriceBot.RelayFrom)
		},
		newMailboxes: func(cfg *config.Config) sweeper.Mailboxes {
			if cfg.PriceBot.MailboxBaseURL == "" {
				return nil
			}
			return sharedMailbox{client: gmailhttp.New(cfg.PriceBot.MailboxBaseURL, cfg.PriceBot.MailboxToken)}
		},
	}
}

// sharedMailbox отдаёт один и тот же ящик всем пользователям: прокси
// хранит по одному OAuth-токену на инсталляцию.
type sharedMailbox struct {
	client mailbox.Client
}

func (m sharedMailbox) ForUser(ctx context.Context, userID uint64) (mailbox.Client, error) {
	return m.client, nil
}

// notifierAdapter подгоняет хранилище под контракт cards.Notifier.
type notifierAdapter struct {
	st *pgclaims.Storage
}

func (n notifierAdapter) Notify(ctx context.Context, userID uint64, kind, message string) error {
	return n.st.CreateNotification(ctx, userID, kind, message)
}

func sweeperSettings(cfg *config.Config) sweeper.Settings {
	s := sweeper.Settings{
		PriceInterval:      time.Duration(cfg.PriceBot.WorkerPriceIntervalSeconds) * time.Second,
		FilingInterval:     time.Duration(cfg.PriceBot.WorkerFilingIntervalSeconds) * time.Second,
		ExpiryInterval:     time.Duration(cfg.PriceBot.WorkerExpiryIntervalSeconds) * time.Second,
		MailboxInterval:    time.Duration(cfg.PriceBot.WorkerMailboxIntervalSeconds) * time.Second,
		BatchSize:          cfg.PriceBot.WorkerBatchSize,
		Concurrency:        cfg.PriceBot.WorkerConcurrency,
		Lease:              time.Duration(cfg.PriceBot.WorkerLeaseSeconds) * time.Second,
		RateLimitPerMinute: int64(cfg.PriceBot.WorkerRateLimitPerMinute),
		RequestTimeout:     time.Duration(cfg.PriceBot.WorkerRequestTimeoutSeconds) * time.Second,
		FilingMaxAge:       time.Duration(cfg.PriceBot.FilingMaxAgeHours) * time.Hour,
		FilingRetryDelay:   time.Duration(cfg.PriceBot.FilingRetryDelayHours) * time.Hour,
		MailQuery:          cfg.PriceBot.MailQuery,
		MailLookback:       time.Duration(cfg.PriceBot.MailLookbackDays) * 24 * time.Hour,
		MailBatchLimit:     cfg.PriceBot.MailBatchLimit,
	}
	return s
}

func plannerConfig(cfg *config.Config) monitor.PlannerConfig {
	return monitor.PlannerConfig{
		MonitoringMinDelay: time.Duration(cfg.PriceBot.NextCheckMonitoringMinSeconds) * time.Second,
		MonitoringMaxDelay: time.Duration(cfg.PriceBot.NextCheckMonitoringMaxSeconds) * time.Second,
		SettledDelay:       time.Duration(cfg.PriceBot.NextCheckSettledSeconds) * time.Second,
		Backoff1:           time.Duration(cfg.PriceBot.Backoff1Seconds) * time.Second,
		Backoff2:           time.Duration(cfg.PriceBot.Backoff2Seconds) * time.Second,
		Backoff3:           time.Duration(cfg.PriceBot.Backoff3Seconds) * time.Second,
		Backoff4:           time.Duration(cfg.PriceBot.Backoff4Seconds) * time.Second,
	}
}

func RunClaimsWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	pricesTopic := cfg.Kafka.PriceCheckedTopicName
	if pricesTopic == "" {
		pricesTopic = "purchase.price_checked"
	}
	claimsTopic := cfg.Kafka.ClaimUpdatedTopicName
	if claimsTopic == "" {
		claimsTopic = "claim.updated"
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	engine := f.newEngine(cfg)
	defer func() { _ = engine.Close() }()
	prices := f.newPriceSource(cfg, engine)

	var artifacts documents.ArtifactStore
	if cfg.PriceBot.ArtifactsDir != "" {
		artifacts = documents.NewFSStore(cfg.PriceBot.ArtifactsDir)
	}
	docs := documents.NewBuilder(engine, artifacts)
	filer := filing.New(engine, f.newPrimaryMail(cfg), f.newRelayMail(cfg), docs, st)

	s := sweeper.New(st, producer, rl, prices, filer, pricesTopic, claimsTopic).
		WithSettings(sweeperSettings(cfg)).
		WithPlanner(plannerConfig(cfg))

	if mailboxes := f.newMailboxes(cfg); mailboxes != nil {
		matcher := cards.New(st, notifierAdapter{st: st})
		var semantic extractor.Strategy
		if cfg.PriceBot.SemanticBaseURL != "" {
			semantic = extractor.NewSemantic(
				semantichttp.New(cfg.PriceBot.SemanticBaseURL, cfg.PriceBot.SemanticAPIKey, cfg.PriceBot.SemanticModel),
				money.ParseCents,
			)
		}
		s.WithMailbox(mailboxes, matcher, extractor.NewRules(), semantic)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.PriceBot.WorkerHTTPAddr,
			swaggerPath: cfg.PriceBot.SwaggerPath,
			sweeper:     s,
			cfg:         cfg,
		})
	})
	return g.Wait()
}
