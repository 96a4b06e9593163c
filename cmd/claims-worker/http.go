package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/tatolapchik-bit/price-protection-bot/config"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/sweeper"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	sweeper *sweeper.Sweeper
	cfg     *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swagger_path is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.sweeper == nil {
			_, _ = w.Write([]byte(`{"error":"sweeper not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.sweeper.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Секреты наружу не отдаём, только операционные настройки.
		out := map[string]any{
			"priceIntervalSeconds":   opts.cfg.PriceBot.WorkerPriceIntervalSeconds,
			"filingIntervalSeconds":  opts.cfg.PriceBot.WorkerFilingIntervalSeconds,
			"expiryIntervalSeconds":  opts.cfg.PriceBot.WorkerExpiryIntervalSeconds,
			"mailboxIntervalSeconds": opts.cfg.PriceBot.WorkerMailboxIntervalSeconds,
			"batchSize":              opts.cfg.PriceBot.WorkerBatchSize,
			"concurrency":            opts.cfg.PriceBot.WorkerConcurrency,
			"leaseSeconds":           opts.cfg.PriceBot.WorkerLeaseSeconds,
			"rateLimitPerMinute":     opts.cfg.PriceBot.WorkerRateLimitPerMinute,
			"filingMaxAgeHours":      opts.cfg.PriceBot.FilingMaxAgeHours,
			"filingRetryDelayHours":  opts.cfg.PriceBot.FilingRetryDelayHours,
			"mailLookbackDays":       opts.cfg.PriceBot.MailLookbackDays,
			"mailBatchLimit":         opts.cfg.PriceBot.MailBatchLimit,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	trigger := func(name string, fn func()) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if opts.sweeper == nil {
				_, _ = w.Write([]byte(`{"error":"sweeper not wired"}`))
				return
			}
			fn()
			_ = json.NewEncoder(w).Encode(map[string]any{"triggered": name})
		}
	}
	r.Post("/trigger/prices", trigger("prices", func() { opts.sweeper.TriggerPrices() }))
	r.Post("/trigger/filing", trigger("filing", func() { opts.sweeper.TriggerFiling() }))
	r.Post("/trigger/expiry", trigger("expiry", func() { opts.sweeper.TriggerExpiry() }))
	r.Post("/trigger/mailbox", trigger("mailbox", func() { opts.sweeper.TriggerMailbox() }))

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
