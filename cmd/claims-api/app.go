package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	claimsapi "github.com/tatolapchik-bit/price-protection-bot/internal/api/claims_api"
	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/messages"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/claims"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/purchases"
)

type claimsAPIOpts struct {
	httpAddr    string
	swaggerPath string

	pricesTopic   string
	claimsTopic   string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runClaimsAPI(ctx context.Context, opts claimsAPIOpts,
	purchasesSvc *purchases.Service, claimsSvc *claims.Service,
	pricesConsumer, claimsConsumer kafkaConsumer) error {

	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := claimsapi.New(purchasesSvc, claimsSvc).Routes()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	go func() {
		slog.Info("kafka consumer started", "topic", opts.pricesTopic, "group", opts.consumerGroup)
		_ = pricesConsumer.Consume(ctx, func(_key, value []byte) error {
			var m messages.PriceChecked
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			return purchasesSvc.ApplyPriceChecked(ctx, m)
		})
	}()
	go func() {
		slog.Info("kafka consumer started", "topic", opts.claimsTopic, "group", opts.consumerGroup)
		_ = claimsConsumer.Consume(ctx, func(_key, value []byte) error {
			var m messages.ClaimUpdated
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			return claimsSvc.ApplyClaimUpdated(ctx, m)
		})
	}()

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
