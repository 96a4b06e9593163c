package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tatolapchik-bit/price-protection-bot/config"
	"github.com/tatolapchik-bit/price-protection-bot/internal/broker/kafka"
	"github.com/tatolapchik-bit/price-protection-bot/internal/cache/rediscache"
	"github.com/tatolapchik-bit/price-protection-bot/internal/documents"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/claims"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/purchases"
	"github.com/tatolapchik-bit/price-protection-bot/internal/storage/pgclaims"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.PriceBot.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.PriceBot.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "claims-api"
	}
	pricesTopic := cfg.Kafka.PriceCheckedTopicName
	if pricesTopic == "" {
		pricesTopic = "purchase.price_checked"
	}
	claimsTopic := cfg.Kafka.ClaimUpdatedTopicName
	if claimsTopic == "" {
		claimsTopic = "claim.updated"
	}
	cacheTTL := time.Duration(cfg.PriceBot.CurrentPurchaseTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pgclaims.New(connString)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	purchasesSvc := purchases.New(st, rc, cacheTTL)

	var artifacts documents.ArtifactStore
	if cfg.PriceBot.ArtifactsDir != "" {
		artifacts = documents.NewFSStore(cfg.PriceBot.ArtifactsDir)
	}
	claimsSvc := claims.New(st, artifacts)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	pricesConsumer := kafka.NewConsumer(brokers, pricesTopic, consumerGroup)
	defer func() { _ = pricesConsumer.Close() }()
	claimsConsumer := kafka.NewConsumer(brokers, claimsTopic, consumerGroup)
	defer func() { _ = claimsConsumer.Close() }()

	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = cfg.PriceBot.SwaggerPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runClaimsAPI(ctx, claimsAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		pricesTopic:   pricesTopic,
		claimsTopic:   claimsTopic,
		consumerGroup: consumerGroup,
	}, purchasesSvc, claimsSvc, pricesConsumer, claimsConsumer); err != nil && err != context.Canceled {
		panic(err)
	}
}
