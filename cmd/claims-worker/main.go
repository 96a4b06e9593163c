package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tatolapchik-bit/price-protection-bot/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if sw := os.Getenv("swaggerPath"); sw != "" {
		cfg.PriceBot.SwaggerPath = sw
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunClaimsWorker(ctx, cfg, defaultWorkerFactories()); err != nil && err != context.Canceled {
		panic(err)
	}
}
