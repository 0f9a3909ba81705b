package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fatihkizil1453/go-marketplace-orders/internal/config"
	kafkax "github.com/fatihkizil1453/go-marketplace-orders/internal/kafka"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/logx"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/messaging"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/notifier"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/orders"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/postgres"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logx.Setup(cfg.ServiceName+"-notifier", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notifier.Service{
		Sink:        &messaging.Repo{DB: db},
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-notifier",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicFulfillment, cfg.NotifierWorkers)

	go func() {
		logger.Info().
			Str("group", cfg.NotifierGroup).
			Str("topic", orders.TopicFulfillment).
			Int("workers", cfg.NotifierWorkers).
			Msg("notifier consumer started")
		if err := cons.Start(ctx, svc.HandleEvent); err != nil {
			logger.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down consumer")
	cancel()
}
