package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fatihkizil1453/go-marketplace-orders/internal/config"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/httpx"
	kafkax "github.com/fatihkizil1453/go-marketplace-orders/internal/kafka"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/logx"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/messaging"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/orders"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/postgres"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logx.Setup(cfg.ServiceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for lifecycle events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicFulfillment, 1024)
	prod.Start(ctx)

	// Repo & handler
	repo := &orders.Repo{
		DB:            db,
		Service:       cfg.ServiceName,
		CommissionBps: int64(cfg.CommissionBps),
	}
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Core:     repo,
		Producer: prod,
		Messages: &messaging.Repo{DB: db},
		Redis:    rdb,
		Service:  cfg.ServiceName,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // close inbox -> flush & close writer
	prod.WaitClosed()
}
