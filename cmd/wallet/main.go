package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sagashop/orderflow/internal/config"
	"github.com/sagashop/orderflow/internal/httpx"
	kafkax "github.com/sagashop/orderflow/internal/kafka"
	"github.com/sagashop/orderflow/internal/logging"
	"github.com/sagashop/orderflow/internal/postgres"
	"github.com/sagashop/orderflow/internal/redisx"
	"github.com/sagashop/orderflow/internal/saga"
	"github.com/sagashop/orderflow/internal/shutdown"
	"github.com/sagashop/orderflow/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "wallet-participant"
	}
	log := logging.New(cfg.ServiceName)
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate failed", "err", err)
		os.Exit(1)
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pOK := kafkax.NewProducer(log, cfg.KafkaBrokers, saga.TopicWalletOK, 1024)
	pOK.Start()
	pRollback := kafkax.NewProducer(log, cfg.KafkaBrokers, saga.TopicRollback, 1024)
	pRollback.Start()

	svc := &wallet.Service{
		Log:              log,
		Store:            &wallet.Repo{DB: db},
		Dedup:            &redisx.Dedup{C: rdb, Service: cfg.ServiceName},
		ProducerOK:       pOK,
		ProducerRollback: pRollback,
		ServiceName:      cfg.ServiceName,
	}

	group := getenv("WALLET_GROUP", "wallet-svc")
	subs := []struct {
		topic   string
		handler kafkax.Handler
	}{
		{saga.TopicOrderCreated, svc.HandleOrderCreated},
		{saga.TopicRollback, svc.HandleCompensation},
		{saga.TopicCancelOrder, svc.HandleCompensation},
	}
	for _, sub := range subs {
		cons := kafkax.NewConsumer(log, cfg.KafkaBrokers, group, sub.topic, cfg.Workers)
		go func(topic string, c *kafkax.Consumer, h kafkax.Handler) {
			log.Info("consumer started", "topic", topic, "group", group)
			if err := c.Start(ctx, h); err != nil {
				log.Error("consumer exited", "topic", topic, "err", err)
				cancel()
			}
		}(sub.topic, cons, sub.handler)
	}

	router := httpx.NewRouter()
	wh := &httpx.WalletHandler{Service: svc}
	wh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	pOK.Close()
	pRollback.Close()
	pOK.WaitClosed()
	pRollback.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
