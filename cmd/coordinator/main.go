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
	"github.com/sagashop/orderflow/internal/order"
	"github.com/sagashop/orderflow/internal/postgres"
	"github.com/sagashop/orderflow/internal/redisx"
	"github.com/sagashop/orderflow/internal/saga"
	"github.com/sagashop/orderflow/internal/shutdown"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
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

	pCreated := kafkax.NewProducer(log, cfg.KafkaBrokers, saga.TopicOrderCreated, 1024)
	pCreated.Start()
	pRollback := kafkax.NewProducer(log, cfg.KafkaBrokers, saga.TopicRollback, 1024)
	pRollback.Start()
	pCancel := kafkax.NewProducer(log, cfg.KafkaBrokers, saga.TopicCancelOrder, 1024)
	pCancel.Start()
	pTracking := kafkax.NewProducer(log, cfg.KafkaBrokers, saga.TopicTracking, 1024)
	pTracking.Start()

	coord := &order.Coordinator{
		Log:        log,
		Orders:     &order.Repo{DB: db},
		Ledger:     &saga.Ledger{DB: db},
		Deliveries: &order.DeliveryRepo{DB: db},
		Rollback:   pRollback,
		Cancel:     pCancel,
		Notifier:   &order.Notifier{Producer: pTracking, Service: cfg.ServiceName},
		Service:    cfg.ServiceName,
		SimTick:    cfg.SimulatorTick,
	}
	consumers := &order.Consumers{
		Coordinator: coord,
		Dedup:       &redisx.Dedup{C: rdb, Service: cfg.ServiceName},
	}

	group := getenv("COORDINATOR_GROUP", "coordinator-svc")
	subs := []struct {
		topic   string
		handler kafkax.Handler
	}{
		{saga.TopicOrderCreated, consumers.HandleOrderCreated},
		{saga.TopicWalletOK, consumers.HandleWalletOK},
		{saga.TopicStockOK, consumers.HandleStockOK},
		{saga.TopicRollback, consumers.HandleRollback},
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
	oh := &httpx.OrdersHandler{
		Coordinator: coord,
		Producer:    pCreated,
		Cache:       &redisx.Store{C: rdb},
		Service:     cfg.ServiceName,
	}
	oh.Register(router)

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
	for _, p := range []*kafkax.Producer{pCreated, pRollback, pCancel, pTracking} {
		p.Close()
	}
	for _, p := range []*kafkax.Producer{pCreated, pRollback, pCancel, pTracking} {
		p.WaitClosed()
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
