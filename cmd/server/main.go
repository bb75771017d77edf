package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"bazaar/internal/cart"
	"bazaar/internal/checkout"
	"bazaar/internal/config"
	"bazaar/internal/escrow"
	"bazaar/internal/model"
	"bazaar/internal/order"
	"bazaar/internal/payment"
	"bazaar/internal/pricing"
	"bazaar/internal/queue"
	"bazaar/internal/router"
	"bazaar/internal/scheduler"
	"bazaar/internal/settlement"
	"bazaar/internal/stock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	carts := cart.NewRedisStore(rdb)
	pricer := pricing.NewListPricer(db, map[string]int64{
		// Flat welcome coupons until the pricing subsystem is attached.
		"HOSGELDIN10": 1000,
		"HOSGELDIN25": 2500,
	})
	stocks := stock.NewService(db, logger)
	builder := order.NewBuilder(db, logger)
	payments := payment.NewProcessor(db, rdb, payment.DefaultStrategies(), logger)
	payments.RequireVerification = true
	payments.CodeTTL = cfg.VerificationCodeTTL
	escrows := escrow.NewLedger(db, payments, logger)
	engine := settlement.NewEngine(db, escrows, payments, producer, cfg.RefundWindow, logger)
	orch := checkout.NewOrchestrator(db, carts, pricer, stocks, builder, payments, escrows, producer, logger)
	queries := order.NewQueries(db)

	sched := scheduler.New(db, engine, scheduler.Thresholds{
		ProcessingAfter: cfg.ProcessingAfter,
		ShippedAfter:    cfg.ShippedAfter,
		DeliveredAfter:  cfg.DeliveredAfter,
		CompleteWindow:  cfg.CompleteWindow,
	}, cfg.SchedulerInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sched.Run(ctx)

	r := gin.Default()
	router.Setup(r, router.Deps{
		DB:         db,
		RDB:        rdb,
		Carts:      carts,
		Checkout:   orch,
		Settlement: engine,
		Queries:    queries,
		Cfg:        cfg,
	})

	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
