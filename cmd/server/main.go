package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/tahwil/tahwil-ledger/internal/api"
	"github.com/tahwil/tahwil-ledger/internal/config"
	"github.com/tahwil/tahwil-ledger/internal/handler"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/kafka"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/redis"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/observability"
	core "github.com/tahwil/tahwil-ledger/internal/repository/postgres"
	service "github.com/tahwil/tahwil-ledger/internal/services"
)

func main() {
	cfg := config.Load()

	shutdown := observability.Setup("ledger-service")
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	txManager := core.NewTxManager(db)
	balanceRepo := core.NewPostgresBalanceRepository(db)
	transferRepo := core.NewPostgresTransferRepository(db)
	poolRepo := core.NewPostgresPoolRepository(db)
	rateRepo := core.NewPostgresRateRepository(db)
	txnRepo := core.NewPostgresTransactionRepository(db)
	adminTxnRepo := core.NewPostgresAdminTransactionRepository(db)
	unifiedRepo := core.NewPostgresUnifiedRepository(db)
	userRepo := core.NewPostgresUserRepository(db)
	tradeRepo := core.NewPostgresMarketTradeRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	kafkaProducer := kafka.NewProducer(cfg.KafkaBrokers)
	defer kafkaProducer.Close()

	resolver := service.NewRateService(rateRepo, redisClient, cfg.DefaultRate)
	escrow := service.NewEscrowManager(resolver, transferRepo)
	allocator := service.NoReferralAllocator{}
	pool := service.NewPoolService(poolRepo, balanceRepo, txnRepo, txManager, allocator, cfg.AdminUserID)
	settlement := service.NewSettlementService(
		txManager, balanceRepo, transferRepo, txnRepo, adminTxnRepo, userRepo,
		resolver, escrow, pool, redisClient, kafkaProducer,
	)

	tradeConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "market-trades", "ledger-service-group", tradeRepo)
	go tradeConsumer.Consume(context.Background())
	defer tradeConsumer.Close()

	h := handler.NewHandler(settlement, escrow, pool, adminTxnRepo, unifiedRepo, txnRepo)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
