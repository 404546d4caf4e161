package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lapinex/lapinex/api"
	"github.com/lapinex/lapinex/internal/infrastructure/config"
	"github.com/lapinex/lapinex/internal/marketdata"
	"github.com/lapinex/lapinex/internal/trading/engine"
	"github.com/lapinex/lapinex/internal/trading/money"
	"github.com/lapinex/lapinex/internal/trading/store"
	"github.com/lapinex/lapinex/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to access sql.DB", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	st := store.New(db, log)
	if err := st.AutoMigrate(); err != nil {
		log.Fatal("failed to migrate schema", zap.Error(err))
	}

	hub := marketdata.NewHub(cfg.WS, log)
	publishers := marketdata.MultiPublisher{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		feed := marketdata.NewKafkaTickFeed(cfg.Kafka.Brokers, cfg.Kafka.TickTopic, log)
		defer feed.Close()
		publishers = append(publishers, feed)
	}
	priceCache := marketdata.NewPriceCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, log)

	policy := money.NewPolicy(cfg.Trading.FeeRate)
	eng := engine.New(st, policy, publishers, priceCache, cfg.Trading, log)
	server := api.NewServer(eng, st, hub, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
