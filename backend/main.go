package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"medeasy/ledger/internal/api"
	"medeasy/ledger/internal/config"
	"medeasy/ledger/internal/database"
	"medeasy/ledger/internal/ledger"
	"medeasy/ledger/internal/logging"
	"medeasy/ledger/internal/metrics"
	"medeasy/ledger/internal/migrations"
	"medeasy/ledger/internal/replenish"
	"medeasy/ledger/internal/service"
	"medeasy/ledger/internal/store"
)

func main() {
	tokenFor := flag.Int64("token-for", 0, "print a bearer token for the given user id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed with -token-for")
	reorderMultiple := flag.Int64("reorder-multiple", 3, "replenishment target as a multiple of the reorder threshold")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "medeasy-ledger")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mx := metrics.New(reg)

	st := store.New(db, logger.Named("store"))
	svc := service.New(st, ledger.New(st, mx, logger.Named("ledger")), mx, logger.Named("service"), service.Options{
		MaxRetries:       cfg.MaxTxRetries,
		OperationTimeout: cfg.OperationTimeout,
	})
	advisor := replenish.NewAdvisor(svc, replenish.ThresholdMultiple(*reorderMultiple), logger.Named("replenish"))
	handler := api.New(svc, advisor, cfg.Secret, reg, logger.Named("api"))

	if cfg.BootstrapAdminEmail != "" {
		admin, _, err := svc.EnsureAdmin(ctx, cfg.BootstrapAdminEmail)
		if err != nil {
			logger.Fatal("bootstrap admin failed", zap.Error(err))
		}
		logger.Info("bootstrap admin ready", zap.Int64("user_id", admin.ID))
	}

	if *tokenFor > 0 {
		token, err := handler.GenerateToken(*tokenFor, *tokenTTL)
		if err != nil {
			logger.Fatal("token generation failed", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("MedEasy ledger server starting", zap.String("addr", srv.Addr), zap.String("driver", cfg.DatabaseDriver))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
