package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/harborbank/fundsflow/internal/api"
	"github.com/harborbank/fundsflow/internal/config"
	"github.com/harborbank/fundsflow/internal/notify"
	"github.com/harborbank/fundsflow/internal/otp"
	"github.com/harborbank/fundsflow/internal/resolver"
	"github.com/harborbank/fundsflow/internal/service"
	"github.com/harborbank/fundsflow/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("funds-movement engine starting", zap.String("env", cfg.Env))

	ledgerStore, err := store.New(cfg.DBSource, logger.With(zap.String("component", "store")))
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer ledgerStore.Close()

	notifier := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic,
		logger.With(zap.String("component", "notifier")))
	defer notifier.Close()

	gate := otp.NewGate(ledgerStore, otp.Config{
		TTL:            cfg.OTPTTL,
		MaxAttempts:    cfg.OTPMaxAttempts,
		ResendCooldown: cfg.OTPResendCooldown,
	}, logger.With(zap.String("component", "otp")))

	orchestrator := service.NewOrchestrator(
		ledgerStore,
		resolver.New(ledgerStore),
		gate,
		notifier,
		cfg,
		logger.With(zap.String("component", "orchestrator")),
	)

	handler := api.NewHandler(ledgerStore, orchestrator, logger.With(zap.String("component", "api")))
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(handler),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
