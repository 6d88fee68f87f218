package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketpay/antifraud"
	"marketpay/config"
	"marketpay/controllers/payment"
	"marketpay/database"
	"marketpay/deals"
	"marketpay/gateway"
	"marketpay/jobs"
	"marketpay/ledger"
	"marketpay/payments"
	"marketpay/routes"
	"marketpay/services"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "marketpay").
		Logger()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("no .env file, using process environment")
	}

	cfg := config.Load()
	database.Connect()
	db := database.DB

	payClient := gateway.NewClient(cfg.Gateway, logger)
	payoutClient := gateway.NewPayoutClient(cfg.Gateway, logger)

	ledg := ledger.New(db, logger)
	resolver := deals.NewResolver(ledg, payClient, logger)
	gate := antifraud.NewLimitGate(db, cfg.AntiFraud)

	deposits := payments.NewDeposits(ledg, payClient, logger)
	withdrawals := payments.NewWithdrawals(ledg, payoutClient, resolver, gate, logger)

	handler := payment.NewHandler(db, ledg, deposits, withdrawals, payClient, payoutClient, cfg.Gateway, logger)

	app := fiber.New(fiber.Config{
		ReadTimeout: 30 * time.Second,
	})
	routes.Setup(app, handler, cfg.APIToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dealSync := services.NewDealSync(db, ledg, payClient, cfg.EventRetention, logger)
	jobs.StartDealSyncScheduler(ctx, dealSync, cfg.DealSyncInterval, logger)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	logger.Info().Str("addr", addr).Str("mode", cfg.Gateway.Mode).Msg("server starting")

	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info().Msg("shutting down")
	cancel()
	if err := app.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server exited")
}
