package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gvmbt/pvndora-shop/internal/auth"
	"github.com/gvmbt/pvndora-shop/internal/carts"
	"github.com/gvmbt/pvndora-shop/internal/checkout"
	"github.com/gvmbt/pvndora-shop/internal/config"
	"github.com/gvmbt/pvndora-shop/internal/database"
	"github.com/gvmbt/pvndora-shop/internal/fulfill"
	"github.com/gvmbt/pvndora-shop/internal/handlers"
	"github.com/gvmbt/pvndora-shop/internal/inventory"
	"github.com/gvmbt/pvndora-shop/internal/metrics"
	"github.com/gvmbt/pvndora-shop/internal/money"
	"github.com/gvmbt/pvndora-shop/internal/notify"
	"github.com/gvmbt/pvndora-shop/internal/orders"
	"github.com/gvmbt/pvndora-shop/internal/payments"
	"github.com/gvmbt/pvndora-shop/internal/promo"
	"github.com/gvmbt/pvndora-shop/internal/rates"
	"github.com/gvmbt/pvndora-shop/internal/referral"
	"github.com/gvmbt/pvndora-shop/internal/routes"
	"github.com/gvmbt/pvndora-shop/internal/sweeper"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// 0. --- Load Environment Variables (.env) ---
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on system environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is not set")
	}

	// 1. --- Database Connection ---
	db, err := database.Open(cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// 2. --- Metrics, Notifications ---
	m := metrics.NewCommerce()

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotificationsEnabled {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.RabbitMQURL,
			cfg.NotifyExchangeName, cfg.NotifyRoutingKey, m)
		if err != nil {
			// Notifications are best-effort; a dead broker must not block checkout.
			log.Error().Err(err).Msg("RabbitMQ unavailable, falling back to log notifier")
		} else {
			defer amqpNotifier.Close()
			notifier = amqpNotifier
		}
	}

	// 3. --- Repositories ---
	ledger := inventory.NewLedger(db, m)
	orderRepo := orders.NewRepository(db)
	cartRepo := carts.NewRepository(db)
	promoRepo := promo.NewRepository(db)
	referralRepo := referral.NewRepository(db)

	// 4. --- Domain Services ---
	integerCurrencies := cfg.IntegerCurrencySet()
	baseCurrency := money.Currency{Code: cfg.BaseCurrency, Integer: integerCurrencies[cfg.BaseCurrency]}
	gatewayCurrency := money.Currency{Code: cfg.GatewayCurrency, Integer: integerCurrencies[cfg.GatewayCurrency]}

	gateway := payments.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayTimeout)
	rateProvider := rates.NewCachedProvider(
		rates.NewHTTPProvider(cfg.RatesURL, cfg.GatewayTimeout),
		cfg.RatesTTL, decimal.NewFromFloat(cfg.DefaultRate))

	checkoutSvc := checkout.NewService(ledger, orderRepo, cartRepo, promoRepo,
		gateway, rateProvider, notifier, m, checkout.Options{
			PaymentWindow:   cfg.PaymentWindow,
			Cooldown:        cfg.CheckoutCooldown,
			BaseCurrency:    baseCurrency,
			GatewayCurrency: gatewayCurrency,
			PaymentRetries:  cfg.GatewayRetries,
		})

	settler := referral.NewSettler(referralRepo, notifier, m,
		cfg.CommissionPercents(), baseCurrency)
	fulfillSvc := fulfill.NewService(orderRepo, ledger, gateway, settler, notifier)

	sw := sweeper.New(orderRepo, ledger, notifier, m, sweeper.Options{
		StaleFallback: cfg.StaleFallback,
		BatchSize:     cfg.SweepBatchSize,
	})

	// 5. --- Background Worker ---
	// Cancels unpaid orders and returns their reserved units on an interval.
	go sw.Run(context.Background(), cfg.SweepInterval)

	// 6. --- Router Setup ---
	tokens := auth.NewTokens(cfg.JWTSecret, 72*time.Hour)
	app := handlers.New(db, cartRepo, orderRepo, ledger, referralRepo, checkoutSvc, fulfillSvc, sw)
	router := routes.SetupRouter(app, tokens, db)

	log.Info().Str("addr", cfg.HTTPAddr).Str("app", cfg.AppName).Msg("Starting API server")
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
