package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/parcelhq/trackwise-backend/api/routes"
	"github.com/parcelhq/trackwise-backend/internal/autorecharge"
	"github.com/parcelhq/trackwise-backend/internal/billing"
	"github.com/parcelhq/trackwise-backend/internal/credits"
	"github.com/parcelhq/trackwise-backend/internal/paymentmethods"
	"github.com/parcelhq/trackwise-backend/internal/purchases"
	stripewebhook "github.com/parcelhq/trackwise-backend/internal/webhooks/stripe"
	"github.com/parcelhq/trackwise-backend/pkg/config"
	"github.com/parcelhq/trackwise-backend/pkg/db"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
	"github.com/parcelhq/trackwise-backend/pkg/migrate"
	"github.com/parcelhq/trackwise-backend/pkg/outbox"
	"github.com/parcelhq/trackwise-backend/pkg/redis"
	"github.com/parcelhq/trackwise-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	billingRepo := billing.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	creditsService, err := credits.NewService(credits.ServiceParams{
		Repo:              credits.NewRepository(dbClient.DB()),
		BillingRepo:       billingRepo,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{Repo: billingRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	purchasesService, err := purchases.NewService(purchases.ServiceParams{
		BillingRepo:  billingRepo,
		StripeClient: purchases.NewStripeClient(stripeClient),
		Config:       cfg.Stripe,
		Credits:      cfg.Credits,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create purchases service", err)
		os.Exit(1)
	}

	paymentMethodsService, err := paymentmethods.NewService(paymentmethods.ServiceParams{
		BillingRepo:       billingRepo,
		StripeClient:      paymentmethods.NewStripeClient(stripeClient),
		TransactionRunner: dbClient,
		Config:            cfg.Stripe,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment methods service", err)
		os.Exit(1)
	}

	autoRechargeService, err := autorecharge.NewService(autorecharge.ServiceParams{
		BillingRepo:       billingRepo,
		Balances:          creditsService,
		StripeClient:      autorecharge.NewStripeClient(stripeClient),
		Locker:            redisClient,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Credits:           cfg.Credits,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auto recharge service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		Outbox:            outboxService,
		StripeClient:      stripewebhook.NewStripeClient(stripeClient),
		TransactionRunner: dbClient,
		Credits:           cfg.Credits,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Credits.WebhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			creditsService,
			purchasesService,
			billingService,
			paymentMethodsService,
			autoRechargeService,
			stripeClient,
			webhookService,
			webhookGuard,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
