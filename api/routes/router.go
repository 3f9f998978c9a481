package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parcelhq/trackwise-backend/api/controllers"
	webhookcontrollers "github.com/parcelhq/trackwise-backend/api/controllers/webhooks"
	"github.com/parcelhq/trackwise-backend/api/middleware"
	stripewebhook "github.com/parcelhq/trackwise-backend/internal/webhooks/stripe"
	"github.com/parcelhq/trackwise-backend/pkg/config"
	"github.com/parcelhq/trackwise-backend/pkg/db"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
	"github.com/parcelhq/trackwise-backend/pkg/redis"
	"github.com/parcelhq/trackwise-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	creditsService controllers.CreditsService,
	checkoutService controllers.CheckoutService,
	transactionsService controllers.TransactionsService,
	paymentMethodsService controllers.PaymentMethodsService,
	autoRechargeService controllers.AutoRechargeService,
	stripeClient *stripe.Client,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/balance", controllers.CreditsBalance(creditsService, logg))
			r.Post("/consume", controllers.CreditsConsume(creditsService, logg))
			r.Get("/usage", controllers.CreditsUsage(creditsService, logg))
		})

		r.Route("/v1/billing", func(r chi.Router) {
			r.Post("/checkout", controllers.BillingCheckout(checkoutService, logg))
			r.Get("/transactions", controllers.BillingTransactions(transactionsService, logg))
		})

		r.Route("/v1/payment-methods", func(r chi.Router) {
			r.Post("/setup", controllers.PaymentMethodSetup(paymentMethodsService, logg))
			r.Post("/confirm", controllers.PaymentMethodConfirm(paymentMethodsService, logg))
			r.Get("/", controllers.PaymentMethodList(paymentMethodsService, logg))
			r.Delete("/{methodId}", controllers.PaymentMethodRemove(paymentMethodsService, logg))
		})

		r.Route("/v1/auto-recharge", func(r chi.Router) {
			r.Get("/", controllers.AutoRechargeGet(autoRechargeService, logg))
			r.Put("/", controllers.AutoRechargeUpdate(autoRechargeService, logg))
			r.Post("/check", controllers.AutoRechargeCheck(autoRechargeService, logg))
		})
	})

	return r
}
