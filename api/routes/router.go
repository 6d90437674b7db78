package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmuthoni/samani-backend/api/controllers"
	webhookcontrollers "github.com/jmuthoni/samani-backend/api/controllers/webhooks"
	"github.com/jmuthoni/samani-backend/api/middleware"
	checkoutsvc "github.com/jmuthoni/samani-backend/internal/checkout"
	"github.com/jmuthoni/samani-backend/internal/orders"
	"github.com/jmuthoni/samani-backend/internal/payments"
	"github.com/jmuthoni/samani-backend/pkg/config"
	"github.com/jmuthoni/samani-backend/pkg/db"
	"github.com/jmuthoni/samani-backend/pkg/logger"
	"github.com/jmuthoni/samani-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	checkoutService checkoutsvc.Service,
	ordersService orders.Service,
	paymentsService payments.Service,
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
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbClient, redisClient))
	})

	// Daraja posts here without credentials; correlation ids are the only link.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mpesa", webhookcontrollers.MpesaCallback(paymentsService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/checkout", controllers.Checkout(checkoutService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(ordersService, logg))
			r.Get("/{orderId}", controllers.OrderDetail(ordersService, logg))
			r.Patch("/{orderId}/status", controllers.OrderUpdateStatus(ordersService, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(ordersService, logg))
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/{transactionId}", controllers.TransactionDetail(paymentsService, logg))
			if !cfg.App.IsProd() {
				r.Post("/{transactionId}/complete", controllers.TransactionCompleteManually(paymentsService, logg))
			}
		})
	})

	return r
}
