package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cityportal/payments-backend/api/controllers"
	"github.com/cityportal/payments-backend/api/middleware"
	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/db"
	"github.com/cityportal/payments-backend/pkg/logger"
	pkgredis "github.com/cityportal/payments-backend/pkg/redis"
)

// ReplayCache is the redis surface the router needs: response replay plus a health ping.
type ReplayCache interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache ReplayCache,
	paymentService controllers.PaymentService,
	instrumentService controllers.InstrumentService,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	deps := map[string]controllers.Pinger{}
	if dbP != nil {
		deps["database"] = dbP
	}
	var replay pkgredis.IdempotencyStore
	if cache != nil {
		deps["redis"] = cache
		replay = cache
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(replay, cfg.Payments.ReplayCacheTTL, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", controllers.PaymentCreate(paymentService, logg))
			r.Get("/", controllers.PaymentHistory(paymentService, logg))
			r.Get("/quote", controllers.PaymentQuote(paymentService, logg))
			r.Get("/{ledgerID}", controllers.PaymentGet(paymentService, logg))
		})
		r.Route("/payment-instruments", func(r chi.Router) {
			r.Post("/", controllers.InstrumentEnroll(instrumentService, logg))
			r.Get("/", controllers.InstrumentList(instrumentService, logg))
			r.Delete("/{instrumentID}", controllers.InstrumentRemove(instrumentService, logg))
		})
	})

	return r
}
