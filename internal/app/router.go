package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/catalog"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/observability"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/receiving"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shipment"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/stockledger"
	"github.com/Taro112233/Thoen-Substock-sub000/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RequisitionHandler *requisition.Handler
	ShipmentHandler    *shipment.Handler
	ReceivingHandler   *receiving.Handler
	CatalogHandler     *catalog.Handler
	LedgerHandler      *stockledger.Handler
	JobHandler         *jobs.Handler
	Pool               *pgxpool.Pool
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Substock defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("healthz", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Get("/metrics", params.Metrics.Handler().ServeHTTP)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.RequisitionHandler != nil {
			params.RequisitionHandler.MountRoutes(api)
		}
		if params.ShipmentHandler != nil {
			params.ShipmentHandler.MountRoutes(api)
		}
		if params.ReceivingHandler != nil {
			params.ReceivingHandler.MountRoutes(api)
		}
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(api)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(api)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", func(jr chi.Router) {
				params.JobHandler.MountRoutes(jr)
			})
		}
	})

	return r
}
