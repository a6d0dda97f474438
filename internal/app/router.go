package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/shopledger/shopledger/internal/ar"
	"github.com/shopledger/shopledger/internal/engine"
	"github.com/shopledger/shopledger/internal/inventory"
	"github.com/shopledger/shopledger/internal/observability"
	"github.com/shopledger/shopledger/internal/platform/httpx"
	"github.com/shopledger/shopledger/internal/sales"
	"github.com/shopledger/shopledger/internal/syncer"
	"github.com/shopledger/shopledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Engine     *engine.Engine
	Metrics    *observability.Metrics
	JobHandler *jobs.Handler
}

// NewRouter constructs the operations API router.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	eng := params.Engine
	inventoryHandler := inventory.NewHandler(logger, eng.Inventory())
	salesHandler := sales.NewHandler(logger, eng.Sales())
	arHandler := ar.NewHandler(logger, eng.Receivables())
	syncHandler := syncer.NewHandler(logger, eng)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sync", syncHandler.MountRoutes)
		r.Group(func(r chi.Router) {
			r.Use(eng.Exclusive)
			r.Route("/inventory", inventoryHandler.MountRoutes)
			r.Route("/estimates", func(r chi.Router) {
				salesHandler.MountRoutes(r)
				arHandler.MountPaymentRoutes(r)
			})
			r.Route("/ledger", arHandler.MountLedgerRoutes)
		})
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
