package router

import (
	"net/http"

	_ "member-tenure/docs"
	"member-tenure/internal/domain/lapsed"
	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/middleware"
	"member-tenure/internal/platform/logger"
	"member-tenure/internal/platform/metrics"
	"member-tenure/internal/ports/queue"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	Tenure *tenure.Service
	Lapsed *lapsed.Service // puede ser nil: sin ruta /lapsed
	Queue  queue.Queue

	Logger  logger.Logger
	Metrics *metrics.Metrics

	// APIKey vacía => triggers sin auth (modo dev).
	APIKey string
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog(opts.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// Triggers y preview: van con API key
	r.Group(func(g chi.Router) {
		g.Use(middleware.APIKey(opts.APIKey))

		tenure.RegisterRoutes(g, opts.Tenure, opts.Queue)
		if opts.Lapsed != nil {
			lapsed.RegisterRoutes(g, opts.Lapsed, opts.Queue)
		}
	})

	return r
}
