package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"heart-risk-service/internal/common/config"
	"heart-risk-service/internal/common/logger"
)

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handler, cfg config.ServerConfig, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(Recoverer(log))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", h.Index)
	r.Post("/predict", h.Predict)
	r.Get("/dashboard", h.Dashboard)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/predict", h.PredictAPI)
		api.Get("/schema", h.Schema)
		api.Route("/predictions", func(pr chi.Router) {
			pr.Get("/stats", h.Stats)
			pr.Get("/recent", h.Recent)
		})
	})

	if cfg.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir)))
		r.Get("/static/*", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			fs.ServeHTTP(w, req)
		})
	}

	return r
}
