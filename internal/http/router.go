package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"masjidpay/internal/config"
	"masjidpay/internal/http/handlers"
	middlewarex "masjidpay/internal/http/middleware"
	"masjidpay/internal/obs"
	"masjidpay/internal/provider"
)

// RouterDependencies holds all dependencies for the HTTP router
type RouterDependencies struct {
	Config   config.Cfg
	Payments handlers.PaymentService
	Registry *provider.Registry
	Metrics  http.Handler // defaults to the Prometheus default gatherer
}

// NewRouter wires the public webhook, API and admin routes.
func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(obs.RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	// Public; authenticated by gateway signature or server-side status query.
	r.Route("/webhooks/{provider}", func(r chi.Router) {
		r.Post("/callback", handlers.GatewayCallback(deps.Payments))
		r.Get("/return", handlers.GatewayReturn(deps.Payments))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarex.APITokenAuth(deps.Config.Sec.APIToken))

		r.Get("/providers", handlers.ListProviders(deps.Registry))
		r.Post("/tenants/{tenantID}/contributions/{contributionID}/bills", handlers.CreateBill(deps.Payments))
		r.Post("/contributions/{contributionID}/sync", handlers.SyncBill(deps.Payments))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middlewarex.AdminAuth(deps.Config.Sec.AdminToken))

		r.Get("/callbacks", handlers.ListCallbacks(deps.Payments))
		r.Post("/callbacks/{id}/replay", handlers.ReplayCallback(deps.Payments))
	})

	return r
}
