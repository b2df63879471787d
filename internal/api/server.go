package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, gatherer prometheus.Gatherer) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/status", handler.Status)
	r.Post("/connect", handler.Connect)
	r.Post("/disconnect", handler.Disconnect)

	r.Route("/endpoints", func(r chi.Router) {
		r.Get("/", handler.Endpoints)
		r.Post("/", handler.AddEndpoint)
		r.Delete("/{endpointId}", handler.RemoveEndpoint)
		r.Get("/probe", handler.ProbeEndpoints)
	})

	r.Route("/blocks", func(r chi.Router) {
		r.Get("/recent", handler.RecentBlocks)
		r.Get("/{ref}", handler.Block)
	})

	r.Get("/transfers/recent", handler.RecentTransfers)
	r.Get("/tx/{hash}", handler.Transaction)
	r.Get("/accounts/top", handler.TopAccounts)
	r.Get("/validators", handler.ActiveValidators)

	return &Server{Router: r}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
