package server

import (
	"net/http"

	"github.com/cloo-solutions/ragchat/internal/api"
	"github.com/cloo-solutions/ragchat/internal/api/handlers"
	"github.com/cloo-solutions/ragchat/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes int64 = 1 << 20

type RouterConfig struct {
	ChatHandler    *handlers.ChatHandler
	IndexerHandler *handlers.IndexerHandler
	Logger         *zap.Logger
	MaxBodyBytes   int64
	// AllowedOrigins enables CORS for browser clients. Empty disables it.
	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", cfg.ChatHandler.CreateSession)
			r.Get("/{id}", cfg.ChatHandler.GetSession)
			r.Delete("/{id}", cfg.ChatHandler.DeleteSession)
			r.Post("/{id}/turns", cfg.ChatHandler.SubmitTurn)
			r.Post("/{id}/cancel", cfg.ChatHandler.CancelTurn)
		})

		if cfg.IndexerHandler != nil {
			r.Get("/indexers/{name}/status", cfg.IndexerHandler.Status)
		}
	})

	return r
}
