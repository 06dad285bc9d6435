package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketchat/internal/logger"
	"marketchat/internal/middleware"
)

type RouterConfig struct {
	Handler        *Handler
	Tokens         middleware.TokenValidator
	Users          middleware.UserLookup
	Websocket      http.HandlerFunc
	AllowedOrigins []string
	Log            *logger.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handler
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(cfg.Log))
	r.Use(chimw.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: len(cfg.AllowedOrigins) > 0,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/files/{key}", h.File)
	r.Put("/uploads/{key}", h.PutUpload)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Tokens, cfg.Users, cfg.Log))

		r.Get("/api/rooms/{roomID}", h.Room)
		r.Get("/api/rooms/{roomID}/messages", h.History)
		r.Post("/api/uploads", h.PrepareUpload)
		if cfg.Websocket != nil {
			r.Get("/ws", cfg.Websocket)
		}
	})

	return r
}
