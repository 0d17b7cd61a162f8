// Package server exposes the HTTP surface: the webhook routes, the pull
// endpoint and the operational endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"bot-gemini-middleware/internal/config"
	"bot-gemini-middleware/internal/llm"
	"bot-gemini-middleware/internal/metrics"
	"bot-gemini-middleware/internal/relay"
	"bot-gemini-middleware/internal/storage"
)

// TokenValidator checks chat-platform credentials without sending anything.
type TokenValidator interface {
	ValidateToken(ctx context.Context) (int, error)
}

type Server struct {
	cfg     *config.Config
	svc     *relay.Service
	rec     *storage.Recorder
	hist    *storage.HistoryStore
	ids     *storage.IDLog
	met     *metrics.Metrics
	ai      llm.Client
	chat    TokenValidator
	cleaner *storage.Cleaner
	lg      *zap.SugaredLogger
	start   time.Time
}

func New(
	cfg *config.Config,
	svc *relay.Service,
	rec *storage.Recorder,
	hist *storage.HistoryStore,
	ids *storage.IDLog,
	met *metrics.Metrics,
	ai llm.Client,
	chat TokenValidator,
	cleaner *storage.Cleaner,
	lg *zap.SugaredLogger,
) *Server {
	return &Server{
		cfg: cfg, svc: svc, rec: rec, hist: hist, ids: ids,
		met: met, ai: ai, chat: chat, cleaner: cleaner,
		lg: lg, start: time.Now(),
	}
}

// Router builds the HTTP routing tree. Rate limiting wraps the webhook
// routes before authentication does, so every caller is throttled the same
// way regardless of credentials.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Route("/webhook/freshbot", func(r chi.Router) {
		r.Use(httprate.Limit(
			s.cfg.MaxRequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"erro": "Limite de requisições excedido. Tente novamente em instantes.",
				})
			}),
		))
		r.Get("/search_id", s.handleSearchID)
		r.Post("/", s.handleWebhookPost)
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(s.cfg.WebhookToken))
			r.Put("/", s.handleWebhookPut)
		})
	})

	r.Get("/health", s.handleHealth)
	r.Get("/health/full", s.handleHealthFull)
	r.Get("/config", s.handleConfig)
	r.Get("/stats", s.handleStats)
	r.Get("/logs", s.handleLogs)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/cleanup", s.handleCleanup)

	r.Post("/test/gemini", s.handleTestGemini)
	r.Get("/test/freshchat", s.handleTestFreshchat)
	r.Post("/test/payload", s.handleTestPayload)
	r.Post("/test/integration", s.handleTestIntegration)

	return r
}
