package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/middleware"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Sessions  Sessions
	Knowledge Knowledge
	Resolver  interface {
		middleware.Resolver
		Issuer
	}
	Journal Checker
	Clock   clock.Clock
	Logger  *logger.Logger

	TokenTTL       time.Duration
	RevealInterval time.Duration
	RateLimit      int
	RateWindow     time.Duration
	AllowedOrigins []string

	// Engine, when set, is mounted at /engine.
	Engine func(chi.Router)
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) http.Handler {
	log := logger.OrNop(d.Logger)

	healthHandler := NewHealthHandler(d.Journal)
	sessionHandler := NewSessionHandler(d.Resolver, d.TokenTTL)
	conversationHandler := NewConversationHandler(d.Sessions, log)
	streamHandler := NewStreamHandler(d.Sessions, d.Clock, d.RevealInterval, log)
	knowledgeHandler := NewKnowledgeHandler(d.Knowledge, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins...))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	if d.Engine != nil {
		r.Route("/engine", d.Engine)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(d.Resolver))
		if d.RateLimit > 0 {
			r.Use(middleware.UserRateLimit(d.RateLimit, d.RateWindow))
		}

		r.Post("/session", sessionHandler.Create)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", conversationHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/ask", streamHandler.Ask)
				r.Delete("/job", conversationHandler.Abandon)

				r.Post("/messages/{messageID}/rating", conversationHandler.Rate)
				r.Post("/messages/{messageID}/comment", conversationHandler.Comment)

				r.Post("/artifacts/{artifactID}/discard", conversationHandler.Discard)
				r.Post("/artifacts/{artifactID}/commit", streamHandler.Commit)
			})
		})

		if d.Knowledge != nil {
			r.Get("/urls", knowledgeHandler.ListURLs)
			r.Post("/urls", knowledgeHandler.AddURL)
			r.Delete("/urls", knowledgeHandler.DeleteURL)
			r.Get("/documents", knowledgeHandler.ListDocuments)
			r.Post("/documents", knowledgeHandler.AddDocument)
			r.Delete("/documents/{name}", knowledgeHandler.DeleteDocument)
			r.Get("/analytics/citations", knowledgeHandler.Citations)
		}
	})

	return r
}
