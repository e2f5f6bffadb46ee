// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/backend"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/config"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/engine"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/gateway"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/handler"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/job"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/llm"
	natsclient "github.com/philippe-spaceship/spaceship-chat-app/internal/nats"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/session"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting API server", zap.String("engine_mode", cfg.EngineMode))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "spaceship-chat-app", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	clk := clock.Real()

	// The journal is optional: without NATS sessions still work, they only
	// lose the offline snapshot.
	var journal session.Journal = session.NopJournal{}
	var journalCheck handler.Checker
	if cfg.NATSEnabled {
		dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err := natsclient.Connect(dialCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     "spaceship-chat-app",
		}, log)
		cancelDial()
		if err != nil {
			log.Warn("NATS unavailable, running without journal", zap.Error(err))
		} else {
			defer natsClient.Close()
			j := natsclient.NewJournal(natsClient, log)
			if err := j.EnsureStream(ctx); err != nil {
				log.Error("failed to ensure stream", zap.Error(err))
				os.Exit(1)
			}
			journal = j
			journalCheck = natsClient
		}
	}

	var headers map[string]string
	if cfg.BackendAPIKey != "" {
		headers = map[string]string{"x-api-key": cfg.BackendAPIKey}
	}
	gw := gateway.New(gateway.Config{
		Clock:  clk,
		Logger: log,
		Policy: gateway.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			Retryable:   gateway.OverloadOnly,
		},
		Headers: headers,
	})

	jobs := job.NewClient(job.Config{
		CreateURL:         cfg.Endpoints.CreateJob,
		StatusURL:         cfg.Endpoints.GetJob,
		PollInterval:      cfg.PollInterval,
		MaxPolls:          cfg.MaxPolls,
		MaxQuestionLength: cfg.MaxQuestionLength,
		HistoryLimit:      cfg.HistoryLimit,
	}, gw, clk, log)

	store := backend.New(backend.Endpoints{
		LoadConversations: cfg.Endpoints.LoadConversations,
		RateMessage:       cfg.Endpoints.RateMessage,
		AddComment:        cfg.Endpoints.AddComment,
		AddURL:            cfg.Endpoints.AddURL,
		DeleteURL:         cfg.Endpoints.DeleteURL,
		AddDocument:       cfg.Endpoints.AddDocument,
		DeleteDocument:    cfg.Endpoints.DeleteDocument,
		ListBlocks:        cfg.Endpoints.ListBlocks,
		CitationAnalytics: cfg.Endpoints.CitationAnalytics,
	}, gw, log, backend.WithTable(cfg.TableName), backend.WithIndex(cfg.IndexName))

	var mountEngine func(chi.Router)
	var eng *engine.Engine
	if cfg.EngineMode == config.EngineLocal {
		llmClient, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), cfg.LLMKey(), cfg.LLMModel)
		if err != nil {
			log.Error("failed to create LLM client", zap.Error(err))
			os.Exit(1)
		}
		eng = engine.New(engine.Config{
			MaxInFlight:       cfg.EngineMaxInFlight,
			MaxQuestionLength: cfg.MaxQuestionLength,
		}, llmClient, clk, log)
		mountEngine = eng.Routes
		log.Info("local engine enabled", zap.String("provider", llmClient.Name()))
	}

	sessions := session.NewManager(func(id identity.Identity) *session.Session {
		return session.New(session.Config{
			Identity:          id,
			Jobs:              jobs,
			Backend:           store,
			Journal:           journal,
			Clock:             clk,
			Logger:            log,
			MaxQuestionLength: cfg.MaxQuestionLength,
		})
	}, log)
	defer sessions.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepSessions(sweepCtx, sessions, cfg.SessionIdle)

	router := handler.NewRouter(handler.Deps{
		Sessions:       sessions,
		Knowledge:      store,
		Resolver:       identity.NewResolver(cfg.JWTSecret, nil),
		Journal:        journalCheck,
		Clock:          clk,
		Logger:         log,
		TokenTTL:       cfg.JWTExpiration,
		RevealInterval: cfg.RevealInterval,
		RateLimit:      cfg.RateLimitRequests,
		RateWindow:     cfg.RateLimitWindow,
		Engine:         mountEngine,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if eng != nil {
		if err := eng.Wait(shutdownCtx); err != nil {
			log.Warn("engine jobs still running at shutdown", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func sweepSessions(ctx context.Context, sessions *session.Manager, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Sweep(idle)
		}
	}
}
