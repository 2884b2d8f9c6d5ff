package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brainforce/apiserver/config"
	"github.com/brainforce/apiserver/internal/auth"
	"github.com/brainforce/apiserver/internal/cache"
	"github.com/brainforce/apiserver/internal/db"
	"github.com/brainforce/apiserver/internal/events"
	"github.com/brainforce/apiserver/internal/generation"
	"github.com/brainforce/apiserver/internal/handlers"
	"github.com/brainforce/apiserver/internal/metrics"
	"github.com/brainforce/apiserver/internal/mq"
	"github.com/brainforce/apiserver/internal/ratelimit"
	"github.com/brainforce/apiserver/internal/services"
	"github.com/brainforce/apiserver/internal/storage"
	"github.com/brainforce/apiserver/internal/store"
	"github.com/brainforce/apiserver/internal/validator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	infra      *infra
	logger     *slog.Logger
}

// infra holds the connections shared by the server and the worker.
type infra struct {
	db      *sql.DB
	rdb     *redis.Client
	objects *storage.Storage
	bus     *mq.MQ
	metrics *metrics.Metrics
}

func openInfra(ctx context.Context, cfg config.Config, logger *slog.Logger, withStorage bool) (*infra, error) {
	in := &infra{metrics: metrics.New()}

	dbConn, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	in.db = dbConn

	if in.rdb, err = cache.OpenRedis(ctx, cfg.Redis); err != nil {
		in.close(logger)
		return nil, err
	}
	if in.rdb == nil {
		logger.Info("redis disabled; leaderboard cache and rate limiting are off")
	}

	if withStorage {
		if in.objects, err = storage.Open(ctx, cfg.Storage); err != nil {
			in.close(logger)
			return nil, err
		}
		if in.objects == nil {
			logger.Info("object storage disabled; photo uploads are off")
		}
	}

	if in.bus, err = mq.Connect(ctx, cfg.MQ); err != nil {
		in.close(logger)
		return nil, err
	}
	if in.bus == nil {
		logger.Info("message queue disabled; domain events are dropped")
	}
	return in, nil
}

func (in *infra) publisher() events.Publisher {
	if in.bus == nil {
		return nil
	}
	return in.bus
}

func (in *infra) objectStore() services.ObjectStore {
	if in.objects == nil {
		return nil
	}
	return in.objects
}

func (in *infra) close(logger *slog.Logger) {
	if in.bus != nil {
		if err := in.bus.Close(); err != nil {
			logger.Warn("close message queue", slog.String("error", err.Error()))
		}
	}
	if in.rdb != nil {
		if err := in.rdb.Close(); err != nil {
			logger.Warn("close redis", slog.String("error", err.Error()))
		}
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			logger.Warn("close database", slog.String("error", err.Error()))
		}
	}
}

// New wires every dependency and builds the router.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	in, err := openInfra(ctx, cfg, logger, true)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(in.db)
	quizRepo := store.NewQuizRepository(in.db)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	leaderboard := cache.NewLeaderboardCache(in.rdb, cfg.Redis.LeaderboardCacheTTL)
	emitter := events.NewEmitter(in.publisher(), logger)
	photos := services.NewPhotoService(in.objectStore(), cfg.Storage.PhotoMaxBytes, logger)

	authService := services.NewAuthService(services.AuthDeps{
		Users:       userRepo,
		Hasher:      auth.NewPasswordHasher(cfg.Auth.BcryptWorkFactor),
		Tokens:      tokens,
		Leaderboard: leaderboard,
		Photos:      photos,
		Events:      emitter,
		Metrics:     in.metrics,
		Logger:      logger,
	})
	quizService := services.NewQuizService(quizRepo, userRepo, leaderboard, emitter, logger)

	gateway := generation.NewGateway(
		generation.NewOpenAIClient(cfg.OpenAI),
		generation.Models{Default: cfg.OpenAI.Model, Challenge: cfg.OpenAI.ChallengeModel},
		cfg.OpenAI.Timeout,
		in.metrics,
		logger,
	)
	limiter := ratelimit.New(in.rdb, cfg.Redis.GenerationPerMinute, time.Minute)

	validate := validator.New()
	requireAuth := handlers.RequireAuth(tokens)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.RequestLogger(logger, in.metrics),
		middleware.Recoverer,
		// Above the upstream completion timeout so gateway errors win.
		middleware.Timeout(cfg.OpenAI.Timeout+15*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(in.db))
	router.Handle("/metrics", in.metrics.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, handlers.NewUserHandler(authService, photos, validate, logger), requireAuth)
		handlers.QuizRouter(r, handlers.NewQuizHandler(quizService, validate, logger), requireAuth)
	})
	router.Route("/openai", func(r chi.Router) {
		handlers.GenerationRouter(r, handlers.NewGenerationHandler(gateway, limiter, validate, in.metrics, logger), requireAuth)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.OpenAI.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		infra:      in,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the shared connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.infra.close(s.logger)
	return err
}

// Worker consumes domain events published by the API server.
type Worker struct {
	worker  *events.Worker
	infra   *infra
	metrics *http.Server
	logger  *slog.Logger
}

// NewWorker wires the event worker. It needs a message queue backend.
func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Worker, error) {
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}

	in, err := openInfra(ctx, cfg, logger, false)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(in.db)
	leaderboard := cache.NewLeaderboardCache(in.rdb, cfg.Redis.LeaderboardCacheTTL)
	quizService := services.NewQuizService(store.NewQuizRepository(in.db), userRepo, leaderboard, nil, logger)

	mux := chi.NewRouter()
	mux.Get("/healthz", handlers.Healthz(in.db))
	mux.Handle("/metrics", in.metrics.Handler())

	return &Worker{
		worker: events.NewWorker(in.bus, quizService, in.metrics, logger),
		infra:  in,
		metrics: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}, nil
}

// Run serves worker metrics and blocks until ctx is done or a subscription
// fails.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		w.logger.Info("worker metrics listening", slog.String("addr", w.metrics.Addr))
		if err := w.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("worker metrics server", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.metrics.Shutdown(shutdownCtx)
	}()

	return w.worker.Run(ctx)
}

// Close releases the worker's connections.
func (w *Worker) Close() {
	w.infra.close(w.logger)
}
