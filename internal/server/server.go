package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/siteinspect/apiserver/config"
	"github.com/siteinspect/apiserver/internal/auth"
	"github.com/siteinspect/apiserver/internal/db"
	"github.com/siteinspect/apiserver/internal/events"
	"github.com/siteinspect/apiserver/internal/handlers"
	"github.com/siteinspect/apiserver/internal/mq"
	"github.com/siteinspect/apiserver/internal/ratelimit"
	"github.com/siteinspect/apiserver/internal/services"
	"github.com/siteinspect/apiserver/internal/storage"
	"github.com/siteinspect/apiserver/internal/store"
)

// Server wraps the HTTP server, router and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	objects    *storage.Gateway
	queue      *mq.MQ
	redis      *redis.Client
	log        zerolog.Logger
}

// New connects every backing service and builds the router.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (srv *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{log: log}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	if s.db, err = db.Open(ctx, cfg.Database); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if s.objects, err = storage.New(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	if err = s.objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	if s.queue, err = mq.Open(ctx, cfg.MQ); err != nil {
		return nil, fmt.Errorf("open message queue: %w", err)
	}
	s.redis = ratelimit.NewRedisClient(ctx, cfg.Redis, log)

	publisher := events.New(s.queue, log)
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	userRepo := store.NewUserRepository(s.db)
	jobRepo := store.NewJobRepository(s.db)
	reportRepo := store.NewReportRepository(s.db)
	labelRepo := store.NewImageLabelRepository(s.db)

	userService := services.NewUserService(userRepo, tokens, publisher, cfg.Auth.ResetTokenTTL, log)
	jobService := services.NewJobService(jobRepo, userRepo)
	labelService := services.NewImageLabelService(labelRepo)
	reportService := services.NewReportService(
		reportRepo,
		jobRepo,
		labelRepo,
		s.objects,
		publisher,
		services.ImagePolicy{Min: cfg.Report.MinImages, Max: cfg.Report.MaxImages},
		log,
	)

	var counter ratelimit.Counter
	if s.redis != nil {
		counter = ratelimit.NewRedisCounter(s.redis)
	}
	limiter := ratelimit.New(counter, cfg.RateLimit, log, handlers.RateLimited)
	authn := handlers.Authenticate(tokens, userService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.RequestLogger(log),
		handlers.Recoverer,
		middleware.Timeout(cfg.Server.WriteTimeout),
	)
	router.Get("/healthz", handlers.Healthz(s.db))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, limiter.Limit)
	})
	router.Route("/user", func(r chi.Router) {
		handlers.UserRouter(r, userService, authn)
	})
	router.Route("/job", func(r chi.Router) {
		handlers.JobRouter(r, jobService, authn)
	})
	router.Route("/report", func(r chi.Router) {
		handlers.ReportRouter(r, reportService, cfg.Server.MaxUploadBytes, authn)
	})
	router.Route("/image-label", func(r chi.Router) {
		handlers.ImageLabelRouter(r, labelService, authn)
	})
	s.router = router

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close message queue")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close redis")
		}
	}
	if s.objects != nil {
		if err := s.objects.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close object storage")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close database")
		}
	}
}

// shutdownTimeout bounds graceful shutdown when the caller has no deadline.
const shutdownTimeout = 15 * time.Second

// ShutdownContext returns a context bounded by the default shutdown timeout.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}
