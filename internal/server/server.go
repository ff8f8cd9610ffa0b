package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stockroom/apiserver/config"
	"github.com/stockroom/apiserver/internal/clock"
	"github.com/stockroom/apiserver/internal/db"
	"github.com/stockroom/apiserver/internal/handlers"
	"github.com/stockroom/apiserver/internal/logx"
	"github.com/stockroom/apiserver/internal/metrics"
	"github.com/stockroom/apiserver/internal/mq"
	"github.com/stockroom/apiserver/internal/ratelimit"
	"github.com/stockroom/apiserver/internal/services"
	"github.com/stockroom/apiserver/internal/storage"
	"github.com/stockroom/apiserver/internal/store"
	"go.uber.org/zap"
)

const requestTimeout = 60 * time.Second

// Services bundles the application services behind the HTTP API.
type Services struct {
	Users    *services.UserService
	Auth     *services.AuthService
	Reset    *services.ResetService
	Products *services.ProductService
	Images   *services.ImageService
}

// NewServices wires the services over one database connection.
func NewServices(
	cfg config.Config,
	conn *sql.DB,
	clk clock.Clock,
	st *storage.Storage,
	notifier services.ResetNotifier,
	recorder services.ResetRecorder,
) (*Services, error) {
	dialect, err := store.DialectFor(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	repos := store.NewRepositories(conn, dialect, clk)

	hasher := services.NewBcryptHasher(cfg.Auth.BcryptCost)
	tokens, err := services.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, clk)
	if err != nil {
		return nil, err
	}

	users := services.NewUserService(repos.Users, hasher)
	products := services.NewProductService(repos.Products, repos.ProductImages)
	return &Services{
		Users:    users,
		Auth:     services.NewAuthService(users, hasher, tokens, cfg.Auth.TokenTTL),
		Reset:    services.NewResetService(users, repos.ResetTokens, notifier, clk, cfg.Auth.ResetTokenLifetime, recorder),
		Products: products,
		Images:   services.NewImageService(products, repos.ProductImages, st),
	}, nil
}

// Deps are the collaborators of the HTTP router.
type Deps struct {
	DB        handlers.Pinger
	Services  *Services
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	RateLimit ratelimit.Config
}

// NewRouter builds the chi router with the middleware stack and every route.
func NewRouter(d Deps) *chi.Mux {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	limit := ratelimit.New(d.RateLimit, ratelimit.ClientIP).Middleware

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logx.HTTPMiddleware(logger),
		m.Middleware,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz(d.DB))
	router.Method(http.MethodGet, "/metrics", m.Handler())

	s := d.Services
	router.Route("/api", func(r chi.Router) {
		handlers.AuthRouter(r, s.Auth, s.Reset, limit)
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, s.Users, s.Auth, limit)
		})
		r.Route("/products", func(r chi.Router) {
			handlers.ProductRouter(r, s.Products, s.Images, s.Auth)
		})
	})
	return router
}

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	queue      *mq.MQ
	logger     *zap.Logger

	background sync.WaitGroup
	stop       context.CancelFunc
}

// New connects the database, object storage and broker and builds the router.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	st, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	var notifier services.ResetNotifier = services.NewLogNotifier(cfg.PublicURL)
	if queue != nil {
		notifier = services.NewQueueNotifier(queue, cfg.PublicURL)
	}

	m := metrics.New()
	svc, err := NewServices(cfg, dbConn, clock.System{}, st, notifier, m)
	if err != nil {
		_ = dbConn.Close()
		if queue != nil {
			_ = queue.Close()
		}
		return nil, err
	}

	router := NewRouter(Deps{
		DB:       dbConn,
		Services: svc,
		Metrics:  m,
		Logger:   logger,
		RateLimit: ratelimit.Config{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
			Burst:    cfg.RateLimit.Burst,
		},
	})

	srv := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: requestTimeout + 5*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		db:     dbConn,
		queue:  queue,
		logger: logger,
	}

	// The in-memory broker only reaches consumers in this process.
	if cfg.MQ.Backend == "memory" {
		mailer, err := NewMailer(cfg.Mail)
		if err != nil {
			_ = srv.Shutdown(ctx)
			return nil, err
		}
		srv.runResetMailer(ctx, services.NewResetMailer(mailer))
	}
	return srv, nil
}

// NewMailer picks SMTP delivery when a relay is configured and logging otherwise.
func NewMailer(cfg config.MailConfig) (services.Mailer, error) {
	if cfg.Host == "" {
		return services.LogMailer{}, nil
	}
	mailer, err := services.NewSMTPMailer(cfg)
	if err != nil {
		return nil, err
	}
	return mailer, nil
}

func (s *Server) runResetMailer(ctx context.Context, mailer *services.ResetMailer) {
	ctx, s.stop = context.WithCancel(logx.WithContext(context.WithoutCancel(ctx), s.logger))
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		err := s.queue.Subscribe(ctx, services.ResetChannel, func(ctx context.Context, msg mq.Message) error {
			return mailer.Handle(ctx, msg.Data)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("reset mailer stopped", zap.Error(err))
		}
	}()
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the broker and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.stop != nil {
		s.stop()
	}
	s.background.Wait()
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
