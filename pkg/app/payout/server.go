// Package payout implements app.Runner for the mass payout service process.
package payout

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	apphttp "github.com/hashgraph/mass-payout/pkg/app/http"
	"github.com/hashgraph/mass-payout/pkg/auth"
	"github.com/hashgraph/mass-payout/pkg/config"
	"github.com/hashgraph/mass-payout/pkg/hedera"
	"github.com/hashgraph/mass-payout/pkg/hedera/mirror"
	"github.com/hashgraph/mass-payout/pkg/keys"
	domain "github.com/hashgraph/mass-payout/pkg/payout"
	"github.com/hashgraph/mass-payout/pkg/payout/service"
	"github.com/hashgraph/mass-payout/pkg/payoutstore"
	"github.com/hashgraph/mass-payout/pkg/pgutil"
	"github.com/hashgraph/mass-payout/pkg/poller"
	"github.com/hashgraph/mass-payout/pkg/scheduler"
)

const (
	defaultRequestTimeout = 60 * time.Second
	readyTimeout          = 2 * time.Second
)

// Server holds cfg to init the mass payout service.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new mass payout server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("mass payout config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting mass payout service",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	db, err := pgutil.ConnectDB(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() { _ = db.Close() }()

	operatorKey, err := keys.LoadOperatorKey(&cfg.Hedera)
	if err != nil {
		return fmt.Errorf("load operator key: %w", err)
	}

	client, err := hedera.Dial(&cfg.Hedera, operatorKey, logger)
	if err != nil {
		return fmt.Errorf("connect hedera: %w", err)
	}
	defer client.Close()

	logger.Info("Connected to Hedera JSON-RPC relay",
		zap.String("rpc_url", cfg.Hedera.RPCURL),
		zap.String("operator", client.Address().Hex()),
	)

	mirrorClient := mirror.NewClient(&cfg.MirrorNode, logger)
	cashFlow := hedera.NewLifeCycleCashFlow(client, mirrorClient, logger)
	token := hedera.NewAssetToken(client)

	store := payoutstore.NewStore(db)
	clock := clockwork.NewRealClock()
	settings := service.NewSettings(&cfg.Payout, &cfg.Hedera)

	orchestrator := service.NewLogOrchestrator(
		service.NewOrchestrator(store, cashFlow, token, mirrorClient, settings, clock, logger), logger)
	retries := service.NewLogRetryService(
		service.NewRetryService(store, cashFlow, settings, clock, logger), logger)
	services := service.Services{
		Assets: service.NewLogAssetService(
			service.NewAssetService(store, cashFlow, mirrorClient, clock, logger), logger),
		Distributions: service.NewLogDistributionService(
			service.NewDistributionService(store, orchestrator, settings, clock, logger), logger),
		Orchestrator: orchestrator,
		Retries:      retries,
	}

	listener := poller.New(store, s.logSources(mirrorClient, logger), &cfg.Listener, clock, logger)
	stopPoller, err := s.startPoller(ctx, listener, logger)
	if err != nil {
		return err
	}
	// Stopped explicitly after ServeAndWait for a deterministic shutdown order.
	defer stopPoller()

	jobs := scheduler.NewJobs(store, orchestrator, retries, token, clock, logger)
	stopScheduler, err := s.startScheduler(jobs, logger)
	if err != nil {
		return err
	}
	defer stopScheduler()

	router := s.setupRouter(db, services, listener, logger)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	stopScheduler()
	stopPoller()

	return err
}

// logSources reuses the configured mirror client unless the listener row
// points at another mirror node.
func (s *Server) logSources(defaultClient *mirror.Client, logger *zap.Logger) poller.SourceFactory {
	return func(url string) poller.LogSource {
		if url == "" || url == s.cfg.MirrorNode.URL {
			return defaultClient
		}
		mc := s.cfg.MirrorNode
		mc.URL = url
		return mirror.NewClient(&mc, logger)
	}
}

func (s *Server) startPoller(ctx context.Context, listener *poller.Poller, logger *zap.Logger) (func(), error) {
	if !s.cfg.Listener.Enabled {
		logger.Info("Blockchain event poller disabled")
		return func() {}, nil
	}

	err := listener.EnsureConfig(ctx, &domain.BlockchainEventListenerConfig{
		MirrorNodeURL:  s.cfg.MirrorNode.URL,
		ContractID:     s.cfg.Listener.ContractID,
		TokenDecimals:  s.cfg.Hedera.PaymentTokenDecimals,
		StartTimestamp: s.cfg.Listener.StartTimestamp,
	})
	if err != nil {
		return nil, err
	}

	listener.Start(ctx)
	return listener.Stop, nil
}

func (s *Server) startScheduler(jobs *scheduler.Jobs, logger *zap.Logger) (func(), error) {
	if !s.cfg.Payout.SchedulerEnabled {
		logger.Info("Payout scheduler disabled")
		return func() {}, nil
	}

	sched := scheduler.New(jobs, &s.cfg.Payout, logger)
	if err := sched.Start(); err != nil {
		return nil, err
	}
	return sched.Stop, nil
}

func (s *Server) setupRouter(
	db *bun.DB,
	services service.Services,
	listener *poller.Poller,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Link"},
			MaxAge:         300,
		}))
	}

	// Liveness
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness needs the database
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	validator := auth.NewJWTValidator(&s.cfg.Auth)
	if !validator.IsConfigured() {
		logger.Warn("JWKS not configured, command endpoints are unauthenticated")
	}
	guard := validator.Middleware(logger)

	r.Route("/api/v1", func(r chi.Router) {
		service.RegisterRoutes(r, services, guard, logger)
		poller.RegisterRoutes(r, listener, guard)
	})

	return r
}
