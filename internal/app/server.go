package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/JW-TS-QC/Cornell-MOE/internal/apikey"
	"github.com/JW-TS-QC/Cornell-MOE/internal/events"
	"github.com/JW-TS-QC/Cornell-MOE/internal/httpapi"
	"github.com/JW-TS-QC/Cornell-MOE/internal/idempotency"
	"github.com/JW-TS-QC/Cornell-MOE/internal/logging"
	"github.com/JW-TS-QC/Cornell-MOE/internal/metrics"
	"github.com/JW-TS-QC/Cornell-MOE/internal/ratelimit"
	"github.com/JW-TS-QC/Cornell-MOE/internal/stats"
	"github.com/JW-TS-QC/Cornell-MOE/internal/store"
	"github.com/JW-TS-QC/Cornell-MOE/internal/tracing"
	"github.com/JW-TS-QC/Cornell-MOE/internal/tsdb"
)

type Server struct {
	cfg Config

	r *chi.Mux

	tracker *stats.Tracker
	store   store.Store
	limiter *ratelimit.Limiter
	history *tsdb.Store
	idem    *idempotency.Cache
	logger  *slog.Logger

	adminToken    *httpapi.AdminTokenHolder
	traceShutdown func(context.Context) error

	pruneStop chan struct{}
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	m := metrics.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimited))
	r.Use(limiter.Middleware)

	traceShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "moebandit",
	})
	if err != nil {
		return nil, err
	}

	// Open store.
	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	tracker := stats.NewTracker()
	if err := warmTracker(context.Background(), db, tracker, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	history, err := tsdb.New(db.DB())
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bus := events.NewBus()
	idem := idempotency.NewCache(10*time.Minute, 10000)

	var keyMgr *apikey.Manager
	if cfg.APIKeyAuth {
		keyMgr = apikey.NewManager(db)
		logger.Info("api key auth enabled")
	}

	adminToken, err := httpapi.NewAdminTokenHolder(cfg.AdminToken, cfg.DBDSN, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Server{
		cfg:           cfg,
		r:             r,
		tracker:       tracker,
		store:         db,
		limiter:       limiter,
		history:       history,
		idem:          idem,
		logger:        logger,
		adminToken:    adminToken,
		traceShutdown: traceShutdown,
		pruneStop:     make(chan struct{}),
	}
	go s.pruneLoop()

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Tracker:        tracker,
		Store:          db,
		Metrics:        m,
		EventBus:       bus,
		APIKeyMgr:      keyMgr,
		AdminToken:     adminToken,
		History:        history,
		Idem:           idem,
		DefaultEpsilon: cfg.DefaultEpsilon,
		DefaultSubtype: cfg.DefaultSubtype,
	})

	return s, nil
}

// warmTracker rebuilds the in-memory counters from the persisted outcome log
// and registers the arms of every stored experiment, so allocations are not
// cold after a restart.
func warmTracker(ctx context.Context, db store.Store, tracker *stats.Tracker, logger *slog.Logger) error {
	rows, err := db.OutcomeSummary(ctx)
	if err != nil {
		return err
	}
	seed := make([]stats.SeedRow, 0, len(rows))
	for _, r := range rows {
		seed = append(seed, stats.SeedRow{
			Experiment: r.ExperimentID,
			Arm:        r.Arm,
			Wins:       r.Wins,
			Losses:     r.Losses,
			Total:      r.Total,
		})
	}
	tracker.Seed(seed)

	experiments, err := db.ListExperiments(ctx)
	if err != nil {
		return err
	}
	for _, exp := range experiments {
		for _, arm := range exp.Arms {
			tracker.RegisterArm(exp.ID, arm)
		}
	}

	logger.Info("tracker warmed",
		slog.Int("seed_rows", len(seed)),
		slog.Int("experiments", len(experiments)),
	)
	return nil
}

// pruneLoop ages out windowed outcome snapshots and expired history points.
// Cumulative counters are unaffected.
func (s *Server) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	historyTicker := time.NewTicker(time.Hour)
	defer historyTicker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tracker.Prune()
		case <-historyTicker.C:
			if n, err := s.history.Prune(context.Background()); err != nil {
				s.logger.Warn("history prune failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Info("history pruned", slog.Int64("points", n))
			}
		case <-s.pruneStop:
			return
		}
	}
}

func (s *Server) Router() http.Handler { return s.r }

// AdminToken returns the resolved admin token (for CLI retrieval).
func (s *Server) AdminToken() string { return s.adminToken.Get() }

// Reload re-applies runtime-tunable settings, currently the log level.
func (s *Server) Reload(cfg Config) {
	logging.SetLevel(cfg.LogLevel)
	s.logger.Info("configuration reloaded", slog.String("log_level", cfg.LogLevel))
}

func (s *Server) Close() error {
	close(s.pruneStop)
	s.limiter.Stop()
	if s.idem != nil {
		s.idem.Stop()
	}
	if s.history != nil {
		s.history.Flush()
	}
	if s.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.traceShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
