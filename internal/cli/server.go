package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"interactive-report-service/internal/aggregate"
	"interactive-report-service/internal/app"
	"interactive-report-service/internal/clock"
	"interactive-report-service/internal/config"
	"interactive-report-service/internal/content"
	"interactive-report-service/internal/docstore"
	"interactive-report-service/internal/identity"
	"interactive-report-service/internal/infra/memory"
	"interactive-report-service/internal/infra/postgres"
	"interactive-report-service/internal/infra/rabbit"
	redisinfra "interactive-report-service/internal/infra/redis"
	"interactive-report-service/internal/infra/sqlite"
	"interactive-report-service/internal/localcache"
	"interactive-report-service/internal/logger"
	"interactive-report-service/internal/metrics"
	"interactive-report-service/internal/timeline"
	transport "interactive-report-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the report server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

type repositories interface {
	app.QuestionRepository
	app.PageRepository
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New("report-service", cfg.Log.Level)
	m := metrics.New(prometheus.DefaultRegisterer)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader content.Loader
	if pool != nil {
		loader = postgres.NewContentLoader(pool)
	} else {
		bundle, err := loadBundle(cfg)
		if err != nil {
			return err
		}
		loader = content.NewStaticLoader(bundle)
	}

	contentTTL := config.TTLDuration(cfg.Question.TTL, 10*time.Minute)
	var repo repositories
	var rooms app.RoomRepository
	if redisClient != nil {
		repo = redisinfra.NewContentRepository(redisClient, loader, contentTTL)
		rooms = redisinfra.NewRoomStore(redisClient, redisTTL)
	} else {
		repo = memory.NewContentRepository(loader, contentTTL)
		rooms = memory.NewRoomStore()
	}

	var store docstore.Store
	switch {
	case pool != nil:
		pg := postgres.NewDocStore(pool, cfg.Vote.MaxRetries, log)
		pg.OnRetry(m.TransactionRetried)
		defer pg.Close()
		store = pg
	case redisClient != nil:
		rs := redisinfra.NewDocStore(redisClient, cfg.Vote.MaxRetries)
		rs.OnRetry(m.TransactionRetried)
		store = rs
	default:
		store = memory.NewDocStore()
	}

	var cache localcache.Cache = memory.NewLocalCache()
	if cfg.LocalCache.Path != "" {
		sc, err := sqlite.Open(cfg.LocalCache.Path, log)
		if err != nil {
			return err
		}
		defer sc.Close()
		cache = sc
	}

	var publisher app.Publisher
	if cfg.RabbitMQ.URL != "" {
		p, err := rabbit.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	}

	var issuer *identity.Issuer
	if cfg.Identity.Secret != "" {
		issuer = identity.NewIssuer(cfg.Identity.Secret, config.TTLDuration(cfg.Identity.TTL, 30*24*time.Hour))
	}

	service := app.NewReportService(repo, repo, rooms, aggregate.NewEngine(store), app.Options{
		Debounce:      config.TTLDuration(cfg.Vote.Debounce, time.Second),
		InputDuration: cfg.Vote.InputDuration,
		LockWindow:    cfg.Vote.LockWindow,
		Timeline:      timelineConfig(cfg),
		Scheduler:     clock.NewReal(config.TTLDuration(cfg.Timeline.FrameInterval, 0)),
		Logger:        log,
		Metrics:       m,
		Publisher:     publisher,
	})

	wsHandler := transport.NewWSHandler(service, transport.WSOptions{
		Issuer:  issuer,
		Cache:   cache,
		Metrics: m,
		Logger:  log,
	})

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	// The upgrade needs the raw ResponseWriter, so /ws stays outside the middleware.
	router.HandleFunc("/ws", wsHandler.ServeWS)
	api := router.NewRoute().Subrouter()
	api.Use(m.Middleware)
	transport.NewRESTHandler(service, issuer, log).Register(api)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting report service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func loadBundle(cfg config.Config) (content.Bundle, error) {
	if cfg.Content.Path == "" {
		return content.Sample(), nil
	}
	return content.ReadFile(cfg.Content.Path)
}

func timelineConfig(cfg config.Config) timeline.Config {
	return timeline.Config{
		Highlight:         config.TTLDuration(cfg.Timeline.Highlight, timeline.DefaultHighlight),
		ScrollQuiet:       config.TTLDuration(cfg.Timeline.ScrollQuiet, timeline.DefaultScrollQuiet),
		ScrollSensitivity: config.Float(cfg.Timeline.ScrollSensitivity, timeline.DefaultScrollSensitivity),
	}
}
