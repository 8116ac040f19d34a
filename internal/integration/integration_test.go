package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"golang.org/x/sync/errgroup"

	"interactive-report-service/internal/aggregate"
	"interactive-report-service/internal/app"
	"interactive-report-service/internal/content"
	"interactive-report-service/internal/docstore"
	"interactive-report-service/internal/domain"
	"interactive-report-service/internal/infra/postgres"
	pgmigrations "interactive-report-service/internal/infra/postgres/migrations"
	infraredis "interactive-report-service/internal/infra/redis"
)

func TestFinalizeEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDatabase(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := postgres.NewContentLoader(pool)
	if err := loader.Seed(ctx, content.Sample()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	repo := infraredis.NewContentRepository(redisClient, loader, 5*time.Minute)
	rooms := infraredis.NewRoomStore(redisClient, 5*time.Minute)

	store := postgres.NewDocStore(pool, 50, nil)
	defer store.Close()
	var retries atomic.Int64
	store.OnRetry(func() { retries.Add(1) })
	engine := aggregate.NewEngine(store)
	service := app.NewReportService(repo, repo, rooms, engine, app.Options{})

	updates, leave, err := service.WatchResults(ctx, "trust-poll", "observer")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer leave()

	q, err := service.Question(ctx, "trust-poll")
	if err != nil {
		t.Fatalf("question: %v", err)
	}

	const voters = 12
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < voters; i++ {
		user := fmt.Sprintf("u%d", i)
		option := q.Options[i%len(q.Options)].ID
		g.Go(func() error {
			_, err := engine.Finalize(gctx, user, q, domain.StringValue(option))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	view, err := service.Results(ctx, "trust-poll")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if view.TotalVotes != voters {
		t.Fatalf("expected %d votes, got %d (retries %d)", voters, view.TotalVotes, retries.Load())
	}
	for _, opt := range view.Options {
		if opt.Count != voters/len(q.Options) {
			t.Fatalf("expected %d votes for %s, got %d", voters/len(q.Options), opt.ID, opt.Count)
		}
	}

	if _, err := engine.Finalize(ctx, "u0", q, domain.StringValue("low")); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Fatalf("expected duplicate vote to be rejected, got %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case agg := <-updates:
			if agg.TotalVotes == voters {
				return
			}
		case <-deadline:
			t.Fatalf("no notification reached the watcher")
		}
	}
}

func TestDocStoreListenerSurvivesDroppedConnection(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateDatabase(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	store := postgres.NewDocStore(pool, 0, nil)
	defer store.Close()

	totals := make(chan int, 16)
	unsubscribe, err := store.Subscribe(ctx, docstore.Interactions, "q1", func(s docstore.Snapshot) {
		totals <- docstore.Int(s.Data["total_votes"])
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	var killed int
	err = pool.QueryRow(ctx, `SELECT count(pg_terminate_backend(pid)) FROM pg_stat_activity
		WHERE query = 'LISTEN docstore' AND pid <> pg_backend_pid()`).Scan(&killed)
	if err != nil || killed == 0 {
		t.Fatalf("terminate listener: killed=%d err=%v", killed, err)
	}

	if err := store.Set(ctx, docstore.Interactions, "q1", docstore.Document{"total_votes": 7}, docstore.SetOptions{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	deadline := time.After(30 * time.Second)
	for {
		select {
		case total := <-totals:
			if total == 7 {
				return
			}
		case <-deadline:
			t.Fatalf("subscriber never saw the write made after the listener was dropped")
		}
	}
}

// startService runs one container and returns its host:port for the exposed port.
func startService(t *testing.T, ctx context.Context, req tc.ContainerRequest) (string, func()) {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	terminate := func() { _ = container.Terminate(ctx) }
	endpoint, err := container.PortEndpoint(ctx, nat.Port(req.ExposedPorts[0]), "")
	if err != nil {
		terminate()
		t.Fatalf("%s endpoint: %v", req.Image, err)
	}
	return endpoint, terminate
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	addr, stop := startService(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "report", "POSTGRES_PASSWORD": "reportpass", "POSTGRES_DB": "reportdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	})
	return fmt.Sprintf("postgres://report:reportpass@%s/reportdb?sslmode=disable", addr), stop
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	addr, stop := startService(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	})
	return "redis://" + addr, stop
}

func migrateDatabase(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
