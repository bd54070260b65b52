// Command weft-node runs a single fabric node: the HTTP surface, the
// execution lifecycle, and every backing plane wired from configuration.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/weftworks/weft/pkg/api"
	"github.com/weftworks/weft/pkg/artifacts"
	"github.com/weftworks/weft/pkg/config"
	"github.com/weftworks/weft/pkg/executor"
	"github.com/weftworks/weft/pkg/intent"
	"github.com/weftworks/weft/pkg/observability"
	"github.com/weftworks/weft/pkg/outbox"
	"github.com/weftworks/weft/pkg/realm"
	"github.com/weftworks/weft/pkg/session"
	"github.com/weftworks/weft/pkg/state"
	"github.com/weftworks/weft/pkg/state/docstore"
	"github.com/weftworks/weft/pkg/state/hotkv"
	"github.com/weftworks/weft/pkg/steward"
	"github.com/weftworks/weft/pkg/wal"

	_ "github.com/lib/pq" // Postgres driver
)

var version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stderr)
	}
	switch args[1] {
	case "serve":
		return startServer(stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "weft-node %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: weft-node <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  serve      Start the fabric node (default)")
	_, _ = fmt.Fprintln(w, "  version    Print the node version")
	_, _ = fmt.Fprintln(w, "  help       Print this message")
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	configureLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := buildNode(ctx, cfg)
	if err != nil {
		// Wiring contract failures are fatal on purpose. A node that came
		// up without its backends would silently drop tenant state.
		_, _ = fmt.Fprintf(stderr, "weft-node: %v\n", err)
		return 1
	}
	defer node.Close()

	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           node.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthServer := &http.Server{
		Addr:              ":" + cfg.HealthPort,
		Handler:           node.HealthHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("api listening", "addr", apiServer.Addr, "service", cfg.ServiceName, "version", version)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		slog.Info("health listening", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		_, _ = fmt.Fprintf(stderr, "weft-node: %v\n", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api shutdown", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("health shutdown", "error", err)
	}
	slog.Info("weft-node stopped")
	return 0
}

func configureLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// node holds the wired planes and everything that needs closing on the way
// down, in reverse construction order.
type node struct {
	Handler http.Handler

	wal     *wal.Log
	closers []func(context.Context) error
}

func (n *node) onClose(f func(context.Context) error) {
	n.closers = append(n.closers, f)
}

func (n *node) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](ctx); err != nil {
			slog.Warn("close", "error", err)
		}
	}
}

// HealthHandler serves liveness and readiness on the side port. Readiness
// degrades when the WAL has fallen back to its in-memory buffer.
func (n *node) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if n.wal.Degraded() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("wal degraded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// buildNode wires every plane from configuration. Missing backends fail
// construction unless USE_MEMORY opts into in-process fallbacks.
func buildNode(ctx context.Context, cfg *config.Config) (*node, error) {
	n := &node{}

	if cfg.TracingEnabled {
		provider, err := observability.New(ctx, &observability.Config{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: version,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			Enabled:        true,
		})
		if err != nil {
			return nil, fmt.Errorf("observability: %w", err)
		}
		n.onClose(provider.Shutdown)
	}

	var redisClient *redis.Client
	var hot hotkv.Store
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		n.onClose(func(context.Context) error { return redisClient.Close() })
		hot = hotkv.NewRedisStore(redisClient)
	}

	durable, err := buildDocstore(ctx, cfg, n)
	if err != nil {
		return nil, err
	}

	surface, err := state.New(hot, durable, state.Options{
		UseMemory:    cfg.UseMemory,
		ExecutionTTL: cfg.ExecutionTTL,
		SessionTTL:   cfg.SessionTTL,
		FileTTL:      cfg.FileTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("state surface: %w", err)
	}

	walLog, err := wal.New(redisClient, wal.Options{
		UseMemory:        cfg.UseMemory,
		MaxLen:           cfg.WALMaxLen,
		ReplayWindowDays: cfg.WALReplayWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("wal: %w", err)
	}
	n.wal = walLog

	ob, err := outbox.New(redisClient, outbox.Options{UseMemory: cfg.UseMemory})
	if err != nil {
		return nil, fmt.Errorf("outbox: %w", err)
	}

	cas, err := artifacts.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("artifact storage: %w", err)
	}
	plane, err := artifacts.NewPlane(cas, surface.Durable(), artifacts.Options{UseMemory: cfg.UseMemory})
	if err != nil {
		return nil, fmt.Errorf("artifact plane: %w", err)
	}

	stew, err := steward.New(steward.Options{
		QuotaPerSecond: cfg.TenantRatePerSec,
		QuotaBurst:     cfg.TenantBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("data steward: %w", err)
	}

	keySet, err := session.NewMemoryKeySet()
	if err != nil {
		return nil, fmt.Errorf("session key set: %w", err)
	}
	tokens, err := session.NewTokenManager(keySet, nil, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}
	sessions, err := session.NewManager(surface, walLog, session.Options{Tokens: tokens})
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	idem, err := executor.NewIdempotency(hot, executor.IdempotencyOptions{UseMemory: cfg.UseMemory})
	if err != nil {
		return nil, fmt.Errorf("idempotency: %w", err)
	}

	registry := intent.NewRegistry()
	schemas := intent.NewSchemaSet()
	realms := realm.NewRegistry(registry, schemas)
	if err := realms.Register(realm.NewIngestRealm()); err != nil {
		return nil, fmt.Errorf("register ingest realm: %w", err)
	}

	ex, err := executor.New(executor.Deps{
		Registry:    registry,
		Schemas:     schemas,
		Steward:     stew,
		Surface:     surface,
		WAL:         walLog,
		Outbox:      ob,
		Plane:       plane,
		Sessions:    sessions,
		Publisher:   &logPublisher{},
		Idempotency: idem,
	}, executor.Options{})
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	server, err := api.NewServer(sessions, ex, plane, cfg.ServiceName, version)
	if err != nil {
		return nil, fmt.Errorf("api server: %w", err)
	}
	n.Handler = server.Handler(
		api.NewIdempotencyStore(24*time.Hour),
		api.NewRateLimiter(100, 200),
	)
	return n, nil
}

func buildDocstore(ctx context.Context, cfg *config.Config, n *node) (docstore.Store, error) {
	switch cfg.DocstoreKind {
	case "postgres":
		if cfg.DatabaseURL == "" {
			if cfg.UseMemory {
				return nil, nil // state.New substitutes memory
			}
			return nil, fmt.Errorf("docstore kind is postgres but DATABASE_URL is empty")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		n.onClose(func(context.Context) error { return db.Close() })
		store := docstore.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("init postgres schema: %w", err)
		}
		return store, nil
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("docstore kind is sqlite but SQLITE_PATH is empty")
		}
		store, err := docstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		n.onClose(func(context.Context) error { return store.Close() })
		return store, nil
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("docstore kind is mongo but MONGO_URI is empty")
		}
		client, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		n.onClose(client.Disconnect)
		return docstore.NewMongoStore(docstore.MongoOptions{
			Client:   client,
			Database: cfg.MongoDatabase,
		})
	case "memory":
		if !cfg.UseMemory {
			return nil, fmt.Errorf("docstore kind is memory but USE_MEMORY is not set")
		}
		return nil, nil // state.New substitutes memory
	default:
		return nil, fmt.Errorf("unknown docstore kind %q", cfg.DocstoreKind)
	}
}

// logPublisher is the default outbox drain target when no external bus is
// configured. Entries still tombstone in the outbox after a successful log.
type logPublisher struct{}

func (p *logPublisher) Publish(_ context.Context, entry outbox.Entry) error {
	slog.Info("outbox event",
		"execution_id", entry.ExecutionID,
		"event_id", entry.EventID,
		"event_type", entry.EventType)
	return nil
}
