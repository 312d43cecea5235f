package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/mailpipe/internal/api"
	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/coordinator"
	"github.com/ignite/mailpipe/internal/pkg/distlock"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
	"github.com/ignite/mailpipe/internal/ratelimit"
	"github.com/ignite/mailpipe/internal/repository/postgres"
	"github.com/ignite/mailpipe/internal/service/campaign"
	"github.com/ignite/mailpipe/internal/service/suppression"
	"github.com/ignite/mailpipe/internal/transport"
	"github.com/ignite/mailpipe/internal/verify"
	"github.com/ignite/mailpipe/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	dbURL := cfg.URL
	if !strings.Contains(dbURL, "connect_timeout") {
		sep := "?"
		if strings.Contains(dbURL, "?") {
			sep = "&"
		}
		dbURL += sep + "connect_timeout=5"
	}
	log.Printf("DB URL host portion: ...@%s/...", extractHost(dbURL))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Lifetime())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// connectRedis returns nil when Redis is not configured or unreachable.
func connectRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	var rc *redis.Client
	if opts, err := redis.ParseURL(url); err != nil {
		rc = redis.NewClient(&redis.Options{Addr: url})
	} else {
		rc = redis.NewClient(opts)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v, falling back to in-process rate limits and PG advisory locks", err)
		rc.Close()
		return nil
	}
	return rc
}

func openStateStore(ctx context.Context, cfg config.CoordinatorConfig, db *sql.DB) (coordinator.StateStore, error) {
	if cfg.StateBackend == "dynamodb" {
		return coordinator.NewDynamoStateStore(ctx, cfg.DynamoTable, cfg.DynamoRegion)
	}
	return postgres.NewCoordinatorStateRepo(db), nil
}

func main() {
	log.Println("mailpipe server (cmd/server) starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rate limits and coordinator locks use Redis when available so that
	// several server replicas share counters and lock ownership.
	var rc redis.Cmdable
	var rateStore ratelimit.Store = ratelimit.NewMemoryStore()
	if client := connectRedis(cfg.Redis.URL); client != nil {
		defer client.Close()
		rc = client
		rateStore = ratelimit.NewRedisStore(client)
		log.Println("Redis connected (shared rate limits and distributed locking enabled)")
	}
	guard := ratelimit.NewGuard(rateStore)

	sender, err := transport.New(ctx, cfg.Transport)
	if err != nil {
		log.Fatalf("Failed to initialize transport: %v", err)
	}
	log.Printf("Transport provider: %s", cfg.Transport.Provider)

	campaigns := campaign.NewService(postgres.NewCampaignRepo(db), sender, campaign.Options{
		DefaultBatchSize: cfg.Sending.DefaultBatchSize,
		MaxBatchSize:     cfg.Sending.MaxBatchSize,
		ClaimTTL:         cfg.Sending.StaleClaim(),
	})
	suppressions := suppression.NewService(postgres.NewSuppressionRepo(db))
	sequences := postgres.NewSequenceRepo(db)

	// Transport jobs go to RabbitMQ when configured. Without a broker the
	// server delivers them in-process.
	var publisher coordinator.Publisher
	var localPool *worker.SendPool
	if cfg.Queue.AMQPURL != "" {
		aq, err := queue.NewAMQPQueue(cfg.Queue.AMQPURL, cfg.Queue.QueueName, cfg.Queue.Prefetch)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer aq.Close()
		publisher = aq
		log.Printf("Publishing transport jobs to queue %s", cfg.Queue.QueueName)
	} else {
		mq := queue.NewMemoryQueue(1000)
		defer mq.Close()
		publisher = mq
		localPool = worker.NewSendPool(mq, queue.NewDispatcher(sender, sequences).Handle, cfg.Queue.Workers)
		localPool.Start()
		log.Println("No AMQP_URL set: delivering transport jobs in-process")
	}

	states, err := openStateStore(ctx, cfg.Coordinator, db)
	if err != nil {
		log.Fatalf("Failed to initialize coordinator state store: %v", err)
	}
	registry := coordinator.NewRegistry(coordinator.Deps{
		Store:     sequences,
		States:    states,
		Checker:   suppressions,
		Publisher: publisher,
		Limiter:   guard,
		Locks:     distlock.NewFactory(rc, db, cfg.Coordinator.LockTTL()),
	}, coordinator.Options{
		Interval:    cfg.Coordinator.TickInterval(),
		MaxDue:      cfg.Coordinator.MaxDuePerTick,
		TenantLimit: cfg.Coordinator.TenantSendsPerHour,
	})
	if n, err := registry.Restore(ctx); err != nil {
		log.Printf("Warning: coordinator restore failed: %v", err)
	} else {
		log.Printf("Restored %d running coordinators", n)
	}

	recovery := worker.NewClaimRecoveryWorker(campaigns, cfg.Sending.RecoveryInterval(), cfg.Sending.StaleClaim())
	go recovery.Start(ctx)

	server := api.NewServer(api.Deps{
		Campaigns:    campaigns,
		Suppression:  suppressions,
		Coordinators: registry,
		Guard:        guard,
		Verifier:     verify.New(cfg.Verification.Secret, cfg.Verification.VerifyURL),
		DB:           db,
		Redis:        rc,
	}, api.Options{
		AdminToken:     cfg.Server.AdminToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PerIPLimit:     cfg.RateLimit.PerIPLimit,
		PerTenantLimit: cfg.RateLimit.PerTenantLimit,
		Window:         cfg.RateLimit.Window(),
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Coordinators stop without persisting so Restore picks them up on the
	// next boot.
	registry.StopAll()
	cancel()
	if localPool != nil {
		localPool.Stop()
	}

	log.Println("Server stopped")
}
