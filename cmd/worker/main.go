package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
	"github.com/ignite/mailpipe/internal/repository/postgres"
	"github.com/ignite/mailpipe/internal/transport"
	"github.com/ignite/mailpipe/internal/worker"
	_ "github.com/lib/pq"
)

func main() {
	log.Println("Starting mailpipe send worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.Queue.AMQPURL == "" {
		log.Fatal("AMQP_URL is required for the standalone worker")
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.Lifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	sender, err := transport.New(context.Background(), cfg.Transport)
	if err != nil {
		log.Fatalf("Failed to initialize transport: %v", err)
	}

	q, err := queue.NewAMQPQueue(cfg.Queue.AMQPURL, cfg.Queue.QueueName, cfg.Queue.Prefetch)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer q.Close()
	log.Printf("Consuming from queue %s", cfg.Queue.QueueName)

	dispatcher := queue.NewDispatcher(sender, postgres.NewSequenceRepo(db))
	pool := worker.NewSendPool(q, dispatcher.Handle, cfg.Queue.Workers)
	pool.Start()

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	pool.Stop()
	log.Println("Worker stopped")
}
