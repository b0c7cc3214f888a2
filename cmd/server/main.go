package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/weighsettle/internal/approval"
	"github.com/kiwari-pos/weighsettle/internal/config"
	"github.com/kiwari-pos/weighsettle/internal/database"
	"github.com/kiwari-pos/weighsettle/internal/events"
	"github.com/kiwari-pos/weighsettle/internal/gate"
	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/kiwari-pos/weighsettle/internal/payment"
	"github.com/kiwari-pos/weighsettle/internal/policy"
	"github.com/kiwari-pos/weighsettle/internal/router"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
	"github.com/kiwari-pos/weighsettle/internal/sweep"
	"github.com/kiwari-pos/weighsettle/internal/ws"
	_ "github.com/lib/pq"
)

const shutdownTimeout = 15 * time.Second

func main() {
	runMigrations := flag.Bool("migrate", false, "Apply database migrations before starting")
	migrationsPath := flag.String("migrations", "migrations", "Path to the migrations directory")
	flag.Parse()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *runMigrations {
		if err := migrateUp(cfg.DatabaseURL, *migrationsPath); err != nil {
			log.Fatalf("Unable to run migrations: %v", err)
		}
		log.Println("Migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}

	reg := metrics.NewRegistry()

	hub := ws.NewHub()
	go hub.Run(ctx)

	publishers := events.Multi{events.NewHubPublisher(hub, reg)}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, reg)
		defer func() {
			if err := kp.Close(); err != nil {
				log.Printf("WARN: close kafka writer: %v", err)
			}
		}()
		publishers = append(publishers, kp)
		log.Printf("Publishing adjustment events to kafka topic %s", cfg.KafkaTopic)
	} else {
		log.Println("WARN: KAFKA_BROKERS not set, events are only pushed to websocket clients")
	}

	queries := database.New(pool)
	newStore := func(db database.DBTX) settlement.Store { return database.New(db) }
	machine := settlement.NewMachine(queries, pool, newStore,
		policy.NewEngine(cfg.Thresholds()), publishers, settlement.WithMetrics(reg))

	provider := payment.NewGatewayClient(cfg.PaymentProviderURL, cfg.PaymentProviderAPIKey, cfg.PaymentProviderTimeout)
	coordinator := payment.NewCoordinator(machine, provider, cfg.Payment(), payment.WithCoordinatorMetrics(reg))

	sweeper := sweep.New(machine, coordinator, cfg.Sweep(), reg)
	go sweeper.Run(ctx)

	r := router.New(cfg, router.Services{
		Machine:    machine,
		Settler:    coordinator,
		Reviewer:   approval.NewWorkflow(machine, coordinator),
		Gate:       gate.New(machine, reg),
		Authorizer: provider,
		Hub:        hub,
		Metrics:    reg,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: server shutdown: %v", err)
	}
}

func migrateUp(databaseURL, path string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
