package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/weighsettle/internal/auth"
	"github.com/kiwari-pos/weighsettle/internal/config"
	"github.com/kiwari-pos/weighsettle/internal/database"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/events"
	"github.com/kiwari-pos/weighsettle/internal/policy"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
	"github.com/shopspring/decimal"
)

// demoOrder is one weight-based order and the weight its report carries.
// A nil actual leaves the order waiting for its report.
type demoOrder struct {
	label      string
	estimate   int64
	actual     *int64
	pricePerKg string
}

func grams(g int64) *int64 { return &g }

var demoOrders = []demoOrder{
	{label: "within thresholds (+10%)", estimate: 1000, actual: grams(1100), pricePerKg: "100.00"},
	{label: "over amount threshold", estimate: 1000, actual: grams(1600), pricePerKg: "100.00"},
	{label: "refund (-5%)", estimate: 2000, actual: grams(1900), pricePerKg: "45.50"},
	{label: "exact weight", estimate: 750, actual: grams(750), pricePerKg: "120.00"},
	{label: "awaiting weighing", estimate: 1200, pricePerKg: "88.00"},
}

func main() {
	tokensOnly := flag.Bool("tokens-only", false, "Only print development tokens")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the printed tokens")
	flag.Parse()

	cfg := config.Load()
	printTokens(cfg.JWTSecret, *tokenTTL)
	if *tokensOnly {
		return
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	newStore := func(db database.DBTX) settlement.Store { return database.New(db) }
	machine := settlement.NewMachine(database.New(pool), pool, newStore,
		policy.NewEngine(cfg.Thresholds()), events.Nop{})

	for _, o := range demoOrders {
		if err := seedOrder(ctx, machine, o); err != nil {
			log.Fatalf("Failed to seed %q: %v", o.label, err)
		}
	}
	log.Println("Seed completed successfully")
}

func seedOrder(ctx context.Context, machine *settlement.Machine, o demoOrder) error {
	orderID := uuid.New()
	a, err := machine.Register(ctx, settlement.RegisterRequest{
		OrderID:              orderID,
		EstimatedWeightGrams: o.estimate,
		PricePerKg:           decimal.RequireFromString(o.pricePerKg),
		Authorization: settlement.Authorization{
			Handle:           "seed-auth-" + orderID.String()[:8],
			AuthorizedAt:     time.Now(),
			CaptureReference: "seed-capture-" + orderID.String()[:8],
		},
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if o.actual == nil {
		log.Printf("Created %s: order %s adjustment %s (%s)", o.label, orderID, a.ID, a.Status)
		return nil
	}

	res, err := machine.IngestReport(ctx, settlement.Report{
		OrderID:           orderID,
		ExternalReportID:  "seed-report-" + orderID.String(),
		ActualWeightGrams: *o.actual,
		CapturedAt:        time.Now(),
	})
	if err != nil {
		return fmt.Errorf("ingest report: %w", err)
	}
	log.Printf("Created %s: order %s adjustment %s (%s, difference %s)",
		o.label, orderID, res.Adjustment.ID, res.Adjustment.Status, res.Adjustment.PriceDifference.StringFixed(2))
	return nil
}

func printTokens(secret string, ttl time.Duration) {
	for _, role := range []string{enum.UserRoleAdmin, enum.UserRoleCourier, enum.UserRoleSystem} {
		token, err := auth.GenerateToken(secret, uuid.New(), role, ttl)
		if err != nil {
			log.Fatalf("Failed to generate %s token: %v", role, err)
		}
		fmt.Printf("%s token: %s\n", role, token)
	}
	log.Println("WARNING: development tokens, never use the default JWT_SECRET in production")
}
