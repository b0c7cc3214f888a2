//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/weighsettle/internal/approval"
	"github.com/kiwari-pos/weighsettle/internal/auth"
	"github.com/kiwari-pos/weighsettle/internal/config"
	"github.com/kiwari-pos/weighsettle/internal/database"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/events"
	"github.com/kiwari-pos/weighsettle/internal/gate"
	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/kiwari-pos/weighsettle/internal/payment"
	"github.com/kiwari-pos/weighsettle/internal/policy"
	"github.com/kiwari-pos/weighsettle/internal/router"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
	"github.com/kiwari-pos/weighsettle/internal/ws"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const integrationSecret = "integration-test-secret"

// TestIntegrationFlow runs the settlement lifecycle through the router
// against a real PostgreSQL database and a fake payment provider.
func TestIntegrationFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgContainer, connStr, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	provider := newFakeProvider()
	providerServer := httptest.NewServer(provider)
	defer providerServer.Close()

	cfg := &config.Config{JWTSecret: integrationSecret, AllowedOrigins: []string{"*"}}
	reg := metrics.NewRegistry()
	hub := ws.NewHub()
	go hub.Run(ctx)

	newStore := func(db database.DBTX) settlement.Store { return database.New(db) }
	machine := settlement.NewMachine(database.New(pool), pool, newStore,
		policy.NewEngine(policy.DefaultThresholds()), events.Multi{events.NewHubPublisher(hub, reg)},
		settlement.WithMetrics(reg))

	gateway := payment.NewGatewayClient(providerServer.URL, "test-key", 5*time.Second)
	pcfg := payment.DefaultConfig()
	pcfg.InitialBackoff = 10 * time.Millisecond
	pcfg.MaxBackoff = 50 * time.Millisecond
	coordinator := payment.NewCoordinator(machine, gateway, pcfg, payment.WithCoordinatorMetrics(reg))

	r := router.New(cfg, router.Services{
		Machine:    machine,
		Settler:    coordinator,
		Reviewer:   approval.NewWorkflow(machine, coordinator),
		Gate:       gate.New(machine, reg),
		Authorizer: gateway,
		Hub:        hub,
		Metrics:    reg,
	})
	server := httptest.NewServer(r)
	defer server.Close()

	system := token(t, enum.UserRoleSystem)
	admin := token(t, enum.UserRoleAdmin)
	courier := token(t, enum.UserRoleCourier)

	// --- Scenario A: +10% is auto-approved and captured exactly once ---
	orderA := uuid.New()
	adjA := registerOrder(t, server, orderA, 1000, "100.00", system)

	status, body := httpJSON(t, server, "POST", "/weight-reports/", map[string]interface{}{
		"order_id":            orderA.String(),
		"external_report_id":  "report-a",
		"actual_weight_grams": 1100,
	}, system)
	expectStatus(t, "report A", status, http.StatusCreated, body)
	adj := body["adjustment"].(map[string]interface{})
	if adj["status"] != string(enum.AdjustmentStatusAutoApproved) || !decimal.RequireFromString(adj["price_difference"].(string)).Equal(decimal.NewFromInt(10)) {
		t.Fatalf("scenario A: unexpected adjustment %v", adj)
	}

	status, body = httpJSON(t, server, "POST", "/weight-reports/", map[string]interface{}{
		"order_id":            orderA.String(),
		"external_report_id":  "report-a",
		"actual_weight_grams": 1100,
	}, system)
	expectStatus(t, "duplicate report A", status, http.StatusOK, body)
	if body["duplicate"] != true {
		t.Fatalf("duplicate report not detected: %v", body)
	}

	status, body = httpJSON(t, server, "POST", "/deliveries/"+orderA.String()+"/complete", nil, courier)
	expectStatus(t, "complete A", status, http.StatusOK, body)

	settledA := waitForStatus(t, server, adjA, enum.AdjustmentStatusCompleted, admin)
	if settledA["captured_payment_reference"] == "" {
		t.Fatal("scenario A: missing payment reference")
	}
	if got := provider.captures("weight-adjustment:" + adjA + ":capture"); got != 1 {
		t.Fatalf("scenario A: expected 1 capture, got %d", got)
	}

	status, body = httpJSON(t, server, "GET", "/adjustments/"+adjA+"/history", nil, admin)
	expectStatus(t, "history A", status, http.StatusOK, body)
	if n := len(body["transitions"].([]interface{})); n != 4 {
		t.Fatalf("scenario A: expected 4 transitions, got %d", n)
	}

	// --- Scenario B: +60 needs an admin; delivery is blocked until approval ---
	orderB := uuid.New()
	adjB := registerOrder(t, server, orderB, 1000, "100.00", system)
	status, body = httpJSON(t, server, "POST", "/weight-reports/", map[string]interface{}{
		"order_id":            orderB.String(),
		"external_report_id":  "report-b",
		"actual_weight_grams": 1600,
	}, system)
	expectStatus(t, "report B", status, http.StatusCreated, body)
	if st := body["adjustment"].(map[string]interface{})["status"]; st != string(enum.AdjustmentStatusPendingAdminApproval) {
		t.Fatalf("scenario B: expected PENDING_ADMIN_APPROVAL, got %v", st)
	}

	status, body = httpJSON(t, server, "POST", "/deliveries/"+orderB.String()+"/complete", nil, courier)
	expectStatus(t, "complete B while pending", status, http.StatusConflict, body)
	if body["blocked_reason"] != gate.ReasonPendingAdminApproval {
		t.Fatalf("scenario B: unexpected blocked reason %v", body["blocked_reason"])
	}

	status, body = httpJSON(t, server, "POST", "/adjustments/"+adjB+"/approve", map[string]interface{}{"version": 1}, admin)
	expectStatus(t, "stale approve B", status, http.StatusConflict, body)

	status, body = httpJSON(t, server, "GET", "/adjustments/"+adjB, nil, admin)
	expectStatus(t, "detail B", status, http.StatusOK, body)
	version := body["adjustment"].(map[string]interface{})["version"]

	status, body = httpJSON(t, server, "POST", "/adjustments/"+adjB+"/approve", map[string]interface{}{"version": version}, admin)
	expectStatus(t, "approve B", status, http.StatusOK, body)
	waitForStatus(t, server, adjB, enum.AdjustmentStatusCompleted, admin)

	status, body = httpJSON(t, server, "GET", "/deliveries/"+orderB.String()+"/gate", nil, courier)
	expectStatus(t, "gate B", status, http.StatusOK, body)
	if body["allowed"] != true {
		t.Fatalf("scenario B: gate still blocked after approval: %v", body)
	}

	// --- Rejection ---
	orderC := uuid.New()
	adjC := registerOrder(t, server, orderC, 500, "200.00", system)
	status, body = httpJSON(t, server, "POST", "/weight-reports/", map[string]interface{}{
		"order_id":            orderC.String(),
		"external_report_id":  "report-c",
		"actual_weight_grams": 250,
	}, system)
	expectStatus(t, "report C", status, http.StatusCreated, body)
	callsBeforeReject := provider.total()
	status, body = httpJSON(t, server, "POST", "/adjustments/"+adjC+"/reject", map[string]interface{}{"reason": "scale fault"}, admin)
	expectStatus(t, "reject C", status, http.StatusOK, body)
	if body["status"] != string(enum.AdjustmentStatusRejectedByAdmin) {
		t.Fatalf("rejection: unexpected status %v", body["status"])
	}
	time.Sleep(200 * time.Millisecond)
	if got := provider.total(); got != callsBeforeReject {
		t.Fatalf("rejection: expected no provider calls, got %d more", got-callsBeforeReject)
	}
	if got := provider.captures("weight-adjustment:" + adjC + ":refund"); got != 0 {
		t.Fatalf("rejection: expected no refund, got %d", got)
	}

	// --- Cancellation before weighing ---
	orderD := uuid.New()
	registerOrder(t, server, orderD, 800, "90.00", system)
	status, body = httpJSON(t, server, "POST", "/orders/"+orderD.String()+"/cancel", nil, system)
	expectStatus(t, "cancel D", status, http.StatusOK, body)
	if adj, _ := body["adjustment"].(map[string]interface{}); adj["status"] != string(enum.AdjustmentStatusFailed) {
		t.Fatalf("cancellation: unexpected body %v", body)
	}

	// --- Not weight-based ---
	status, body = httpJSON(t, server, "GET", "/deliveries/"+uuid.New().String()+"/gate", nil, courier)
	expectStatus(t, "gate unknown order", status, http.StatusOK, body)
	if body["status"] != string(enum.AdjustmentStatusNotApplicable) {
		t.Fatalf("expected NOT_APPLICABLE, got %v", body["status"])
	}

	t.Logf("Integration test passed: container=%s, provider calls=%d", pgContainer.GetContainerID(), provider.total())
}

// --- Fake payment provider ---

type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int
	n     int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: make(map[string]int)}
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/authorization"):
		json.NewEncoder(w).Encode(map[string]interface{}{
			"handle":            fmt.Sprintf("auth-%d", p.n),
			"authorized_at":     time.Now().UTC(),
			"capture_reference": fmt.Sprintf("orig-%d", p.n),
		})
	case r.Method == http.MethodPost:
		key := r.Header.Get("Idempotency-Key")
		p.calls[key]++
		json.NewEncoder(w).Encode(map[string]string{"reference": "ref-" + key})
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"not_found","message":"no such endpoint"}`))
	}
}

func (p *fakeProvider) captures(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

func (p *fakeProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// --- Setup helpers ---

func setupPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("weighsettle_test"),
		tcpostgres.WithUsername("weighsettle"),
		tcpostgres.WithPassword("weighsettle"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	cleanup := func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}

	return pgContainer, connStr, cleanup
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db for migrations: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("create migrate driver: %v", err)
	}

	// Go test sets cwd to the package directory.
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		t.Fatalf("create migrate instance: %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(integrationSecret, uuid.New(), role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func registerOrder(t *testing.T, server *httptest.Server, orderID uuid.UUID, estimate int64, pricePerKg, tok string) string {
	t.Helper()
	status, body := httpJSON(t, server, "POST", "/adjustments/", map[string]interface{}{
		"order_id":               orderID.String(),
		"estimated_weight_grams": estimate,
		"price_per_kg":           pricePerKg,
	}, tok)
	expectStatus(t, "register "+orderID.String(), status, http.StatusCreated, body)
	return body["id"].(string)
}

func waitForStatus(t *testing.T, server *httptest.Server, id string, want enum.AdjustmentStatus, tok string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		status, body := httpJSON(t, server, "GET", "/adjustments/"+id, nil, tok)
		expectStatus(t, "get "+id, status, http.StatusOK, body)
		adj := body["adjustment"].(map[string]interface{})
		if adj["status"] == string(want) {
			return adj
		}
		if time.Now().After(deadline) {
			t.Fatalf("adjustment %s: want %s, still %v", id, want, adj["status"])
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func expectStatus(t *testing.T, step string, got, want int, body map[string]interface{}) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: expected %d, got %d: %v", step, want, got, body)
	}
}

func httpJSON(t *testing.T, server *httptest.Server, method, path string, body map[string]interface{}, tok string) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, result
}
