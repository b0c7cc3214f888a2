package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/auth"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
	"github.com/shopspring/decimal"
)

const testJWTSecret = "test-secret-for-adjustments"

func doAuthRequest(t *testing.T, router http.Handler, method, path string, body interface{}, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	token, err := auth.GenerateToken(testJWTSecret, claims.UserID, claims.Role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rr.Body.String())
	}
	return resp
}

func adminClaims() *auth.Claims {
	return &auth.Claims{UserID: uuid.New(), Role: enum.UserRoleAdmin}
}

func courierClaims() *auth.Claims {
	return &auth.Claims{UserID: uuid.New(), Role: enum.UserRoleCourier}
}

func systemClaims() *auth.Claims {
	return &auth.Claims{UserID: uuid.New(), Role: enum.UserRoleSystem}
}

func testAdjustment(status enum.AdjustmentStatus) settlement.Adjustment {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return settlement.Adjustment{
		ID:                   uuid.New(),
		OrderID:              uuid.New(),
		Status:               status,
		EstimatedWeightGrams: 1000,
		PricePerUnit:         decimal.NewFromInt(100),
		EstimatedPrice:       decimal.NewFromInt(100),
		Authorization: settlement.Authorization{
			Handle:       "auth_123",
			AuthorizedAt: now,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- Mock AsyncSettler ---

type mockSettler struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (m *mockSettler) SettleAsync(id uuid.UUID, trigger string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
}

func (m *mockSettler) settled() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.calls...)
}

