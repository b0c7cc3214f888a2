package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	maxErrorBody          = 4096

	codeAuthorizationExpired = "authorization_expired"
)

// GatewayClient talks to the provider's JSON API.
type GatewayClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGatewayClient creates a client. A zero timeout uses 10s.
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type amountRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

type referenceResponse struct {
	Reference string `json:"reference"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *GatewayClient) Authorize(ctx context.Context, orderID uuid.UUID) (Authorization, error) {
	var out Authorization
	path := "/v1/orders/" + url.PathEscape(orderID.String()) + "/authorization"
	if err := g.do(ctx, OpAuthorize, http.MethodGet, path, "", nil, &out); err != nil {
		return Authorization{}, err
	}
	return out, nil
}

func (g *GatewayClient) Capture(ctx context.Context, handle string, amount decimal.Decimal, idempotencyKey string) (string, error) {
	var out referenceResponse
	path := "/v1/authorizations/" + url.PathEscape(handle) + "/captures"
	if err := g.do(ctx, OpCapture, http.MethodPost, path, idempotencyKey, amountRequest{Amount: amount.StringFixed(2)}, &out); err != nil {
		return "", err
	}
	return out.Reference, nil
}

func (g *GatewayClient) Refund(ctx context.Context, captureReference string, amount decimal.Decimal, idempotencyKey string) (string, error) {
	var out referenceResponse
	path := "/v1/captures/" + url.PathEscape(captureReference) + "/refunds"
	if err := g.do(ctx, OpRefund, http.MethodPost, path, idempotencyKey, amountRequest{Amount: amount.StringFixed(2)}, &out); err != nil {
		return "", err
	}
	return out.Reference, nil
}

func (g *GatewayClient) do(ctx context.Context, op Operation, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ProviderError{Op: op, Message: "transport error", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
		}
		return nil
	}

	var apiErr errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}

	pe := &ProviderError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Code:       apiErr.Code,
		Message:    apiErr.Message,
		Retryable:  retryableStatus(resp.StatusCode),
	}
	if apiErr.Code == codeAuthorizationExpired {
		pe.Err = ErrAuthorizationExpired
	}
	return pe
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

var _ Provider = (*GatewayClient)(nil)

