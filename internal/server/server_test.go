package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlourenco/pagera/internal/config"
	"github.com/vlourenco/pagera/internal/ledger"
	"github.com/vlourenco/pagera/internal/payments"
	"github.com/vlourenco/pagera/internal/provider"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		MockWebhookSecret: "test-secret",
		ProviderTimeout:   5 * time.Second,
		CommitTimeout:     time.Second,
		InProgressWait:    200 * time.Millisecond,
		IdempotencyTTL:    time.Hour,
		PIXExpiry:         time.Hour,
		MaxPaymentAmount:  "1000000",
		WebhookMaxBodyKiB: 256,
	}
}

func newTestServer(t *testing.T) (*Server, *provider.MockProvider) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mock := provider.NewMock("test-secret", time.Hour)
	srv, err := New(testConfig(), WithProviders(provider.NewRegistry(mock)))
	require.NoError(t, err)
	t.Cleanup(func() { srv.rateLimiter.Stop() })
	return srv, mock
}

func doJSON(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestServer_HealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	w = doJSON(t, srv, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_PaymentLifecycle(t *testing.T) {
	srv, mock := newTestServer(t)

	// Initiate a PIX payment for the demo tenant.
	body := `{
		"tenantId": "tn_demo",
		"toAccountId": "acc_1",
		"amount": "150.00",
		"provider": "MOCK",
		"paymentMethodType": "PIX"
	}`
	w := doJSON(t, srv, http.MethodPost, "/v1/payments", body, map[string]string{
		payments.IdempotencyKeyHeader: "key-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created payments.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.Entry)
	require.NotNil(t, created.Invoice)
	assert.Equal(t, ledger.StatusOpen, created.Entry.Status)
	require.NotNil(t, created.Invoice.PIX)

	// Replay with the same key returns the same entry.
	w = doJSON(t, srv, http.MethodPost, "/v1/payments", body, map[string]string{
		payments.IdempotencyKeyHeader: "key-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var replayed payments.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replayed))
	assert.Equal(t, created.Entry.ID, replayed.Entry.ID)

	// Deliver the settlement webhook for the booked invoice.
	event := `{"id":"evt_1","type":"invoice.paid","invoiceId":"` +
		created.Entry.ExternalInvoiceID + `","amount":"150.00"}`
	w = doJSON(t, srv, http.MethodPost, "/v1/tenants/tn_demo/webhooks/MOCK", event, map[string]string{
		provider.SignatureHeader: mock.SignPayload([]byte(event)),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Entry is now PAID.
	w = doJSON(t, srv, http.MethodGet, "/v1/tenants/tn_demo/payments/"+created.Entry.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched payments.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	require.NotNil(t, fetched.Entry)
	assert.Equal(t, ledger.StatusPaid, fetched.Entry.Status)
	assert.Equal(t, "150.00", fetched.Entry.SettledAmount.StringFixed(2))
}

func TestServer_PaymentRequiresIdempotencyKey(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"tenantId":"tn_demo","toAccountId":"acc_1","amount":"10.00","provider":"MOCK","paymentMethodType":"PIX"}`
	w := doJSON(t, srv, http.MethodPost, "/v1/payments", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing_idempotency_key")
}

func TestServer_WebhookRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)

	event := `{"id":"evt_1","type":"invoice.paid","invoiceId":"inv_1","amount":"10.00"}`
	w := doJSON(t, srv, http.MethodPost, "/v1/tenants/tn_demo/webhooks/MOCK", event, map[string]string{
		provider.SignatureHeader: "bogus",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_UnknownTenant(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"tenantId":"tn_ghost","toAccountId":"acc_1","amount":"10.00","provider":"MOCK","paymentMethodType":"PIX"}`
	w := doJSON(t, srv, http.MethodPost, "/v1/payments", body, map[string]string{
		payments.IdempotencyKeyHeader: "key-1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_SecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
