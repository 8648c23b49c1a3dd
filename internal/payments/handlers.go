package payments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vlourenco/pagera/internal/idempotency"
	"github.com/vlourenco/pagera/internal/ledger"
	"github.com/vlourenco/pagera/internal/money"
	"github.com/vlourenco/pagera/internal/pagination"
	"github.com/vlourenco/pagera/internal/provider"
	"github.com/vlourenco/pagera/internal/tenant"
)

// Amount accepts both a JSON number and a decimal string.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if len(s) > 0 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*a = Amount(v)
		return nil
	}
	*a = Amount(s)
	return nil
}

// InitiatePaymentRequest is the HTTP body for POST /v1/payments.
type InitiatePaymentRequest struct {
	TenantID          string            `json:"tenantId" binding:"required"`
	ToAccountID       string            `json:"toAccountId" binding:"required"`
	Amount            Amount            `json:"amount" binding:"required"`
	Provider          string            `json:"provider" binding:"required"`
	PaymentMethodType string            `json:"paymentMethodType" binding:"required"`
	Description       string            `json:"description"`
	Metadata          map[string]string `json:"metadata"`
	CreatedBy         string            `json:"createdBy"`
}

// IdempotencyKeyHeader carries the caller-supplied initiation key.
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler provides HTTP endpoints for payment initiation and lookup.
type Handler struct {
	service *Service
}

// NewHandler creates a new payments handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.InitiatePayment)
	r.GET("/tenants/:tenantID/payments/:id", h.GetPayment)
	r.GET("/tenants/:tenantID/ledger", h.ListLedger)
}

// InitiatePayment handles POST /v1/payments
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_idempotency_key",
			"message": "Idempotency-Key header is required",
		})
		return
	}

	kind, err := provider.ParseKind(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider", "message": err.Error()})
		return
	}
	method, err := provider.ParseMethod(req.PaymentMethodType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_payment_method", "message": err.Error()})
		return
	}

	result, err := h.service.ProcessPayment(c.Request.Context(), InitiateRequest{
		TenantID:       req.TenantID,
		ToAccountID:    req.ToAccountID,
		Amount:         string(req.Amount),
		Provider:       kind,
		Method:         method,
		Description:    req.Description,
		Metadata:       req.Metadata,
		IdempotencyKey: key,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetPayment handles GET /v1/tenants/:tenantID/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	result, err := h.service.GetPayment(c.Request.Context(), c.Param("tenantID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListLedger handles GET /v1/tenants/:tenantID/ledger
func (h *Handler) ListLedger(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	page, err := h.service.ListLedger(c.Request.Context(), c.Param("tenantID"), c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// writeError maps engine errors onto protocol responses. The taxonomy:
// transient errors get 503/409 so clients retry with backoff, permanent
// client errors get 4xx, invariant violations get 409 for operator review.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant_not_found", "message": err.Error()})
	case errors.Is(err, tenant.ErrTenantSuspended):
		c.JSON(http.StatusForbidden, gin.H{"error": "tenant_suspended", "message": err.Error()})
	case errors.Is(err, ledger.ErrEntryNotFound), errors.Is(err, ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, money.ErrInvalidAmount), errors.Is(err, ErrAmountTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, pagination.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
	case errors.Is(err, provider.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider", "message": err.Error()})
	case errors.Is(err, provider.ErrRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "provider_rejected", "message": err.Error()})
	case errors.Is(err, provider.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider_unavailable", "message": err.Error()})
	case errors.Is(err, idempotency.ErrConcurrentOperation):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent_operation", "message": err.Error()})
	case errors.Is(err, ledger.ErrDuplicateKey), errors.Is(err, ledger.ErrDuplicateInvoice):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
