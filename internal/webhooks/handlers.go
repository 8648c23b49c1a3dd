package webhooks

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vlourenco/pagera/internal/idempotency"
	"github.com/vlourenco/pagera/internal/ledger"
	"github.com/vlourenco/pagera/internal/provider"
)

// Handler exposes the webhook ingestion endpoint.
type Handler struct {
	reconciler *Reconciler
	maxBody    int64
}

// NewHandler creates a webhook handler. maxBodyKiB bounds how much payload
// is read from a provider before rejecting the delivery.
func NewHandler(reconciler *Reconciler, maxBodyKiB int) *Handler {
	if maxBodyKiB <= 0 {
		maxBodyKiB = 256
	}
	return &Handler{reconciler: reconciler, maxBody: int64(maxBodyKiB) * 1024}
}

// RegisterRoutes sets up webhook routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:tenantID/webhooks/:provider", h.Receive)
}

// Receive handles POST /v1/tenants/:tenantID/webhooks/:provider
//
// The raw body is passed through untouched: signature schemes sign exact
// bytes, so the payload must not be re-serialized before verification.
func (h *Handler) Receive(c *gin.Context) {
	kind, err := provider.ParseKind(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider", "message": err.Error()})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body", "message": err.Error()})
		return
	}
	if int64(len(payload)) > h.maxBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
		return
	}

	updatedBy := c.Query("updatedBy")
	if updatedBy == "" {
		updatedBy = "webhook:" + string(kind)
	}

	result, err := h.reconciler.ProcessWebhook(
		c.Request.Context(),
		c.Param("tenantID"),
		kind,
		payload,
		c.Request.Header,
		updatedBy,
	)
	if err != nil {
		writeWebhookError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// writeWebhookError maps reconciliation errors onto provider-facing status
// codes. Providers generally retry on 5xx and some 4xx; invariant
// violations get 409 so retrying the same payload keeps failing loudly
// instead of being silently swallowed.
func writeWebhookError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, provider.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": err.Error()})
	case errors.Is(err, provider.ErrMalformedEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_event", "message": err.Error()})
	case errors.Is(err, provider.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider", "message": err.Error()})
	case errors.Is(err, ledger.ErrOrphanInvoice):
		c.JSON(http.StatusConflict, gin.H{"error": "orphan_invoice", "message": err.Error()})
	case errors.Is(err, ledger.ErrOverpayment):
		c.JSON(http.StatusConflict, gin.H{"error": "overpayment", "message": err.Error()})
	case errors.Is(err, idempotency.ErrConcurrentOperation):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent_operation", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
