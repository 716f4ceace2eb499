package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stackfin/payflow/internal/common"
	"github.com/stackfin/payflow/internal/events"
)

// Intent is the client-facing continuation returned after a payment intent has
// been opened for an order.
type Intent struct {
	Ref          string `json:"ref"`
	ClientSecret string `json:"clientSecret"`
}

// IntentOpener opens a processor payment intent for an order and attaches the
// resulting reference to the ledger before returning.
type IntentOpener interface {
	OpenIntent(ctx context.Context, ord Order) (Intent, error)
}

// Handler exposes HTTP handlers for order creation and retrieval.
type Handler struct {
	Ledger *Ledger
	Bridge IntentOpener
	Events *events.Bus
	Logger zerolog.Logger
}

var validate = validator.New()

type createOrderRequest struct {
	ProductRef string `json:"productRef" validate:"required"`
	Amount     int64  `json:"amount" validate:"required,gt=0"`
}

// Create handles POST /api/v1/orders.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil || h.Bridge == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	ownerID, ok := common.UserID(r.Context())
	if !ok || ownerID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "productRef and a positive amount are required", nil)
		return
	}
	ord, err := h.Ledger.Create(r.Context(), ownerID, req.ProductRef, req.Amount)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.emitCreated(r.Context(), ord)
	intent, err := h.Bridge.OpenIntent(r.Context(), ord)
	if err != nil {
		// The order stays pending with no reference; the client can re-trigger
		// payment once the processor recovers.
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "unable to initialise payment", map[string]any{"orderId": ord.ID})
		return
	}
	ord.PaymentRef = intent.Ref
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"order":        ord,
			"clientSecret": intent.ClientSecret,
		},
	})
}

// RetryPayment handles POST /api/v1/orders/{orderId}/payment. It re-opens a
// payment intent for a pending order whose bridge step previously failed.
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil || h.Bridge == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	ownerID, ok := common.UserID(r.Context())
	if !ok || ownerID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	ord, err := h.Ledger.GetForOwner(r.Context(), chi.URLParam(r, "orderId"), ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if ord.Status.Terminal() {
		common.JSONError(w, http.StatusConflict, "ORDER_ALREADY_RESOLVED", "order already reached a terminal state", nil)
		return
	}
	if ord.PaymentRef != "" {
		common.JSONError(w, http.StatusConflict, "PAYMENT_ALREADY_INITIALIZED", "a payment intent is already attached to this order", map[string]any{"ref": ord.PaymentRef})
		return
	}
	intent, err := h.Bridge.OpenIntent(r.Context(), ord)
	if err != nil {
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "unable to initialise payment", map[string]any{"orderId": ord.ID})
		return
	}
	ord.PaymentRef = intent.Ref
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"order":        ord,
			"clientSecret": intent.ClientSecret,
		},
	})
}

// List handles GET /api/v1/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	ownerID, ok := common.UserID(r.Context())
	if !ok || ownerID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	limit := queryInt32(r, "limit", 20)
	offset := queryInt32(r, "offset", 0)
	orders, err := h.Ledger.ListByOwner(r.Context(), ownerID, limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": orders})
}

// Get handles GET /api/v1/orders/{orderId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	ownerID, ok := common.UserID(r.Context())
	if !ok || ownerID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	ord, err := h.Ledger.GetForOwner(r.Context(), chi.URLParam(r, "orderId"), ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ord})
}

func (h *Handler) emitCreated(ctx context.Context, ord Order) {
	if h.Events == nil {
		return
	}
	if _, err := h.Events.Emit(ctx, events.TopicOrderCreated, ord.ID, map[string]any{
		"orderId":    ord.ID,
		"ownerId":    ord.OwnerID,
		"productRef": ord.ProductRef,
		"amount":     ord.Amount,
	}); err != nil {
		h.Logger.Error().Err(err).Str("order", ord.ID).Msg("emit order created event")
	}
}

func queryInt32(r *http.Request, key string, fallback int32) int32 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || parsed < 0 {
		return fallback
	}
	return int32(parsed)
}
