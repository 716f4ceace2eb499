package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stackfin/payflow/internal/common"
	"github.com/stackfin/payflow/internal/events"
	"github.com/stackfin/payflow/internal/obs"
	"github.com/stackfin/payflow/internal/order"
)

// Ledger is the subset of order ledger operations the reconciler needs.
type Ledger interface {
	Transition(ctx context.Context, orderID, matchingRef string, to order.Status) (order.Order, error)
	Get(ctx context.Context, orderID string) (order.Order, error)
	FindByPaymentRef(ctx context.Context, ref string) (order.Order, error)
}

// Webhook reconciles inbound processor events with the order ledger. It is
// stateless and safely re-entrant: re-delivering the same event any number of
// times, in any order, produces the same final ledger state.
type Webhook struct {
	Provider  Provider
	Ledger    Ledger
	Replay    *redis.Client
	ReplayTTL time.Duration
	Events    *events.Bus
	Logger    zerolog.Logger
}

// Handle processes POST /api/v1/webhooks/payment. Once the signature checks
// out the sender always receives an acknowledgement; only a signature failure
// or a fault in our own store rejects the delivery.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil || h.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	ctx, span := otel.Tracer("payment.Webhook").Start(r.Context(), "Webhook.Handle")
	defer span.End()

	providerName := inferProviderName(h.Provider)
	outcome := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerName),
			attribute.String("payment.webhook.result", outcome),
		)
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(providerName, outcome).Inc()
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		outcome = "invalid_body"
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	result, err := h.Provider.VerifyEvent(r, body)
	if err != nil {
		outcome = "verify_error"
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		outcome = "invalid_signature"
		span.RecordError(result.Err)
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	if result.Err != nil {
		// Authentic but unreadable; sender retries cannot fix it.
		h.Logger.Warn().Err(result.Err).Msg("acknowledged unparseable payment event")
		outcome = "unparseable"
		h.ack(w)
		return
	}

	var replayKey string
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = fmt.Sprintf("pwh:%s:%s", providerName, common.Sha256Hex(string(body)))
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			outcome = "replay_store_error"
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			// Providers retry until they see 2xx, so replays get the same ack.
			h.Logger.Info().Str("kind", result.Kind).Str("intent", result.IntentID).Msg("duplicate payment event acknowledged")
			outcome = "replay"
			h.ack(w)
			return
		}
	}

	var newStatus order.Status
	switch result.Kind {
	case EventPaymentSucceeded:
		newStatus = order.StatusSuccess
	case EventPaymentFailed:
		newStatus = order.StatusFailed
	default:
		h.Logger.Debug().Str("kind", result.Kind).Msg("ignored unrecognized payment event kind")
		outcome = "ignored"
		h.ack(w)
		return
	}

	ord, err := h.resolveOrder(ctx, result)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// An event for an order this service never created is not a fault
			// worth surfacing: the sender would retry forever.
			h.Logger.Info().Str("intent", result.IntentID).Str("order", result.OrderID).Msg("payment event references unknown order")
			outcome = "unknown_order"
			h.ack(w)
			return
		}
		outcome = "lookup_error"
		h.releaseReplayMarker(ctx, replayKey)
		common.JSONError(w, http.StatusInternalServerError, "ORDER_LOOKUP_ERROR", err.Error(), nil)
		return
	}

	updated, err := h.Ledger.Transition(ctx, ord.ID, result.IntentID, newStatus)
	switch {
	case err == nil:
		outcome = "applied"
		h.emit(ctx, updated, newStatus)
	case errors.Is(err, order.ErrAlreadyResolved):
		// Replay of a settled outcome, or a late contradicting event; the
		// first terminal state governs either way.
		h.Logger.Info().
			Str("order", updated.ID).
			Str("status", string(updated.Status)).
			Str("requested", string(newStatus)).
			Msg("payment event for resolved order acknowledged")
		outcome = "already_resolved"
	case errors.Is(err, order.ErrRefMismatch):
		h.Logger.Warn().
			Str("order", ord.ID).
			Str("event_ref", result.IntentID).
			Msg("payment event reference mismatch acknowledged")
		outcome = "ref_mismatch"
	case errors.Is(err, order.ErrNotFound):
		outcome = "unknown_order"
	default:
		outcome = "transition_error"
		h.releaseReplayMarker(ctx, replayKey)
		common.JSONError(w, http.StatusInternalServerError, "ORDER_TRANSITION_ERROR", err.Error(), nil)
		return
	}
	h.ack(w)
}

// releaseReplayMarker drops the dedup key when a delivery was rejected with a
// 5xx. The sender will retry the identical body and must not have that retry
// swallowed as a replay of work that never happened.
func (h Webhook) releaseReplayMarker(ctx context.Context, key string) {
	if h.Replay == nil || key == "" {
		return
	}
	if err := h.Replay.Del(ctx, key).Err(); err != nil {
		h.Logger.Error().Err(err).Str("key", key).Msg("release webhook replay marker")
	}
}

func (h Webhook) resolveOrder(ctx context.Context, result EventResult) (order.Order, error) {
	if result.OrderID != "" {
		ord, err := h.Ledger.Get(ctx, result.OrderID)
		if err == nil {
			return ord, nil
		}
		if !errors.Is(err, order.ErrNotFound) {
			return order.Order{}, err
		}
	}
	return h.Ledger.FindByPaymentRef(ctx, result.IntentID)
}

func (h Webhook) emit(ctx context.Context, ord order.Order, status order.Status) {
	if h.Events == nil {
		return
	}
	topic := events.TopicOrderPaid
	if status == order.StatusFailed {
		topic = events.TopicOrderPaymentFailed
	}
	if _, err := h.Events.Emit(ctx, topic, ord.ID, map[string]any{
		"orderId":    ord.ID,
		"ownerId":    ord.OwnerID,
		"paymentRef": ord.PaymentRef,
		"status":     string(ord.Status),
		"amount":     ord.Amount,
	}); err != nil {
		h.Logger.Error().Err(err).Str("topic", topic).Msg("emit payment event")
	}
}

func (h Webhook) ack(w http.ResponseWriter) {
	common.JSON(w, http.StatusOK, map[string]any{"received": true})
}
