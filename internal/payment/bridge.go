package payment

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stackfin/payflow/internal/obs"
	"github.com/stackfin/payflow/internal/order"
)

// RefAttacher records the processor's reference on an order exactly once.
type RefAttacher interface {
	AttachPaymentRef(ctx context.Context, orderID, ref string) error
}

// Bridge translates an order into an external payment intent and records the
// resulting reference on the ledger. An order is only payable once the
// reference is durably attached, so attach happens before success is reported.
type Bridge struct {
	Provider Provider
	Ledger   RefAttacher
	Currency string
}

// OpenIntent opens a processor intent for the order and attaches its
// reference. On processor failure the order keeps its pending state and null
// reference, which a later retry can safely resume from.
func (b *Bridge) OpenIntent(ctx context.Context, ord order.Order) (order.Intent, error) {
	if b == nil || b.Provider == nil || b.Ledger == nil {
		return order.Intent{}, errors.New("payment: bridge not configured")
	}
	ctx, span := otel.Tracer("payment.Bridge").Start(ctx, "Bridge.OpenIntent")
	defer span.End()

	providerName := inferProviderName(b.Provider)
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerName),
			attribute.String("order.id", ord.ID),
			attribute.String("payment.intent.result", result),
		)
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(providerName, result).Inc()
		}
	}()

	resp, err := b.Provider.CreateIntent(ctx, IntentRequest{
		OrderID:  ord.ID,
		Amount:   ord.Amount,
		Currency: b.Currency,
	})
	if err != nil {
		span.RecordError(err)
		result = "provider_error"
		return order.Intent{}, fmt.Errorf("payment: open intent: %w", err)
	}
	if err := b.Ledger.AttachPaymentRef(ctx, ord.ID, resp.IntentID); err != nil {
		span.RecordError(err)
		result = "attach_error"
		return order.Intent{}, fmt.Errorf("payment: attach reference: %w", err)
	}
	result = "success"
	return order.Intent{Ref: resp.IntentID, ClientSecret: resp.ClientSecret}, nil
}

func inferProviderName(p Provider) string {
	switch p.(type) {
	case Stripe:
		return "stripe"
	default:
		return "unknown"
	}
}
