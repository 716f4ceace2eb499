package payment

import (
	"context"
	"net/http"
)

// Recognised processor event kinds. Anything else is acknowledged and ignored
// so that vocabulary growth on the processor side never breaks the webhook.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// IntentRequest captures the information required to open a payment intent
// with a processor. OrderID travels as correlation metadata so inbound events
// can be traced back without relying on the processor's identifiers alone.
type IntentRequest struct {
	OrderID  string
	Amount   int64
	Currency string
}

// IntentResponse represents the minimal information returned by a processor
// when creating an intent.
type IntentResponse struct {
	IntentID     string
	ClientSecret string
	Status       string
}

// EventResult contains the normalised data extracted from a processor event
// after signature verification. Valid reports whether the signature matched
// the exact raw bytes received; Err carries the reason when it did not, or a
// parse failure for a correctly signed but unreadable payload.
type EventResult struct {
	Valid    bool
	Kind     string
	IntentID string
	OrderID  string
	Amount   int64
	Err      error
}

// Provider abstracts the operations required from an upstream payment
// processor. VerifyEvent receives the inbound request so each processor can
// locate its own signature header; body carries the exact raw bytes read from
// it, since any re-encoding would invalidate the signature.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	VerifyEvent(r *http.Request, body []byte) (EventResult, error)
}
