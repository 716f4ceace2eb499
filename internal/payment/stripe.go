package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultStripeHost      = "https://api.stripe.com"
	defaultStripeTimeout   = 10 * time.Second
	defaultStripeTolerance = 5 * time.Minute
)

// Stripe implements the Provider interface against the Stripe payment intents
// API and its signed webhook event scheme.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	Tolerance     time.Duration
	Now           func() time.Time
}

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent opens a payment intent for the given amount, tagging it with
// the order id as correlation metadata. The HTTP call carries a bounded
// timeout; the caller sees a transient error rather than a hang.
func (s Stripe) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(s.SecretKey) == "" {
		return IntentResponse{}, errors.New("stripe: secret key not configured")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return IntentResponse{}, errors.New("stripe: order id is required")
	}
	if req.Amount <= 0 {
		return IntentResponse{}, fmt.Errorf("stripe: invalid amount %d", req.Amount)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", currency)
	form.Set("metadata[orderId]", req.OrderID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiHost()+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq.SetBasicAuth(s.SecretKey, "")
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client().Do(httpReq)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("stripe: create intent: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return IntentResponse{}, fmt.Errorf("stripe: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr stripeError
		if unmarshalErr := json.Unmarshal(body, &apiErr); unmarshalErr == nil && apiErr.Error.Message != "" {
			return IntentResponse{}, fmt.Errorf("stripe: create intent: %s (status %d)", apiErr.Error.Message, resp.StatusCode)
		}
		return IntentResponse{}, fmt.Errorf("stripe: create intent: unexpected status %d", resp.StatusCode)
	}
	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return IntentResponse{}, fmt.Errorf("stripe: decode intent: %w", err)
	}
	if intent.ID == "" {
		return IntentResponse{}, errors.New("stripe: response missing intent id")
	}
	return IntentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
	}, nil
}

// VerifyEvent checks the Stripe-Signature header against the exact raw bytes
// received and normalises the event payload. Verification never re-serialises
// the body: any re-encoding would change the signature input.
func (s Stripe) VerifyEvent(r *http.Request, body []byte) (EventResult, error) {
	if strings.TrimSpace(s.WebhookSecret) == "" {
		return EventResult{Valid: false, Err: errors.New("webhook secret not configured")}, nil
	}
	timestamp, signatures, err := parseSignatureHeader(r.Header.Get("Stripe-Signature"))
	if err != nil {
		return EventResult{Valid: false, Err: err}, nil
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = defaultStripeTolerance
	}
	age := now.Sub(time.Unix(timestamp, 0))
	if age > tolerance || age < -tolerance {
		return EventResult{Valid: false, Err: errors.New("signature timestamp outside tolerance")}, nil
	}
	expected := ComputeEventSignature(s.WebhookSecret, timestamp, body)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return EventResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string            `json:"id"`
				Amount   int64             `json:"amount"`
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Signed by the right party but unreadable; retries cannot fix it.
		return EventResult{Valid: true, Err: fmt.Errorf("decode event: %w", err)}, nil
	}
	return EventResult{
		Valid:    true,
		Kind:     payload.Type,
		IntentID: payload.Data.Object.ID,
		OrderID:  payload.Data.Object.Metadata["orderId"],
		Amount:   payload.Data.Object.Amount,
	}, nil
}

// ComputeEventSignature returns the hex HMAC-SHA256 of "<timestamp>.<body>"
// under the given secret, matching Stripe's v1 scheme.
func ComputeEventSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return 0, nil, errors.New("missing signature header")
	}
	var (
		timestamp  int64
		signatures []string
	)
	for _, part := range strings.Split(trimmed, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid signature timestamp: %w", err)
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == 0 {
		return 0, nil, errors.New("signature header missing timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, errors.New("signature header missing v1 signature")
	}
	return timestamp, signatures, nil
}

func (s Stripe) apiHost() string {
	host := strings.TrimSpace(s.BaseURL)
	if host == "" {
		return defaultStripeHost
	}
	return strings.TrimRight(host, "/")
}

func (s Stripe) client() *http.Client {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
