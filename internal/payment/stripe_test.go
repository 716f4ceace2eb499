package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stackfin/payflow/internal/payment"
)

const testWebhookSecret = "whsec_test"

func signedHeader(t *testing.T, body []byte, at time.Time) string {
	t.Helper()
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, payment.ComputeEventSignature(testWebhookSecret, ts, body))
}

func eventBody(kind, intentID, orderID string, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"evt_1","type":%q,"data":{"object":{"id":%q,"amount":%d,"metadata":{"orderId":%q}}}}`,
		kind, intentID, amount, orderID))
}

func eventRequest(body []byte, header string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(body))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	return req
}

func TestVerifyEventAcceptsSignedPayload(t *testing.T) {
	now := time.Now()
	stripe := payment.Stripe{WebhookSecret: testWebhookSecret, Now: func() time.Time { return now }}
	body := eventBody(payment.EventPaymentSucceeded, "pi_123", "ord-1", 2500)

	result, err := stripe.VerifyEvent(eventRequest(body, signedHeader(t, body, now)), body)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.NoError(t, result.Err)
	require.Equal(t, payment.EventPaymentSucceeded, result.Kind)
	require.Equal(t, "pi_123", result.IntentID)
	require.Equal(t, "ord-1", result.OrderID)
	require.Equal(t, int64(2500), result.Amount)
}

func TestVerifyEventRejectsTamperedBody(t *testing.T) {
	now := time.Now()
	stripe := payment.Stripe{WebhookSecret: testWebhookSecret, Now: func() time.Time { return now }}
	body := eventBody(payment.EventPaymentSucceeded, "pi_123", "ord-1", 2500)
	header := signedHeader(t, body, now)

	tampered := eventBody(payment.EventPaymentSucceeded, "pi_123", "ord-1", 9999)
	result, err := stripe.VerifyEvent(eventRequest(tampered, header), tampered)
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestVerifyEventRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	stripe := payment.Stripe{WebhookSecret: testWebhookSecret, Tolerance: 5 * time.Minute, Now: func() time.Time { return now }}
	body := eventBody(payment.EventPaymentSucceeded, "pi_123", "ord-1", 2500)

	result, err := stripe.VerifyEvent(eventRequest(body, signedHeader(t, body, now.Add(-10*time.Minute))), body)
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestVerifyEventMissingHeader(t *testing.T) {
	stripe := payment.Stripe{WebhookSecret: testWebhookSecret}
	result, err := stripe.VerifyEvent(eventRequest([]byte(`{}`), ""), []byte(`{}`))
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestVerifyEventAcceptsAnyListedSignature(t *testing.T) {
	now := time.Now()
	stripe := payment.Stripe{WebhookSecret: testWebhookSecret, Now: func() time.Time { return now }}
	body := eventBody(payment.EventPaymentFailed, "pi_123", "ord-1", 2500)
	ts := now.Unix()
	header := fmt.Sprintf("t=%d,v1=deadbeef,v1=%s", ts, payment.ComputeEventSignature(testWebhookSecret, ts, body))

	result, err := stripe.VerifyEvent(eventRequest(body, header), body)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, payment.EventPaymentFailed, result.Kind)
}

func TestVerifyEventAuthenticButUnparseable(t *testing.T) {
	now := time.Now()
	stripe := payment.Stripe{WebhookSecret: testWebhookSecret, Now: func() time.Time { return now }}
	body := []byte(`{"type": truncated`)

	result, err := stripe.VerifyEvent(eventRequest(body, signedHeader(t, body, now)), body)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Error(t, result.Err)
}

func TestCreateIntentPostsFormAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "sk_test", user)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "2500", r.PostForm.Get("amount"))
		require.Equal(t, "usd", r.PostForm.Get("currency"))
		require.Equal(t, "ord-1", r.PostForm.Get("metadata[orderId]"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":            "pi_123",
			"client_secret": "pi_123_secret",
			"status":        "requires_payment_method",
		})
	}))
	defer srv.Close()

	stripe := payment.Stripe{SecretKey: "sk_test", BaseURL: srv.URL}
	resp, err := stripe.CreateIntent(context.Background(), payment.IntentRequest{
		OrderID:  "ord-1",
		Amount:   2500,
		Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, "pi_123", resp.IntentID)
	require.Equal(t, "pi_123_secret", resp.ClientSecret)
}

func TestCreateIntentSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"card declined"}}`))
	}))
	defer srv.Close()

	stripe := payment.Stripe{SecretKey: "sk_test", BaseURL: srv.URL}
	_, err := stripe.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "ord-1", Amount: 2500})
	require.ErrorContains(t, err, "card declined")
}

func TestCreateIntentValidatesInput(t *testing.T) {
	stripe := payment.Stripe{SecretKey: "sk_test"}
	_, err := stripe.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "", Amount: 2500})
	require.Error(t, err)
	_, err = stripe.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "ord-1", Amount: 0})
	require.Error(t, err)
}
