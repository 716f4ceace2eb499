package payment_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackfin/payflow/internal/order"
	"github.com/stackfin/payflow/internal/payment"
)

type stubProvider struct {
	resp  payment.IntentResponse
	err   error
	last  payment.IntentRequest
	calls int
}

func (p *stubProvider) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.IntentResponse, error) {
	p.calls++
	p.last = req
	if p.err != nil {
		return payment.IntentResponse{}, p.err
	}
	return p.resp, nil
}

func (p *stubProvider) VerifyEvent(*http.Request, []byte) (payment.EventResult, error) {
	return payment.EventResult{}, errors.New("not implemented")
}

func TestOpenIntentAttachesReference(t *testing.T) {
	store := newMemStore()
	ledger := &order.Ledger{Q: store}
	provider := &stubProvider{resp: payment.IntentResponse{IntentID: "pi_123", ClientSecret: "secret"}}
	bridge := &payment.Bridge{Provider: provider, Ledger: ledger, Currency: "usd"}

	ctx := context.Background()
	ord, err := ledger.Create(ctx, "user-1", "prod-1", 2500)
	require.NoError(t, err)

	intent, err := bridge.OpenIntent(ctx, ord)
	require.NoError(t, err)
	require.Equal(t, "pi_123", intent.Ref)
	require.Equal(t, "secret", intent.ClientSecret)
	require.Equal(t, ord.ID, provider.last.OrderID)
	require.Equal(t, int64(2500), provider.last.Amount)
	require.Equal(t, "usd", provider.last.Currency)

	stored, err := ledger.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, "pi_123", stored.PaymentRef)
}

func TestOpenIntentProviderFailureLeavesNoReference(t *testing.T) {
	store := newMemStore()
	ledger := &order.Ledger{Q: store}
	provider := &stubProvider{err: errors.New("processor unavailable")}
	bridge := &payment.Bridge{Provider: provider, Ledger: ledger}

	ctx := context.Background()
	ord, err := ledger.Create(ctx, "user-1", "prod-1", 2500)
	require.NoError(t, err)

	_, err = bridge.OpenIntent(ctx, ord)
	require.Error(t, err)

	stored, err := ledger.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Empty(t, stored.PaymentRef)
	require.Equal(t, order.StatusPending, stored.Status)
}

func TestOpenIntentConflictingAttachSurfaces(t *testing.T) {
	store := newMemStore()
	ledger := &order.Ledger{Q: store}
	provider := &stubProvider{resp: payment.IntentResponse{IntentID: "pi_second"}}
	bridge := &payment.Bridge{Provider: provider, Ledger: ledger}

	ctx := context.Background()
	ord, err := ledger.Create(ctx, "user-1", "prod-1", 2500)
	require.NoError(t, err)
	require.NoError(t, ledger.AttachPaymentRef(ctx, ord.ID, "pi_first"))

	_, err = bridge.OpenIntent(ctx, ord)
	require.ErrorIs(t, err, order.ErrRefAlreadyAttached)
}
