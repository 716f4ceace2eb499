package order_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stackfin/payflow/internal/common"
	"github.com/stackfin/payflow/internal/order"
)

type fakeStore struct {
	mu        sync.Mutex
	orders    map[string]order.Order
	seq       int
	lastLimit int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]order.Order{}}
}

func (s *fakeStore) InsertOrder(_ context.Context, ownerID, productRef string, amount int64) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ord := order.Order{
		ID:         fmt.Sprintf("ord-%d", s.seq),
		OwnerID:    ownerID,
		ProductRef: productRef,
		Amount:     amount,
		Status:     order.StatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	s.orders[ord.ID] = ord
	return ord, nil
}

func (s *fakeStore) SetPaymentRef(_ context.Context, orderID, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[orderID]
	if !ok || ord.PaymentRef != "" {
		return false, nil
	}
	ord.PaymentRef = ref
	s.orders[orderID] = ord
	return true, nil
}

func (s *fakeStore) SetStatus(_ context.Context, orderID, matchingRef string, to order.Status) (order.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[orderID]
	if !ok || ord.Status != order.StatusPending || ord.PaymentRef != matchingRef {
		return order.Order{}, false, nil
	}
	ord.Status = to
	s.orders[orderID] = ord
	return ord, true, nil
}

func (s *fakeStore) GetOrder(_ context.Context, orderID string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[orderID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return ord, nil
}

func (s *fakeStore) GetOrderByPaymentRef(_ context.Context, ref string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ord := range s.orders {
		if ord.PaymentRef == ref {
			return ord, nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

func (s *fakeStore) ListOrdersByOwner(_ context.Context, ownerID string, limit, _ int32) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	var result []order.Order
	for _, ord := range s.orders {
		if ord.OwnerID == ownerID {
			result = append(result, ord)
		}
	}
	return result, nil
}

func TestCreateValidatesInput(t *testing.T) {
	ledger := &order.Ledger{Q: newFakeStore()}
	ctx := context.Background()

	_, err := ledger.Create(ctx, "", "prod-1", 100)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "UNAUTHORIZED", appErr.Code)

	_, err = ledger.Create(ctx, "user-1", "  ", 100)
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)

	_, err = ledger.Create(ctx, "user-1", "prod-1", 0)
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestCreateStartsPendingWithoutRef(t *testing.T) {
	ledger := &order.Ledger{Q: newFakeStore()}
	ord, err := ledger.Create(context.Background(), "user-1", "prod-1", 2500)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, ord.Status)
	require.Empty(t, ord.PaymentRef)
}

func TestAttachPaymentRefIsIdempotent(t *testing.T) {
	store := newFakeStore()
	ledger := &order.Ledger{Q: store}
	ctx := context.Background()
	ord, err := ledger.Create(ctx, "user-1", "prod-1", 2500)
	require.NoError(t, err)

	require.NoError(t, ledger.AttachPaymentRef(ctx, ord.ID, "pi_123"))
	require.NoError(t, ledger.AttachPaymentRef(ctx, ord.ID, "pi_123"))

	err = ledger.AttachPaymentRef(ctx, ord.ID, "pi_456")
	require.ErrorIs(t, err, order.ErrRefAlreadyAttached)

	current, err := ledger.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, "pi_123", current.PaymentRef)
}

func TestTransitionAppliesOnce(t *testing.T) {
	store := newFakeStore()
	ledger := &order.Ledger{Q: store}
	ctx := context.Background()
	ord, err := ledger.Create(ctx, "user-1", "prod-1", 2500)
	require.NoError(t, err)
	require.NoError(t, ledger.AttachPaymentRef(ctx, ord.ID, "pi_123"))

	updated, err := ledger.Transition(ctx, ord.ID, "pi_123", order.StatusSuccess)
	require.NoError(t, err)
	require.Equal(t, order.StatusSuccess, updated.Status)

	// Replaying the same outcome converges without mutation.
	replayed, err := ledger.Transition(ctx, ord.ID, "pi_123", order.StatusSuccess)
	require.ErrorIs(t, err, order.ErrAlreadyResolved)
	require.Equal(t, order.StatusSuccess, replayed.Status)
}

func TestTransitionFirstTerminalStateWins(t *testing.T) {
	store := newFakeStore()
	ledger := &order.Ledger{Q: store}
	ctx := context.Background()
	ord, err := ledger.Create(ctx, "user-1", "prod-1", 2500)
	require.NoError(t, err)
	require.NoError(t, ledger.AttachPaymentRef(ctx, ord.ID, "pi_123"))

	_, err = ledger.Transition(ctx, ord.ID, "pi_123", order.StatusSuccess)
	require.NoError(t, err)

	// A contradicting failure after settlement does not overwrite.
	current, err := ledger.Transition(ctx, ord.ID, "pi_123", order.StatusFailed)
	require.ErrorIs(t, err, order.ErrAlreadyResolved)
	require.Equal(t, order.StatusSuccess, current.Status)
}

func TestTransitionRefMismatchLeavesOrderPending(t *testing.T) {
	store := newFakeStore()
	ledger := &order.Ledger{Q: store}
	ctx := context.Background()
	ord, err := ledger.Create(ctx, "user-1", "prod-1", 2500)
	require.NoError(t, err)
	require.NoError(t, ledger.AttachPaymentRef(ctx, ord.ID, "pi_123"))

	current, err := ledger.Transition(ctx, ord.ID, "pi_999", order.StatusSuccess)
	require.ErrorIs(t, err, order.ErrRefMismatch)
	require.Equal(t, order.StatusPending, current.Status)
}

func TestTransitionRejectsNonTerminalTarget(t *testing.T) {
	ledger := &order.Ledger{Q: newFakeStore()}
	_, err := ledger.Transition(context.Background(), "ord-1", "pi_123", order.StatusPending)
	require.Error(t, err)
}

func TestTransitionUnknownOrder(t *testing.T) {
	ledger := &order.Ledger{Q: newFakeStore()}
	_, err := ledger.Transition(context.Background(), "missing", "pi_123", order.StatusSuccess)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestGetForOwnerHidesForeignOrders(t *testing.T) {
	store := newFakeStore()
	ledger := &order.Ledger{Q: store}
	ctx := context.Background()
	ord, err := ledger.Create(ctx, "user-1", "prod-1", 2500)
	require.NoError(t, err)

	_, err = ledger.GetForOwner(ctx, ord.ID, "user-2")
	require.ErrorIs(t, err, order.ErrNotFound)

	got, err := ledger.GetForOwner(ctx, ord.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, ord.ID, got.ID)
}

func TestListByOwnerNormalisesPagination(t *testing.T) {
	store := newFakeStore()
	ledger := &order.Ledger{Q: store}
	_, err := ledger.ListByOwner(context.Background(), "user-1", 0, -5)
	require.NoError(t, err)
	require.Equal(t, int32(20), store.lastLimit)
}
