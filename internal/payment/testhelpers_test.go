package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackfin/payflow/internal/events"
	"github.com/stackfin/payflow/internal/order"
)

// memStore is an in-memory order.Store so webhook tests exercise the real
// ledger semantics end to end.
type memStore struct {
	mu     sync.Mutex
	orders map[string]order.Order
	seq    int
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]order.Order{}}
}

func (s *memStore) InsertOrder(_ context.Context, ownerID, productRef string, amount int64) (order.Order, error) {
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

func (s *memStore) SetPaymentRef(_ context.Context, orderID, ref string) (bool, error) {
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

func (s *memStore) SetStatus(_ context.Context, orderID, matchingRef string, to order.Status) (order.Order, bool, error) {
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

func (s *memStore) GetOrder(_ context.Context, orderID string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[orderID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return ord, nil
}

func (s *memStore) GetOrderByPaymentRef(_ context.Context, ref string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ord := range s.orders {
		if ord.PaymentRef == ref {
			return ord, nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

func (s *memStore) ListOrdersByOwner(_ context.Context, ownerID string, _, _ int32) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []order.Order
	for _, ord := range s.orders {
		if ord.OwnerID == ownerID {
			result = append(result, ord)
		}
	}
	return result, nil
}

// faultStore wraps memStore and fails a configurable number of calls to
// simulate transient database outages.
type faultStore struct {
	*memStore
	failSetStatus int
	failGetOrder  int
}

func (s *faultStore) SetStatus(ctx context.Context, orderID, matchingRef string, to order.Status) (order.Order, bool, error) {
	if s.failSetStatus > 0 {
		s.failSetStatus--
		return order.Order{}, false, errors.New("connection reset")
	}
	return s.memStore.SetStatus(ctx, orderID, matchingRef, to)
}

func (s *faultStore) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	if s.failGetOrder > 0 {
		s.failGetOrder--
		return order.Order{}, errors.New("connection reset")
	}
	return s.memStore.GetOrder(ctx, orderID)
}

// memEventStore captures emitted domain events.
type memEventStore struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *memEventStore) InsertDomainEvent(_ context.Context, topic, aggregateID string, payload []byte) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := events.Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now(),
	}
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *memEventStore) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		topics = append(topics, ev.Topic)
	}
	return topics
}
