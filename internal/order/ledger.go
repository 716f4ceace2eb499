package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stackfin/payflow/internal/common"
	"github.com/stackfin/payflow/internal/obs"
)

// Store is the persistence contract the ledger requires. Both conditional
// updates must be applied atomically at the storage layer: the WHERE clause is
// the guard, never a prior read.
type Store interface {
	// InsertOrder persists a new pending order with no payment reference.
	InsertOrder(ctx context.Context, ownerID, productRef string, amount int64) (Order, error)
	// SetPaymentRef sets the payment reference iff it is currently unset.
	// Returns false when the guard did not match.
	SetPaymentRef(ctx context.Context, orderID, ref string) (bool, error)
	// SetStatus applies pending -> to iff the stored payment reference equals
	// matchingRef. Returns the updated row and true when applied.
	SetStatus(ctx context.Context, orderID, matchingRef string, to Status) (Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByPaymentRef(ctx context.Context, ref string) (Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID string, limit, offset int32) ([]Order, error)
}

// Ledger owns order records and their lifecycle. All mutation goes through
// guarded compare-and-set operations so that replayed or racing callers
// converge on a single terminal outcome.
type Ledger struct {
	Q Store
}

// Create validates input and persists a new pending order.
func (l *Ledger) Create(ctx context.Context, ownerID, productRef string, amount int64) (Order, error) {
	if l == nil || l.Q == nil {
		return Order{}, errors.New("order: ledger not configured")
	}
	if strings.TrimSpace(ownerID) == "" {
		return Order{}, common.NewAppError("UNAUTHORIZED", "owner is required", http.StatusUnauthorized, nil)
	}
	if strings.TrimSpace(productRef) == "" {
		return Order{}, common.NewAppError("VALIDATION_ERROR", "productRef is required", http.StatusBadRequest, nil)
	}
	if amount <= 0 {
		return Order{}, common.NewAppError("VALIDATION_ERROR", "amount must be positive", http.StatusBadRequest, nil)
	}
	return l.Q.InsertOrder(ctx, ownerID, strings.TrimSpace(productRef), amount)
}

// AttachPaymentRef records the processor's reference on the order exactly once.
// Re-attaching the identical reference is a no-op; a different reference on an
// already-attached order fails with ErrRefAlreadyAttached without mutation.
func (l *Ledger) AttachPaymentRef(ctx context.Context, orderID, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return errors.New("order: payment reference is required")
	}
	ok, err := l.Q.SetPaymentRef(ctx, orderID, ref)
	if err != nil {
		return fmt.Errorf("attach payment ref: %w", err)
	}
	if ok {
		return nil
	}
	existing, err := l.Q.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if existing.PaymentRef == ref {
		return nil
	}
	return ErrRefAlreadyAttached
}

// Transition applies pending -> to, guarded by the stored payment reference.
// A terminal order is returned unchanged with ErrAlreadyResolved; a reference
// mismatch returns the current row with ErrRefMismatch. Neither mutates state.
func (l *Ledger) Transition(ctx context.Context, orderID, matchingRef string, to Status) (Order, error) {
	ctx, span := otel.Tracer("order.Ledger").Start(ctx, "Ledger.Transition")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.transition.to", string(to)),
			attribute.String("order.transition.result", result),
		)
		if obs.OrderTransitionTotal != nil {
			obs.OrderTransitionTotal.WithLabelValues(string(to), result).Inc()
		}
	}()

	if !to.Terminal() {
		return Order{}, fmt.Errorf("order: %q is not a terminal status", to)
	}
	updated, ok, err := l.Q.SetStatus(ctx, orderID, matchingRef, to)
	if err != nil {
		span.RecordError(err)
		return Order{}, fmt.Errorf("transition order: %w", err)
	}
	if ok {
		result = "applied"
		return updated, nil
	}

	// The guard did not match; classify against the current row.
	current, err := l.Q.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			result = "not_found"
		}
		return Order{}, err
	}
	if current.Status.Terminal() {
		result = "already_resolved"
		return current, ErrAlreadyResolved
	}
	result = "ref_mismatch"
	return current, ErrRefMismatch
}

// ListByOwner returns the owner's orders, newest first.
func (l *Ledger) ListByOwner(ctx context.Context, ownerID string, limit, offset int32) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return l.Q.ListOrdersByOwner(ctx, ownerID, limit, offset)
}

// GetForOwner loads an order scoped to its owner. Orders belonging to another
// owner are reported as not found rather than forbidden.
func (l *Ledger) GetForOwner(ctx context.Context, orderID, ownerID string) (Order, error) {
	ord, err := l.Q.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if ord.OwnerID != ownerID {
		return Order{}, ErrNotFound
	}
	return ord, nil
}

// Get loads an order by id without owner scoping. Intended for the webhook
// reconciler, which resolves orders from processor correlation metadata.
func (l *Ledger) Get(ctx context.Context, orderID string) (Order, error) {
	return l.Q.GetOrder(ctx, orderID)
}

// FindByPaymentRef resolves an order from the processor's own identifier.
func (l *Ledger) FindByPaymentRef(ctx context.Context, ref string) (Order, error) {
	if strings.TrimSpace(ref) == "" {
		return Order{}, ErrNotFound
	}
	return l.Q.GetOrderByPaymentRef(ctx, ref)
}
