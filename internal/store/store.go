package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stackfin/payflow/internal/auth"
	"github.com/stackfin/payflow/internal/catalog"
	"github.com/stackfin/payflow/internal/events"
	"github.com/stackfin/payflow/internal/order"
)

// Store implements the persistence contracts of the auth, catalog, order, and
// events packages on top of a pgx connection pool. Conditional updates are
// expressed as single guarded UPDATE statements so their atomicity lives at
// the database, never in application reads.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const orderColumns = "id, owner_id, product_ref, amount, status, external_payment_ref, created_at, updated_at"

// InsertOrder persists a new pending order with no payment reference.
func (s *Store) InsertOrder(ctx context.Context, ownerID, productRef string, amount int64) (order.Order, error) {
	owner, err := parseUUID(ownerID)
	if err != nil {
		return order.Order{}, fmt.Errorf("invalid owner id: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		"INSERT INTO orders (owner_id, product_ref, amount) VALUES ($1, $2, $3) RETURNING "+orderColumns,
		owner, productRef, amount)
	return scanOrder(row)
}

// SetPaymentRef attaches the payment reference iff none is stored yet.
func (s *Store) SetPaymentRef(ctx context.Context, orderID, ref string) (bool, error) {
	id, err := parseUUID(orderID)
	if err != nil {
		return false, nil
	}
	ct, err := s.pool.Exec(ctx,
		"UPDATE orders SET external_payment_ref = $2, updated_at = now() WHERE id = $1 AND external_payment_ref IS NULL",
		id, ref)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// SetStatus applies pending -> to guarded by the stored payment reference.
// The WHERE clause is the compare-and-set: no prior read participates.
func (s *Store) SetStatus(ctx context.Context, orderID, matchingRef string, to order.Status) (order.Order, bool, error) {
	id, err := parseUUID(orderID)
	if err != nil {
		return order.Order{}, false, nil
	}
	row := s.pool.QueryRow(ctx,
		"UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = 'pending' AND external_payment_ref = $2 RETURNING "+orderColumns,
		id, matchingRef, string(to))
	updated, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, false, nil
		}
		return order.Order{}, false, err
	}
	return updated, true, nil
}

// GetOrder loads an order by id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	id, err := parseUUID(orderID)
	if err != nil {
		return order.Order{}, order.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	ord, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, order.ErrNotFound
		}
		return order.Order{}, err
	}
	return ord, nil
}

// GetOrderByPaymentRef resolves an order from the processor's identifier.
func (s *Store) GetOrderByPaymentRef(ctx context.Context, ref string) (order.Order, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE external_payment_ref = $1", ref)
	ord, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, order.ErrNotFound
		}
		return order.Order{}, err
	}
	return ord, nil
}

// ListOrdersByOwner returns the owner's orders, newest first.
func (s *Store) ListOrdersByOwner(ctx context.Context, ownerID string, limit, offset int32) ([]order.Order, error) {
	owner, err := parseUUID(ownerID)
	if err != nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		owner, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := make([]order.Order, 0, limit)
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, ord)
	}
	return orders, rows.Err()
}

// CreateUser persists a new user record.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (auth.User, error) {
	row := s.pool.QueryRow(ctx,
		"INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id, name, email, created_at, updated_at",
		name, email, passwordHash)
	return scanUser(row)
}

// GetUserByEmail returns the user and its stored credential hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, string, error) {
	var (
		u    auth.User
		id   pgtype.UUID
		hash string
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE email = $1",
		email).Scan(&id, &u.Name, &u.Email, &hash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.User{}, "", auth.ErrUserNotFound
		}
		return auth.User{}, "", err
	}
	u.ID = uuidString(id)
	return u, hash, nil
}

// GetUserByID loads a user profile.
func (s *Store) GetUserByID(ctx context.Context, userID string) (auth.User, error) {
	id, err := parseUUID(userID)
	if err != nil {
		return auth.User{}, auth.ErrUserNotFound
	}
	row := s.pool.QueryRow(ctx,
		"SELECT id, name, email, created_at, updated_at FROM users WHERE id = $1", id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, err
	}
	return u, nil
}

// InsertProduct persists a new catalog entry.
func (s *Store) InsertProduct(ctx context.Context, name, description string, price int64, category string) (catalog.Product, error) {
	row := s.pool.QueryRow(ctx,
		"INSERT INTO products (name, description, price, category) VALUES ($1, $2, $3, $4) RETURNING id, name, description, price, category, created_at, updated_at",
		name, nullText(description), price, nullText(category))
	return scanProduct(row)
}

// ListProducts returns catalog entries, newest first.
func (s *Store) ListProducts(ctx context.Context, limit, offset int32) ([]catalog.Product, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, description, price, category, created_at, updated_at FROM products ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := make([]catalog.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// InsertDomainEvent persists an emitted domain event.
func (s *Store) InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (events.Event, error) {
	aggregate, err := parseUUID(aggregateID)
	if err != nil {
		return events.Event{}, fmt.Errorf("invalid aggregate id: %w", err)
	}
	var (
		ev events.Event
		id pgtype.UUID
		ag pgtype.UUID
	)
	err = s.pool.QueryRow(ctx,
		"INSERT INTO domain_events (topic, aggregate_id, payload) VALUES ($1, $2, $3) RETURNING id, topic, aggregate_id, payload, occurred_at",
		topic, aggregate, payload).Scan(&id, &ev.Topic, &ag, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	ev.ID = uuidString(id)
	ev.AggregateID = uuidString(ag)
	return ev, nil
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o      order.Order
		id     pgtype.UUID
		owner  pgtype.UUID
		status string
		ref    pgtype.Text
	)
	if err := row.Scan(&id, &owner, &o.ProductRef, &o.Amount, &status, &ref, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return order.Order{}, err
	}
	o.ID = uuidString(id)
	o.OwnerID = uuidString(owner)
	o.Status = order.Status(status)
	if ref.Valid {
		o.PaymentRef = ref.String
	}
	return o, nil
}

func scanUser(row pgx.Row) (auth.User, error) {
	var (
		u  auth.User
		id pgtype.UUID
	)
	if err := row.Scan(&id, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	u.ID = uuidString(id)
	return u, nil
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var (
		p           catalog.Product
		id          pgtype.UUID
		description pgtype.Text
		category    pgtype.Text
	)
	if err := row.Scan(&id, &p.Name, &description, &p.Price, &category, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return catalog.Product{}, err
	}
	p.ID = uuidString(id)
	if description.Valid {
		p.Description = description.String
	}
	if category.Valid {
		p.Category = category.String
	}
	return p, nil
}

func parseUUID(value string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

func nullText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}
