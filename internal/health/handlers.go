package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
)

// Prober reports whether the service's backing dependencies are reachable.
type Prober interface {
	ProbeDB(ctx context.Context) error
	ProbeRedis(ctx context.Context) error
}

// Probes is the production Prober over the connection pool and Redis client.
type Probes struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Timeout time.Duration
}

func (p Probes) ProbeDB(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()
	return p.Pool.Ping(ctx)
}

func (p Probes) ProbeRedis(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

func (p Probes) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return p.Timeout
}

// Handler exposes liveness and readiness endpoints.
type Handler struct {
	Prober Prober
}

// Live reports process liveness.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes the database and Redis and reports per-dependency status.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Prober == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	status := map[string]string{"db": "ok", "redis": "ok"}
	healthy := true
	if err := h.Prober.ProbeDB(ctx); err != nil {
		status["db"] = err.Error()
		healthy = false
	}
	if err := h.Prober.ProbeRedis(ctx); err != nil {
		status["redis"] = err.Error()
		healthy = false
	}
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
