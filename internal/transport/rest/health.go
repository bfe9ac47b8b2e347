package rest

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/transport"
)

const healthTimeout = 2 * time.Second

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// poolStater is implemented by the same types; when present the pool
// numbers are added to the database entry.
type poolStater interface {
	Stats() sql.DBStats
}

type HealthHandler struct {
	transport.BaseHandler
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{BaseHandler: *transport.NewBaseHandler(nil), db: db}
}

// pingHandler only says the process is up.
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// healthCheckHandler reports whether the store holding identities, roles
// and section permissions answers. Sign-in is impossible without it, so an
// unreachable database makes the whole service unhealthy.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := internal.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	entry := h.checkDatabase(ctx)
	resp := HealthResponse{
		Status:     entry.Status,
		CheckedAt:  time.Now().UTC(),
		Components: map[string]CheckEntry{"database": entry},
	}

	status := http.StatusOK
	if entry.Status == HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.WriteJSON(w, status, resp)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckEntry {
	if h.db == nil {
		return CheckEntry{Status: HealthUnhealthy, Message: "no database configured"}
	}

	start := time.Now()
	err := h.db.PingContext(ctx)
	entry := CheckEntry{
		Status:     HealthHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	}
	if s, ok := h.db.(poolStater); ok {
		stats := s.Stats()
		entry.Details = map[string]any{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		}
	}
	return entry
}
