package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RoomCounter reports how many rooms are currently tracked.
type RoomCounter interface {
	Count() int
}

// SessionCounter reports how many sessions are currently connected.
type SessionCounter interface {
	Count() int
}

// Handler manages health check endpoints.
type Handler struct {
	rooms    RoomCounter
	sessions SessionCounter
}

// NewHandler creates a new health check handler. Either argument may be nil,
// in which case the corresponding readiness check is skipped.
func NewHandler(rooms RoomCounter, sessions SessionCounter) *Handler {
	return &Handler{rooms: rooms, sessions: sessions}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /healthz/live
// Returns 200 if the process is alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /healthz/ready
// A registry left nil at construction is simply omitted from checks, not
// reported unhealthy: the room and session registries have no external
// dependency that can be down, so the only thing worth reporting is which
// of them this process was actually wired with.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)
	if h.rooms != nil {
		checks["rooms"] = "healthy"
	}
	if h.sessions != nil {
		checks["sessions"] = "healthy"
	}

	response := ReadinessResponse{
		Status:    "ready",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}
