package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nudgehq/nudge/internal/database"
)

// SchedulerProbe reports the liveness of the in-process firing engine.
type SchedulerProbe interface {
	LastPoll() time.Time
	PollInterval() time.Duration
}

type HealthHandlers struct {
	db        *database.DB
	scheduler SchedulerProbe
	version   string
	started   time.Time
}

// NewHealthHandlers creates health handlers. scheduler is nil when the
// firing engine runs out of process.
func NewHealthHandlers(db *database.DB, scheduler SchedulerProbe, version string) *HealthHandlers {
	return &HealthHandlers{
		db:        db,
		scheduler: scheduler,
		version:   version,
		started:   time.Now(),
	}
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Latency string       `json:"latency,omitempty"`
	Message string       `json:"message,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

const healthCheckTimeout = 5 * time.Second

// stalePolls is how many poll intervals may pass without a completed batch
// before the scheduler is reported degraded.
const stalePolls = 3

func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]ComponentHealth)
	overallStatus := HealthStatusHealthy

	dbHealth := h.checkDatabase(ctx)
	components["database"] = dbHealth
	if dbHealth.Status != HealthStatusHealthy {
		overallStatus = HealthStatusUnhealthy
	}

	if h.scheduler != nil {
		schedHealth := h.checkScheduler(time.Now())
		components["scheduler"] = schedHealth
		if schedHealth.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	resp := HealthResponse{
		Status:     overallStatus,
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	status := http.StatusOK
	if overallStatus == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, resp)
}

func (h *HealthHandlers) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := h.db.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Latency: latency.String(),
			Message: "database ping failed",
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Latency: latency.String(),
	}
}

func (h *HealthHandlers) checkScheduler(now time.Time) ComponentHealth {
	limit := stalePolls * h.scheduler.PollInterval()
	last := h.scheduler.LastPoll()

	if last.IsZero() {
		if now.Sub(h.started) > limit {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: "no poll completed yet",
			}
		}
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: "starting",
		}
	}

	since := now.Sub(last)
	if since > limit {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Latency: since.Round(time.Millisecond).String(),
			Message: "poll loop is stalled",
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Latency: since.Round(time.Millisecond).String(),
	}
}

func (h *HealthHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HealthHandlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}

func (h *HealthHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     m.Alloc,
		MemSys:       m.Sys,
		NumGC:        m.NumGC,
	}

	resp := map[string]any{
		"runtime": stats,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}

	if h.db != nil {
		dbStats := h.db.Stats()
		resp["database"] = map[string]any{
			"open_connections": dbStats.OpenConnections,
			"in_use":           dbStats.InUse,
			"idle":             dbStats.Idle,
			"max_open":         dbStats.MaxOpenConnections,
		}
	}

	if h.scheduler != nil {
		resp["scheduler"] = map[string]any{
			"last_poll":     h.scheduler.LastPoll(),
			"poll_interval": h.scheduler.PollInterval().String(),
		}
	}

	JSON(w, http.StatusOK, resp)
}
