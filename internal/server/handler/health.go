package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// probeTimeout bounds each dependency check.
const probeTimeout = 2 * time.Second

// Probe is a named dependency check run on every health request.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	programID domain.PublicKey
	mode      string
	probes    []Probe
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler reporting the program id, run
// mode and the result of each probe.
func NewHealthHandler(programID domain.PublicKey, mode string, probes []Probe, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		programID: programID,
		mode:      mode,
		probes:    probes,
		startedAt: time.Now().UTC(),
		logger:    logHandler(logger, "health"),
	}
}

// HealthCheck responds with the service status. Any failing probe turns the
// status to "degraded" and the response code to 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := h.runProbes(r.Context())

	status, code := "ok", http.StatusOK
	for name, result := range checks {
		if result != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			h.logger.WarnContext(r.Context(), "handler: dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", result),
			)
		}
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"program_id":     h.programID.String(),
		"mode":           h.mode,
		"checks":         checks,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) runProbes(ctx context.Context) map[string]string {
	checks := make(map[string]string, len(h.probes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			result := "ok"
			if err := p.Check(pctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			checks[p.Name] = result
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return checks
}
