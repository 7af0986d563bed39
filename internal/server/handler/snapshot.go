package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/snapshot"
)

// SnapshotExporter writes and lists market snapshots.
type SnapshotExporter interface {
	Export(ctx context.Context) (domain.BlobInfo, error)
	List(ctx context.Context) ([]domain.BlobInfo, error)
	Load(ctx context.Context, name string) (snapshot.Document, error)
}

// SnapshotHandler triggers and lists snapshots.
type SnapshotHandler struct {
	exporter SnapshotExporter
	logger   *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler. A nil exporter answers 503.
func NewSnapshotHandler(exporter SnapshotExporter, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{exporter: exporter, logger: logHandler(logger, "snapshot")}
}

// Trigger exports a snapshot synchronously.
// POST /api/snapshots
func (h *SnapshotHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots not configured")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: snapshot requested")
	info, err := h.exporter.Export(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "export snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"snapshot":     info,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// List returns stored snapshots, newest first.
// GET /api/snapshots
func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots not configured")
		return
	}
	opts := parseListOpts(r)
	infos, err := h.exporter.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": page(infos, opts),
		"total":     len(infos),
	})
}

// Get returns one stored snapshot document.
// GET /api/snapshots/{name}
func (h *SnapshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots not configured")
		return
	}
	doc, err := h.exporter.Load(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, "load snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
