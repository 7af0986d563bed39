package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/aggregate"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/compose"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/relay"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
)

// DeliveryProcessor verifies and settles one delivery envelope.
type DeliveryProcessor interface {
	Process(ctx context.Context, d relay.Delivery) (settlement.Receipt, error)
}

// SettlementHandler accepts deliveries over HTTP and lists recent
// settlement events.
type SettlementHandler struct {
	processor DeliveryProcessor
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler. bus may be nil, in
// which case the recent-events listing is unavailable.
func NewSettlementHandler(processor DeliveryProcessor, bus domain.SignalBus, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		processor: processor,
		bus:       bus,
		logger:    logHandler(logger, "settlement"),
	}
}

// receiptResponse is the JSON shape of a settlement receipt.
type receiptResponse struct {
	ID              string              `json:"id"`
	State           settlement.State    `json:"state"`
	Kind            string              `json:"kind,omitempty"`
	Error           string              `json:"error,omitempty"`
	Message         compose.Message     `json:"message"`
	Accounts        settlement.Accounts `json:"accounts"`
	Amount          uint64              `json:"amount"`
	TransferID      string              `json:"transfer_id,omitempty"`
	Shares          *aggregate.Shares   `json:"shares,omitempty"`
	VaultBalance    uint64              `json:"vault_balance"`
	PositionAmount  uint64              `json:"position_amount"`
	PositionCreated bool                `json:"position_created"`
	At              time.Time           `json:"at"`
}

func newReceiptResponse(rc settlement.Receipt, err error) receiptResponse {
	resp := receiptResponse{
		ID:              rc.ID,
		State:           rc.State,
		Message:         rc.Message,
		Accounts:        rc.Accounts,
		Amount:          rc.Amount,
		TransferID:      rc.TransferID,
		VaultBalance:    rc.After.VaultBalance,
		PositionAmount:  rc.Position.Amount,
		PositionCreated: rc.PositionCreated,
		At:              rc.At,
	}
	if rc.State == settlement.Applied {
		shares := aggregate.ForMarket(rc.After)
		resp.Shares = &shares
	}
	if err != nil {
		_, resp.Kind = statusFor(err)
		resp.Error = err.Error()
	}
	return resp
}

// Settle verifies and applies one delivery envelope.
// POST /api/settlements
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	d, err := relay.DecodeDelivery(body)
	if err != nil {
		writeServiceError(w, r, h.logger, "decode delivery", err)
		return
	}

	rc, err := h.processor.Process(r.Context(), d)
	if err != nil {
		status, _ := statusFor(err)
		if status >= http.StatusInternalServerError {
			writeServiceError(w, r, h.logger, "settle", err)
			return
		}
		writeJSON(w, status, newReceiptResponse(rc, err))
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(rc, nil))
}

// recentResponse lists settlement events from the durable stream.
type recentResponse struct {
	Events []json.RawMessage `json:"events"`
	LastID string            `json:"last_id"`
}

// ListRecent returns settlement events after the given stream id.
// GET /api/settlements?after=0&count=50
func (h *SettlementHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement stream not configured")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := parseListOpts(r).Limit
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			count = n
		}
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.SettlementStream, after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "read settlement stream", err)
		return
	}
	resp := recentResponse{Events: make([]json.RawMessage, 0, len(msgs)), LastID: after}
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		resp.Events = append(resp.Events, json.RawMessage(m.Payload))
		resp.LastID = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
