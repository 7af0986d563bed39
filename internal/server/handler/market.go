package handler

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	InitializeMarket(ctx context.Context, addr domain.PublicKey, marketID uint64) (domain.MarketView, error)
	GetMarket(ctx context.Context, addr domain.PublicKey) (domain.MarketView, error)
	ListMarkets(ctx context.Context) ([]domain.MarketView, error)
	GetPosition(ctx context.Context, market domain.PublicKey, user [20]byte) (domain.PositionView, error)
}

// MarketHandler serves market and position endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets ordered by market id.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: page(markets, opts),
		Total:   len(markets),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its record address.
// GET /api/markets/{address}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathKey(w, r, "address")
	if !ok {
		return
	}
	view, err := h.markets.GetMarket(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// initializeMarketRequest is the body of POST /api/markets. An empty address
// creates the market at a freshly generated key.
type initializeMarketRequest struct {
	Address  string `json:"address"`
	MarketID uint64 `json:"market_id"`
}

// InitializeMarket creates a zeroed market record.
// POST /api/markets
func (h *MarketHandler) InitializeMarket(w http.ResponseWriter, r *http.Request) {
	var req initializeMarketRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var addr domain.PublicKey
	if req.Address == "" {
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			writeServiceError(w, r, h.logger, "generate market key", err)
			return
		}
		copy(addr[:], pub)
	} else {
		var err error
		if addr, err = domain.ParsePublicKey(req.Address); err != nil {
			writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
			return
		}
	}

	view, err := h.markets.InitializeMarket(r.Context(), addr, req.MarketID)
	if err != nil {
		writeServiceError(w, r, h.logger, "initialize market", err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetPosition returns an origin-chain user's position in a market.
// GET /api/markets/{address}/positions/{user}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathKey(w, r, "address")
	if !ok {
		return
	}
	user := pathParam(r, "user")
	if !common.IsHexAddress(user) {
		writeError(w, http.StatusBadRequest, "invalid user: want a 0x-prefixed 20-byte address")
		return
	}

	pos, err := h.markets.GetPosition(r.Context(), addr, common.HexToAddress(user))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
