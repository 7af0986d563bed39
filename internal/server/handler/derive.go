package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/pda"
)

// DeriveHandler exposes program address derivation so origin-chain tooling
// can learn the bytes32 vault to send to.
type DeriveHandler struct {
	programID domain.PublicKey
	logger    *slog.Logger
}

// NewDeriveHandler creates a DeriveHandler for programID.
func NewDeriveHandler(programID domain.PublicKey, logger *slog.Logger) *DeriveHandler {
	return &DeriveHandler{programID: programID, logger: logHandler(logger, "derive")}
}

type derivedAddress struct {
	ProgramID domain.PublicKey `json:"program_id"`
	Address   domain.PublicKey `json:"address"`
	Bytes32   string           `json:"bytes32"`
	Bump      uint8            `json:"bump"`
}

// Vault derives the vault of a market.
// GET /api/derive/vault?market=<base58>
func (h *DeriveHandler) Vault(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("market")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing market")
		return
	}
	market, err := domain.ParsePublicKey(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market: "+err.Error())
		return
	}
	vault, bump, err := pda.DeriveVault(h.programID, market)
	if err != nil {
		writeServiceError(w, r, h.logger, "derive vault", err)
		return
	}
	writeJSON(w, http.StatusOK, derivedAddress{ProgramID: h.programID, Address: vault, Bytes32: vault.Hex(), Bump: bump})
}

// Position derives the position address of an origin-chain user.
// GET /api/derive/position?market_id=<n>&user=<0x…>
func (h *DeriveHandler) Position(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	marketID, err := strconv.ParseUint(q.Get("market_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market_id")
		return
	}
	user := q.Get("user")
	if !common.IsHexAddress(user) {
		writeError(w, http.StatusBadRequest, "invalid user: want a 0x-prefixed 20-byte address")
		return
	}
	addr, bump, err := pda.DeriveUserPosition(h.programID, marketID, common.HexToAddress(user))
	if err != nil {
		writeServiceError(w, r, h.logger, "derive position", err)
		return
	}
	writeJSON(w, http.StatusOK, derivedAddress{ProgramID: h.programID, Address: addr, Bytes32: addr.Hex(), Bump: bump})
}
