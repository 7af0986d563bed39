package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/account"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/aggregate"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/compose"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/notify"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/pda"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
)

// MarketService creates markets and serves decoded market and position
// views, cache first.
type MarketService struct {
	deps   Deps
	lock   LockConfig
	local  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewMarketService creates a MarketService.
func NewMarketService(deps Deps, lock LockConfig) (*MarketService, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &MarketService{
		deps:   deps,
		lock:   lock,
		local:  newKeyedMutex(),
		logger: deps.logger("market_service"),
		now:    time.Now,
	}, nil
}

// ProgramID returns the program id addresses are derived under.
func (s *MarketService) ProgramID() domain.PublicKey {
	return s.deps.Engine.ProgramID()
}

// InitializeMarket creates a zeroed market at addr. Market ids are unique
// across markets so relays can resolve a market from its id.
func (s *MarketService) InitializeMarket(ctx context.Context, addr domain.PublicKey, marketID uint64) (domain.MarketView, error) {
	var m account.Market
	err := withMarketLock(ctx, s.local, s.deps.Locks, s.lock, fmt.Sprintf("market-id:%d", marketID), func() error {
		if _, err := s.findByMarketID(ctx, marketID); err == nil {
			return fmt.Errorf("market_service: market id %d: %w", marketID, domain.ErrAlreadyExists)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		var err error
		m, err = s.deps.Engine.InitializeMarket(ctx, addr, marketID)
		return err
	})
	if err != nil {
		return domain.MarketView{}, err
	}

	view := aggregate.View(addr, m, s.now().UTC())
	s.deps.Metrics.ObserveMarketInitialized()
	s.logger.InfoContext(ctx, "market_service: market initialized",
		slog.String("market", addr.String()),
		slog.Uint64("market_id", marketID),
		slog.String("vault", m.Vault.String()),
		slog.Int("vault_bump", int(m.VaultBump)),
	)

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, view); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Bus != nil {
		if payload, err := json.Marshal(view); err == nil {
			if err := s.deps.Bus.Publish(ctx, domain.MarketChannel, payload); err != nil {
				s.logger.WarnContext(ctx, "market_service: publish failed", slog.String("error", err.Error()))
			}
		}
	}
	if s.deps.Audit != nil {
		detail := map[string]any{"market": addr.String(), "market_id": marketID, "vault": m.Vault.String()}
		if err := s.deps.Audit.Log(ctx, notify.EventMarketInitialized, detail); err != nil {
			s.logger.WarnContext(ctx, "market_service: audit log failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Notifier.Enabled() && s.deps.Notifier.Allows(notify.EventMarketInitialized) {
		note := notify.Notification{
			Event:   notify.EventMarketInitialized,
			Title:   fmt.Sprintf("Market %d initialized", marketID),
			Text:    fmt.Sprintf("market %s, vault %s", addr, m.Vault.Hex()),
			Payload: view,
		}
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = s.deps.Notifier.Notify(nctx, note)
		}()
	}
	return view, nil
}

// GetMarket returns the view of the market at addr, from cache when
// possible.
func (s *MarketService) GetMarket(ctx context.Context, addr domain.PublicKey) (domain.MarketView, error) {
	if s.deps.Cache != nil {
		if v, err := s.deps.Cache.Get(ctx, addr); err == nil {
			return v, nil
		}
	}

	raw, err := s.deps.Accounts.Get(ctx, addr)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("market_service: get %s: %w", addr, err)
	}
	if len(raw) != account.MarketSize || !account.HasMarketTag(raw) {
		return domain.MarketView{}, fmt.Errorf("market_service: %s is not a market: %w", addr, domain.ErrNotFound)
	}
	m, err := account.DecodeMarket(raw)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("market_service: decode %s: %w", addr, err)
	}
	view := aggregate.View(addr, m, s.now().UTC())

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, view); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache back-fill failed",
				slog.String("market", addr.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return view, nil
}

// ListMarkets decodes every market record, ordered by market id.
func (s *MarketService) ListMarkets(ctx context.Context) ([]domain.MarketView, error) {
	raws, err := s.deps.Accounts.ListBySize(ctx, account.MarketSize)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets: %w", err)
	}
	now := s.now().UTC()
	views := make([]domain.MarketView, 0, len(raws))
	for _, ra := range raws {
		if !account.HasMarketTag(ra.Data) {
			continue
		}
		m, err := account.DecodeMarket(ra.Data)
		if err != nil {
			s.logger.WarnContext(ctx, "market_service: skipping undecodable market",
				slog.String("market", ra.Address.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		views = append(views, aggregate.View(ra.Address, m, now))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].MarketID != views[j].MarketID {
			return views[i].MarketID < views[j].MarketID
		}
		return views[i].Address.String() < views[j].Address.String()
	})
	return views, nil
}

// GetPosition returns the position of an origin-chain user in the market at
// addr.
func (s *MarketService) GetPosition(ctx context.Context, market domain.PublicKey, user [20]byte) (domain.PositionView, error) {
	view, err := s.GetMarket(ctx, market)
	if err != nil {
		return domain.PositionView{}, err
	}
	posAddr, _, err := pda.DeriveUserPosition(s.ProgramID(), view.MarketID, user)
	if err != nil {
		return domain.PositionView{}, fmt.Errorf("market_service: derive position: %w", err)
	}
	raw, err := s.deps.Accounts.Get(ctx, posAddr)
	if err != nil {
		return domain.PositionView{}, fmt.Errorf("market_service: position %s: %w", posAddr, err)
	}
	p, err := account.DecodePosition(raw)
	if err != nil {
		return domain.PositionView{}, fmt.Errorf("market_service: decode position %s: %w", posAddr, err)
	}
	return aggregate.PositionView(posAddr, p), nil
}

// ResolveAccounts finds the market carrying marketID and derives the
// accounts a delivery from sender must supply. Relays that only know the
// market id and the vault use it.
func (s *MarketService) ResolveAccounts(ctx context.Context, marketID uint64, sender [20]byte) (settlement.Accounts, error) {
	addr, err := s.findByMarketID(ctx, marketID)
	if err != nil {
		return settlement.Accounts{}, err
	}
	var msg compose.Message
	msg.MarketID = marketID
	msg.Sender = sender
	return s.deps.Engine.ExpectedAccounts(addr, msg)
}

func (s *MarketService) findByMarketID(ctx context.Context, marketID uint64) (domain.PublicKey, error) {
	if s.deps.Cache != nil {
		if v, err := s.deps.Cache.GetByMarketID(ctx, marketID); err == nil {
			return v.Address, nil
		}
	}
	views, err := s.ListMarkets(ctx)
	if err != nil {
		return domain.PublicKey{}, err
	}
	for _, v := range views {
		if v.MarketID == marketID {
			if s.deps.Cache != nil {
				_ = s.deps.Cache.Set(ctx, v)
			}
			return v.Address, nil
		}
	}
	return domain.PublicKey{}, fmt.Errorf("market_service: market id %d: %w", marketID, domain.ErrNotFound)
}
