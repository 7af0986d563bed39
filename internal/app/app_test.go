package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/config"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/store/memory"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Program.ID = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkgSgK6z7uJc"
	return &cfg
}

func TestWire_MemoryDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), testConfig(), logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.Accounts.(*memory.AccountStore); !ok {
		t.Errorf("Accounts = %T, want in-memory store", deps.Accounts)
	}
	if _, ok := deps.SignalBus.(*memory.SignalBus); !ok {
		t.Errorf("SignalBus = %T, want in-memory bus", deps.SignalBus)
	}
	if deps.MarketCache != nil || deps.LockManager != nil || deps.RateLimiter != nil {
		t.Error("redis-backed dependencies must be nil when redis is disabled")
	}
	if deps.BlobWriter != nil || deps.JetStream != nil || deps.Chain != nil {
		t.Error("optional transports must be nil when disabled")
	}
	if deps.Verifier.Enabled() || deps.Notifier.Enabled() {
		t.Error("verifier and notifier must be disabled without configuration")
	}
}

func TestWire_RejectsBadInput(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.Program.ID = "not-a-key"
	if _, _, err := Wire(context.Background(), cfg, logger); err == nil {
		t.Error("expected error for bad program id")
	}

	cfg = testConfig()
	cfg.Relay.TrustedSigners = []string{"0x1234"}
	if _, _, err := Wire(context.Background(), cfg, logger); err == nil {
		t.Error("expected error for bad trusted signer")
	}
}

func TestWire_RelayKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	const devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	tests := []struct {
		name     string
		relay    config.RelayConfig
		wantAddr string
		wantErr  bool
	}{
		{"none", config.RelayConfig{}, "", false},
		{"raw key", config.RelayConfig{SigningKey: devKey, TrustedSigners: []string{devAddress}}, devAddress, false},
		{"bad key", config.RelayConfig{SigningKey: "0x12"}, "", true},
		{"missing key file", config.RelayConfig{KeyFile: "/nonexistent/relay.key.json", KeyPassword: "pw"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Relay = tt.relay
			deps, cleanup, err := Wire(context.Background(), cfg, logger)
			if tt.wantErr {
				if err == nil {
					cleanup()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Wire: %v", err)
			}
			defer cleanup()
			if tt.wantAddr == "" {
				if deps.Attestor != nil {
					t.Error("attestor set without a relay key")
				}
				return
			}
			if deps.Attestor == nil || deps.Attestor.Address().Hex() != tt.wantAddr {
				t.Fatalf("attestor = %v, want %s", deps.Attestor, tt.wantAddr)
			}
			if !deps.Verifier.Trusts(deps.Attestor.Address()) {
				t.Error("own relay key not trusted")
			}
		})
	}
}

func TestBuildServices_EndToEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	a := New(cfg, logger)
	svcs, err := a.buildServices(deps)
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}
	if svcs.exporter != nil {
		t.Error("exporter must be nil without s3")
	}

	market := domain.PublicKey{0x42}
	view, err := svcs.markets.InitializeMarket(context.Background(), market, 1)
	if err != nil {
		t.Fatalf("InitializeMarket: %v", err)
	}
	if view.Vault.IsZero() {
		t.Error("vault not derived")
	}
	if svcs.processor.RequiresSignature() {
		t.Error("processor must not require signatures without trusted signers")
	}
}
