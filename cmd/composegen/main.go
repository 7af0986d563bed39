// Command composegen builds test traffic for the settlement service.
//
//	composegen payload   -user 0x… -market-id 42 -outcome 1
//	composegen delivery  -program … -market … -user 0x… -market-id 42 -outcome 1 -amount 1000 [-sign [-config config.toml]] [-publish nats://…]
//	composegen encrypt-key [-config config.toml] -out relay.key.json
//
// The relay key is read from the [relay] section of -config (signing_key, or
// key_file with key_password) after XBET_RELAY_* overrides; -key-file
// replaces key_file. encrypt-key seals relay.signing_key under
// relay.key_password.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/compose"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/config"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/crypto"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/pda"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/relay"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "payload":
		err = runPayload(os.Args[2:])
	case "delivery":
		err = runDelivery(os.Args[2:])
	case "encrypt-key":
		err = runEncryptKey(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "composegen: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: composegen payload|delivery|encrypt-key [flags]")
	os.Exit(2)
}

type messageFlags struct {
	user     *string
	marketID *uint64
	outcome  *uint
}

func addMessageFlags(fs *flag.FlagSet) messageFlags {
	return messageFlags{
		user:     fs.String("user", "", "origin-chain sender address (0x…)"),
		marketID: fs.Uint64("market-id", 0, "market id"),
		outcome:  fs.Uint("outcome", 0, "outcome index (0 = no, 1 = yes)"),
	}
}

func (m messageFlags) message() (compose.Message, error) {
	if !common.IsHexAddress(*m.user) {
		return compose.Message{}, fmt.Errorf("-user %q is not an address", *m.user)
	}
	if *m.outcome > 255 {
		return compose.Message{}, fmt.Errorf("-outcome %d does not fit a byte", *m.outcome)
	}
	return compose.Message{
		Sender:   common.HexToAddress(*m.user),
		MarketID: *m.marketID,
		Outcome:  uint8(*m.outcome),
	}, nil
}

func runPayload(args []string) error {
	fs := flag.NewFlagSet("payload", flag.ExitOnError)
	mf := addMessageFlags(fs)
	_ = fs.Parse(args)

	msg, err := mf.message()
	if err != nil {
		return err
	}
	out, err := compose.EncodeHex(msg)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runDelivery(args []string) error {
	fs := flag.NewFlagSet("delivery", flag.ExitOnError)
	mf := addMessageFlags(fs)
	programArg := fs.String("program", "", "program id (base58)")
	marketArg := fs.String("market", "", "market record address (base58)")
	amount := fs.Uint64("amount", 0, "transferred amount in base units")
	transferID := fs.String("transfer-id", "", "transfer id (default: random)")
	sign := fs.Bool("sign", false, "attach a relay attestation")
	cfgPath := fs.String("config", "", "config file holding the [relay] key")
	keyFile := fs.String("key-file", "", "encrypted relay key file (overrides relay.key_file)")
	publish := fs.String("publish", "", "NATS URL to publish the delivery to")
	subject := fs.String("subject", "", "NATS subject (default: per-market delivery subject)")
	_ = fs.Parse(args)

	msg, err := mf.message()
	if err != nil {
		return err
	}
	program, err := domain.ParsePublicKey(*programArg)
	if err != nil {
		return fmt.Errorf("-program: %w", err)
	}
	market, err := domain.ParsePublicKey(*marketArg)
	if err != nil {
		return fmt.Errorf("-market: %w", err)
	}
	vault, _, err := pda.DeriveVault(program, market)
	if err != nil {
		return err
	}
	pos, _, err := pda.DeriveUserPosition(program, msg.MarketID, msg.SenderBytes())
	if err != nil {
		return err
	}
	payload, err := compose.Encode(msg)
	if err != nil {
		return err
	}
	if *transferID == "" {
		*transferID = uuid.NewString()
	}

	d := relay.NewDelivery(payload, *amount, settlement.Accounts{
		Market:       market,
		Vault:        vault,
		UserPosition: pos,
	}, *transferID)

	if *sign {
		src, err := relayKeySource(*cfgPath)
		if err != nil {
			return err
		}
		if *keyFile != "" {
			src.Raw, src.File = "", *keyFile
		}
		attestor, err := crypto.LoadAttestor(src)
		if err != nil {
			return err
		}
		if err := d.Sign(attestor); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if *publish == "" {
		return nil
	}
	return publishDelivery(*publish, *subject, msg.MarketID, d)
}

func publishDelivery(url, subject string, marketID uint64, d relay.Delivery) error {
	nc, js, err := relay.ConnectNATS(url, slog.Default())
	if err != nil {
		return err
	}
	defer nc.Close()

	cfg := relay.DefaultNATSConfig()
	if subject == "" {
		subject = relay.DeliverySubject(cfg, marketID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := relay.EnsureStream(ctx, js, cfg); err != nil {
		return err
	}
	if err := relay.PublishDelivery(ctx, js, subject, d); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "published to %s\n", subject)
	return nil
}

// relayKeySource loads path (or only the environment when path is empty)
// and returns the [relay] key source.
func relayKeySource(path string) (crypto.KeySource, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return crypto.KeySource{}, err
	}
	return crypto.KeySourceFrom(cfg.Relay), nil
}

func runEncryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file holding relay.signing_key and relay.key_password")
	out := fs.String("out", "relay.key.json", "output file")
	_ = fs.Parse(args)

	src, err := relayKeySource(*cfgPath)
	if err != nil {
		return err
	}
	key, password := src.Raw, src.Password
	if key == "" || password == "" {
		return errors.New("relay.signing_key and relay.key_password (or XBET_RELAY_SIGNING_KEY and XBET_RELAY_KEY_PASSWORD) must be set")
	}
	attestor, err := crypto.NewAttestor(key)
	if err != nil {
		return err
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s for relay %s\n", *out, attestor.Address().Hex())
	return nil
}
