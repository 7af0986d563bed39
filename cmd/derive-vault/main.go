// Command derive-vault prints the vault address of a market, base58 and as
// the 0x-prefixed bytes32 origin-chain contracts send to.
//
//	derive-vault <programId> <marketPubkey>
package main

import (
	"fmt"
	"os"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/pda"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: derive-vault <programId> <marketPubkey>")
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "derive-vault: %v\n", err)
		os.Exit(1)
	}
}

func run(programArg, marketArg string) error {
	program, err := domain.ParsePublicKey(programArg)
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}
	market, err := domain.ParsePublicKey(marketArg)
	if err != nil {
		return fmt.Errorf("market: %w", err)
	}
	vault, bump, err := pda.DeriveVault(program, market)
	if err != nil {
		return err
	}
	fmt.Println("vault PDA:", vault.String())
	fmt.Println("vault bytes32:", vault.Hex())
	fmt.Println("bump:", bump)
	return nil
}
