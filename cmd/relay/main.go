package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Anonymous signal relay",
		Long: `Anonymous signal relay: verifies membership proofs, consumes nullifiers
and forwards the accepted signals to the ledger.

Commands:
  relay start      Run the relay
  relay setup      Generate and export the circuit artifacts`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newSetupCmd())
	return rootCmd.ExecuteContext(context.Background())
}
