// Command airdropctl builds Merkle trees and proofs for an allocation list,
// verifies proofs and deploys the MerkleAirdrop contract.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "airdropctl",
		Short:         "Merkle airdrop tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newTreeCmd(),
		newProofCmd(),
		newVerifyCmd(),
		newDeployCmd(),
	)
	return root
}
