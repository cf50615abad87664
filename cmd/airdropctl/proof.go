package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"merkle-airdrop/internal/proofs"
)

func newProofCmd() *cobra.Command {
	var (
		allocations string
		address     string
	)
	c := &cobra.Command{
		Use:   "proof",
		Short: "Print the amount and proof for one recipient",
		RunE: func(c *cobra.Command, _ []string) error {
			if !common.IsHexAddress(address) {
				return fmt.Errorf("--address 非法: %q", address)
			}
			tree, err := proofs.LoadTree(allocations)
			if err != nil {
				return err
			}
			claimant := common.HexToAddress(address)
			alloc, proof, ok := tree.Lookup(claimant)
			if !ok {
				return fmt.Errorf("%s 不在空投名单中", claimant.Hex())
			}
			leaf, err := proofs.LeafHash(alloc.Address, alloc.Amount)
			if err != nil {
				return err
			}
			return printJSON(c, treeRecipient{
				Address: claimant.Hex(),
				Amount:  alloc.Amount.String(),
				Leaf:    leaf.Hex(),
				Proof:   proofs.HexProof(proof),
			})
		},
	}
	flags := c.Flags()
	flags.StringVar(&allocations, "allocations", "configs/allocations.yaml", "allocation list (yaml or json)")
	flags.StringVar(&address, "address", "", "recipient address")
	return c
}

var errProofRejected = errors.New("proof is not valid for this root")

func newVerifyCmd() *cobra.Command {
	var (
		root    string
		address string
		amount  string
		proof   []string
	)
	c := &cobra.Command{
		Use:   "verify",
		Short: "Check a proof against a Merkle root without touching any state",
		RunE: func(c *cobra.Command, _ []string) error {
			if !common.IsHexAddress(address) {
				return fmt.Errorf("--address 非法: %q", address)
			}
			value, err := proofs.ParseAmount(amount)
			if err != nil {
				return err
			}
			parsedRoot := common.HexToHash(strings.TrimSpace(root))
			hashes, err := proofs.ParseHexProof(proof)
			if err != nil {
				return err
			}
			leaf, err := proofs.LeafHash(common.HexToAddress(address), value)
			if err != nil {
				return err
			}
			if !proofs.Verify(hashes, parsedRoot, leaf) {
				return errProofRejected
			}
			fmt.Fprintf(c.OutOrStdout(), "valid leaf=%s root=%s\n", leaf.Hex(), parsedRoot.Hex())
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&root, "root", "", "merkle root (0x-prefixed)")
	flags.StringVar(&address, "address", "", "claimant address")
	flags.StringVar(&amount, "amount", "", "claimed amount")
	flags.StringSliceVar(&proof, "proof", nil, "proof hashes, comma separated or repeated")
	_ = c.MarkFlagRequired("root")
	_ = c.MarkFlagRequired("address")
	_ = c.MarkFlagRequired("amount")
	return c
}
