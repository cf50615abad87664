package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"merkle-airdrop/internal/deploy"
	"merkle-airdrop/internal/proofs"
)

type treeSummary struct {
	MerkleRoot string          `json:"merkle_root"`
	Total      string          `json:"total"`
	Recipients []treeRecipient `json:"recipients"`
}

type treeRecipient struct {
	Address string   `json:"address"`
	Amount  string   `json:"amount"`
	Leaf    string   `json:"leaf"`
	Proof   []string `json:"proof"`
}

func newTreeCmd() *cobra.Command {
	var (
		allocations string
		paramsOut   string
		token       string
		withProofs  bool
	)
	c := &cobra.Command{
		Use:   "tree",
		Short: "Build the Merkle tree for an allocation list and print its root",
		Long: `Build the Merkle tree for an allocation list and print its root.

With --params-out the root is written as an AirdropModule parameters file
ready for "airdropctl deploy".`,
		RunE: func(c *cobra.Command, _ []string) error {
			tree, err := proofs.LoadTree(allocations)
			if err != nil {
				return err
			}

			summary := treeSummary{MerkleRoot: tree.Root().Hex(), Total: tree.Total().String()}
			if withProofs {
				for _, alloc := range tree.Allocations() {
					_, proof, _ := tree.Lookup(alloc.Address)
					leaf, err := proofs.LeafHash(alloc.Address, alloc.Amount)
					if err != nil {
						return err
					}
					summary.Recipients = append(summary.Recipients, treeRecipient{
						Address: alloc.Address.Hex(),
						Amount:  alloc.Amount.String(),
						Leaf:    leaf.Hex(),
						Proof:   proofs.HexProof(proof),
					})
				}
			}

			if paramsOut != "" {
				params, err := deploy.ResolveParameters(token, tree.Root().Hex())
				if err != nil {
					return err
				}
				if err := writeParameters(paramsOut, params); err != nil {
					return err
				}
			}
			return printJSON(c, summary)
		},
	}
	flags := c.Flags()
	flags.StringVar(&allocations, "allocations", "configs/allocations.yaml", "allocation list (yaml or json)")
	flags.StringVar(&paramsOut, "params-out", "", "write an AirdropModule parameters file to this path")
	flags.StringVar(&token, "token", "", "token address for the parameters file (default "+deploy.DefaultTokenAddress.Hex()+")")
	flags.BoolVar(&withProofs, "proofs", false, "include every recipient's leaf and proof")
	return c
}

func writeParameters(path string, params deploy.Parameters) error {
	content, err := yaml.Marshal(map[string]map[string]string{
		deploy.ModuleName: {
			"tokenAddress": params.TokenAddress.Hex(),
			"merkleRoot":   params.MerkleRoot.Hex(),
		},
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("写入参数文件失败: %w", err)
	}
	return nil
}

func printJSON(c *cobra.Command, payload any) error {
	enc := json.NewEncoder(c.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
