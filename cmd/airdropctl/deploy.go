package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"merkle-airdrop/internal/config"
	"merkle-airdrop/internal/deploy"
	"merkle-airdrop/internal/web3/provider"
)

// deployerKeyEnv 保存部署私钥的环境变量。
const deployerKeyEnv = "AIRDROP_DEPLOYER_KEY"

func newDeployCmd() *cobra.Command {
	var (
		artifactPath string
		paramsPath   string
		token        string
		root         string
		chainConfig  string
		chain        string
		rpcURL       string
		outDir       string
		gasLimit     uint64
	)
	c := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy MerkleAirdrop(token, merkleRoot) from a Hardhat artifact",
		Long: `Deploy MerkleAirdrop(token, merkleRoot) from a Hardhat artifact.

The deployer key is read from $` + deployerKeyEnv + `. --token and --root
override the parameters file; tokenAddress defaults to ` + deploy.DefaultTokenAddress.Hex() + `.`,
		RunE: func(c *cobra.Command, _ []string) error {
			params, err := resolveDeployParameters(paramsPath, token, root)
			if err != nil {
				return err
			}
			artifact, err := deploy.LoadArtifact(artifactPath)
			if err != nil {
				return err
			}
			key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(os.Getenv(deployerKeyEnv)), "0x"))
			if err != nil {
				return fmt.Errorf("读取 %s 失败: %w", deployerKeyEnv, err)
			}

			registry, err := provider.NewRegistry(c.Context(), config.Web3Config{
				ChainConfig:  chainConfig,
				DefaultChain: chain,
				RPCURL:       rpcURL,
			})
			if err != nil {
				return err
			}
			defer registry.Close()
			client, err := registry.Client(chain)
			if err != nil {
				return err
			}

			network := chain
			if network == "" {
				network = "default"
			}
			deployment, err := deploy.NewDeployer(client, network, gasLimit).Deploy(c.Context(), key, artifact, params)
			if err != nil {
				return err
			}
			if outDir != "" {
				if _, err := deployment.Save(outDir); err != nil {
					return err
				}
			}
			return printJSON(c, deployment)
		},
	}
	flags := c.Flags()
	flags.StringVar(&artifactPath, "artifact", "artifacts/contracts/MerkleAirdrop.sol/MerkleAirdrop.json", "hardhat artifact")
	flags.StringVar(&paramsPath, "parameters", "", "AirdropModule parameters file (yaml or json)")
	flags.StringVar(&token, "token", "", "token address")
	flags.StringVar(&root, "root", "", "merkle root")
	flags.StringVar(&chainConfig, "chain-config", "", "chain definitions file")
	flags.StringVar(&chain, "chain", "", "chain name from the definitions file")
	flags.StringVar(&rpcURL, "rpc", "", "RPC endpoint when no chain definitions are given")
	flags.StringVar(&outDir, "out", "ignition/deployments", "directory for deployed addresses, empty to skip")
	flags.Uint64Var(&gasLimit, "gas-limit", 0, "gas limit, 0 to estimate")
	return c
}

func resolveDeployParameters(path, token, root string) (deploy.Parameters, error) {
	if path == "" {
		return deploy.ResolveParameters(token, root)
	}
	params, err := deploy.LoadParameters(path)
	if err != nil {
		return deploy.Parameters{}, err
	}
	if token == "" {
		token = params.TokenAddress.Hex()
	}
	if root == "" {
		root = params.MerkleRoot.Hex()
	}
	return deploy.ResolveParameters(token, root)
}
