package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merkle-airdrop/internal/airdrop"
	"merkle-airdrop/internal/config"
	"merkle-airdrop/internal/deploy"
	"merkle-airdrop/internal/proofs"
)

const ownerHex = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func shippedTree(t *testing.T) *proofs.Tree {
	t.Helper()
	tree, err := proofs.LoadTree(filepath.Join("..", "..", "configs", "allocations.yaml"))
	require.NoError(t, err)
	return tree
}

func TestDistributorConfigUsesTreeRoot(t *testing.T) {
	tree := shippedTree(t)

	cfg, err := distributorConfig(config.AirdropConfig{Owner: ownerHex}, tree)
	require.NoError(t, err)
	assert.Equal(t, tree.Root(), cfg.Root)
	assert.Equal(t, deploy.DefaultTokenAddress, cfg.Token)
	assert.Equal(t, crypto.CreateAddress(common.HexToAddress(ownerHex), 0), cfg.Address)
}

func TestDistributorConfigReadsParametersFile(t *testing.T) {
	tree := shippedTree(t)
	path := filepath.Join(t.TempDir(), "parameters.yaml")
	content := "AirdropModule:\n  tokenAddress: \"0x5FbDB2315678afecb367f032d93F642f64180aa3\"\n  merkleRoot: \"" + tree.Root().Hex() + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := distributorConfig(config.AirdropConfig{ParametersFile: path, Owner: ownerHex}, tree)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), cfg.Token)
}

func TestDistributorConfigRejectsMismatchedRoot(t *testing.T) {
	tree := shippedTree(t)
	other := crypto.Keccak256Hash([]byte("other")).Hex()

	_, err := distributorConfig(config.AirdropConfig{MerkleRoot: other, Owner: ownerHex}, tree)
	assert.Error(t, err)

	_, err = distributorConfig(config.AirdropConfig{MerkleRoot: deploy.PlaceholderMerkleRoot, Owner: ownerHex}, nil)
	assert.Error(t, err)

	_, err = distributorConfig(config.AirdropConfig{Owner: "nobody"}, tree)
	assert.Error(t, err)
}

func TestFundingFromConfig(t *testing.T) {
	funding, err := fundingFromConfig(config.AirdropConfig{
		Token:         config.TokenConfig{InitialSupply: "1000"},
		FundingAmount: "0x258",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), funding.InitialSupply.Int64())
	assert.Equal(t, int64(600), funding.Amount.Int64())

	funding, err = fundingFromConfig(config.AirdropConfig{})
	require.NoError(t, err)
	assert.Nil(t, funding.InitialSupply)

	_, err = fundingFromConfig(config.AirdropConfig{FundingAmount: "-1"})
	assert.Error(t, err)
}

type closingSequencer struct {
	*airdrop.LocalSequencer
	closed int
}

func (s *closingSequencer) Close() error {
	s.closed++
	return nil
}

func TestCloseSequencerReleasesExternalLock(t *testing.T) {
	seq := &closingSequencer{LocalSequencer: airdrop.NewLocalSequencer()}
	require.NoError(t, closeSequencer(seq))
	assert.Equal(t, 1, seq.closed)

	local, err := openSequencer(context.Background(), config.LockConfig{Driver: "local"})
	require.NoError(t, err)
	require.NoError(t, closeSequencer(local))
}
