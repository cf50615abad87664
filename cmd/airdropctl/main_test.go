package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merkle-airdrop/internal/deploy"
)

const allocationsYAML = `allocations:
  - address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
    amount: 100
  - address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
    amount: 200
  - address: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
    amount: 300
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeAllocations(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allocations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(allocationsYAML), 0o644))
	return path
}

func TestTreeWritesParameters(t *testing.T) {
	allocations := writeAllocations(t)
	paramsPath := filepath.Join(t.TempDir(), "parameters.yaml")

	out, err := execute(t, "tree", "--allocations", allocations, "--params-out", paramsPath, "--proofs")
	require.NoError(t, err)

	var summary treeSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "600", summary.Total)
	assert.Len(t, summary.Recipients, 3)

	params, err := deploy.LoadParameters(paramsPath)
	require.NoError(t, err)
	assert.Equal(t, summary.MerkleRoot, params.MerkleRoot.Hex())
	assert.Equal(t, deploy.DefaultTokenAddress, params.TokenAddress)
}

func TestProofThenVerify(t *testing.T) {
	allocations := writeAllocations(t)

	out, err := execute(t, "tree", "--allocations", allocations)
	require.NoError(t, err)
	var summary treeSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))

	out, err = execute(t, "proof", "--allocations", allocations, "--address", "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	require.NoError(t, err)
	var recipient treeRecipient
	require.NoError(t, json.Unmarshal([]byte(out), &recipient))
	assert.Equal(t, "200", recipient.Amount)
	require.NotEmpty(t, recipient.Proof)

	out, err = execute(t, "verify",
		"--root", summary.MerkleRoot,
		"--address", recipient.Address,
		"--amount", "200",
		"--proof", strings.Join(recipient.Proof, ","),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	_, err = execute(t, "verify",
		"--root", summary.MerkleRoot,
		"--address", recipient.Address,
		"--amount", "201",
		"--proof", strings.Join(recipient.Proof, ","),
	)
	assert.ErrorIs(t, err, errProofRejected)
}

func TestProofUnknownAddress(t *testing.T) {
	_, err := execute(t, "proof", "--allocations", writeAllocations(t), "--address", "0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	assert.Error(t, err)
}

func TestDeployRejectsPlaceholderRoot(t *testing.T) {
	paramsPath := filepath.Join(t.TempDir(), "parameters.yaml")
	content := "AirdropModule:\n  merkleRoot: \"" + deploy.PlaceholderMerkleRoot + "\"\n"
	require.NoError(t, os.WriteFile(paramsPath, []byte(content), 0o644))

	_, err := execute(t, "deploy", "--parameters", paramsPath, "--rpc", "http://127.0.0.1:8545")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "占位值")
}
