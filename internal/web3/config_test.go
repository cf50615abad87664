package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDefinitions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadChainDefinitions(t *testing.T) {
	path := writeDefinitions(t, `chains:
  sepolia:
    type: EVM
    rpc_url: https://rpc.sepolia.org
    chain_id: 11155111
  hardhat:
    rpc_url: " http://127.0.0.1:8545 "
    description: local hardhat node
`)

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if names := defs.Names(); len(names) != 2 || names[0] != "hardhat" {
		t.Fatalf("unexpected names %v", names)
	}
	hardhat := defs.Chains["hardhat"]
	if hardhat.RPCURL != "http://127.0.0.1:8545" || hardhat.Type != ChainTypeEVM {
		t.Fatalf("definition not normalised: %+v", hardhat)
	}
	if defs.Chains["sepolia"].ChainID != 11155111 {
		t.Fatalf("unexpected sepolia definition %+v", defs.Chains["sepolia"])
	}

	empty, err := LoadChainDefinitions("")
	if err != nil || empty.Chains == nil {
		t.Fatalf("expected empty definitions, got %+v %v", empty, err)
	}
	if _, err := LoadChainDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadChainDefinitionsValidates(t *testing.T) {
	cases := map[string]string{
		"unsupported type": "chains:\n  solana:\n    type: svm\n    rpc_url: http://127.0.0.1:8899\n",
		"missing rpc":      "chains:\n  hardhat:\n    description: no endpoint\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadChainDefinitions(writeDefinitions(t, content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
