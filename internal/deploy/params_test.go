package deploy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "merkle-airdrop/internal/errors"
)

const sampleRoot = "0x6f2b6f3a52e03d6bfae89dd4d1ecbc8b9be8b1d1b6e3e0bd2b0c0f5e0d3c2a11"

func TestParseParametersDefaultsToken(t *testing.T) {
	params, err := ParseParameters([]byte("AirdropModule:\n  merkleRoot: \"" + sampleRoot + "\"\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenAddress, params.TokenAddress)
	assert.Equal(t, common.HexToHash(sampleRoot), params.MerkleRoot)
}

func TestLoadParametersAcceptsIgnitionJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parameters.json")
	content := `{"AirdropModule":{"tokenAddress":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","merkleRoot":"` + sampleRoot + `"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	params, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), params.TokenAddress)
}

func TestResolveParametersRejectsBadRoots(t *testing.T) {
	cases := map[string]string{
		"missing":     "",
		"placeholder": PlaceholderMerkleRoot,
		"zero":        common.Hash{}.Hex(),
		"short":       "0x1234",
		"not hex":     "0xzz",
	}
	for name, root := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ResolveParameters("", root)
			require.Error(t, err)
			assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
		})
	}

	_, err := ResolveParameters("0x1234", sampleRoot)
	assert.Error(t, err, "invalid token address must be rejected")
}

func TestLoadParametersMissingFile(t *testing.T) {
	_, err := LoadParameters(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, xerrors.New(xerrors.CodeInvalidArgument, ""))
}
