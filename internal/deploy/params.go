package deploy

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	xerrors "merkle-airdrop/internal/errors"
)

const (
	// ModuleName 是参数文件中的模块键。
	ModuleName = "AirdropModule"
	// ContractName 是被部署的合约名称。
	ContractName = "MerkleAirdrop"
	// PlaceholderMerkleRoot 是模板中的占位值，不能用于部署。
	PlaceholderMerkleRoot = "0xYourMerkleRootHere"
)

// DefaultTokenAddress 是未提供 tokenAddress 时使用的代币地址。
var DefaultTokenAddress = common.HexToAddress("0x001AaBE36BBA3C25796bB9B19AE21950a4e6B87E")

// Parameters 是构造函数参数。
type Parameters struct {
	TokenAddress common.Address
	MerkleRoot   common.Hash
}

type moduleParameters struct {
	TokenAddress string `yaml:"tokenAddress"`
	MerkleRoot   string `yaml:"merkleRoot"`
}

// ParseParameters 解析 {AirdropModule: {tokenAddress, merkleRoot}} 结构，
// JSON 形式的 Ignition 参数文件同样适用。
func ParseParameters(content []byte) (Parameters, error) {
	var file map[string]moduleParameters
	if err := yaml.Unmarshal(content, &file); err != nil {
		return Parameters{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析部署参数失败")
	}
	module := file[ModuleName]
	return ResolveParameters(module.TokenAddress, module.MerkleRoot)
}

// LoadParameters 读取部署参数文件。
func LoadParameters(path string) (Parameters, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("读取部署参数 %s 失败", path))
	}
	return ParseParameters(content)
}

// ResolveParameters 填充默认代币地址并校验 Merkle 根。
func ResolveParameters(tokenAddress, merkleRoot string) (Parameters, error) {
	params := Parameters{TokenAddress: DefaultTokenAddress}

	if raw := strings.TrimSpace(tokenAddress); raw != "" {
		if !common.IsHexAddress(raw) {
			return Parameters{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("tokenAddress 非法: %s", raw))
		}
		params.TokenAddress = common.HexToAddress(raw)
	}

	root, err := ParseMerkleRoot(merkleRoot)
	if err != nil {
		return Parameters{}, err
	}
	params.MerkleRoot = root
	return params, nil
}

// ParseMerkleRoot 解析 0x 前缀的 32 字节根；占位值与全零值都会被拒绝。
func ParseMerkleRoot(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "必须提供 merkleRoot")
	case strings.EqualFold(raw, PlaceholderMerkleRoot):
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "merkleRoot 仍是占位值，请先生成 Merkle 树")
	}
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("merkleRoot 必须是 32 字节十六进制: %s", raw))
	}
	root := common.BytesToHash(decoded)
	if root == (common.Hash{}) {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "merkleRoot 不能为全零")
	}
	return root, nil
}
