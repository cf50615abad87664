package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "merkle-airdrop/internal/errors"
)

// Artifact 是 Hardhat 编译产物中部署所需的字段。
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`

	code []byte
}

// LoadArtifact 读取并校验 artifacts/.../MerkleAirdrop.json。
func LoadArtifact(path string) (*Artifact, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("读取合约产物 %s 失败", path))
	}
	return ParseArtifact(content)
}

// ParseArtifact 解析产物并检查构造函数签名为 (address, bytes32)。
func ParseArtifact(content []byte) (*Artifact, error) {
	var artifact Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析合约产物失败")
	}
	code, err := hexutil.Decode(strings.TrimSpace(artifact.Bytecode))
	if err != nil || len(code) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "合约产物缺少字节码，未链接的库也会导致该错误")
	}
	artifact.code = code

	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析合约 ABI 失败")
	}
	inputs := parsed.Constructor.Inputs
	if len(inputs) != 2 || inputs[0].Type.T != abi.AddressTy || inputs[1].Type.String() != "bytes32" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "构造函数必须为 (address token, bytes32 merkleRoot)")
	}
	return &artifact, nil
}

// ABIJSON 返回 ABI 原文。
func (a *Artifact) ABIJSON() string {
	return string(a.ABI)
}

// Code 返回创建字节码。
func (a *Artifact) Code() []byte {
	return append([]byte(nil), a.code...)
}
