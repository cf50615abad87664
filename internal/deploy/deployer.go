package deploy

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/web3"
	"merkle-airdrop/pkg/logger"
)

// Deployment 记录一次成功部署。
type Deployment struct {
	Network      string         `json:"network"`
	ChainID      string         `json:"chain_id"`
	Contract     common.Address `json:"contract"`
	Transaction  common.Hash    `json:"transaction"`
	BlockNumber  uint64         `json:"block_number"`
	Deployer     common.Address `json:"deployer"`
	TokenAddress common.Address `json:"token_address"`
	MerkleRoot   common.Hash    `json:"merkle_root"`
	DeployedAt   time.Time      `json:"deployed_at"`
}

// Deployer 通过 web3.Client 部署分发合约。
type Deployer struct {
	client   web3.Client
	network  string
	gasLimit uint64
}

// NewDeployer 构造部署器，gasLimit 为 0 时由节点估算。
func NewDeployer(client web3.Client, network string, gasLimit uint64) *Deployer {
	return &Deployer{client: client, network: network, gasLimit: gasLimit}
}

// Deploy 使用 key 签名，把 (tokenAddress, merkleRoot) 作为构造参数部署合约。
func (d *Deployer) Deploy(ctx context.Context, key *ecdsa.PrivateKey, artifact *Artifact, params Parameters) (*Deployment, error) {
	if key == nil || artifact == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "部署需要私钥与合约产物")
	}
	if params.MerkleRoot == (common.Hash{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "merkleRoot 不能为全零")
	}
	if d == nil || d.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链客户端未初始化")
	}

	snapshot, err := d.client.FetchChainSnapshot(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "读取链信息失败")
	}
	chainID, err := hexutil.DecodeBig(snapshot.ChainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "链 ID 格式非法")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "创建交易签名器失败")
	}
	auth.GasLimit = d.gasLimit

	result, err := d.client.DeployContract(ctx, auth, artifact.ABIJSON(), artifact.Code(), params.TokenAddress, [32]byte(params.MerkleRoot))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "部署 MerkleAirdrop 失败")
	}

	deployment := &Deployment{
		Network:      d.network,
		ChainID:      snapshot.ChainID,
		Contract:     result.ContractAddress,
		BlockNumber:  result.BlockNumber,
		Deployer:     crypto.PubkeyToAddress(key.PublicKey),
		TokenAddress: params.TokenAddress,
		MerkleRoot:   params.MerkleRoot,
		DeployedAt:   time.Now().UTC(),
	}
	if result.Transaction != nil {
		deployment.Transaction = result.Transaction.Hash()
	}
	logger.Audit().Info("airdrop_contract_deployed",
		slog.String("network", d.network),
		slog.String("chain_id", snapshot.ChainID),
		slog.String("contract", deployment.Contract.Hex()),
		slog.String("token", params.TokenAddress.Hex()),
		slog.String("merkle_root", params.MerkleRoot.Hex()),
	)
	return deployment, nil
}

// Save 按 Ignition 的目录结构写入 chain-<id>/deployed_addresses.json，
// 同时保留完整的部署记录 deployment.json。
func (d *Deployment) Save(dir string) (string, error) {
	chainID, err := hexutil.DecodeBig(d.ChainID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "链 ID 格式非法")
	}
	target := filepath.Join(dir, fmt.Sprintf("chain-%s", chainID.String()))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建部署目录失败")
	}

	addresses := map[string]string{ModuleName + "#" + ContractName: d.Contract.Hex()}
	if err := writeJSON(filepath.Join(target, "deployed_addresses.json"), addresses); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(target, "deployment.json"), d); err != nil {
		return "", err
	}
	return target, nil
}

func writeJSON(path string, payload any) error {
	content, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化部署记录失败")
	}
	if err := os.WriteFile(path, append(content, '\n'), 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入 %s 失败", path))
	}
	return nil
}
