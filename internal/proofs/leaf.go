package proofs

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LeafSize 是叶子原像的长度：20 字节地址 + 32 字节 uint256。
const LeafSize = common.AddressLength + 32

var (
	// ErrNegativeAmount 表示数额为负。
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrAmountOverflow 表示数额超过 uint256 范围。
	ErrAmountOverflow = errors.New("amount exceeds uint256")
)

// EncodeLeaf 按 solidityPack(["address","uint256"]) 的紧凑编码拼接叶子原像。
func EncodeLeaf(claimant common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if amount.BitLen() > 256 {
		return nil, ErrAmountOverflow
	}
	buf := make([]byte, LeafSize)
	copy(buf, claimant.Bytes())
	amount.FillBytes(buf[common.AddressLength:])
	return buf, nil
}

// LeafHash 返回 keccak256(claimant ‖ amount)。
func LeafHash(claimant common.Address, amount *big.Int) (common.Hash, error) {
	preimage, err := EncodeLeaf(claimant, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(preimage), nil
}

// HashPair 对两个节点排序后拼接哈希，因此 HashPair(a, b) == HashPair(b, a)。
func HashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

// ComputeRoot 从叶子出发依次与证明中的兄弟节点合并，返回候选根。
func ComputeRoot(leaf common.Hash, proof []common.Hash) common.Hash {
	computed := leaf
	for _, sibling := range proof {
		computed = HashPair(computed, sibling)
	}
	return computed
}

// Verify 判断 proof 能否从 leaf 重建出 root。
func Verify(proof []common.Hash, root, leaf common.Hash) bool {
	return ComputeRoot(leaf, proof) == root
}
