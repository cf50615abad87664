package proofs

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrEmptyTree 表示没有任何分配记录。
	ErrEmptyTree = errors.New("merkle tree requires at least one leaf")
	// ErrLeafNotFound 表示请求的叶子不在树中。
	ErrLeafNotFound = errors.New("leaf not found in merkle tree")
)

// Allocation 描述单个地址可领取的数额。
type Allocation struct {
	Address common.Address
	Amount  *big.Int
}

// Tree 是按 sortPairs 规则构建的 keccak256 Merkle 树。奇数层的最后一个节点
// 原样提升到上一层，与 merkletreejs 的默认行为一致。
type Tree struct {
	layers      [][]common.Hash
	index       map[common.Hash]int
	allocations []Allocation
	byAddress   map[common.Address]int
}

// NewTree 根据分配列表构建树，叶子顺序与输入顺序一致。
func NewTree(allocations []Allocation) (*Tree, error) {
	if len(allocations) == 0 {
		return nil, ErrEmptyTree
	}
	leaves := make([]common.Hash, len(allocations))
	copied := make([]Allocation, len(allocations))
	byAddress := make(map[common.Address]int, len(allocations))
	for i, alloc := range allocations {
		leaf, err := LeafHash(alloc.Address, alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("allocation %d (%s): %w", i, alloc.Address.Hex(), err)
		}
		leaves[i] = leaf
		amount := new(big.Int)
		if alloc.Amount != nil {
			amount.Set(alloc.Amount)
		}
		copied[i] = Allocation{Address: alloc.Address, Amount: amount}
		if _, ok := byAddress[alloc.Address]; !ok {
			byAddress[alloc.Address] = i
		}
	}
	return newTreeFromLeaves(leaves, copied, byAddress), nil
}

// NewTreeFromLeaves 直接使用已哈希的叶子构建树。
func NewTreeFromLeaves(leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	return newTreeFromLeaves(append([]common.Hash(nil), leaves...), nil, nil), nil
}

func newTreeFromLeaves(leaves []common.Hash, allocations []Allocation, byAddress map[common.Address]int) *Tree {
	index := make(map[common.Hash]int, len(leaves))
	for i := len(leaves) - 1; i >= 0; i-- {
		index[leaves[i]] = i
	}

	layers := [][]common.Hash{leaves}
	for current := leaves; len(current) > 1; {
		next := make([]common.Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 == len(current) {
				next = append(next, current[i])
				continue
			}
			next = append(next, HashPair(current[i], current[i+1]))
		}
		layers = append(layers, next)
		current = next
	}

	return &Tree{
		layers:      layers,
		index:       index,
		allocations: allocations,
		byAddress:   byAddress,
	}
}

// Root 返回树根。
func (t *Tree) Root() common.Hash {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// Depth 返回树的层数（不含叶子层）。
func (t *Tree) Depth() int {
	return len(t.layers) - 1
}

// Leaves 返回叶子副本。
func (t *Tree) Leaves() []common.Hash {
	return append([]common.Hash(nil), t.layers[0]...)
}

// Proof 返回指定叶子的兄弟节点序列；提升的奇数节点在该层没有兄弟。
func (t *Tree) Proof(leaf common.Hash) ([]common.Hash, error) {
	idx, ok := t.index[leaf]
	if !ok {
		return nil, ErrLeafNotFound
	}
	return t.proofAt(idx), nil
}

func (t *Tree) proofAt(idx int) []common.Hash {
	proof := make([]common.Hash, 0, t.Depth())
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		idx /= 2
	}
	return proof
}

// ProofFor 按 (地址, 数额) 计算叶子并返回证明。
func (t *Tree) ProofFor(claimant common.Address, amount *big.Int) ([]common.Hash, error) {
	leaf, err := LeafHash(claimant, amount)
	if err != nil {
		return nil, err
	}
	return t.Proof(leaf)
}

// Lookup 返回地址对应的分配及证明，只对 NewTree 构建的树有效。
func (t *Tree) Lookup(claimant common.Address) (Allocation, []common.Hash, bool) {
	idx, ok := t.byAddress[claimant]
	if !ok {
		return Allocation{}, nil, false
	}
	alloc := t.allocations[idx]
	return Allocation{Address: alloc.Address, Amount: new(big.Int).Set(alloc.Amount)}, t.proofAt(idx), true
}

// Allocations 返回构建树时使用的分配列表副本。
func (t *Tree) Allocations() []Allocation {
	out := make([]Allocation, len(t.allocations))
	for i, alloc := range t.allocations {
		out[i] = Allocation{Address: alloc.Address, Amount: new(big.Int).Set(alloc.Amount)}
	}
	return out
}

// Total 返回所有分配之和，用于校验分发合约的注资是否充足。
func (t *Tree) Total() *big.Int {
	total := new(big.Int)
	for _, alloc := range t.allocations {
		total.Add(total, alloc.Amount)
	}
	return total
}

// HexProof 将证明编码为 0x 前缀的字符串，等价于 getHexProof。
func HexProof(proof []common.Hash) []string {
	out := make([]string, len(proof))
	for i, node := range proof {
		out[i] = node.Hex()
	}
	return out
}

// ParseHexProof 解析 0x 前缀的 32 字节哈希列表。
func ParseHexProof(values []string) ([]common.Hash, error) {
	proof := make([]common.Hash, len(values))
	for i, value := range values {
		raw, err := hexutil.Decode(value)
		if err != nil {
			return nil, fmt.Errorf("proof[%d]: %w", i, err)
		}
		if len(raw) != common.HashLength {
			return nil, fmt.Errorf("proof[%d]: expected %d bytes, got %d", i, common.HashLength, len(raw))
		}
		proof[i] = common.BytesToHash(raw)
	}
	return proof, nil
}
