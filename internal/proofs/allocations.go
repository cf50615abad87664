package proofs

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// AllocationFile 是分配清单文件的结构，YAML 与 JSON 均可。
//
//	allocations:
//	  - address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
//	    amount: 100
type AllocationFile struct {
	Allocations []AllocationEntry `yaml:"allocations"`
}

// AllocationEntry 是文件中的单条记录。
type AllocationEntry struct {
	Address string `yaml:"address"`
	Amount  Amount `yaml:"amount"`
}

// Amount 支持十进制或 0x 十六进制书写的 uint256。
type Amount struct {
	*big.Int
}

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	value, err := ParseAmount(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	a.Int = value
	return nil
}

// ParseAmount 解析非负整数数额。
func ParseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	value, ok := new(big.Int).SetString(raw, 0)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if value.BitLen() > 256 {
		return nil, ErrAmountOverflow
	}
	return value, nil
}

// ParseAllocations 解析分配清单内容。
func ParseAllocations(content []byte) ([]Allocation, error) {
	var file AllocationFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析分配清单失败: %w", err)
	}
	if len(file.Allocations) == 0 {
		return nil, ErrEmptyTree
	}
	out := make([]Allocation, 0, len(file.Allocations))
	for i, entry := range file.Allocations {
		addr := strings.TrimSpace(entry.Address)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("第 %d 条分配的地址无效: %q", i, entry.Address)
		}
		if entry.Amount.Int == nil {
			return nil, fmt.Errorf("第 %d 条分配缺少 amount", i)
		}
		out = append(out, Allocation{Address: common.HexToAddress(addr), Amount: entry.Amount.Int})
	}
	return out, nil
}

// LoadAllocations 读取分配清单文件。
func LoadAllocations(path string) ([]Allocation, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取分配清单失败: %w", err)
	}
	return ParseAllocations(content)
}

// LoadTree 读取分配清单并构建 Merkle 树。
func LoadTree(path string) (*Tree, error) {
	allocations, err := LoadAllocations(path)
	if err != nil {
		return nil, err
	}
	return NewTree(allocations)
}
