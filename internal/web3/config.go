package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainTypeEVM is the only chain family the deployment tooling understands.
const ChainTypeEVM = "evm"

// ChainDefinitions models the structure of configs/chain.yaml, one entry per
// network the airdrop contract may be deployed to.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single network endpoint.
type ChainDefinition struct {
	Type   string `yaml:"type"`
	RPCURL string `yaml:"rpc_url"`
	// ChainID, when non-zero, must match the id reported by the node; it
	// guards deployments against an endpoint pointing at the wrong network.
	ChainID     uint64 `yaml:"chain_id"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions parses and validates the chain definitions file. An
// empty path yields an empty set.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		chain.Type = strings.ToLower(strings.TrimSpace(chain.Type))
		if chain.Type == "" {
			chain.Type = ChainTypeEVM
		}
		chain.RPCURL = strings.TrimSpace(chain.RPCURL)
		defs.Chains[name] = chain
	}
	if err := defs.Validate(); err != nil {
		return ChainDefinitions{}, err
	}
	return defs, nil
}

// Validate checks every definition has an endpoint and a supported type.
func (d ChainDefinitions) Validate() error {
	for _, name := range d.Names() {
		chain := d.Chains[name]
		if chain.Type != ChainTypeEVM {
			return fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("链 %s 缺少 rpc_url", name)
		}
	}
	return nil
}

// Names returns the chain names in sorted order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
