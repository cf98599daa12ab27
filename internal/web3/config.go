package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	MainnetExplorer = "https://basescan.org"
	TestnetExplorer = "https://sepolia.basescan.org"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id"`
	ExplorerURL string `yaml:"explorer_url"`
	Testnet     bool   `yaml:"testnet"`
	Description string `yaml:"description"`
}

// DefaultChainDefinitions mirrors the endpoints used when no file is provided.
func DefaultChainDefinitions() ChainDefinitions {
	return ChainDefinitions{Chains: map[string]ChainDefinition{
		"base": {
			Type:        "evm",
			RPCURL:      "https://mainnet.base.org",
			ChainID:     8453,
			ExplorerURL: MainnetExplorer,
			Description: "Base mainnet",
		},
		"base-sepolia": {
			Type:        "evm",
			RPCURL:      "https://sepolia.base.org",
			ChainID:     84532,
			ExplorerURL: TestnetExplorer,
			Testnet:     true,
			Description: "Base Sepolia testnet",
		},
	}}
}

// LoadChainDefinitions parses the YAML file containing chain metadata. An
// empty path yields the built-in Base definitions.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultChainDefinitions(), nil
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
	return defs, nil
}
