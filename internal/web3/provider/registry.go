package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"CrabDAO-Agent/internal/config"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/internal/web3/ethereum"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
	definitions  map[string]web3.ChainDefinition
}

// dialFunc constructs a client for one chain definition.
type dialFunc func(ctx context.Context, cfg ethereum.Config) (web3.Client, error)

func dialEthereum(ctx context.Context, cfg ethereum.Config) (web3.Client, error) {
	return ethereum.NewClient(ctx, cfg)
}

// NewRegistry loads chain definitions and instantiates concrete clients that
// share the agent wallet and contract artifacts.
func NewRegistry(ctx context.Context, cfg config.ChainConfig) (*Registry, error) {
	return newRegistry(ctx, cfg, dialEthereum)
}

func newRegistry(ctx context.Context, cfg config.ChainConfig, dial dialFunc) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains["default"] = web3.ChainDefinition{Type: "evm", RPCURL: cfg.RPCURL, ExplorerURL: cfg.ExplorerURL, Testnet: cfg.UseTestnet}
	}
	if len(defs.Chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain, err := selectDefault(defs.Chains, cfg)
	if err != nil {
		return nil, err
	}

	artifacts, err := loadArtifacts(cfg)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client, len(defs.Chains))
	closeAll := func() {
		for _, client := range clients {
			client.Close()
		}
	}
	for _, name := range sortedNames(defs.Chains) {
		chain := defs.Chains[name]
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}

		rpcURL, explorer := chain.RPCURL, chain.ExplorerURL
		if name == defaultChain {
			// 显式配置的 RPC 与浏览器地址只覆盖默认链。
			if strings.TrimSpace(cfg.RPCURL) != "" {
				rpcURL = cfg.RPCURL
			}
			if strings.TrimSpace(cfg.ExplorerURL) != "" {
				explorer = cfg.ExplorerURL
			}
		}
		client, err := dial(ctx, ethereum.Config{
			Name:           name,
			RPCURL:         rpcURL,
			ChainID:        chain.ChainID,
			PrivateKey:     cfg.PrivateKey,
			ExplorerURL:    explorer,
			Artifacts:      artifacts,
			TokenSupply:    cfg.TokenSupply,
			ReceiptTimeout: cfg.ReceiptTimeout,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}

	return &Registry{defaultChain: defaultChain, clients: clients, definitions: defs.Chains}, nil
}

// selectDefault honours an explicit default_chain, otherwise picks the first
// chain whose testnet flag matches use_testnet.
func selectDefault(chains map[string]web3.ChainDefinition, cfg config.ChainConfig) (string, error) {
	if name := strings.TrimSpace(cfg.DefaultChain); name != "" {
		if _, ok := chains[name]; !ok {
			return "", fmt.Errorf("默认链 %s 未在配置中找到", name)
		}
		return name, nil
	}
	names := sortedNames(chains)
	for _, name := range names {
		if chains[name].Testnet == cfg.UseTestnet {
			return name, nil
		}
	}
	return names[0], nil
}

func loadArtifacts(cfg config.ChainConfig) (map[web3.AssetKind]ethereum.Artifact, error) {
	artifacts := make(map[web3.AssetKind]ethereum.Artifact, 2)
	for kind, path := range map[web3.AssetKind]string{
		web3.AssetToken: cfg.ERC20Artifact,
		web3.AssetNFT:   cfg.ERC721Artifact,
	} {
		if strings.TrimSpace(path) == "" {
			continue
		}
		artifact, err := ethereum.LoadArtifact(path)
		if err != nil {
			return nil, fmt.Errorf("加载 %s 合约构件失败: %w", kind, err)
		}
		artifacts[kind] = artifact
	}
	return artifacts, nil
}

func sortedNames(chains map[string]web3.ChainDefinition) []string {
	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultChain returns the name and definition of the default chain.
func (r *Registry) DefaultChain() (string, web3.ChainDefinition) {
	if r == nil {
		return "", web3.ChainDefinition{}
	}
	return r.defaultChain, r.definitions[r.defaultChain]
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
