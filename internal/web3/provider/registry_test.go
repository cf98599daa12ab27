package provider

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"CrabDAO-Agent/internal/config"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	cfg    ethereum.Config
	closed bool
}

func (s *stubClient) Address() common.Address                  { return common.Address{} }
func (s *stubClient) Balance(context.Context) (*big.Int, error) { return big.NewInt(0), nil }
func (s *stubClient) Deploy(context.Context, web3.AssetKind, string, string) (web3.Deployment, error) {
	return web3.Deployment{}, nil
}
func (s *stubClient) Transfer(context.Context, common.Address, *big.Int) (common.Hash, error) {
	return common.Hash{}, nil
}
func (s *stubClient) TxURL(hash string) string         { return hash }
func (s *stubClient) AddressURL(address string) string { return address }
func (s *stubClient) Close()                           { s.closed = true }

func stubDial(dialed map[string]*stubClient) dialFunc {
	return func(_ context.Context, cfg ethereum.Config) (web3.Client, error) {
		client := &stubClient{cfg: cfg}
		dialed[cfg.Name] = client
		return client, nil
	}
}

func TestRegistrySelectsMainnetByDefault(t *testing.T) {
	t.Parallel()

	dialed := map[string]*stubClient{}
	registry, err := newRegistry(context.Background(), config.ChainConfig{PrivateKey: "0x1"}, stubDial(dialed))
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	name, def := registry.DefaultChain()
	assert.Equal(t, "base", name)
	assert.Equal(t, int64(8453), def.ChainID)
	assert.Equal(t, []string{"base", "base-sepolia"}, registry.Chains())
	assert.Equal(t, "0x1", dialed["base"].cfg.PrivateKey)
}

func TestRegistryTestnetSwitchAndOverrides(t *testing.T) {
	t.Parallel()

	dialed := map[string]*stubClient{}
	registry, err := newRegistry(context.Background(), config.ChainConfig{
		UseTestnet:  true,
		RPCURL:      "http://localhost:8545",
		ExplorerURL: "https://explorer.local",
	}, stubDial(dialed))
	require.NoError(t, err)

	name, _ := registry.DefaultChain()
	assert.Equal(t, "base-sepolia", name)
	assert.Equal(t, "http://localhost:8545", dialed["base-sepolia"].cfg.RPCURL)
	assert.Equal(t, "https://explorer.local", dialed["base-sepolia"].cfg.ExplorerURL)
	assert.Equal(t, "https://mainnet.base.org", dialed["base"].cfg.RPCURL)

	registry.Close()
	assert.True(t, dialed["base"].closed)
	assert.True(t, dialed["base-sepolia"].closed)
}

func TestRegistryUnknownDefaultChain(t *testing.T) {
	t.Parallel()

	_, err := newRegistry(context.Background(), config.ChainConfig{DefaultChain: "optimism"}, stubDial(map[string]*stubClient{}))
	require.ErrorContains(t, err, "optimism")
}

func TestRegistryLoadsArtifacts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "erc20.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"abi":[],"bytecode":"0x6001"}`), 0o600))

	dialed := map[string]*stubClient{}
	_, err := newRegistry(context.Background(), config.ChainConfig{ERC20Artifact: path}, stubDial(dialed))
	require.NoError(t, err)

	artifacts := dialed["base"].cfg.Artifacts
	require.Contains(t, artifacts, web3.AssetToken)
	assert.NotContains(t, artifacts, web3.AssetNFT)
}

func TestRegistryRejectsUnsupportedChainType(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chains:\n  sol:\n    type: solana\n    rpc_url: http://x\n"), 0o600))

	_, err := newRegistry(context.Background(), config.ChainConfig{ChainConfig: path}, stubDial(map[string]*stubClient{}))
	require.ErrorContains(t, err, "solana")
}
