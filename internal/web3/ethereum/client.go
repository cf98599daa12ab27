package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"CrabDAO-Agent/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	transferGasLimit      = 21_000
	defaultReceiptTimeout = 3 * time.Minute
	defaultTokenSupply    = "1000000"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name           string
	RPCURL         string
	ChainID        int64
	PrivateKey     string
	ExplorerURL    string
	Artifacts      map[web3.AssetKind]Artifact
	TokenSupply    string
	ReceiptTimeout time.Duration
}

// backend is the subset of go-ethereum clients the agent needs. Both
// ethclient.Client and the simulated backend satisfy it.
type backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client implements web3.Client for EVM compatible chains using a single
// keyed signer.
type Client struct {
	name           string
	key            *ecdsa.PrivateKey
	address        common.Address
	chainID        *big.Int
	backend        backend
	eth            *ethclient.Client
	explorer       web3.Explorer
	artifacts      map[web3.AssetKind]Artifact
	supply         *big.Int
	receiptTimeout time.Duration

	// mu serialises nonce allocation between deploys and transfers.
	mu sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	client, err := newClient(cfg, key, chainID, eth)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.eth = eth
	return client, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(cfg Config, key *ecdsa.PrivateKey, chainID *big.Int, sim *backends.SimulatedBackend) (*Client, error) {
	if key == nil {
		return nil, errors.New("未提供交易签名私钥")
	}
	return newClient(cfg, key, new(big.Int).Set(chainID), sim)
}

func newClient(cfg Config, key *ecdsa.PrivateKey, chainID *big.Int, b backend) (*Client, error) {
	supplyText := strings.TrimSpace(cfg.TokenSupply)
	if supplyText == "" {
		supplyText = defaultTokenSupply
	}
	supply, err := web3.ParseEther(supplyText)
	if err != nil {
		return nil, fmt.Errorf("解析代币发行量失败: %w", err)
	}
	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = defaultReceiptTimeout
	}
	artifacts := make(map[web3.AssetKind]Artifact, len(cfg.Artifacts))
	for kind, artifact := range cfg.Artifacts {
		artifacts[kind] = artifact
	}
	return &Client{
		name:           cfg.Name,
		key:            key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		backend:        b,
		explorer:       web3.Explorer{BaseURL: cfg.ExplorerURL},
		artifacts:      artifacts,
		supply:         supply,
		receiptTimeout: timeout,
	}, nil
}

// Name returns the registry name of the chain.
func (c *Client) Name() string { return c.name }

// ChainID returns the numeric chain id used for signing.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Address returns the agent wallet address.
func (c *Client) Address() common.Address { return c.address }

// TxURL returns the explorer link of a transaction.
func (c *Client) TxURL(hash string) string { return c.explorer.TxURL(hash) }

// AddressURL returns the explorer link of an address.
func (c *Client) AddressURL(address string) string { return c.explorer.AddressURL(address) }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

// Balance returns the wallet balance in wei at the latest block.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// Deploy sends the contract creation transaction for the given asset kind and
// waits until the contract code is present on chain.
func (c *Client) Deploy(ctx context.Context, kind web3.AssetKind, name, symbol string) (web3.Deployment, error) {
	artifact, ok := c.artifacts[kind]
	if !ok {
		return web3.Deployment{}, fmt.Errorf("未配置 %s 合约构件", kind)
	}
	parsedABI, err := abi.JSON(strings.NewReader(artifact.ABI))
	if err != nil {
		return web3.Deployment{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	bytecode := common.FromHex(artifact.Bytecode)
	if len(bytecode) == 0 {
		return web3.Deployment{}, errors.New("合约字节码不能为空")
	}
	args, err := c.constructorArgs(parsedABI, name, symbol)
	if err != nil {
		return web3.Deployment{}, err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return web3.Deployment{}, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	auth.Context = ctx

	c.mu.Lock()
	address, tx, _, err := bind.DeployContract(auth, parsedABI, bytecode, c.backend, args...)
	if err == nil {
		c.commit()
	}
	c.mu.Unlock()
	if err != nil {
		return web3.Deployment{}, fmt.Errorf("部署合约失败: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	if _, err := bind.WaitDeployed(waitCtx, c.backend, tx); err != nil {
		return web3.Deployment{}, fmt.Errorf("等待合约部署确认失败: %w", err)
	}

	hash := tx.Hash()
	return web3.Deployment{
		Kind:        kind,
		Name:        name,
		Symbol:      symbol,
		Address:     address,
		TxHash:      hash,
		ExplorerURL: c.explorer.TxURL(hash.Hex()),
	}, nil
}

// Transfer sends wei to the recipient with an EIP-1559 transaction and
// returns the transaction hash without waiting for inclusion.
func (c *Client) Transfer(ctx context.Context, to common.Address, wei *big.Int) (common.Hash, error) {
	if wei == nil || wei.Sign() <= 0 {
		return common.Hash{}, errors.New("转账金额必须大于 0")
	}
	if to == (common.Address{}) {
		return common.Hash{}, errors.New("转账地址不能为空")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("查询交易计数失败: %w", err)
	}
	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("估算小费失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       transferGasLimit,
		To:        &to,
		Value:     new(big.Int).Set(wei),
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("发送交易失败: %w", err)
	}
	c.commit()
	return signed.Hash(), nil
}

// constructorArgs maps name/symbol (and the configured supply for ERC20
// style constructors) onto the artifact's constructor inputs.
func (c *Client) constructorArgs(parsed abi.ABI, name, symbol string) ([]any, error) {
	switch inputs := len(parsed.Constructor.Inputs); inputs {
	case 0:
		return nil, nil
	case 2:
		return []any{name, symbol}, nil
	case 3:
		return []any{name, symbol, new(big.Int).Set(c.supply)}, nil
	default:
		return nil, fmt.Errorf("不支持的构造函数参数个数: %d", inputs)
	}
}

// commit mines a block when running against the simulated backend.
func (c *Client) commit() {
	if sim, ok := c.backend.(interface{ Commit() common.Hash }); ok {
		sim.Commit()
	}
}

func parsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("未配置钱包私钥")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
	}
	return key, nil
}
