package web3

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AssetKind selects which contract artifact a deployment uses.
type AssetKind string

const (
	AssetToken AssetKind = "token"
	AssetNFT   AssetKind = "nft"
)

// Deployment captures the outcome of a contract deployment request.
type Deployment struct {
	Kind        AssetKind
	Name        string
	Symbol      string
	Address     common.Address
	TxHash      common.Hash
	ExplorerURL string
}

// Client is the chain collaborator used by the agent. It enforces no business
// rules: quota checks happen before any call reaches it.
type Client interface {
	Address() common.Address
	Balance(ctx context.Context) (*big.Int, error)
	Deploy(ctx context.Context, kind AssetKind, name, symbol string) (Deployment, error)
	Transfer(ctx context.Context, to common.Address, wei *big.Int) (common.Hash, error)
	TxURL(hash string) string
	AddressURL(address string) string
	Close()
}

// Explorer builds human-followable links for announcements.
type Explorer struct {
	BaseURL string
}

// TxURL returns the explorer page of a transaction.
func (e Explorer) TxURL(hash string) string {
	return e.join("tx", hash)
}

// AddressURL returns the explorer page of an account or contract.
func (e Explorer) AddressURL(address string) string {
	return e.join("address", address)
}

func (e Explorer) join(section, ref string) string {
	base := strings.TrimRight(strings.TrimSpace(e.BaseURL), "/")
	if base == "" || ref == "" {
		return ""
	}
	return base + "/" + section + "/" + ref
}

// ShortAddress trims an address for inventory summaries, e.g. "0x12345678...".
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:10] + "..."
}
