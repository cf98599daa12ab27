// Package state owns the agent's durable record: deployed assets, recent
// transactions and casts, lifetime counters and the persisted daily quota.
package state

import (
	"context"
	"errors"
	"time"
)

// MaxRecords 是交易与 cast 列表的容量上限，超出时淘汰最旧的记录。
const MaxRecords = 100

// ErrNotFound 表示存储中尚无状态记录。
var ErrNotFound = errors.New("agent state not found")

// DeployedAsset 描述一次成功部署的代币或 NFT 合约。
type DeployedAsset struct {
	Name       string    `json:"name"`
	Symbol     string    `json:"symbol"`
	Address    string    `json:"address"`
	TxHash     string    `json:"txHash"`
	DeployedAt time.Time `json:"deployedAt"`
}

// TransactionRecord 是一笔已上链交易的摘要，追加后不可修改。
type TransactionRecord struct {
	Type      string    `json:"type"`
	Hash      string    `json:"hash"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// CastRecord 是一条已发布的 cast，追加后不可修改。
type CastRecord struct {
	Hash      string    `json:"hash"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats 汇总只增不减的计数器。
type Stats struct {
	TotalTransactions   int       `json:"totalTransactions"`
	TotalCasts          int       `json:"totalCasts"`
	TotalTokensDeployed int       `json:"totalTokensDeployed"`
	TotalNFTsDeployed   int       `json:"totalNFTsDeployed"`
	StartedAt           time.Time `json:"startedAt"`
	LastActionAt        time.Time `json:"lastActionAt"`
}

// Quota 持久化每日交易计数，使重启不会重置当日额度。
type Quota struct {
	DailyTxCount int    `json:"dailyTxCount"`
	ResetDate    string `json:"resetDate"`
}

// AgentState 是完整的持久化记录，每次变更都整体写回存储。
type AgentState struct {
	DeployedTokens []DeployedAsset     `json:"deployedTokens"`
	DeployedNFTs   []DeployedAsset     `json:"deployedNFTs"`
	Transactions   []TransactionRecord `json:"transactions"`
	Casts          []CastRecord        `json:"casts"`
	Stats          Stats               `json:"stats"`
	Quota          Quota               `json:"quota"`
}

// Default returns an empty record started at now.
func Default(now time.Time) *AgentState {
	now = now.UTC()
	return &AgentState{
		DeployedTokens: []DeployedAsset{},
		DeployedNFTs:   []DeployedAsset{},
		Transactions:   []TransactionRecord{},
		Casts:          []CastRecord{},
		Stats:          Stats{StartedAt: now, LastActionAt: now},
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.DeployedTokens = append([]DeployedAsset{}, s.DeployedTokens...)
	clone.DeployedNFTs = append([]DeployedAsset{}, s.DeployedNFTs...)
	clone.Transactions = append([]TransactionRecord{}, s.Transactions...)
	clone.Casts = append([]CastRecord{}, s.Casts...)
	return &clone
}

// normalize repairs records written by older versions or edited by hand.
// It reports whether anything was changed so the caller can write the
// repaired record back.
func (s *AgentState) normalize(now time.Time) bool {
	repaired := false
	if s.DeployedTokens == nil {
		s.DeployedTokens = []DeployedAsset{}
		repaired = true
	}
	if s.DeployedNFTs == nil {
		s.DeployedNFTs = []DeployedAsset{}
		repaired = true
	}
	if s.Transactions == nil {
		s.Transactions = []TransactionRecord{}
		repaired = true
	}
	if s.Casts == nil {
		s.Casts = []CastRecord{}
		repaired = true
	}
	if len(s.Transactions) > MaxRecords || len(s.Casts) > MaxRecords {
		s.Transactions = tail(s.Transactions, MaxRecords)
		s.Casts = tail(s.Casts, MaxRecords)
		repaired = true
	}
	// 缺失的时间戳只补一次，之后随记录持久化，重复打开不会漂移。
	if s.Stats.StartedAt.IsZero() {
		s.Stats.StartedAt = now.UTC()
		repaired = true
	}
	if s.Stats.LastActionAt.IsZero() {
		s.Stats.LastActionAt = s.Stats.StartedAt
		repaired = true
	}
	return repaired
}

func tail[T any](items []T, limit int) []T {
	if len(items) <= limit {
		return items
	}
	return append([]T{}, items[len(items)-limit:]...)
}

// Store 抽象状态记录的持久化后端。Load 在记录不存在时返回 ErrNotFound。
type Store interface {
	Load(ctx context.Context) (*AgentState, error)
	Save(ctx context.Context, state *AgentState) error
	Close() error
}
