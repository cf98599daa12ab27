package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/pkg/logger"
)

// Manager 持有内存中的状态记录，并在每次变更后整体写回 Store。
type Manager struct {
	mu     sync.RWMutex
	store  Store
	state  *AgentState
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used for recovery warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Open 从 store 读取状态。记录缺失或损坏时回退为默认状态，不会返回错误。
// 新建的默认状态和被 normalize 修复过的记录会立即写回，保证重复打开得到同一份记录；
// 损坏的记录保持原样留待排查，直到第一次变更才被覆盖。
func Open(ctx context.Context, store Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.logger == nil {
		m.logger = logger.Named("state")
	}

	loaded, err := store.Load(ctx)
	switch {
	case err == nil && loaded != nil:
		m.state = loaded
		if loaded.normalize(m.now()) {
			m.logger.Info("状态记录已修复")
			m.persistOnOpen(ctx)
		}
	case err == nil, errors.Is(err, ErrNotFound):
		m.logger.Info("未找到已有状态，使用默认状态")
		m.state = Default(m.now())
		m.persistOnOpen(ctx)
	default:
		m.logger.Warn("状态记录不可用，回退为默认状态", "error", err)
		m.state = Default(m.now())
	}
	return m
}

// persistOnOpen 写回启动时生成的记录；失败只记日志，下一次变更会再次整体写入。
func (m *Manager) persistOnOpen(ctx context.Context) {
	if err := m.store.Save(ctx, m.state); err != nil {
		m.logger.Warn("写回初始状态失败", "error", err)
	}
}

// AddDeployedToken 追加代币部署记录。
func (m *Manager) AddDeployedToken(ctx context.Context, asset DeployedAsset) error {
	return m.mutate(ctx, func(s *AgentState, now time.Time) {
		asset.DeployedAt = now
		s.DeployedTokens = append(s.DeployedTokens, asset)
		s.Stats.TotalTokensDeployed++
		s.Stats.LastActionAt = now
	})
}

// AddDeployedNFT 追加 NFT 合约部署记录。
func (m *Manager) AddDeployedNFT(ctx context.Context, asset DeployedAsset) error {
	return m.mutate(ctx, func(s *AgentState, now time.Time) {
		asset.DeployedAt = now
		s.DeployedNFTs = append(s.DeployedNFTs, asset)
		s.Stats.TotalNFTsDeployed++
		s.Stats.LastActionAt = now
	})
}

// AddTransaction 追加交易记录，列表超过 MaxRecords 时淘汰最旧的条目。
func (m *Manager) AddTransaction(ctx context.Context, txType, hash, details string) error {
	return m.mutate(ctx, func(s *AgentState, now time.Time) {
		s.Transactions = tail(append(s.Transactions, TransactionRecord{
			Type:      txType,
			Hash:      hash,
			Details:   details,
			Timestamp: now,
		}), MaxRecords)
		s.Stats.TotalTransactions++
		s.Stats.LastActionAt = now
	})
}

// AddCast 追加 cast 记录，列表超过 MaxRecords 时淘汰最旧的条目。
func (m *Manager) AddCast(ctx context.Context, hash, text string) error {
	return m.mutate(ctx, func(s *AgentState, now time.Time) {
		s.Casts = tail(append(s.Casts, CastRecord{
			Hash:      hash,
			Text:      text,
			Timestamp: now,
		}), MaxRecords)
		s.Stats.TotalCasts++
		s.Stats.LastActionAt = now
	})
}

// SaveQuota 持久化每日计数，不影响统计计数器。
func (m *Manager) SaveQuota(ctx context.Context, quota Quota) error {
	return m.mutate(ctx, func(s *AgentState, _ time.Time) {
		s.Quota = quota
	})
}

// Quota returns the persisted daily quota section.
func (m *Manager) Quota() Quota {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Quota
}

// Snapshot returns a deep copy of the current record.
func (m *Manager) Snapshot() *AgentState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Stats
}

// RecentTransactions returns up to n most recent transactions, oldest first.
func (m *Manager) RecentTransactions(n int) []TransactionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	return append([]TransactionRecord{}, tail(m.state.Transactions, n)...)
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// mutate applies fn to the in-memory record and writes the whole record back.
// The in-memory change is kept even when the write fails so counters stay
// monotonic within the process.
func (m *Manager) mutate(ctx context.Context, fn func(*AgentState, time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(m.state, m.now().UTC())
	if err := m.store.Save(ctx, m.state); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存状态失败")
	}
	return nil
}
