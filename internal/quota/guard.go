// Package quota enforces the daily transaction budget and the per-transaction
// value ceiling before any value-moving action reaches the chain.
package quota

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"CrabDAO-Agent/internal/action"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/pkg/logger"
)

// DateLayout 是每日重置使用的 UTC 日期格式。
const DateLayout = "2006-01-02"

const (
	ReasonDailyLimit    = "daily limit reached"
	ReasonAmountCeiling = "amount exceeds ceiling"
	ReasonInvalidAmount = "invalid amount"
)

// Limits 是静态的配额上限。
type Limits struct {
	MaxTxPerDay   int
	MaxValuePerTx *big.Int
}

// Decision 是准入检查的结果。
type Decision struct {
	Allow  bool
	Reason string
}

// Ledger persists the daily counter. state.Manager satisfies it.
type Ledger interface {
	Quota() state.Quota
	SaveQuota(ctx context.Context, quota state.Quota) error
}

// Guard 维护当日交易计数，并对动作做准入判断。
type Guard struct {
	mu        sync.Mutex
	limits    Limits
	count     int
	resetDate string
	ledger    Ledger
	logger    *slog.Logger
}

// Option customises a Guard.
type Option func(*Guard)

// WithLedger restores the counter from the ledger and persists every change.
func WithLedger(ledger Ledger) Option {
	return func(g *Guard) {
		g.ledger = ledger
	}
}

// WithLogger overrides the guard logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard 创建配额守卫。
func NewGuard(limits Limits, opts ...Option) *Guard {
	g := &Guard{limits: limits}
	if g.limits.MaxValuePerTx == nil {
		g.limits.MaxValuePerTx = new(big.Int)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.logger == nil {
		g.logger = logger.Named("quota")
	}
	if g.ledger != nil {
		restored := g.ledger.Quota()
		g.count = restored.DailyTxCount
		g.resetDate = restored.ResetDate
	}
	return g
}

// Rollover 在 UTC 日期变化时清零计数，应在每个周期开始、任何准入判断之前调用。
// 返回是否发生了重置。
func (g *Guard) Rollover(ctx context.Context, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := now.UTC().Format(DateLayout)
	if g.resetDate == today {
		return false
	}
	g.logger.Info("每日交易计数重置", "previous_date", g.resetDate, "previous_count", g.count, "date", today)
	g.count = 0
	g.resetDate = today
	_ = g.persistLocked(ctx)
	return true
}

// Admit 判断动作是否可以执行。非资金类动作总是放行。
func (g *Guard) Admit(act action.Action) Decision {
	if !act.MovesValue() {
		return Decision{Allow: true}
	}

	g.mu.Lock()
	count := g.count
	g.mu.Unlock()

	if count >= g.limits.MaxTxPerDay {
		return Decision{Reason: ReasonDailyLimit}
	}
	if act.Kind == action.KindSendValue {
		wei, err := act.Wei()
		if err != nil {
			return Decision{Reason: ReasonInvalidAmount}
		}
		if wei.Cmp(g.limits.MaxValuePerTx) > 0 {
			return Decision{Reason: ReasonAmountCeiling}
		}
	}
	return Decision{Allow: true}
}

// Record 在资金类动作成功执行后调用，计数恰好加一。
func (g *Guard) Record(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	return g.persistLocked(ctx)
}

// DailyCount returns the number of value-moving actions executed today.
func (g *Guard) DailyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Limits returns the configured limits.
func (g *Guard) Limits() Limits {
	return Limits{
		MaxTxPerDay:   g.limits.MaxTxPerDay,
		MaxValuePerTx: new(big.Int).Set(g.limits.MaxValuePerTx),
	}
}

func (g *Guard) persistLocked(ctx context.Context) error {
	if g.ledger == nil {
		return nil
	}
	err := g.ledger.SaveQuota(ctx, state.Quota{DailyTxCount: g.count, ResetDate: g.resetDate})
	if err != nil {
		g.logger.Warn("持久化每日计数失败", "error", err)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "持久化每日计数失败")
	}
	return nil
}
