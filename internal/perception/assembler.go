// Package perception gathers the context handed to the decision provider.
package perception

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"CrabDAO-Agent/internal/action"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/llm"
	"CrabDAO-Agent/internal/social"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/pkg/logger"
)

// FallbackTopics 在热门内容不可用时使用。
var FallbackTopics = []string{"Base ecosystem", "Onchain building", "Crypto community", "Web3 development"}

// Limits 控制各类上下文的条数与截断长度。
type Limits struct {
	Transactions int
	Trending     int
	Mentions     int
	TopicChars   int
	MentionChars int
}

// DefaultLimits mirror the sizes the decision prompt was tuned for.
func DefaultLimits() Limits {
	return Limits{Transactions: 5, Trending: 5, Mentions: 5, TopicChars: 50, MentionChars: 100}
}

// Assembler 组装决策上下文。
type Assembler struct {
	chain  web3.Client
	social social.Client
	state  *state.Manager
	limits Limits
	now    func() time.Time
	logger *slog.Logger
}

// Option 定义可选配置。
type Option func(*Assembler)

// WithLimits 覆盖默认条数限制。
func WithLimits(l Limits) Option {
	return func(a *Assembler) { a.limits = l }
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// New 创建 Assembler。
func New(chain web3.Client, soc social.Client, st *state.Manager, opts ...Option) *Assembler {
	a := &Assembler{
		chain:  chain,
		social: soc,
		state:  st,
		limits: DefaultLimits(),
		now:    time.Now,
		logger: logger.Named("perception"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Assemble builds the perception. Only a balance failure is returned; the
// optional social fetches fall back to static values.
func (a *Assembler) Assemble(ctx context.Context, lastAction *action.Action) (llm.Perception, error) {
	balance, err := a.chain.Balance(ctx)
	if err != nil {
		return llm.Perception{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询钱包余额失败")
	}

	snapshot := a.state.Snapshot()
	p := llm.Perception{
		Balance:            web3.FormatEther(balance),
		RecentTransactions: a.recentTransactions(),
		TrendingTopics:     a.trending(ctx),
		Mentions:           a.mentions(ctx),
		DeployedTokens:     inventory(snapshot.DeployedTokens),
		DeployedNFTs:       inventory(snapshot.DeployedNFTs),
		CurrentTime:        a.now().UTC(),
	}
	if lastAction != nil {
		last := *lastAction
		p.LastAction = &last
	}
	return p, nil
}

func (a *Assembler) recentTransactions() []string {
	records := a.state.RecentTransactions(a.limits.Transactions)
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Details)
	}
	return out
}

func (a *Assembler) trending(ctx context.Context) []string {
	casts, err := a.social.Trending(ctx, a.limits.Trending)
	if err != nil {
		a.logger.Debug("热门内容不可用，使用默认话题", "error", err)
		return append([]string(nil), FallbackTopics...)
	}
	if len(casts) == 0 {
		return append([]string(nil), FallbackTopics...)
	}
	topics := make([]string, 0, len(casts))
	for _, c := range casts {
		topics = append(topics, truncate(c.Text, a.limits.TopicChars, "Unknown"))
	}
	return topics
}

func (a *Assembler) mentions(ctx context.Context) []string {
	mentions, err := a.social.Mentions(ctx, a.limits.Mentions)
	if err != nil {
		a.logger.Debug("提及不可用，按空列表处理", "error", err)
		return []string{}
	}
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, truncate(m.Text, a.limits.MentionChars, "Unknown"))
	}
	return out
}

func inventory(assets []state.DeployedAsset) []string {
	out := make([]string, 0, len(assets))
	for _, asset := range assets {
		out = append(out, fmt.Sprintf("%s (%s)", asset.Symbol, web3.ShortAddress(asset.Address)))
	}
	return out
}

func truncate(text string, limit int, empty string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return empty
	}
	if runes := []rune(text); limit > 0 && len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}
