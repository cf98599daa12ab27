// Package mention answers casts that mention the agent: it acknowledges each
// new mention, answers known commands with fixed replies and falls back to a
// generated reply otherwise.
package mention

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"CrabDAO-Agent/internal/dispatch"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/llm"
	"CrabDAO-Agent/internal/quota"
	"CrabDAO-Agent/internal/social"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/pkg/logger"

	"golang.org/x/time/rate"
)

const (
	defaultLimit  = 20
	defaultPause  = 2 * time.Second
	defaultAuthor = "fren"
)

// DeployThemes 用于为提及请求生成代币名称。
var DeployThemes = []string{"Crab", "Ocean", "Base", "Builder", "Onchain"}

// Config 控制提及处理的参数。
type Config struct {
	Limit      int
	Pause      time.Duration
	MinBalance *big.Int
}

// Deps 是提及处理依赖的协作者。
type Deps struct {
	Social     social.Client
	Chain      web3.Client
	Dispatcher *dispatch.Dispatcher
	Content    llm.ContentGenerator
	State      *state.Manager
	Dedup      *DedupSet
}

// Processor 处理待回复的提及。
type Processor struct {
	social     social.Client
	chain      web3.Client
	dispatcher *dispatch.Dispatcher
	content    llm.ContentGenerator
	state      *state.Manager
	dedup      *DedupSet
	limit      int
	minBalance *big.Int
	limiter    *rate.Limiter
	now        func() time.Time
	pick       func(int) int
	logger     *slog.Logger
}

// Option 定义可选配置。
type Option func(*Processor)

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock 替换时间来源，用于生成代币编号。
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithPicker 替换随机主题选择。
func WithPicker(pick func(int) int) Option {
	return func(p *Processor) {
		if pick != nil {
			p.pick = pick
		}
	}
}

// NewProcessor 创建提及处理器。
func NewProcessor(cfg Config, deps Deps, opts ...Option) *Processor {
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	pause := cfg.Pause
	if pause <= 0 {
		pause = defaultPause
	}
	minBalance := cfg.MinBalance
	if minBalance == nil {
		minBalance = web3.MustParseEther("0.001")
	}
	dedup := deps.Dedup
	if dedup == nil {
		dedup = NewDedupSet(DefaultDedupThreshold)
	}

	p := &Processor{
		social:     deps.Social,
		chain:      deps.Chain,
		dispatcher: deps.Dispatcher,
		content:    deps.Content,
		state:      deps.State,
		dedup:      dedup,
		limit:      limit,
		minBalance: new(big.Int).Set(minBalance),
		limiter:    rate.NewLimiter(rate.Every(pause), 1),
		now:        time.Now,
		pick:       rand.Intn,
		logger:     logger.Named("mention"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ProcessPending fetches recent mentions and answers the unseen ones. It
// returns the number of replies sent. A failing mention is logged and left
// out of the dedup set so a later run may retry it, unless its token was
// already deployed.
func (p *Processor) ProcessPending(ctx context.Context) (int, error) {
	p.logger.Info("检查新的提及")
	mentions, err := p.social.Mentions(ctx, p.limit)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeSocialFailure, err, "读取提及失败")
	}

	replied := 0
	for _, m := range mentions {
		if m.Hash == "" || p.dedup.Seen(m.Hash) {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return replied, err
		}
		if err := p.handle(ctx, m); err != nil {
			p.logger.Warn("处理提及失败", "cast", m.Hash, "error", err)
			continue
		}
		p.dedup.Add(m.Hash)
		replied++
	}
	p.logger.Info("提及处理完成", "replied", replied, "fetched", len(mentions))
	return replied, nil
}

// Housekeep clears the dedup set once it grows past its threshold.
func (p *Processor) Housekeep() {
	if p.dedup.Housekeep() {
		p.logger.Info("已清空提及去重缓存")
	}
}

func (p *Processor) handle(ctx context.Context, m social.Mention) error {
	author := strings.TrimSpace(m.AuthorUsername)
	if author == "" {
		author = defaultAuthor
	}
	p.logger.Info("处理提及", "author", author, "cast", m.Hash)

	if err := p.dispatcher.Like(ctx, m.Hash); err != nil {
		return err
	}

	response, err := p.respond(ctx, m, author)
	if err != nil {
		return err
	}
	_, err = p.dispatcher.Reply(ctx, response, m.Hash)
	return err
}

func (p *Processor) respond(ctx context.Context, m social.Mention, author string) (string, error) {
	switch Classify(m.Text) {
	case CommandHelp:
		return helpReply(author), nil
	case CommandDeploy:
		return p.deployForMention(ctx, m.Hash, author), nil
	case CommandBalance:
		balance, err := p.chain.Balance(ctx)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
		}
		address := p.chain.Address().Hex()
		return balanceReply(author, web3.FormatEther(balance), p.chain.AddressURL(address)), nil
	case CommandStats:
		return statsReply(author, p.state.Stats()), nil
	case CommandGM:
		return gmReply(author), nil
	default:
		return llm.ReplyOrFallback(ctx, p.content, m.Text, author, p.logger), nil
	}
}

// deployForMention runs the constrained deployment behind the balance check
// and the quota. Every outcome produces a reply. A mention whose token was
// deployed is marked processed at once, so a failed reply never deploys again.
func (p *Processor) deployForMention(ctx context.Context, hash, author string) string {
	p.logger.Info("收到部署请求", "author", author)

	balance, err := p.chain.Balance(ctx)
	if err != nil {
		p.logger.Warn("查询余额失败", "error", err)
		return deployFailedReply(author)
	}
	if balance.Cmp(p.minBalance) < 0 {
		return lowGasReply(author, p.chain.Address().Hex())
	}

	name, symbol := p.mentionTokenName()
	deployment, out := p.dispatcher.DeployAsset(ctx, dispatch.DeployRequest{
		Kind:    web3.AssetToken,
		Name:    name,
		Symbol:  symbol,
		Reason:  fmt.Sprintf("deploy request from @%s", author),
		Details: fmt.Sprintf("Deployed %s for @%s", symbol, author),
	})
	switch out.Status {
	case dispatch.StatusExecuted:
		p.dedup.Add(hash)
		return deployedReply(author, symbol, deployment.Address.Hex(), deployment.ExplorerURL)
	case dispatch.StatusRejected:
		if out.Reason == quota.ReasonDailyLimit {
			return limitReply(author)
		}
		return deployFailedReply(author)
	default:
		return deployFailedReply(author)
	}
}

// mentionTokenName returns "<Theme>Coin NNNN" and "<THM>NNNN" where NNNN are
// the last four digits of the current unix millisecond time.
func (p *Processor) mentionTokenName() (string, string) {
	theme := DeployThemes[p.pick(len(DeployThemes))]
	stamp := fmt.Sprintf("%04d", p.now().UnixMilli()%10000)
	return fmt.Sprintf("%sCoin %s", theme, stamp), strings.ToUpper(theme[:3]) + stamp
}
