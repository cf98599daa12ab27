package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"CrabDAO-Agent/internal/action"
	"CrabDAO-Agent/internal/dispatch"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/events"
	"CrabDAO-Agent/internal/llm"
	"CrabDAO-Agent/internal/mention"
	"CrabDAO-Agent/internal/observability/alerting"
	"CrabDAO-Agent/internal/observability/metrics"
	"CrabDAO-Agent/internal/perception"
	"CrabDAO-Agent/internal/quota"
	"CrabDAO-Agent/internal/social"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/pkg/logger"

	"github.com/google/uuid"
)

// ErrBusy 表示已有周期或提及处理正在运行。
var ErrBusy = errors.New("agent is busy")

// DecisionErrorReason 是决策失败时 Idle 动作携带的原因。
const DecisionErrorReason = "decision error"

// lowBalance 低于该值时启动阶段给出警告。
var lowBalance = web3.MustParseEther("0.001")

// Deps 汇总 Agent 依赖的组件。
type Deps struct {
	Chain      web3.Client
	Social     social.Client
	Decider    llm.DecisionProvider
	Dispatcher *dispatch.Dispatcher
	Assembler  *perception.Assembler
	Mentions   *mention.Processor
	Guard      *quota.Guard
	State      *state.Manager
	Events     events.Publisher
}

// Agent 协调感知、决策与执行，是系统的业务核心。
type Agent struct {
	name       string
	chain      web3.Client
	social     social.Client
	decider    llm.DecisionProvider
	dispatcher *dispatch.Dispatcher
	assembler  *perception.Assembler
	mentions   *mention.Processor
	guard      *quota.Guard
	state      *state.Manager
	events     events.Publisher
	alerts     alerting.Dispatcher
	metrics    *metrics.Collector
	now        func() time.Time
	logger     *slog.Logger

	// cycle 保证周期与独立触发的提及处理互不重叠。
	cycle sync.Mutex

	mu          sync.RWMutex
	lastAction  *action.Action
	lastOutcome *dispatch.Outcome
	lastCycleAt time.Time
	cycles      int
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithName 设置代理名称，用于日志与启动公告。
func WithName(name string) Option {
	return func(a *Agent) {
		if name != "" {
			a.name = name
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAlerter 在周期出现需要告警的错误时通知运维。
func WithAlerter(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = d
	}
}

// WithMetrics 替换指标收集器，默认使用进程级收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Agent) {
		if c != nil {
			a.metrics = c
		}
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New 创建一个 Agent。
func New(deps Deps, opts ...Option) *Agent {
	ag := &Agent{
		name:       "CrabDAO Agent",
		chain:      deps.Chain,
		social:     deps.Social,
		decider:    deps.Decider,
		dispatcher: deps.Dispatcher,
		assembler:  deps.Assembler,
		mentions:   deps.Mentions,
		guard:      deps.Guard,
		state:      deps.State,
		events:     deps.Events,
		metrics:    metrics.Default(),
		now:        time.Now,
		logger:     logger.Named("agent"),
	}
	if ag.events == nil {
		ag.events = events.NopPublisher{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Init 检查钱包是否可用。余额查询失败视为初始化失败。
func (a *Agent) Init(ctx context.Context) error {
	balance, err := a.chain.Balance(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "无法读取钱包余额")
	}
	a.logger.Info("代理初始化完成",
		"name", a.name,
		"wallet", a.chain.Address().Hex(),
		"balance_eth", web3.FormatEther(balance),
	)
	if balance.Cmp(lowBalance) < 0 {
		a.logger.Warn("钱包余额偏低，链上动作可能失败", "balance_eth", web3.FormatEther(balance))
	}
	a.guard.Rollover(ctx, a.now())
	return nil
}

// Announce posts the startup cast. Failure is only a warning.
func (a *Agent) Announce(ctx context.Context) {
	text := fmt.Sprintf(`🦀 %s is now online and building on @base! 

Wallet: %s

I'm an autonomous AI agent that:
• Deploys tokens & NFTs
• Engages with the community
• Builds onchain 24/7

Let's go! 🔵`, a.name, a.chain.AddressURL(a.chain.Address().Hex()))

	cast, err := a.social.Post(ctx, text)
	if err != nil {
		a.logger.Warn("启动公告发布失败", "error", err)
		return
	}
	if err := a.state.AddCast(ctx, cast.Hash, text); err != nil {
		a.logger.Warn("记录启动公告失败", "error", err)
	}
}

// RunCycle runs one full cycle. Only a perception failure (the wallet
// balance) aborts it; every other failure is logged and the cycle continues.
func (a *Agent) RunCycle(ctx context.Context) error {
	a.cycle.Lock()
	defer a.cycle.Unlock()

	cycleID := uuid.NewString()
	ctx = events.WithCycleID(ctx, cycleID)
	log := a.logger.With("cycle_id", cycleID)
	started := a.now()
	log.Info("开始代理周期")

	// 跨日时先重置配额，再做任何准入判断。
	a.guard.Rollover(ctx, started)

	// 先处理提及，失败不影响本周期。
	a.processMentionsLocked(ctx, log)

	// 组装感知上下文。
	perceived, err := a.assembler.Assemble(ctx, a.LastAction())
	if err != nil {
		log.Error("感知失败，本周期中止", "error", err)
		a.finishCycle(ctx, cycleID, started, nil, err)
		return err
	}

	// 决策失败映射为 Idle。
	act, err := a.decider.Decide(ctx, perceived)
	if err != nil {
		log.Warn("决策失败，本周期休息", "error", err)
		act = action.Idle(DecisionErrorReason)
	}

	out := a.dispatcher.Dispatch(ctx, act)
	if out.Succeeded() {
		a.mu.Lock()
		a.lastAction = &act
		a.mu.Unlock()
	}
	a.finishCycle(ctx, cycleID, started, &out, nil)
	log.Info("代理周期完成", "action", string(act.Kind), "status", string(out.Status), "elapsed", a.now().Sub(started))
	return nil
}

// ProcessMentions runs the mention processor outside the cycle. It returns
// ErrBusy when a cycle is in progress.
func (a *Agent) ProcessMentions(ctx context.Context) (int, error) {
	if !a.cycle.TryLock() {
		return 0, ErrBusy
	}
	defer a.cycle.Unlock()

	a.guard.Rollover(ctx, a.now())
	replied, err := a.mentions.ProcessPending(ctx)
	a.mentions.Housekeep()
	return replied, err
}

func (a *Agent) processMentionsLocked(ctx context.Context, log *slog.Logger) {
	if a.mentions == nil {
		return
	}
	if _, err := a.mentions.ProcessPending(ctx); err != nil {
		log.Debug("提及处理跳过", "error", err)
	}
	a.mentions.Housekeep()
}

func (a *Agent) finishCycle(ctx context.Context, cycleID string, started time.Time, out *dispatch.Outcome, cycleErr error) {
	a.mu.Lock()
	a.lastCycleAt = started
	a.cycles++
	if out != nil {
		copied := *out
		a.lastOutcome = &copied
	}
	a.mu.Unlock()

	status := string(dispatch.StatusFailed)
	var kind string
	failure := cycleErr
	if out != nil {
		kind = string(out.Kind)
		status = string(out.Status)
		a.metrics.ObserveAction(kind, status)
		if failure == nil {
			failure = out.Err
		}
	}
	a.metrics.ObserveCycle(status, a.now().Sub(started))
	a.metrics.SetQuota(a.guard.DailyCount(), a.guard.Limits().MaxTxPerDay)
	a.alert(ctx, failure, cycleID, kind)

	event := events.New(events.TypeCycleCompleted)
	event.CycleID = cycleID
	if out != nil {
		event.Action = string(out.Kind)
		event.Status = string(out.Status)
		event.Reason = out.Reason
	}
	if cycleErr != nil {
		event.Status = string(dispatch.StatusFailed)
		event.Error = cycleErr.Error()
	}
	if err := a.events.Publish(ctx, event); err != nil {
		a.logger.Warn("发布周期事件失败", "error", err)
	}
}

func (a *Agent) alert(ctx context.Context, err error, cycleID, kind string) {
	if a.alerts == nil || err == nil {
		return
	}
	if xerrors.KindOf(err) == xerrors.KindQuota {
		a.logger.Info("配额拒绝，跳过告警", "cycle_id", cycleID, "action", kind, "reason", err.Error())
		return
	}
	event, ok := alerting.FromError(err, cycleID, kind, a.now())
	if !ok {
		return
	}
	if err := a.alerts.Notify(ctx, event); err != nil {
		a.logger.Warn("发送告警失败", "error", err)
	}
}

// LastAction returns a copy of the last successfully executed action.
func (a *Agent) LastAction() *action.Action {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastAction == nil {
		return nil
	}
	last := *a.lastAction
	return &last
}

// Stats 是代理运行状态的快照。
type Stats struct {
	Name         string         `json:"name"`
	Wallet       string         `json:"wallet"`
	WalletURL    string         `json:"walletUrl"`
	DailyTxCount int            `json:"dailyTxCount"`
	MaxTxPerDay  int            `json:"maxTxPerDay"`
	MaxEthPerTx  string         `json:"maxEthPerTx"`
	Cycles       int            `json:"cycles"`
	LastCycleAt  *time.Time     `json:"lastCycleAt,omitempty"`
	LastAction   *action.Action `json:"lastAction,omitempty"`
	LastStatus   string         `json:"lastStatus,omitempty"`
	State        state.Stats    `json:"state"`
}

// Stats returns the current status snapshot.
func (a *Agent) Stats() Stats {
	limits := a.guard.Limits()
	wallet := a.chain.Address().Hex()
	stats := Stats{
		Name:         a.name,
		Wallet:       wallet,
		WalletURL:    a.chain.AddressURL(wallet),
		DailyTxCount: a.guard.DailyCount(),
		MaxTxPerDay:  limits.MaxTxPerDay,
		MaxEthPerTx:  web3.FormatEther(maxOrZero(limits.MaxValuePerTx)),
		LastAction:   a.LastAction(),
		State:        a.state.Stats(),
	}
	a.mu.RLock()
	stats.Cycles = a.cycles
	if !a.lastCycleAt.IsZero() {
		at := a.lastCycleAt.UTC()
		stats.LastCycleAt = &at
	}
	if a.lastOutcome != nil {
		stats.LastStatus = string(a.lastOutcome.Status)
	}
	a.mu.RUnlock()
	return stats
}

func maxOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
