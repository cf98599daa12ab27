package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"CrabDAO-Agent/internal/action"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/events"
	"CrabDAO-Agent/internal/llm"
	"CrabDAO-Agent/internal/quota"
	"CrabDAO-Agent/internal/social"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/pkg/logger"
)

// Status 是一次分发的结果类别。
type Status string

const (
	StatusExecuted Status = "executed"
	StatusRejected Status = "rejected"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome 汇总一次分发的结果。
type Outcome struct {
	Kind     action.Kind
	Status   Status
	Reason   string
	TxHash   string
	CastHash string
	Err      error
}

// Succeeded reports whether the action ran to completion.
func (o Outcome) Succeeded() bool { return o.Status == StatusExecuted }

// Deps 是分发器依赖的外部协作者。
type Deps struct {
	Chain   web3.Client
	Social  social.Client
	Content llm.ContentGenerator
	Guard   *quota.Guard
	State   *state.Manager
}

// Dispatcher 执行动作并记录结果。
type Dispatcher struct {
	chain   web3.Client
	social  social.Client
	content llm.ContentGenerator
	guard   *quota.Guard
	state   *state.Manager
	events  events.Publisher
	logger  *slog.Logger
	audit   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Dispatcher)

// WithPublisher 配置活动事件的发布方式。
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.events = p
		}
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithAuditLogger 覆盖默认审计日志器。
func WithAuditLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.audit = l
		}
	}
}

// New 创建分发器。
func New(deps Deps, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		chain:   deps.Chain,
		social:  deps.Social,
		content: deps.Content,
		guard:   deps.Guard,
		state:   deps.State,
		events:  events.NopPublisher{},
		logger:  logger.Named("dispatch"),
		audit:   logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch executes one action. It never returns an error: failures are
// reported in the Outcome, logged with the action's reason and published.
func (d *Dispatcher) Dispatch(ctx context.Context, act action.Action) Outcome {
	d.logger.Info("执行动作", "action", act.String(), "reason", act.Reason)

	var out Outcome
	switch act.Kind {
	case action.KindDeployToken, action.KindDeployNFT:
		_, out = d.deploy(ctx, DeployRequest{
			Kind:     assetKind(act.Kind),
			Name:     act.Name,
			Symbol:   act.Symbol,
			Reason:   act.Reason,
			Announce: true,
		})
	case action.KindPostUpdate:
		out = d.postUpdate(ctx, act)
	case action.KindEngage:
		out = d.engage(ctx, act)
	case action.KindSendValue:
		out = d.sendValue(ctx, act)
	case action.KindIdle:
		d.logger.Info("本周期休息", "reason", act.Reason)
		out = Outcome{Status: StatusExecuted, Reason: act.Reason}
	default:
		d.logger.Warn("未知的动作类型，已丢弃", "type", string(act.Kind))
		out = Outcome{Status: StatusSkipped, Reason: "unknown action type"}
	}
	out.Kind = act.Kind
	if out.Reason == "" {
		out.Reason = act.Reason
	}
	d.report(ctx, events.TypeActionDispatched, out, nil)
	return out
}

// DeployRequest 描述一次合约部署。
type DeployRequest struct {
	Kind   web3.AssetKind
	Name   string
	Symbol string
	Reason string
	// Details overrides the transaction summary stored in the state.
	Details string
	// Announce posts a generated announcement with the explorer link.
	Announce bool
}

// DeployAsset runs a deployment outside the decision loop, e.g. for a
// mention request or the deploy command. The same quota applies.
func (d *Dispatcher) DeployAsset(ctx context.Context, req DeployRequest) (web3.Deployment, Outcome) {
	deployment, out := d.deploy(ctx, req)
	out.Kind = actionKind(req.Kind)
	if out.Reason == "" {
		out.Reason = req.Reason
	}
	d.report(ctx, events.TypeActionDispatched, out, map[string]string{"origin": "direct"})
	return deployment, out
}

// Like acknowledges a cast.
func (d *Dispatcher) Like(ctx context.Context, hash string) error {
	if err := d.social.Like(ctx, hash); err != nil {
		d.logger.Warn("点赞失败", "cast", hash, "error", err)
		return err
	}
	d.audit.Info("cast liked", "cast", hash)
	return nil
}

// Reply posts a reply and records it as a cast.
func (d *Dispatcher) Reply(ctx context.Context, text, parentHash string) (social.Cast, error) {
	cast, err := d.social.Reply(ctx, text, parentHash)
	if err != nil {
		d.logger.Warn("回复失败", "parent", parentHash, "error", err)
		return social.Cast{}, err
	}
	d.recordCast(ctx, cast.Hash, text)
	d.audit.Info("reply posted", "parent", parentHash, "cast", cast.Hash)
	d.report(ctx, events.TypeMentionReplied, Outcome{Status: StatusExecuted, CastHash: cast.Hash},
		map[string]string{"parent": parentHash})
	return cast, nil
}

func (d *Dispatcher) deploy(ctx context.Context, req DeployRequest) (web3.Deployment, Outcome) {
	kind := actionKind(req.Kind)

	// 准入检查。
	decision := d.guard.Admit(action.Action{Kind: kind, Name: req.Name, Symbol: req.Symbol, Reason: req.Reason})
	if !decision.Allow {
		d.logger.Warn("配额拒绝部署", "kind", req.Kind, "symbol", req.Symbol, "quota_reason", decision.Reason)
		return web3.Deployment{}, rejected(decision.Reason)
	}

	// 部署合约，这是不可逆的一步。
	deployment, err := d.chain.Deploy(ctx, req.Kind, req.Name, req.Symbol)
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeChainFailure, err, "部署合约失败", xerrors.WithMetadata("symbol", req.Symbol))
		d.logger.Error("部署合约失败", "kind", req.Kind, "symbol", req.Symbol, "reason", req.Reason, "error", err)
		return web3.Deployment{}, Outcome{Status: StatusFailed, Err: err}
	}

	// 记录资产与交易，之后的失败不会回滚这些记录。
	address := deployment.Address.Hex()
	txHash := deployment.TxHash.Hex()
	asset := state.DeployedAsset{Name: req.Name, Symbol: req.Symbol, Address: address, TxHash: txHash}
	details := req.Details
	var recordErr error
	if req.Kind == web3.AssetNFT {
		recordErr = d.state.AddDeployedNFT(ctx, asset)
		if details == "" {
			details = fmt.Sprintf("Deployed NFT %s at %s", req.Symbol, address)
		}
	} else {
		recordErr = d.state.AddDeployedToken(ctx, asset)
		if details == "" {
			details = fmt.Sprintf("Deployed %s at %s", req.Symbol, address)
		}
	}
	d.warnOnStorage(recordErr, "记录部署资产失败")
	d.warnOnStorage(d.state.AddTransaction(ctx, string(kind), txHash, details), "记录交易失败")
	d.warnOnStorage(d.guard.Record(ctx), "持久化配额失败")
	d.audit.Info("contract deployed",
		"kind", string(req.Kind),
		"name", req.Name,
		"symbol", req.Symbol,
		"address", address,
		"tx_hash", txHash,
	)

	out := Outcome{Status: StatusExecuted, TxHash: txHash}
	if !req.Announce {
		return deployment, out
	}

	// 生成公告并附带浏览器链接，失败只影响这一步。
	hints := llm.ContentHints{Link: deployment.ExplorerURL}
	topic := "token deployment"
	if req.Kind == web3.AssetNFT {
		topic = "NFT collection deployment"
		hints.NFTs = []string{req.Name}
	} else {
		hints.Tokens = []string{req.Symbol}
	}
	text := llm.PostOrFallback(ctx, d.content, topic, hints, d.logger)
	cast, err := d.social.Post(ctx, text, deployment.ExplorerURL)
	if err != nil {
		d.logger.Warn("部署公告发布失败，部署记录保留", "symbol", req.Symbol, "error", err)
		out.Err = err
		return deployment, out
	}
	d.recordCast(ctx, cast.Hash, text)
	out.CastHash = cast.Hash
	d.logger.Info("部署完成并已发布公告", "symbol", req.Symbol, "address", address, "cast", cast.Hash)
	return deployment, out
}

func (d *Dispatcher) postUpdate(ctx context.Context, act action.Action) Outcome {
	cast, err := d.social.Post(ctx, act.Message)
	if err != nil {
		d.logger.Error("发布动态失败", "reason", act.Reason, "error", err)
		return Outcome{Status: StatusFailed, Err: err}
	}
	d.recordCast(ctx, cast.Hash, act.Message)
	d.audit.Info("update posted", "cast", cast.Hash)
	return Outcome{Status: StatusExecuted, CastHash: cast.Hash}
}

func (d *Dispatcher) engage(ctx context.Context, act action.Action) Outcome {
	target := strings.TrimSpace(act.Target)
	switch {
	case act.Verb == action.VerbLike && target != "":
		if err := d.Like(ctx, target); err != nil {
			return Outcome{Status: StatusFailed, Err: err}
		}
		return Outcome{Status: StatusExecuted}
	case act.Verb == action.VerbReply && target != "" && act.Message != "":
		cast, err := d.social.Reply(ctx, act.Message, target)
		if err != nil {
			d.logger.Error("回复失败", "target", target, "reason", act.Reason, "error", err)
			return Outcome{Status: StatusFailed, Err: err}
		}
		d.recordCast(ctx, cast.Hash, act.Message)
		d.audit.Info("reply posted", "parent", target, "cast", cast.Hash)
		return Outcome{Status: StatusExecuted, CastHash: cast.Hash}
	case act.Verb == action.VerbFollow && target != "":
		fid, err := strconv.ParseInt(target, 10, 64)
		if err != nil || fid <= 0 {
			d.logger.Info("关注目标不是有效的 FID，忽略", "target", target)
			return Outcome{Status: StatusSkipped, Reason: "invalid follow target"}
		}
		if err := d.social.Follow(ctx, fid); err != nil {
			d.logger.Error("关注失败", "fid", fid, "reason", act.Reason, "error", err)
			return Outcome{Status: StatusFailed, Err: err}
		}
		d.audit.Info("user followed", "fid", fid)
		return Outcome{Status: StatusExecuted}
	default:
		d.logger.Info("互动参数不完整，忽略", "verb", string(act.Verb), "target", target)
		return Outcome{Status: StatusSkipped, Reason: "incomplete engagement"}
	}
}

func (d *Dispatcher) sendValue(ctx context.Context, act action.Action) Outcome {
	decision := d.guard.Admit(act)
	if !decision.Allow {
		d.logger.Warn("配额拒绝转账", "to", act.To, "amount", act.Amount, "quota_reason", decision.Reason)
		return rejected(decision.Reason)
	}
	wei, err := act.Wei()
	if err != nil {
		return Outcome{Status: StatusRejected, Reason: quota.ReasonInvalidAmount}
	}

	hash, err := d.chain.Transfer(ctx, act.Recipient(), wei)
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeChainFailure, err, "转账失败", xerrors.WithMetadata("to", act.To))
		d.logger.Error("转账失败", "to", act.To, "amount", act.Amount, "reason", act.Reason, "error", err)
		return Outcome{Status: StatusFailed, Err: err}
	}
	txHash := hash.Hex()
	details := fmt.Sprintf("Sent %s ETH to %s", act.Amount, act.To)
	d.warnOnStorage(d.state.AddTransaction(ctx, string(action.KindSendValue), txHash, details), "记录交易失败")
	d.warnOnStorage(d.guard.Record(ctx), "持久化配额失败")
	d.audit.Info("value sent", "to", act.To, "amount", act.Amount, "tx_hash", txHash)
	return Outcome{Status: StatusExecuted, TxHash: txHash}
}

func (d *Dispatcher) recordCast(ctx context.Context, hash, text string) {
	d.warnOnStorage(d.state.AddCast(ctx, hash, text), "记录 cast 失败")
}

func (d *Dispatcher) warnOnStorage(err error, msg string) {
	if err != nil {
		d.logger.Warn(msg, "error", err)
	}
}

func (d *Dispatcher) report(ctx context.Context, eventType string, out Outcome, attrs map[string]string) {
	d.audit.Info("action dispatched",
		"event", eventType,
		"action", string(out.Kind),
		"status", string(out.Status),
		"reason", out.Reason,
		"tx_hash", out.TxHash,
		"cast_hash", out.CastHash,
	)

	event := events.New(eventType)
	event.CycleID = events.CycleID(ctx)
	event.Action = string(out.Kind)
	event.Status = string(out.Status)
	event.Reason = out.Reason
	event.TxHash = out.TxHash
	event.CastHash = out.CastHash
	event.Attributes = attrs
	if out.Err != nil {
		event.Error = out.Err.Error()
	}
	if err := d.events.Publish(ctx, event); err != nil {
		d.logger.Warn("发布活动事件失败", "type", eventType, "error", err)
	}
}

// rejected 构造配额拒绝的结果，Err 带 CodeQuotaExceeded，调用方按 KindQuota 区分正常拒绝与故障。
func rejected(reason string) Outcome {
	return Outcome{
		Status: StatusRejected,
		Reason: reason,
		Err:    xerrors.New(xerrors.CodeQuotaExceeded, reason),
	}
}

func assetKind(kind action.Kind) web3.AssetKind {
	if kind == action.KindDeployNFT {
		return web3.AssetNFT
	}
	return web3.AssetToken
}

func actionKind(kind web3.AssetKind) action.Kind {
	if kind == web3.AssetNFT {
		return action.KindDeployNFT
	}
	return action.KindDeployToken
}
