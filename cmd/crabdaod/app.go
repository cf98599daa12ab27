package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"CrabDAO-Agent/internal/agent"
	"CrabDAO-Agent/internal/config"
	"CrabDAO-Agent/internal/dispatch"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/events"
	"CrabDAO-Agent/internal/llm"
	"CrabDAO-Agent/internal/llm/openai"
	"CrabDAO-Agent/internal/mention"
	"CrabDAO-Agent/internal/observability/alerting"
	"CrabDAO-Agent/internal/perception"
	"CrabDAO-Agent/internal/quota"
	"CrabDAO-Agent/internal/social/farcaster"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/internal/storage/mysql"
	"CrabDAO-Agent/internal/storage/redis"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/internal/web3/provider"
	"CrabDAO-Agent/pkg/logger"
)

// app 持有一次运行所需的全部组件。
type app struct {
	cfg        *config.Config
	registry   *provider.Registry
	chain      web3.Client
	brain      *llm.Router
	state      *state.Manager
	guard      *quota.Guard
	publisher  events.Publisher
	dispatcher *dispatch.Dispatcher
	agent      *agent.Agent
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	// 构建失败时释放已经建立的连接。
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建数据目录失败")
	}

	// 链上客户端。
	a.registry, err = provider.NewRegistry(ctx, cfg.Chain)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链客户端失败")
	}
	a.chain, err = a.registry.DefaultClient()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取默认链失败")
	}

	// 推理服务。
	a.brain, err = newBrain(cfg.LLM)
	if err != nil {
		return nil, err
	}

	// 社交客户端。
	neynar := cfg.Social.Neynar
	socialClient, err := farcaster.NewClient(farcaster.Config{
		APIKey:        neynar.APIKey,
		SignerUUID:    neynar.SignerUUID,
		FID:           neynar.FID,
		BaseURL:       neynar.BaseURL,
		Timeout:       neynar.Timeout,
		RatePerSecond: neynar.RatePerSecond,
		Burst:         neynar.Burst,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 Farcaster 客户端失败")
	}

	// 状态与配额。
	store, err := openStateStore(ctx, cfg.Storage.State)
	if err != nil {
		return nil, err
	}
	a.state = state.Open(ctx, store)

	maxValue, err := web3.ParseEther(cfg.Agent.MaxEthPerTx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析 agent.max_eth_per_tx 失败")
	}
	minBalance, err := web3.ParseEther(cfg.Agent.MinDeployBalance)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析 agent.min_deploy_balance 失败")
	}
	guardOpts := []quota.Option{}
	if cfg.Agent.PersistQuota {
		guardOpts = append(guardOpts, quota.WithLedger(a.state))
	}
	a.guard = quota.NewGuard(quota.Limits{MaxTxPerDay: cfg.Agent.MaxTxPerDay, MaxValuePerTx: maxValue}, guardOpts...)

	a.publisher, err = openPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	a.dispatcher = dispatch.New(dispatch.Deps{
		Chain:   a.chain,
		Social:  socialClient,
		Content: a.brain,
		Guard:   a.guard,
		State:   a.state,
	}, dispatch.WithPublisher(a.publisher))

	mentions := mention.NewProcessor(mention.Config{
		Limit:      cfg.Agent.MentionLimit,
		Pause:      cfg.Agent.MentionPause,
		MinBalance: minBalance,
	}, mention.Deps{
		Social:     socialClient,
		Chain:      a.chain,
		Dispatcher: a.dispatcher,
		Content:    a.brain,
		State:      a.state,
		Dedup:      mention.NewDedupSet(cfg.Agent.DedupThreshold),
	})

	a.agent = agent.New(agent.Deps{
		Chain:      a.chain,
		Social:     socialClient,
		Decider:    a.brain,
		Dispatcher: a.dispatcher,
		Assembler:  perception.New(a.chain, socialClient, a.state),
		Mentions:   mentions,
		Guard:      a.guard,
		State:      a.state,
		Events:     a.publisher,
	}, agent.WithName(cfg.Agent.Name), agent.WithAlerter(newAlerter(cfg.Alerts)))
	return a, nil
}

// newAlerter 组装告警通知渠道，未启用时返回 nil。
func newAlerter(cfg config.AlertsConfig) alerting.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if hook := strings.TrimSpace(cfg.WebhookURL); hook != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    hook,
			Client: &http.Client{Timeout: cfg.Timeout},
		})
	}
	return alerting.NewFanout(notifiers...)
}

// newBrain 创建主推理服务，并在配置了 OpenMind 时将启用的功能路由过去。
func newBrain(cfg config.LLMConfig) (*llm.Router, error) {
	primary, err := openai.NewClient(openai.Config{
		Name:        "openai",
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Timeout:     cfg.OpenAI.Timeout,
		Temperature: cfg.OpenAI.Temperature,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 OpenAI 客户端失败")
	}

	var secondary llm.Provider
	if cfg.OpenMind.Enabled() && len(cfg.OpenMind.Features) > 0 {
		client, err := openai.NewClient(openai.Config{
			Name:        "openmind",
			APIKey:      cfg.OpenMind.APIKey,
			BaseURL:     cfg.OpenMind.BaseURL,
			Model:       cfg.OpenMind.Model,
			Timeout:     cfg.OpenMind.Timeout,
			Temperature: cfg.OpenMind.Temperature,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 OpenMind 客户端失败")
		}
		secondary = client
		logger.Named("llm").Info("OpenMind 已启用", "features", strings.Join(cfg.OpenMind.Features, ","))
	}
	return llm.NewRouter(primary, secondary, cfg.OpenMind.Features), nil
}

// openStateStore 按驱动创建状态存储。
func openStateStore(ctx context.Context, cfg config.StateStoreConfig) (state.Store, error) {
	switch cfg.Driver {
	case "", "file":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建状态目录失败")
		}
		return state.NewFileStore(cfg.Path)
	case "mysql":
		store, err := mysql.NewStateStore(ctx, mysql.Config{DSN: cfg.DSN}, "")
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 MySQL 状态存储失败")
		}
		return store, nil
	case "redis":
		store, err := redis.NewStateStore(ctx, redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 状态存储失败")
		}
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("不支持的状态存储驱动 %q", cfg.Driver))
	}
}

// openPublisher 按驱动创建活动事件发布器。
func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return events.NopPublisher{}, nil
	case "rabbitmq":
		publisher, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.URL,
			Queue:   cfg.Queue,
			Durable: cfg.Durable,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 RabbitMQ 失败")
		}
		return publisher, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("不支持的事件驱动 %q", cfg.Driver))
	}
}

// Close 释放所有外部连接。
func (a *app) Close() {
	if a == nil {
		return
	}
	log := logger.Named("crabdaod")
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Warn("关闭事件发布器失败", "error", err)
		}
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			log.Warn("关闭状态存储失败", "error", err)
		}
	}
	if a.registry != nil {
		a.registry.Close()
	}
}
