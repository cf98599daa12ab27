package main

import (
	"context"
	"errors"

	"CrabDAO-Agent/internal/api"
	"CrabDAO-Agent/internal/auth"
	"CrabDAO-Agent/internal/config"
	"CrabDAO-Agent/internal/scheduler"
	"CrabDAO-Agent/pkg/logger"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	once       bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "crabdaod",
		Short:         "CrabDAO autonomous agent building on Base",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $CRABDAO_CONFIG or configs/crabdao.yaml)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single cycle and exit")

	cmd.AddCommand(newCheckCommand(opts), newDeployCommand(opts))
	return cmd
}

// loadConfig 读取配置、校验并初始化日志。
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runAgent(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	log := logger.Named("crabdaod")
	if err := app.agent.Init(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.Agent.Interval(), app.agent.RunCycle)
	if err != nil {
		return err
	}

	// 单周期模式：执行一次后退出。
	if opts.once {
		log.Info("执行单个周期")
		if err := sched.RunOnce(ctx); err != nil {
			log.Warn("单周期执行未完成", "error", err)
		}
		return nil
	}

	if cfg.Agent.AnnounceStartup {
		app.agent.Announce(ctx)
	}

	if cfg.Server.Address != "" {
		server := api.NewServer(cfg.Server.Address, app.agent, api.WithAuth(auth.NewService(cfg.Server.APIToken)))
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("API 服务异常退出", "error", err)
			}
		}()
	}

	log.Info("代理开始自主运行",
		"interval", cfg.Agent.Interval().String(),
		"wallet", app.chain.AddressURL(app.chain.Address().Hex()),
	)
	return sched.Run(ctx)
}
