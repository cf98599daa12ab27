package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"CrabDAO-Agent/internal/dispatch"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/llm"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/pkg/logger"

	"github.com/spf13/cobra"
)

type deployOptions struct {
	reason   string
	announce bool
}

func newDeployCommand(opts *rootOptions) *cobra.Command {
	dopts := &deployOptions{}
	cmd := &cobra.Command{
		Use:       "deploy {token|nft} [name symbol]",
		Short:     "Deploy a token or NFT collection immediately",
		ValidArgs: []string{string(web3.AssetToken), string(web3.AssetNFT)},
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("需要资产类型，可选再给出名称和符号，实际收到 %d 个参数", len(args))
			}
			return cobra.OnlyValidArgs(cmd, args[:1])
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), opts, dopts, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dopts.reason, "reason", "manual deployment", "reason recorded with the deployment")
	cmd.Flags().BoolVar(&dopts.announce, "announce", true, "announce the deployment on Farcaster")
	return cmd
}

// deployRequest 将命令行参数转换为部署请求，未给出名称时由推理服务生成。
func deployRequest(ctx context.Context, gen llm.ContentGenerator, dopts *deployOptions, args []string) dispatch.DeployRequest {
	req := dispatch.DeployRequest{
		Kind:     web3.AssetKind(args[0]),
		Reason:   dopts.reason,
		Announce: dopts.announce,
	}
	if len(args) == 3 {
		req.Name = strings.TrimSpace(args[1])
		req.Symbol = strings.ToUpper(strings.TrimSpace(args[2]))
		return req
	}
	idea := llm.IdeaOrFallback(ctx, gen, logger.Named("crabdaod"))
	req.Name, req.Symbol = idea.Name, idea.Symbol
	return req
}

func runDeploy(ctx context.Context, opts *rootOptions, dopts *deployOptions, args []string, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.agent.Init(ctx); err != nil {
		return err
	}

	req := deployRequest(ctx, app.brain, dopts, args)
	deployment, outcome := app.dispatcher.DeployAsset(ctx, req)
	if !outcome.Succeeded() {
		if outcome.Err != nil {
			return outcome.Err
		}
		return xerrors.New(xerrors.CodeQuotaExceeded, fmt.Sprintf("部署未执行: %s", outcome.Reason))
	}

	fmt.Fprintf(out, "Deployed %s (%s) at %s\n", deployment.Name, deployment.Symbol, deployment.Address.Hex())
	fmt.Fprintf(out, "Transaction: %s\n", deployment.ExplorerURL)
	if outcome.CastHash != "" {
		fmt.Fprintf(out, "Announced in cast %s\n", outcome.CastHash)
	}
	return nil
}
