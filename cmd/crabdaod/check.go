package main

import (
	"context"
	"fmt"
	"io"

	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/web3"
	"CrabDAO-Agent/internal/web3/provider"

	"github.com/spf13/cobra"
)

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Print wallet, balance and network information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runCheck(ctx context.Context, opts *rootOptions, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	registry, err := provider.NewRegistry(ctx, cfg.Chain)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链客户端失败")
	}
	defer registry.Close()

	chain, err := registry.DefaultClient()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取默认链失败")
	}
	name, def := registry.DefaultChain()
	return printWallet(ctx, out, chain, name, def, cfg.Agent.MaxTxPerDay, cfg.Agent.MaxEthPerTx)
}

// printWallet 输出钱包摘要。
func printWallet(ctx context.Context, out io.Writer, chain web3.Client, name string, def web3.ChainDefinition, maxTx int, maxEth string) error {
	balance, err := chain.Balance(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
	}
	network := def.Description
	if network == "" {
		network = name
	}
	wallet := chain.Address().Hex()

	fmt.Fprintf(out, "Wallet:   %s\n", wallet)
	fmt.Fprintf(out, "Balance:  %s ETH\n", web3.FormatEther(balance))
	fmt.Fprintf(out, "Network:  %s (chain id %d)\n", network, def.ChainID)
	fmt.Fprintf(out, "Explorer: %s\n", chain.AddressURL(wallet))
	fmt.Fprintf(out, "Limits:   %d tx/day, %s ETH per tx\n", maxTx, maxEth)
	if balance.Sign() == 0 {
		fmt.Fprintln(out, "Wallet is empty: fund it before starting the agent.")
	}
	return nil
}
