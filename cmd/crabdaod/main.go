package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/pkg/logger"
)

// main 是 CrabDAO 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.L().Error("crabdaod 运行失败", "error", err, "kind", string(xerrors.KindOf(err)))
		fmt.Fprintln(os.Stderr, err)
		_ = logger.Sync()
		os.Exit(exitCode(err))
	}
	_ = logger.Sync()
}

// exitCode 把错误类别映射为进程退出码：配额拒绝为 2，其余失败为 1。
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case xerrors.KindOf(err) == xerrors.KindQuota:
		return 2
	default:
		return 1
	}
}
