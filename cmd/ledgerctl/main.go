package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ConfidentialLedger/internal/cli"
)

// main 是 ledgerctl 命令行客户端的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		stop()
		os.Exit(1)
	}
}
