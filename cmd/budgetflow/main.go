package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/budgetflow/budgetflow/cmd/budgetflow/commands"
	"github.com/budgetflow/budgetflow/internal/api"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "budgetflow:", api.Describe(err))
		return 1
	}
	return 0
}
