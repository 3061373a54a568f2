package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/DoyleJ11/damas-client/internal/config"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	cobra.CheckErr(config.LoadDotEnv())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		stop()
		cobra.CheckErr(err)
	}
}
