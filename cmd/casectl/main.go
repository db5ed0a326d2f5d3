// Command casectl works on customs declaration cases from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pitabwire/casewizard/internal/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	root := cli.NewRootCmd(cli.Options{Version: version})
	if err := root.ExecuteContext(ctx); err != nil {
		cli.PrintError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
