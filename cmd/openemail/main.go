package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/openemail/internal/buildinfo"
	"github.com/dmitrijs2005/openemail/internal/client/cli"
	"github.com/dmitrijs2005/openemail/internal/client/config"
	"github.com/dmitrijs2005/openemail/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second interrupt falls through to the default handler while
		// the REPL still waits for input.
		<-ctx.Done()
		stop()
	}()

	cfg := config.LoadConfig()
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.JSONLogs())

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
