package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/layer-3/guardian"
	"github.com/layer-3/guardian/config"
)

func main() {
	flags := config.Flags("guardiand")
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Crit("Failed to load configuration", "err", err)
	}
	logFile, err := config.InitLog(cfg)
	if err != nil {
		log.Crit("Failed to set up logging", "err", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := guardian.New(ctx, cfg)
	if err != nil {
		log.Crit("Failed to start guardian", "err", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Error("Guardian stopped", "err", err)
		return
	}
	log.Info("Guardian stopped")
}
