package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/itsneelabh/bloxgate/app"
	"github.com/itsneelabh/bloxgate/core"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger := core.NewLogger(cfg.ServiceName, cfg.Logging.Level, cfg.Logging.Format)

	gateway, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", map[string]interface{}{"error": err.Error()})
		return 1
	}

	logger.Info("gateway_starting", map[string]interface{}{
		"rpc_port":   cfg.Server.RPCPort,
		"admin_port": cfg.Server.AdminPort,
		"tools":      gateway.Registry().Count(),
		"upstream":   cfg.Upstream.BaseURL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gateway.Run(ctx); err != nil {
		logger.Error("gateway_failed", map[string]interface{}{"error": err.Error()})
		return 1
	}
	return 0
}
