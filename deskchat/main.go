package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"deskchat/deskchat/config"
	"deskchat/deskchat/server"
	"deskchat/deskchat/utils/logging"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if err := logging.InitLogger(cfg.LogDir); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		logging.ErrorLogger.Error("server init error", zap.Error(err))
		os.Exit(1)
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		logging.ErrorLogger.Error("server error", zap.Error(err))
	}
}
