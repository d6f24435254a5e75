package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketpulse/config"
	"marketpulse/internal/app"
	"marketpulse/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	// build and start the pipeline
	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("failed to build app", zap.Error(err))
	}
	if err := a.Run(); err != nil {
		log.Fatal("app failed to start", zap.Error(err))
	}

	// wait for termination
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Shutdown(ctx)
}
