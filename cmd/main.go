package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwise1/meetup_api/config"
	deps "github.com/bwise1/meetup_api/internal/debs"
	api "github.com/bwise1/meetup_api/internal/http/rest"
	"github.com/bwise1/meetup_api/internal/logger"
	"go.uber.org/zap"
)

const (
	allowConnectionsAfterShutdown = 1 * time.Second
	startupTimeout                = 30 * time.Second
)

func main() {
	cfg := config.New()

	logg, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logg.Sync()
	zap.ReplaceGlobals(logg)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	d, err := deps.New(ctx, cfg, logg)
	cancel()
	if err != nil {
		logg.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	d.Start()

	a := &api.API{
		Config: cfg,
		Deps:   d,
	}
	a.Init()
	go func() {
		logg.Info("server running", zap.Int("port", cfg.Port))
		if err := a.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("server stopped", zap.Error(err))
		}
	}()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-stopChan

	logg.Info("request to shutdown server", zap.Duration("grace", allowConnectionsAfterShutdown))
	time.Sleep(allowConnectionsAfterShutdown)

	if err := a.Shutdown(); err != nil {
		logg.Error("server shutdown", zap.Error(err))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	d.Close(closeCtx)
	logg.Info("shutdown complete")
}
