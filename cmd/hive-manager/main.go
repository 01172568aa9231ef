package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rdfitted/hive-manager/internal/api"
	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/config"
	"github.com/rdfitted/hive-manager/internal/controller"
	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/logging"
	"github.com/rdfitted/hive-manager/internal/version"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "hive-manager.yaml", "path to the settings file")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		logging.NewLogger(logging.LevelError).Error("load settings failed", map[string]string{
			"path":  *configPath,
			"error": err.Error(),
		})
		os.Exit(1)
	}

	level, ok := logging.ParseLevel(settings.Logging.Level)
	if !ok {
		level = logging.LevelInfo
	}
	logger := logging.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus[event.Event](ctx, event.BusOptions{
		Name:        "hive-manager",
		HistorySize: settings.Sessions.EventHistory,
	})

	ctrl := controller.New(ctx, controller.Options{
		Settings: settings,
		Registry: cliprofile.DefaultRegistry(),
		Bus:      bus,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           api.NewServer(ctrl, logger, settings.Server.AuthToken),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("hive-manager listening", map[string]string{
			"addr":    server.Addr,
			"version": version.Get().Version,
		})
		errs <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]string{
				"error": err.Error(),
			})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	ctrl.Shutdown(shutdownCtx)
	bus.Close()
}
