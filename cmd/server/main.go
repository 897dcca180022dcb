package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pgalves/BarCodeApp/internal/cep"
	"github.com/pgalves/BarCodeApp/internal/config"
	"github.com/pgalves/BarCodeApp/internal/kurento"
	"github.com/pgalves/BarCodeApp/internal/logging"
	"github.com/pgalves/BarCodeApp/internal/session"
	"github.com/pgalves/BarCodeApp/internal/signaling"
	"github.com/pgalves/BarCodeApp/internal/ws"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	kmsURI := flag.String("kms", "", "Override Kurento Media Server websocket URI")
	cepURI := flag.String("cep", "", "Override CEP sink HTTP URI")
	flag.Parse()

	logging.Initialize()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *kmsURI != "" {
		cfg.Kurento.URI = *kmsURI
	}
	if *cepURI != "" {
		cfg.CEP.URI = *cepURI
	}

	ctx := context.Background()
	kms, err := kurento.Dial(ctx, cfg.Kurento.URI, cfg.Kurento.RPCTimeout.Std())
	if err != nil {
		slog.Error("failed to connect to media server", "uri", cfg.Kurento.URI, "error", err)
		os.Exit(1)
	}
	defer kms.Close()
	slog.Info("connected to media server", "uri", cfg.Kurento.URI)

	registry := session.NewRegistry()
	notifier := cep.NewNotifier(cfg.CEP.URI, cfg.CEP.Timeout.Std())
	controller := signaling.NewController(registry, kurento.NewMedia(kms), notifier)
	broadcaster := ws.NewBroadcaster(registry)
	server := ws.NewServer(cfg.Server, registry, controller, broadcaster)
	httpSrv := ws.NewHTTPServer(cfg.Server.Host, cfg.Server.Port, server.Routes())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sigCh
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		controller.Shutdown()
		kms.Close()
		close(done)
	}()

	slog.Info("server listening", "addr", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
