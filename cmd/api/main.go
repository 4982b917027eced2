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

	"github.com/joho/godotenv"

	"github.com/zhouzirui/chatwidget/backend/internal/config"
	"github.com/zhouzirui/chatwidget/backend/internal/handler"
	"github.com/zhouzirui/chatwidget/backend/internal/logger"
	"github.com/zhouzirui/chatwidget/backend/internal/service/bot"
	"github.com/zhouzirui/chatwidget/backend/internal/service/widget"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHATWIDGET_CONFIG"), "path to an optional YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Setup(cfg)
	if envErr != nil {
		slog.Debug("no .env file loaded, using process environment", "error", envErr)
	}

	if !cfg.Bot.HasCredential() {
		slog.Warn("bot credential not configured, requests are sent without basic auth")
	}

	botClient := bot.NewClient(cfg.Bot)
	host := widget.NewHost(botClient, cfg.Widget)
	slog.Info("widget host ready",
		"containers", host.Containers(),
		"bot_endpoint", cfg.Bot.Endpoint,
		"env", cfg.Env,
	)

	router := handler.NewRouter(host, cfg.Server)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("chat widget backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
