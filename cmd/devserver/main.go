package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/config"
	"github.com/zhouzirui/llmbot-chat/internal/handler"
	"github.com/zhouzirui/llmbot-chat/internal/model/profile"
	"github.com/zhouzirui/llmbot-chat/internal/service/ai"
	"github.com/zhouzirui/llmbot-chat/internal/service/archive"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	profiles := profile.NewMemoryStore(profile.Seed())
	archiveSvc := archive.NewService()

	aiSvc, err := ai.NewService(ctx, cfg.AI, logger)
	if err != nil {
		logger.Fatal("failed to initialize AI service, 请检查 Ark 模型相关环境变量", zap.Error(err))
	}
	if aiSvc.Echo() {
		logger.Info("Ark 凭证未配置，使用回声应答")
	} else {
		logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
	}

	router := handler.NewBackendRouter(profiles, archiveSvc, aiSvc, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("dev backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
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
