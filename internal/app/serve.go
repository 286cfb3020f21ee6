package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/newsbrief/internal/config"
	"github.com/hitoshi/newsbrief/internal/middleware"
	"github.com/hitoshi/newsbrief/internal/model"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとHTTPサーバーとリスナーを停止する。
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return serve(ctx, cfg, logger, ln)
}

// serve は指定されたリスナーでAPIサーバーを提供する。
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ln net.Listener) error {
	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		ln.Close()
		return err
	}
	defer c.close()

	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitGeneral), logger)
	defer limiter.Stop()

	// リスナーはHTTPサーバーより先に止めるため、専用のコンテキストで動かす。
	// HTTPリクエストのコンテキストには渡さない
	listenCtx, stopListeners := context.WithCancel(ctx)
	defer stopListeners()

	wait := c.startListeners(listenCtx, cfg.RealtimeLanguages, logger, func(_ context.Context, event model.CuratedInsertEvent) {
		n := c.hub.Publish(event)
		logger.Debug("brief update fanned out",
			slog.String("language", event.Language),
			slog.Int("clients", n),
		)
	})

	// WriteTimeoutはSSEハンドラー側で解除する
	server := &http.Server{
		Handler:      c.newRouter(cfg, logger, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Shutdownは処理中のリクエストの完了を待つが、SSEストリームは自分では終わらない
	server.RegisterOnShutdown(c.hub.Close)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stopListeners()
			wait()
			return fmt.Errorf("server listen error: %w", err)
		}
	}

	logger.Info("shutting down API server...")

	stopListeners()
	wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("API server stopped gracefully")
	return nil
}
