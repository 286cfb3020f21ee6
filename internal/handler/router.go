package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsbrief/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// ブリーフ
	BriefService BriefServiceInterface
	BriefConfig  BriefHandlerConfig

	// リアルタイム配信
	Hub             EventSubscriber
	StreamLanguages []string

	// 診断
	Diagnostic *DiagnosticHandler

	// /metrics
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → StatusMetrics → Recovery → SecurityHeaders → CORS → RateLimit(/api/*)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	briefHandler := NewBriefHandler(deps.BriefService, deps.BriefConfig, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/brief", func(r chi.Router) {
			r.Get("/latest", briefHandler.Latest)
			r.Get("/latest.rss", briefHandler.LatestRSS)

			if deps.Hub != nil {
				streamHandler := NewStreamHandler(deps.Hub, deps.StreamLanguages, deps.BriefConfig.DefaultLanguage, deps.Logger)
				r.Get("/stream", streamHandler.Stream)
			}
		})

		if deps.Diagnostic != nil {
			r.Get("/env-check", deps.Diagnostic.EnvCheck)
			r.Get("/supabase-test", deps.Diagnostic.SupabaseTest)
		}
	})

	return r
}
