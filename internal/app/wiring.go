package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsbrief/internal/brief"
	"github.com/hitoshi/newsbrief/internal/cache"
	"github.com/hitoshi/newsbrief/internal/config"
	"github.com/hitoshi/newsbrief/internal/database"
	"github.com/hitoshi/newsbrief/internal/handler"
	"github.com/hitoshi/newsbrief/internal/metrics"
	"github.com/hitoshi/newsbrief/internal/middleware"
	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/realtime"
	"github.com/hitoshi/newsbrief/internal/repository"
	"github.com/hitoshi/newsbrief/internal/security"
	"github.com/hitoshi/newsbrief/internal/supabase"
)

// backendQueryTimeout はSupabase REST呼び出し1回あたりのタイムアウト。
const backendQueryTimeout = 15 * time.Second

// components は起動モード間で共有する組み立て済みの依存。
type components struct {
	registry  *prometheus.Registry
	collector *metrics.Collector

	retriever brief.Retriever
	cached    *brief.CachedService
	prober    repository.ConnectionProber

	hub       *realtime.Hub
	source    realtime.Source
	notifier  realtime.Notifier
	listeners []*realtime.Listener

	closers []func() error
}

// close は生成順と逆順にリソースを解放する。
func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("failed to release resource", slog.String("error", err.Error()))
		}
	}
}

// buildComponents はConfigに従ってブリーフ取得とリアルタイム配信の依存を組み立てる。
// 途中で失敗した場合はそれまでに確保したリソースを解放してからエラーを返す。
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	// 1. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.collector = metrics.NewCollector(c.registry)

	// 2. ブリーフ取得
	codes, err := loadSourceCodes(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.buildRetriever(ctx, cfg, codes, logger); err != nil {
		return nil, err
	}

	// 3. キャッシュ（任意）
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		c.closers = append(c.closers, rc.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		pingErr := rc.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			logger.Warn("redis is unreachable, responses will not be cached",
				slog.String("error", pingErr.Error()),
			)
		} else {
			c.cached = brief.NewCachedService(c.retriever, rc, cfg.CacheMaxAge, logger)
			c.retriever = c.cached
		}
	}

	// 4. リアルタイム配信
	c.hub = realtime.NewHub(0)
	c.source, err = newRealtimeSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.notifier, err = newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// buildRetriever はBRIEF_BACKENDに応じたリポジトリでブリーフサービスを生成する。
func (c *components) buildRetriever(ctx context.Context, cfg *config.Config, codes *brief.SourceCodes, logger *slog.Logger) error {
	var (
		curatedRepo repository.CuratedArticleRepository
		articleRepo repository.ArticleRepository
	)

	switch cfg.BriefBackend {
	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		c.closers = append(c.closers, db.Close)

		if err := database.Ping(ctx, db, 5*time.Second); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)

		curated := repository.NewPostgresCuratedArticleRepo(db)
		curatedRepo, articleRepo = curated, repository.NewPostgresArticleRepo(db)
		c.prober = curated

	default:
		client, err := supabase.NewClient(supabase.Config{
			URL:     cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
		}, &http.Client{Timeout: backendQueryTimeout}, logger)
		if errors.Is(err, supabase.ErrMissingCredentials) {
			// 取得エンドポイントは設定エラーを返し、診断エンドポイントは動作させる
			logger.Warn("supabase credentials are missing, brief retrieval is disabled")
			c.retriever = brief.NewUnavailable(c.collector)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to create supabase client: %w", err)
		}

		curated := repository.NewRESTCuratedArticleRepo(client)
		curatedRepo, articleRepo = curated, repository.NewRESTArticleRepo(client)
		c.prober = curated
	}

	c.retriever = brief.NewService(
		curatedRepo, articleRepo,
		security.NewTextSanitizer(),
		codes,
		logger,
		brief.WithFetchWindow(cfg.FetchWindow),
		brief.WithRecorder(c.collector),
	)
	return nil
}

// loadSourceCodes はSOURCE_CODES_FILEが指定されていればそれを読み込み、なければ既定の表を返す。
func loadSourceCodes(cfg *config.Config) (*brief.SourceCodes, error) {
	if cfg.SourceCodesFile == "" {
		return brief.DefaultSourceCodes(), nil
	}
	codes, err := brief.LoadSourceCodes(cfg.SourceCodesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load source codes: %w", err)
	}
	return codes, nil
}

// newRealtimeSource はREALTIME_SOURCEに応じた挿入イベントの供給元を返す。
// 供給元を使わない場合や資格情報が不足している場合はnilを返す。
func newRealtimeSource(cfg *config.Config, logger *slog.Logger) (realtime.Source, error) {
	switch cfg.RealtimeSource {
	case config.RealtimePostgres:
		return realtime.NewPostgresSource(cfg.DatabaseURL, database.NotifyChannel, cfg.RealtimeSubscribeTimeout, logger), nil
	case config.RealtimeSupabase:
		if !cfg.HasSupabaseCredentials() {
			logger.Warn("supabase credentials are missing, realtime listener is disabled")
			return nil, nil
		}
		rt, err := supabase.NewRealtime(supabase.Config{
			URL:     cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
		}, logger, supabase.WithSubscribeTimeout(cfg.RealtimeSubscribeTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create realtime client: %w", err)
		}
		return rt, nil
	default:
		return nil, nil
	}
}

// newNotifier はログ出力と任意のWebhookへ通知を送るNotifierを返す。
// 送信するかどうかはNOTIFY_PERMISSIONで決まる。
func newNotifier(cfg *config.Config, logger *slog.Logger) (realtime.Notifier, error) {
	sinks := realtime.MultiNotifier{realtime.NewLogNotifier(logger)}

	if cfg.NotifyWebhookURL != "" {
		guard := security.NewSSRFGuard()
		if err := guard.ValidateURL(cfg.NotifyWebhookURL); err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
		}
		sinks = append(sinks, realtime.NewWebhookNotifier(
			cfg.NotifyWebhookURL,
			guard.NewSafeClient(realtime.DefaultWebhookTimeout),
		))
	}

	return realtime.NewPermissionNotifier(realtime.Permission(cfg.NotifyPermission), sinks), nil
}

// newListener は1言語分のリスナーを生成する。
// 挿入イベントを受信するとキャッシュを無効化してからonUpdateを呼ぶ。
func (c *components) newListener(logger *slog.Logger, onUpdate realtime.RefreshFunc) *realtime.Listener {
	refresh := func(ctx context.Context, event model.CuratedInsertEvent) {
		if c.cached != nil {
			if err := c.cached.Invalidate(ctx, event.Language); err != nil {
				logger.Warn("failed to invalidate brief cache",
					slog.String("language", event.Language),
					slog.String("error", err.Error()),
				)
			}
		}
		if onUpdate != nil {
			onUpdate(ctx, event)
		}
	}

	l := realtime.NewListener(c.source, refresh, logger,
		realtime.WithNotifier(c.notifier),
		realtime.WithStateObserver(c.collector.ObserveListenerState),
		realtime.WithEventObserver(c.collector.RecordRealtimeEvent),
	)
	c.listeners = append(c.listeners, l)
	return l
}

// startListeners は言語ごとにリスナーのループを起動して購読を開始する。
// 購読に失敗した言語はアイドルのまま残し、再試行しない。
// 戻り値のwait関数はすべてのループの終了を待つ。
func (c *components) startListeners(ctx context.Context, languages []string, logger *slog.Logger, onUpdate realtime.RefreshFunc) (wait func()) {
	if c.source == nil || len(languages) == 0 {
		return func() {}
	}

	done := make(chan struct{}, len(languages))
	for _, lang := range languages {
		l := c.newListener(logger, onUpdate)
		go func() {
			if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime listener stopped", slog.String("error", err.Error()))
			}
			done <- struct{}{}
		}()

		h, err := l.Start(ctx, lang)
		if err != nil {
			logger.Error("failed to subscribe to curated article inserts",
				slog.String("language", lang),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("realtime listener subscribed",
			slog.String("language", h.Language),
			slog.String("handle", h.ID),
		)
	}

	return func() {
		for range languages {
			<-done
		}
	}
}

// newRouter はHTTPルーターを組み立てる。
func (c *components) newRouter(cfg *config.Config, logger *slog.Logger, limiter *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		StatusRecorder:    c.collector,

		BriefService: c.retriever,
		BriefConfig: handler.BriefHandlerConfig{
			DefaultLanguage: cfg.DefaultLanguage,
			CacheMaxAge:     cfg.CacheMaxAge,
			SiteURL:         cfg.SiteURL,
		},

		Hub:             c.hub,
		StreamLanguages: cfg.RealtimeLanguages,

		Diagnostic: handler.NewDiagnosticHandler(cfg.SupabaseURL, cfg.SupabaseAnonKey, c.prober, logger),

		MetricsHandler: metrics.Handler(c.registry),
	})
}
