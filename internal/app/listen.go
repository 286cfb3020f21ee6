package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/newsbrief/internal/brief"
	"github.com/hitoshi/newsbrief/internal/config"
	"github.com/hitoshi/newsbrief/internal/model"
)

// runListen は1言語分のリスナーを端末上で起動する。
// 起動時と挿入イベント受信のたびに最新ブリーフを取得してログに出力する。
// ctxがキャンセルされると購読を閉じて終了する。
func runListen(ctx context.Context, cfg *config.Config, logger *slog.Logger, language string) error {
	if language == "" {
		language = cfg.DefaultLanguage
	}
	if !model.Language(language).IsSupported() {
		return fmt.Errorf("unsupported language: %q", language)
	}

	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	if c.source == nil {
		return errors.New("realtime source is not configured")
	}

	logBrief(ctx, c.retriever, language, logger)

	wait := c.startListeners(ctx, []string{language}, logger, func(ctx context.Context, event model.CuratedInsertEvent) {
		logBrief(ctx, c.retriever, event.Language, logger)
	})

	<-ctx.Done()
	logger.Info("shutting down listener...")
	wait()
	return nil
}

// logBrief は最新ブリーフを取得し、その要約と記事をログに出力する。
func logBrief(ctx context.Context, retriever brief.Retriever, language string, logger *slog.Logger) {
	resp, err := retriever.Latest(ctx, language)
	if err != nil {
		logger.Error("failed to load latest brief",
			slog.String("language", language),
			slog.String("error", err.Error()),
		)
		return
	}

	logger.Info("latest brief",
		slog.String("language", language),
		slog.Int("total_articles", resp.Metadata.TotalArticles),
		slog.Int("israel_relevant", resp.Metadata.IsraelRelevantCount),
		slog.Int("other_coverage", resp.Metadata.OtherCoverageCount),
		slog.String("generated_at", resp.Metadata.GeneratedAt),
	)
	logArticles(logger, "israel_relevant", resp.IsraelRelevant)
	logArticles(logger, "other_coverage", resp.OtherCoverage)
}

func logArticles(logger *slog.Logger, bucket string, articles []model.BriefArticle) {
	for _, a := range articles {
		logger.Info("brief article",
			slog.String("bucket", bucket),
			slog.Int("rank", a.RankPosition),
			slog.String("source", a.SourceInitials),
			slog.String("title", a.Title),
			slog.String("url", a.URL),
		)
	}
}
