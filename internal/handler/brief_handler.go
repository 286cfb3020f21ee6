package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/newsbrief/internal/brief"
	"github.com/hitoshi/newsbrief/internal/model"
)

// BriefServiceInterface はブリーフハンドラーが必要とするサービスインターフェース。
type BriefServiceInterface interface {
	// Latest は指定言語の最新バッチのブリーフを返す。
	Latest(ctx context.Context, language string) (*model.BriefResponse, error)
}

// BriefHandlerConfig はブリーフハンドラーの設定。
type BriefHandlerConfig struct {
	DefaultLanguage string
	CacheMaxAge     time.Duration
	// SiteURL はRSSのchannel/linkに使うフロントエンドのURL。
	SiteURL string
}

// BriefHandler は最新ブリーフのHTTPハンドラー。
type BriefHandler struct {
	service BriefServiceInterface
	config  BriefHandlerConfig
	logger  *slog.Logger
}

// NewBriefHandler はBriefHandlerを生成する。
func NewBriefHandler(service BriefServiceInterface, config BriefHandlerConfig, logger *slog.Logger) *BriefHandler {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = string(model.DefaultLanguage)
	}
	return &BriefHandler{service: service, config: config, logger: logger}
}

// language はクエリパラメータの言語を返す。未指定の場合は既定の言語。
func (h *BriefHandler) language(r *http.Request) string {
	if lang := r.URL.Query().Get("language"); lang != "" {
		return lang
	}
	return h.config.DefaultLanguage
}

func (h *BriefHandler) cacheControl() string {
	secs := int(h.config.CacheMaxAge.Seconds())
	return fmt.Sprintf("public, max-age=%d, s-maxage=%d", secs, secs)
}

// Latest はGET /api/brief/latest を処理する。
func (h *BriefHandler) Latest(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Latest(r.Context(), h.language(r))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", h.cacheControl())
	writeJSON(w, http.StatusOK, resp)
}

// LatestRSS はGET /api/brief/latest.rss を処理する。
// 同じブリーフをRSS 2.0として返す。
func (h *BriefHandler) LatestRSS(w http.ResponseWriter, r *http.Request) {
	language := h.language(r)
	resp, err := h.service.Latest(r.Context(), language)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	info := brief.FeedInfo{
		Title:    fmt.Sprintf("News Brief (%s)", language),
		Link:     h.config.SiteURL,
		SelfLink: selfURL(r),
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", h.cacheControl())
	w.WriteHeader(http.StatusOK)
	w.Write(brief.RenderRSS(info, resp))
}

// selfURL はリクエストの絶対URLを組み立てる。
func selfURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	return u.String()
}
