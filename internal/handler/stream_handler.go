package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsbrief/internal/middleware"
	"github.com/hitoshi/newsbrief/internal/model"
)

// defaultHeartbeatInterval はSSEのコメント行を送る間隔。
const defaultHeartbeatInterval = 25 * time.Second

// briefUpdatedEvent はSSEで送るイベント名。
const briefUpdatedEvent = "brief-updated"

// EventSubscriber は言語ごとの行挿入イベントの購読を提供する。
type EventSubscriber interface {
	Subscribe(language string) (<-chan model.CuratedInsertEvent, func())
}

// StreamHandler はブリーフ更新をServer-Sent Eventsで配信するハンドラー。
type StreamHandler struct {
	hub               EventSubscriber
	languages         map[string]bool
	defaultLanguage   string
	heartbeatInterval time.Duration
	logger            *slog.Logger
}

// NewStreamHandler はStreamHandlerを生成する。
// languagesはサーバー側でリスナーを起動している言語。
func NewStreamHandler(hub EventSubscriber, languages []string, defaultLanguage string, logger *slog.Logger) *StreamHandler {
	set := make(map[string]bool, len(languages))
	for _, l := range languages {
		set[l] = true
	}
	if defaultLanguage == "" {
		defaultLanguage = string(model.DefaultLanguage)
	}
	return &StreamHandler{
		hub:               hub,
		languages:         set,
		defaultLanguage:   defaultLanguage,
		heartbeatInterval: defaultHeartbeatInterval,
		logger:            logger,
	}
}

// Stream はGET /api/brief/stream を処理する。
// 指定言語で新しいバッチが挿入されるたびにbrief-updatedイベントを送る。
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	language := r.URL.Query().Get("language")
	if language == "" {
		language = h.defaultLanguage
	}
	if !h.languages[language] {
		middleware.WriteAPIError(w, model.NewUnsupportedLanguageError(language))
		return
	}

	rc := http.NewResponseController(w)
	// サーバーのWriteTimeoutで長時間接続が切られないようにする
	rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := h.hub.Subscribe(language)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: 5000\n: listening %s\n\n", language)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("SSEのフラッシュに失敗しました", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("イベントのエンコードに失敗しました",
					slog.String("error", err.Error()),
					slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
				)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", briefUpdatedEvent, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
