package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
)

// 新しいブリーフの通知文言
const (
	NotificationTitle = "New News Brief Available"
	NotificationBody  = "A fresh news brief has been published. Refreshing..."
)

// DefaultWebhookTimeout はWebhook送信のタイムアウト。
const DefaultWebhookTimeout = 5 * time.Second

// Notification はユーザー向け通知の内容。
type Notification struct {
	Title    string                   `json:"title"`
	Body     string                   `json:"body"`
	Language string                   `json:"language"`
	Event    model.CuratedInsertEvent `json:"event"`
}

// NewNotification はイベントから既定の文言の通知を生成する。
func NewNotification(event model.CuratedInsertEvent) Notification {
	return Notification{
		Title:    NotificationTitle,
		Body:     NotificationBody,
		Language: event.Language,
		Event:    event,
	}
}

// Notifier はユーザー向け通知を送る。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Permission は通知の許可状態。
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// PermissionNotifier は許可状態がgrantedのときだけ次のNotifierへ通知を渡す。
type PermissionNotifier struct {
	permission Permission
	next       Notifier
}

// NewPermissionNotifier はPermissionNotifierを生成する。
func NewPermissionNotifier(permission Permission, next Notifier) *PermissionNotifier {
	return &PermissionNotifier{permission: permission, next: next}
}

// Notify は許可されていない場合は何もせずnilを返す。
func (p *PermissionNotifier) Notify(ctx context.Context, n Notification) error {
	if p.permission != PermissionGranted || p.next == nil {
		return nil
	}
	return p.next.Notify(ctx, n)
}

// LogNotifier は通知を構造化ログとして出力する。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info(n.Title,
		slog.String("body", n.Body),
		slog.String("language", n.Language),
	)
	return nil
}

// WebhookNotifier は通知をJSONとしてWebhookへPOSTする。
// 429と5xx、および通信エラーは指数バックオフで再送する。
type WebhookNotifier struct {
	url      string
	client   *http.Client
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// WebhookOption はWebhookNotifierの設定を変更する。
type WebhookOption func(*WebhookNotifier)

// WithWebhookRetry は最大試行回数と初回バックオフを設定する。
// attemptsが1以下の場合は再送しない。
func WithWebhookRetry(attempts int, initialBackoff time.Duration) WebhookOption {
	return func(w *WebhookNotifier) {
		if attempts < 1 {
			attempts = 1
		}
		w.attempts = attempts
		w.backoff = initialBackoff
	}
}

// NewWebhookNotifier はWebhookNotifierを生成する。
// clientにはSSRF対策済みのクライアントを渡すこと。
func NewWebhookNotifier(url string, client *http.Client, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{
		url:      url,
		client:   client,
		attempts: DefaultWebhookAttempts,
		backoff:  initialWebhookBackoff,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	bo := newWebhookBackOff(w.backoff)
	var lastErr error
	for attempt := 0; attempt < w.attempts; attempt++ {
		if attempt > 0 {
			if err := w.sleep(ctx, bo.NextBackOff()); err != nil {
				return fmt.Errorf("webhook retry aborted: %w (last error: %v)", err, lastErr)
			}
		}

		result, err := w.post(ctx, body)
		switch result {
		case deliveryOK:
			return nil
		case deliveryGiveUp:
			return err
		}
		lastErr = err
	}
	return lastErr
}

// post は1回分の送信を行い、結果の分類とエラーを返す。
func (w *WebhookNotifier) post(ctx context.Context, body []byte) (deliveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return deliveryGiveUp, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Newsbrief/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return deliveryGiveUp, fmt.Errorf("failed to send webhook: %w", err)
		}
		return deliveryRetry, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	result := classifyWebhookStatus(resp.StatusCode)
	if result != deliveryOK {
		return result, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return deliveryOK, nil
}

// MultiNotifier は複数のNotifierへ順に通知する。
// 1つが失敗しても残りには通知し、最初のエラーを返す。
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
